package xapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// TokenResponse is the body of a successful POST /auth/token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RegisterResponse is the body of a successful POST /auth/register.
type RegisterResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"user_id"`
}

// SearchResult is one web result.
type SearchResult struct {
	Title string `json:"title"`
	Href  string `json:"href"`
	Body  string `json:"body"`
}

// Site returns the registrable domain of the result link, such as
// "example.co.uk" for "https://news.example.co.uk/a". It falls back to the
// host, and then to Href itself.
func (r SearchResult) Site() string {
	u, err := url.Parse(r.Href)
	if err != nil || u.Hostname() == "" {
		return r.Href
	}
	host := u.Hostname()
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}

// SearchResponse is the body of GET /search/.
type SearchResponse struct {
	Query     string         `json:"query"`
	Results   []SearchResult `json:"results"`
	HistoryID int64          `json:"history_id"`
}

// ImageResponse is the body of POST /images/generate.
type ImageResponse struct {
	Message   string `json:"message"`
	ImageURL  string `json:"image_url"`
	HistoryID int64  `json:"history_id"`
}

// SearchEntry is one saved search. The server sends Results as a JSON
// encoded string; use ParsedResults to read them.
type SearchEntry struct {
	ID        int64           `json:"id"`
	Query     string          `json:"query"`
	Results   json.RawMessage `json:"results"`
	Timestamp Time            `json:"timestamp"`
	UserID    int64           `json:"user_id"`
}

// ParsedResults decodes Results. A string holding a JSON array and a
// plain array are both accepted; anything else yields no results.
func (e SearchEntry) ParsedResults() []SearchResult {
	raw := bytes.TrimSpace(e.Results)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		raw = []byte(s)
	}
	var out []SearchResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// ImageEntry is one saved image generation.
type ImageEntry struct {
	ID        int64  `json:"id"`
	Prompt    string `json:"prompt"`
	ImageURL  string `json:"image_url"`
	Timestamp Time   `json:"timestamp"`
	UserID    int64  `json:"user_id"`
}

// Dashboard is the body of GET /dashboard/.
type Dashboard struct {
	Searches []SearchEntry `json:"searches"`
	Images   []ImageEntry  `json:"images"`
}

// Time accepts RFC 3339 timestamps with or without a zone. Timestamps
// without a zone are taken as UTC.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}
