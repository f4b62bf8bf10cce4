// Package xapi is a typed client for the AI Explorer collaborator API:
// authentication, web search, image generation and saved history.
//
// The client does not manage credentials itself. Give it an http.Client
// whose transport authorizes requests, such as one from xtransport.
package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kardianos/explorer/xdef"
)

// Endpoint paths.
const (
	PathToken         = "/auth/token"
	PathRegister      = "/auth/register"
	PathDashboard     = "/dashboard/"
	PathSearchEntry   = "/dashboard/search/"
	PathImageEntry    = "/dashboard/image/"
	PathSearch        = "/search/"
	PathGenerateImage = "/images/generate"
)

// Protocol error messages shown to the user.
const (
	MsgNoData  = "No data received from server"
	MsgNoToken = "No access token received from server"
)

const maxBody = 4 << 20

// Client calls the collaborator API.
type Client struct {
	base *url.URL
	hc   *http.Client
}

// New creates a client for the API rooted at baseURL.
// If hc is nil http.DefaultClient is used.
func New(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: u, hc: hc}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Token exchanges a username and password for an access token.
func (c *Client) Token(ctx context.Context, username, password string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var out TokenResponse
	err := c.do(ctx, http.MethodPost, PathToken, nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &out, true)
	if err != nil {
		return TokenResponse{}, err
	}
	if out.AccessToken == "" {
		return TokenResponse{}, &xdef.ProtocolError{Msg: MsgNoToken}
	}
	return out, nil
}

// Register creates an account. It does not sign in.
func (c *Client) Register(ctx context.Context, username, password string) (RegisterResponse, error) {
	body, err := json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{username, password})
	if err != nil {
		return RegisterResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	var out RegisterResponse
	err = c.do(ctx, http.MethodPost, PathRegister, nil, bytes.NewReader(body), "application/json", &out, false)
	return out, err
}

// Dashboard returns the saved searches and images of the signed-in user.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var out Dashboard
	err := c.do(ctx, http.MethodGet, PathDashboard, nil, nil, "", &out, true)
	return out, err
}

// Search runs a web search and saves it to history.
func (c *Client) Search(ctx context.Context, query string) (SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResponse{}, &xdef.ValidationError{Field: "query", Msg: "Please enter a search query"}
	}
	q := url.Values{}
	q.Set("query", query)

	var out SearchResponse
	err := c.do(ctx, http.MethodGet, PathSearch, q, nil, "", &out, true)
	return out, err
}

// GenerateImage generates an image for prompt and saves it to history.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (ImageResponse, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ImageResponse{}, &xdef.ValidationError{Field: "prompt", Msg: "Please enter a prompt"}
	}
	body, err := json.Marshal(struct {
		Prompt string `json:"prompt"`
	}{prompt})
	if err != nil {
		return ImageResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	var out ImageResponse
	err = c.do(ctx, http.MethodPost, PathGenerateImage, nil, bytes.NewReader(body), "application/json", &out, true)
	return out, err
}

// DeleteSearch removes one saved search.
func (c *Client) DeleteSearch(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, PathSearchEntry+strconv.FormatInt(id, 10), nil, nil, "", nil, false)
}

// DeleteImage removes one saved image.
func (c *Client) DeleteImage(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, PathImageEntry+strconv.FormatInt(id, 10), nil, nil, "", nil, false)
}

// ClearSearchHistory deletes every saved search one at a time. It keeps
// going past individual failures and returns how many were deleted along
// with the joined failures. A rejected credential stops it early.
func (c *Client) ClearSearchHistory(ctx context.Context) (int, error) {
	d, err := c.Dashboard(ctx)
	if err != nil {
		return 0, err
	}
	var (
		deleted int
		errs    []error
	)
	for _, s := range d.Searches {
		err := c.DeleteSearch(ctx, s.ID)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, xdef.ErrCredentialRejected), ctx.Err() != nil:
			return deleted, errors.Join(append(errs, err)...)
		default:
			errs = append(errs, fmt.Errorf("delete search %d: %w", s.ID, err))
		}
	}
	return deleted, errors.Join(errs...)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any, required bool) error {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	op := method + " " + path

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return &xdef.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &xdef.TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &xdef.StatusError{Status: resp.StatusCode, Detail: detail(data)}
	}
	if out == nil {
		return nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if required {
			return &xdef.ProtocolError{Msg: MsgNoData}
		}
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return &xdef.ProtocolError{Msg: fmt.Sprintf("Malformed response from server: %v", err)}
	}
	return nil
}

// detail extracts the "detail" field of an error body when it is a string.
func detail(data []byte) string {
	var v struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(data, &v) != nil || len(v.Detail) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(v.Detail, &s) != nil {
		return ""
	}
	return s
}
