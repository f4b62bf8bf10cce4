// Package xmock is an in-process fake of the AI Explorer collaborator API.
// It issues real HS256 tokens, keeps users and history in memory, and can
// be told to revoke credentials or fail specific routes.
package xmock

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	detailBadLogin      = "Incorrect username or password"
	detailUnauthorized  = "Could not validate credentials"
	detailDuplicateUser = "Username already registered"
)

// Request is one request seen by the server.
type Request struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

// SearchFunc produces results for a query.
type SearchFunc func(query string) []SearchResult

// SearchResult mirrors the collaborator's result shape.
type SearchResult struct {
	Title string `json:"title"`
	Href  string `json:"href"`
	Body  string `json:"body"`
}

// Options configures a Server.
type Options struct {
	// Secret signs tokens. Empty generates a random one.
	Secret []byte

	// TokenTTL is the token lifetime. Defaults to 30 minutes.
	TokenTTL time.Duration

	// Search overrides the canned search results.
	Search SearchFunc

	Logger *slog.Logger
}

type user struct {
	id      int64
	name    string
	hash    []byte
	isAdmin bool
}

type searchEntry struct {
	ID        int64     `json:"id"`
	Query     string    `json:"query"`
	Results   string    `json:"results"`
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
}

type imageEntry struct {
	ID        int64     `json:"id"`
	Prompt    string    `json:"prompt"`
	ImageURL  string    `json:"image_url"`
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
}

type failure struct {
	status int
	detail string
}

type claims struct {
	IsAdmin bool   `json:"is_admin"`
	Epoch   uint64 `json:"epoch"`
	jwt.RegisteredClaims
}

// Server is the fake collaborator. It implements http.Handler.
type Server struct {
	secret []byte
	ttl    time.Duration
	search SearchFunc
	log    *slog.Logger
	router chi.Router

	mu       sync.Mutex
	epoch    uint64
	nextID   int64
	users    map[string]*user
	searches []searchEntry
	images   []imageEntry
	fail     map[string]failure
	requests []Request
}

// New creates a Server.
func New(opt Options) *Server {
	secret := opt.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		rand.Read(secret)
	}
	ttl := opt.TokenTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	search := opt.Search
	if search == nil {
		search = cannedSearch
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		secret: secret,
		ttl:    ttl,
		search: search,
		log:    log,
		users:  make(map[string]*user),
		fail:   make(map[string]failure),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Use(s.injectFailure)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/token", s.handleToken)
		r.Post("/register", s.handleRegister)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.bearer)
		r.Get("/dashboard/", s.handleDashboard)
		r.Delete("/dashboard/search/{id}", s.handleDeleteSearch)
		r.Delete("/dashboard/image/{id}", s.handleDeleteImage)
		r.Get("/search/", s.handleSearch)
		r.Post("/images/generate", s.handleGenerate)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddUser registers a user directly.
func (s *Server) AddUser(username, password string, isAdmin bool) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return errors.New(detailDuplicateUser)
	}
	s.nextID++
	s.users[username] = &user{id: s.nextID, name: username, hash: hash, isAdmin: isAdmin}
	return nil
}

// RevokeAll invalidates every token issued so far.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
}

// Fail makes every request to path answer status with detail until
// ClearFailures is called.
func (s *Server) Fail(path string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[path] = failure{status: status, detail: detail}
}

// ClearFailures removes all injected failures.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.fail)
}

// Requests returns the requests seen so far, oldest first.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// LastRequest returns the most recent request to path.
func (s *Server) LastRequest(path string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Path == path {
			return s.requests[i], true
		}
	}
	return Request{}, false
}

// Issue returns a token for username without a password check.
func (s *Server) Issue(username string) (string, error) {
	s.mu.Lock()
	u, ok := s.users[username]
	epoch := s.epoch
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown user %q", username)
	}
	return s.sign(u, epoch)
}

func (s *Server) sign(u *user, epoch uint64) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		IsAdmin: u.isAdmin,
		Epoch:   epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.name,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	return tok.SignedString(s.secret)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		s.mu.Unlock()
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		f, ok := s.fail[r.URL.Path]
		s.mu.Unlock()
		if ok {
			writeError(w, f.status, f.detail)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

func (s *Server) bearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, detailUnauthorized)
			return
		}
		var c claims
		_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			writeError(w, http.StatusUnauthorized, detailUnauthorized)
			return
		}
		s.mu.Lock()
		u, ok := s.users[c.Subject]
		current := c.Epoch == s.epoch
		s.mu.Unlock()
		if !ok || !current {
			writeError(w, http.StatusUnauthorized, detailUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid form body")
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")

	s.mu.Lock()
	u, ok := s.users[username]
	epoch := s.epoch
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		writeError(w, http.StatusUnauthorized, detailBadLogin)
		return
	}
	tok, err := s.sign(u, epoch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": tok, "token_type": "bearer"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}
	if err := s.AddUser(body.Username, body.Password, false); err != nil {
		writeError(w, http.StatusBadRequest, detailDuplicateUser)
		return
	}
	s.mu.Lock()
	id := s.users[body.Username].id
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"message": "User registered successfully", "user_id": id})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	s.mu.Lock()
	searches := make([]searchEntry, 0)
	images := make([]imageEntry, 0)
	for _, e := range slices.Backward(s.searches) {
		if e.UserID == u.id {
			searches = append(searches, e)
		}
	}
	for _, e := range slices.Backward(s.images) {
		if e.UserID == u.id {
			images = append(images, e)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"searches": searches, "images": images})
}

func (s *Server) handleDeleteSearch(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	i := slices.IndexFunc(s.searches, func(e searchEntry) bool { return e.ID == id && e.UserID == u.id })
	if i >= 0 {
		s.searches = slices.Delete(s.searches, i, i+1)
	}
	s.mu.Unlock()
	if i < 0 {
		writeError(w, http.StatusNotFound, "Entry not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Search entry deleted successfully"})
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	i := slices.IndexFunc(s.images, func(e imageEntry) bool { return e.ID == id && e.UserID == u.id })
	if i >= 0 {
		s.images = slices.Delete(s.images, i, i+1)
	}
	s.mu.Unlock()
	if i < 0 {
		writeError(w, http.StatusNotFound, "Image entry not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Image entry deleted successfully"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusUnprocessableEntity, "query is required")
		return
	}
	results := s.search(query)
	encoded, err := json.Marshal(results)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("An error occurred during search: %v", err))
		return
	}
	s.mu.Lock()
	s.nextID++
	e := searchEntry{ID: s.nextID, Query: query, Results: string(encoded), Timestamp: time.Now().UTC(), UserID: u.id}
	s.searches = append(s.searches, e)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": results, "history_id": e.ID})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Prompt) == "" {
		writeError(w, http.StatusUnprocessableEntity, "prompt is required")
		return
	}
	s.mu.Lock()
	s.nextID++
	e := imageEntry{
		ID:        s.nextID,
		Prompt:    body.Prompt,
		ImageURL:  "https://images.example.invalid/" + url.PathEscape(uuid.NewString()) + ".png",
		Timestamp: time.Now().UTC(),
		UserID:    u.id,
	}
	s.images = append(s.images, e)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":    "Image generated and saved successfully",
		"image_url":  e.ImageURL,
		"history_id": e.ID,
	})
}

func cannedSearch(query string) []SearchResult {
	q := url.QueryEscape(query)
	return []SearchResult{
		{Title: query + " - Wikipedia", Href: "https://en.wikipedia.org/w/index.php?search=" + q, Body: "Encyclopedia entry for " + query + "."},
		{Title: query + " news", Href: "https://news.example.co.uk/topics/" + q, Body: "Latest coverage of " + query + "."},
		{Title: "Learn " + query, Href: "https://learn.example.com/" + q, Body: "Guides and tutorials about " + query + "."},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
