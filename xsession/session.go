// Package xsession owns the client's belief about who is signed in.
//
// A Manager starts in StatusLoading, settles in Initialize, and from then
// on moves between StatusUnauthenticated and StatusAuthenticated through
// Login, Logout and rejections reported by the transport. Every change is
// published to subscribers as a Session snapshot.
package xsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kardianos/explorer/xapi"
	"github.com/kardianos/explorer/xdef"
	"github.com/kardianos/explorer/xstate"
	"github.com/kardianos/explorer/xstore"
	"github.com/kardianos/explorer/xtransport"
)

// Status is the session lifecycle state.
type Status int

const (
	StatusLoading Status = iota
	StatusUnauthenticated
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Session is a point in time copy of the manager's state.
type Session struct {
	Credential string
	Identity   *xdef.Identity
	Status     Status
	Generation uint64
}

// Authenticated reports whether the session holds a credential.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// Username returns the identity's name, or "" when unknown.
func (s Session) Username() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Username
}

var transitions = []xstate.Transition[Status]{
	{From: StatusLoading, To: StatusUnauthenticated, Name: "restore-empty"},
	{From: StatusLoading, To: StatusAuthenticated, Name: "restore"},
	{From: StatusUnauthenticated, To: StatusAuthenticated, Name: "sign-in"},
	{From: StatusAuthenticated, To: StatusUnauthenticated, Name: "sign-out"},
}

// Authenticator is the part of the collaborator API the manager calls.
type Authenticator interface {
	Token(ctx context.Context, username, password string) (xapi.TokenResponse, error)
	Register(ctx context.Context, username, password string) (xapi.RegisterResponse, error)
	Dashboard(ctx context.Context) (xapi.Dashboard, error)
}

// Options configures a Manager.
type Options struct {
	// Store holds the credential. Required.
	Store xstore.CredentialStore

	// API performs login and registration. Required.
	API Authenticator

	// Generation must be the counter used by the transport, so that
	// rejections of requests sent under an older credential are ignored.
	// Nil creates a private counter.
	Generation *xtransport.Generation

	// ValidateOnStart makes Initialize fetch the dashboard once after
	// restoring a credential, so a revoked credential is detected at
	// startup instead of at the first user action.
	ValidateOnStart bool

	Logger *slog.Logger
}

// Manager is the session state machine. It is safe for concurrent use.
type Manager struct {
	store    xstore.CredentialStore
	api      Authenticator
	gen      *xtransport.Generation
	log      *slog.Logger
	validate bool

	sm *xstate.Machine[Status]

	mu         sync.Mutex
	credential string
	identity   *xdef.Identity

	smu        sync.Mutex
	nextID     int
	subs       map[int]func(Session)
	closed     bool
	delivering bool
	pending    bool
}

var _ xtransport.RejectionListener = (*Manager)(nil)

// New creates a Manager in StatusLoading. Call Initialize before use.
func New(opt Options) (*Manager, error) {
	if opt.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if opt.API == nil {
		return nil, fmt.Errorf("api client is required")
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	gen := opt.Generation
	if gen == nil {
		gen = &xtransport.Generation{}
	}
	m := &Manager{
		store:    opt.Store,
		api:      opt.API,
		gen:      gen,
		log:      log,
		validate: opt.ValidateOnStart,
		subs:     make(map[int]func(Session)),
	}
	m.sm = xstate.New(StatusLoading, transitions, func(c xstate.Change[Status]) {
		m.log.Info("session transition", "from", c.From, "to", c.To, "name", c.Name)
	})
	return m, nil
}

// Initialize restores the session from the credential store. It never
// leaves the manager in StatusLoading. Calling it again re-reads the store.
//
// The restored credential is trusted without a server round trip unless
// ValidateOnStart is set.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	cred, ok := m.store.Get()
	if cred != m.credential {
		m.gen.Advance(nil)
		m.credential = cred
		m.identity = nil
	}
	target := StatusUnauthenticated
	if ok {
		if m.identity == nil {
			m.identity = &xdef.Identity{Username: subject(cred)}
		}
		target = StatusAuthenticated
	}
	m.ensure(target)
	m.mu.Unlock()

	m.log.Debug("session restored", "authenticated", ok, "credential", xstore.Fingerprint(cred))
	m.notify()

	if ok && m.validate {
		if _, err := m.api.Dashboard(ctx); err != nil {
			m.log.Warn("startup validation failed", "err", err)
		}
	}
}

// Login exchanges username and password for a credential. On success the
// credential is stored and the session becomes authenticated. A failed
// exchange, other than a malformed success response, leaves the session
// signed out. The returned error's message is suitable for display.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return &xdef.ValidationError{Field: "username", Msg: "Please fill in all fields"}
	}

	tok, err := m.api.Token(ctx, username, password)
	if err != nil {
		m.log.Info("login failed", "username", username, "err", err)
		// A malformed success response leaves the session as it was.
		if !errors.Is(err, xdef.ErrProtocol) && m.reset() {
			m.notify()
		}
		return &Failure{Op: "login", Reason: xdef.Reason(err, "Login failed"), Err: err}
	}

	m.mu.Lock()
	m.gen.Advance(func() { m.store.Set(tok.AccessToken) })
	m.credential = tok.AccessToken
	m.identity = &xdef.Identity{Username: username}
	m.ensure(StatusAuthenticated)
	m.mu.Unlock()

	m.log.Info("login succeeded", "username", username, "credential", xstore.Fingerprint(tok.AccessToken))
	m.notify()
	return nil
}

// Register creates an account. It does not sign in.
func (m *Manager) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if err := validateRegistration(username, password); err != nil {
		return err
	}
	if _, err := m.api.Register(ctx, username, password); err != nil {
		m.log.Info("registration failed", "username", username, "err", err)
		return &Failure{Op: "register", Reason: registerReason(err), Err: err}
	}
	m.log.Info("registration succeeded", "username", username)
	return nil
}

// RegisterConfirm is Register with a password confirmation field.
func (m *Manager) RegisterConfirm(ctx context.Context, username, password, confirm string) error {
	if err := validateRegistration(strings.TrimSpace(username), password); err != nil {
		return err
	}
	if password != confirm {
		return &xdef.ValidationError{Field: "confirm", Msg: "Passwords do not match"}
	}
	return m.Register(ctx, username, password)
}

func validateRegistration(username, password string) error {
	if utf8.RuneCountInString(username) < 3 {
		return &xdef.ValidationError{Field: "username", Msg: "Username must be at least 3 characters long"}
	}
	if utf8.RuneCountInString(password) < 6 {
		return &xdef.ValidationError{Field: "password", Msg: "Password must be at least 6 characters long"}
	}
	return nil
}

// registerReason only surfaces server detail; other failures get the
// generic message.
func registerReason(err error) string {
	var se *xdef.StatusError
	if errors.As(err, &se) && se.Detail != "" {
		return se.Detail
	}
	return "Registration failed"
}

// Logout clears the credential. It is idempotent.
func (m *Manager) Logout() {
	m.reset()
	m.log.Info("logout")
	m.notify()
}

// reset clears the credential and moves to StatusUnauthenticated. It
// reports whether the session was anything other than signed out.
func (m *Manager) reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.credential != "" || m.sm.Current() != StatusUnauthenticated
	m.gen.Advance(m.store.Clear)
	m.credential = ""
	m.identity = nil
	m.ensure(StatusUnauthenticated)
	return changed
}

// OnCredentialRejected resets the session exactly like Logout, unless the
// rejected request belongs to an older generation.
func (m *Manager) OnCredentialRejected(ctx context.Context, r xtransport.Rejection) {
	m.mu.Lock()
	if !m.gen.AdvanceIf(r.Generation, m.store.Clear) {
		m.mu.Unlock()
		m.log.Debug("rejection superseded", "request_id", r.RequestID, "generation", r.Generation)
		return
	}
	m.credential = ""
	m.identity = nil
	m.ensure(StatusUnauthenticated)
	m.mu.Unlock()

	m.log.Info("session invalidated", "request_id", r.RequestID, "method", r.Method, "path", r.Path)
	m.notify()
}

// ensure moves the state machine. Called with m.mu held.
func (m *Manager) ensure(to Status) {
	if _, err := m.sm.Ensure(to); err != nil {
		m.log.Error("session transition rejected", "err", err)
	}
}

// Status returns the current status.
func (m *Manager) Status() Status {
	return m.sm.Current()
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Session{
		Credential: m.credential,
		Status:     m.sm.Current(),
		Generation: m.gen.Current(),
	}
	if m.identity != nil {
		id := *m.identity
		s.Identity = &id
	}
	return s
}

// Subscribe registers fn to receive a snapshot after every change. The
// returned function removes it. Callbacks run outside any manager lock and
// are never run concurrently with each other. A change made while
// subscribers are being called, from a callback or another goroutine, is
// delivered by the goroutine already delivering, after the current round.
// The last snapshot every subscriber sees is the current state.
func (m *Manager) Subscribe(fn func(Session)) (unsubscribe func()) {
	m.smu.Lock()
	defer m.smu.Unlock()
	if m.closed {
		return func() {}
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.smu.Lock()
		defer m.smu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Manager) notify() {
	m.smu.Lock()
	if m.delivering {
		m.pending = true
		m.smu.Unlock()
		return
	}
	m.delivering = true
	for {
		m.pending = false
		if m.closed {
			break
		}
		fns := make([]func(Session), 0, len(m.subs))
		for id := 0; id < m.nextID; id++ {
			if fn, ok := m.subs[id]; ok {
				fns = append(fns, fn)
			}
		}
		m.smu.Unlock()

		// Taken after pending was reset, so any later change gets another round.
		s := m.Snapshot()
		for _, fn := range fns {
			fn(s)
		}

		m.smu.Lock()
		if !m.pending {
			break
		}
	}
	m.delivering = false
	m.smu.Unlock()
}

// Close drops all subscribers. The manager keeps working but no longer
// publishes changes.
func (m *Manager) Close() {
	m.smu.Lock()
	defer m.smu.Unlock()
	m.closed = true
	clear(m.subs)
}

// subject returns the unverified "sub" claim when cred is a JWT.
func subject(cred string) string {
	tok, _, err := jwt.NewParser().ParseUnverified(cred, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
