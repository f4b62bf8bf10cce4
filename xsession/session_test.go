package xsession

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/kardianos/explorer/xapi"
	"github.com/kardianos/explorer/xdef"
	"github.com/kardianos/explorer/xmock"
	"github.com/kardianos/explorer/xstore"
	"github.com/kardianos/explorer/xtransport"
)

type harness struct {
	srv   *xmock.Server
	url   string
	data  *xstore.MemoryDataStore
	store *xstore.Credential
	tr    *xtransport.Transport
	api   *xapi.Client
	mgr   *Manager
}

// newHarness wires a manager to a fake collaborator. data may be nil.
func newHarness(t *testing.T, srv *xmock.Server, url string, data *xstore.MemoryDataStore, opt Options) *harness {
	t.Helper()
	if data == nil {
		data = xstore.NewMemoryDataStore()
	}
	store, err := xstore.NewCredential(xstore.CredentialConfig{Store: data, Encrypt: true})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := xtransport.New(xtransport.Options{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	api, err := xapi.New(url, tr.Client(0))
	if err != nil {
		t.Fatal(err)
	}
	opt.Store = store
	opt.API = api
	opt.Generation = tr.Generation()
	mgr, err := New(opt)
	if err != nil {
		t.Fatal(err)
	}
	tr.AddListener(mgr)
	t.Cleanup(mgr.Close)
	return &harness{srv: srv, url: url, data: data, store: store, tr: tr, api: api, mgr: mgr}
}

func newMockServer(t *testing.T) (*xmock.Server, string) {
	t.Helper()
	srv := xmock.New(xmock.Options{})
	if err := srv.AddUser("alice", "secret123", false); err != nil {
		t.Fatal(err)
	}
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return srv, hs.URL
}

func setup(t *testing.T) *harness {
	srv, url := newMockServer(t)
	h := newHarness(t, srv, url, nil, Options{})
	h.mgr.Initialize(context.Background())
	return h
}

func TestStartsLoading(t *testing.T) {
	srv, url := newMockServer(t)
	h := newHarness(t, srv, url, nil, Options{})
	if h.mgr.Status() != StatusLoading {
		t.Fatalf("status = %v, want loading", h.mgr.Status())
	}
	h.mgr.Initialize(context.Background())
	if h.mgr.Status() != StatusUnauthenticated {
		t.Fatalf("status = %v, want unauthenticated", h.mgr.Status())
	}
}

func TestLoginAttachesCredential(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	if err := h.mgr.Login(ctx, "alice", "secret123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	s := h.mgr.Snapshot()
	if s.Status != StatusAuthenticated || s.Username() != "alice" || s.Credential == "" {
		t.Fatalf("session = %+v", s)
	}
	if v, _ := h.store.Get(); v != s.Credential {
		t.Errorf("store = %q, want %q", v, s.Credential)
	}

	if _, err := h.api.Dashboard(ctx); err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	req, _ := h.srv.LastRequest("/dashboard/")
	if req.Authorization != "Bearer "+s.Credential {
		t.Errorf("Authorization = %q", req.Authorization)
	}
}

func TestLoginScenarioFixedToken(t *testing.T) {
	mux := http.NewServeMux()
	var auth string
	var mu sync.Mutex
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("username") != "alice" || r.FormValue("password") != "secret123" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Invalid credentials"}`))
			return
		}
		w.Write([]byte(`{"access_token":"abc.def"}`))
	})
	mux.HandleFunc("/dashboard/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.Write([]byte(`{"searches":[],"images":[]}`))
	})
	hs := httptest.NewServer(mux)
	defer hs.Close()

	h := newHarness(t, nil, hs.URL, nil, Options{})
	ctx := context.Background()
	h.mgr.Initialize(ctx)

	err := h.mgr.Login(ctx, "alice", "wrong")
	if err == nil || err.Error() != "Invalid credentials" {
		t.Fatalf("wrong password err = %v", err)
	}
	if !errors.Is(err, xdef.ErrCredentialRejected) {
		t.Errorf("err should match ErrCredentialRejected: %v", err)
	}
	if _, ok := h.store.Get(); ok {
		t.Error("store not empty after failed login")
	}
	if h.mgr.Status() != StatusUnauthenticated {
		t.Errorf("status = %v", h.mgr.Status())
	}

	if err := h.mgr.Login(ctx, "alice", "secret123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if v, _ := h.store.Get(); v != "abc.def" {
		t.Fatalf("store = %q, want abc.def", v)
	}
	if _, err := h.api.Dashboard(ctx); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer abc.def" {
		t.Errorf("Authorization = %q, want Bearer abc.def", auth)
	}
}

func TestLoginProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", ``, xapi.MsgNoData},
		{"missing token", `{"token_type":"bearer"}`, xapi.MsgNoToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer hs.Close()
			h := newHarness(t, nil, hs.URL, nil, Options{})
			h.mgr.Initialize(context.Background())
			before := h.mgr.Snapshot()

			err := h.mgr.Login(context.Background(), "alice", "secret123")
			if Message(err) != tt.want {
				t.Errorf("message = %q, want %q", Message(err), tt.want)
			}
			if !errors.Is(err, xdef.ErrProtocol) {
				t.Errorf("err = %v, want protocol error", err)
			}
			if after := h.mgr.Snapshot(); after != before {
				t.Errorf("session changed: %+v -> %+v", before, after)
			}
		})
	}
}

func TestLoginValidation(t *testing.T) {
	h := setup(t)
	for _, in := range [][2]string{{"", "x"}, {"alice", ""}, {"   ", "secret123"}} {
		err := h.mgr.Login(context.Background(), in[0], in[1])
		if !errors.Is(err, xdef.ErrValidation) || Message(err) != "Please fill in all fields" {
			t.Errorf("Login(%q, %q) = %v", in[0], in[1], err)
		}
	}
	if n := len(h.srv.Requests()); n != 0 {
		t.Errorf("validation reached the server: %d requests", n)
	}
}

func TestLoginTransportFailure(t *testing.T) {
	hs := httptest.NewServer(http.NotFoundHandler())
	url := hs.URL
	hs.Close()

	h := newHarness(t, nil, url, nil, Options{})
	h.mgr.Initialize(context.Background())
	err := h.mgr.Login(context.Background(), "alice", "secret123")
	if !errors.Is(err, xdef.ErrTransport) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if Message(err) == "" || Message(err) == "Login failed" {
		t.Errorf("message = %q, want the transport error text", Message(err))
	}
	if h.mgr.Status() != StatusUnauthenticated {
		t.Errorf("status = %v", h.mgr.Status())
	}
}

func TestFailedReloginSignsOut(t *testing.T) {
	tests := []struct {
		name   string
		status int
		detail string
		want   string
	}{
		{"unavailable", http.StatusServiceUnavailable, "", "Login failed"},
		{"server error with detail", http.StatusInternalServerError, "database down", "database down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			ctx := context.Background()
			if err := h.mgr.Login(ctx, "alice", "secret123"); err != nil {
				t.Fatal(err)
			}
			var last Session
			h.mgr.Subscribe(func(s Session) { last = s })

			h.srv.Fail("/auth/token", tt.status, tt.detail)
			err := h.mgr.Login(ctx, "alice", "secret123")
			if Message(err) != tt.want {
				t.Errorf("message = %q, want %q", Message(err), tt.want)
			}
			if h.mgr.Status() != StatusUnauthenticated {
				t.Errorf("status = %v, want unauthenticated", h.mgr.Status())
			}
			if _, ok := h.store.Get(); ok {
				t.Error("old credential still stored")
			}
			if last.Status != StatusUnauthenticated {
				t.Errorf("subscriber saw %v", last.Status)
			}
		})
	}
}

func TestProtocolErrorKeepsSignedInSession(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.Write([]byte(`{"access_token":"abc.def","token_type":"bearer"}`))
		}
	}))
	defer hs.Close()

	h := newHarness(t, nil, hs.URL, nil, Options{})
	ctx := context.Background()
	h.mgr.Initialize(ctx)
	if err := h.mgr.Login(ctx, "alice", "secret123"); err != nil {
		t.Fatal(err)
	}
	before := h.mgr.Snapshot()

	err := h.mgr.Login(ctx, "alice", "secret123")
	if !errors.Is(err, xdef.ErrProtocol) {
		t.Fatalf("err = %v, want protocol error", err)
	}
	after := h.mgr.Snapshot()
	if after.Status != before.Status || after.Credential != before.Credential ||
		after.Generation != before.Generation || after.Username() != "alice" {
		t.Errorf("session changed: %+v -> %+v", before, after)
	}
	if cred, _ := h.store.Get(); cred != "abc.def" {
		t.Errorf("stored credential = %q", cred)
	}
}

func TestLogoutIdempotent(t *testing.T) {
	h := setup(t)
	if err := h.mgr.Login(context.Background(), "alice", "secret123"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		h.mgr.Logout()
		if h.mgr.Status() != StatusUnauthenticated {
			t.Fatalf("logout %d: status = %v", i, h.mgr.Status())
		}
		if _, ok := h.store.Get(); ok {
			t.Fatalf("logout %d: store not empty", i)
		}
	}
	if h.data.Raw(xstore.KeyCredential) != nil {
		t.Error("credential record still present")
	}
}

func TestReloadRestoresSession(t *testing.T) {
	srv, url := newMockServer(t)
	data := xstore.NewMemoryDataStore()

	first := newHarness(t, srv, url, data, Options{})
	first.mgr.Initialize(context.Background())
	if err := first.mgr.Login(context.Background(), "alice", "secret123"); err != nil {
		t.Fatal(err)
	}
	cred := first.mgr.Snapshot().Credential

	// A fresh process over the same durable medium.
	second := newHarness(t, srv, url, data, Options{})
	second.mgr.Initialize(context.Background())
	s := second.mgr.Snapshot()
	if s.Status != StatusAuthenticated || s.Credential != cred {
		t.Fatalf("restored session = %+v", s)
	}
	if s.Username() != "alice" {
		t.Errorf("username = %q, want alice from the token subject", s.Username())
	}
	if n := len(srv.Requests()); n != 1 {
		t.Errorf("restore contacted the server: %d requests", n)
	}

	if _, err := second.api.Dashboard(context.Background()); err != nil {
		t.Fatal(err)
	}
	req, _ := srv.LastRequest("/dashboard/")
	if req.Authorization != "Bearer "+cred {
		t.Errorf("Authorization = %q", req.Authorization)
	}
}

func TestRestoreOpaqueCredential(t *testing.T) {
	data := xstore.NewMemoryDataStore()
	store, _ := xstore.NewCredential(xstore.CredentialConfig{Store: data, Encrypt: true})
	store.Set("not-a-jwt")

	srv, url := newMockServer(t)
	h := newHarness(t, srv, url, data, Options{})
	h.mgr.Initialize(context.Background())
	s := h.mgr.Snapshot()
	if s.Status != StatusAuthenticated || s.Identity == nil || s.Username() != "" {
		t.Errorf("session = %+v", s)
	}
}

func TestRejectionMidSession(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	if err := h.mgr.Login(ctx, "alice", "secret123"); err != nil {
		t.Fatal(err)
	}

	var seen []Status
	var mu sync.Mutex
	h.mgr.Subscribe(func(s Session) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})

	h.srv.RevokeAll()
	_, err := h.api.Dashboard(ctx)
	if !errors.Is(err, xdef.ErrCredentialRejected) {
		t.Fatalf("err = %v, want rejection", err)
	}
	if h.mgr.Status() != StatusUnauthenticated {
		t.Fatalf("status = %v, want unauthenticated", h.mgr.Status())
	}
	if _, ok := h.store.Get(); ok {
		t.Error("store not cleared")
	}
	mu.Lock()
	if len(seen) != 1 || seen[0] != StatusUnauthenticated {
		t.Errorf("notifications = %v", seen)
	}
	mu.Unlock()

	// The next unrelated request goes out without a credential.
	h.api.Search(ctx, "go")
	req, _ := h.srv.LastRequest("/search/")
	if req.Authorization != "" {
		t.Errorf("Authorization after rejection = %q", req.Authorization)
	}
}

func TestStaleRejectionAfterRelogin(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	if err := h.mgr.Login(ctx, "alice", "secret123"); err != nil {
		t.Fatal(err)
	}
	old := h.mgr.Snapshot()

	if err := h.mgr.Login(ctx, "alice", "secret123"); err != nil {
		t.Fatal(err)
	}
	current := h.mgr.Snapshot()
	if current.Generation == old.Generation {
		t.Fatal("re-login did not advance the generation")
	}

	h.mgr.OnCredentialRejected(ctx, xtransport.Rejection{Path: "/dashboard/", Generation: old.Generation})
	if s := h.mgr.Snapshot(); s.Status != StatusAuthenticated || s.Credential != current.Credential {
		t.Errorf("stale rejection changed the session: %+v", s)
	}
	if v, _ := h.store.Get(); v != current.Credential {
		t.Error("stale rejection cleared the store")
	}

	h.mgr.OnCredentialRejected(ctx, xtransport.Rejection{Path: "/dashboard/", Generation: current.Generation})
	if h.mgr.Status() != StatusUnauthenticated {
		t.Error("current rejection ignored")
	}
}

func TestNetworkFailureKeepsSession(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	if err := h.mgr.Login(ctx, "alice", "secret123"); err != nil {
		t.Fatal(err)
	}

	broken, err := xapi.New("http://127.0.0.1:1", h.tr.Client(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := broken.Dashboard(ctx); !errors.Is(err, xdef.ErrTransport) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if h.mgr.Status() != StatusAuthenticated {
		t.Error("network failure ended the session")
	}
	if _, ok := h.store.Get(); !ok {
		t.Error("network failure cleared the store")
	}
}

func TestValidateOnStart(t *testing.T) {
	srv, url := newMockServer(t)
	data := xstore.NewMemoryDataStore()
	store, _ := xstore.NewCredential(xstore.CredentialConfig{Store: data, Encrypt: true})
	tok, _ := srv.Issue("alice")
	store.Set(tok)
	srv.RevokeAll()

	optimistic := newHarness(t, srv, url, data, Options{})
	optimistic.mgr.Initialize(context.Background())
	if optimistic.mgr.Status() != StatusAuthenticated {
		t.Fatalf("optimistic restore = %v", optimistic.mgr.Status())
	}

	validating := newHarness(t, srv, url, data, Options{ValidateOnStart: true})
	validating.mgr.Initialize(context.Background())
	if validating.mgr.Status() != StatusUnauthenticated {
		t.Errorf("validated restore = %v, want unauthenticated", validating.mgr.Status())
	}
	if _, ok := store.Get(); ok {
		t.Error("revoked credential kept")
	}
}

func TestRegister(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		user     string
		pass     string
		confirm  string
		wantMsg  string
		wantKind error
	}{
		{"short username", "al", "secret123", "secret123", "Username must be at least 3 characters long", xdef.ErrValidation},
		{"trimmed username", "  al  ", "secret123", "secret123", "Username must be at least 3 characters long", xdef.ErrValidation},
		{"short password", "bob", "12345", "12345", "Password must be at least 6 characters long", xdef.ErrValidation},
		{"mismatch", "bob", "secret123", "secret124", "Passwords do not match", xdef.ErrValidation},
		{"duplicate", "alice", "secret123", "secret123", "Username already registered", nil},
		{"ok", "bob", "secret123", "secret123", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.mgr.RegisterConfirm(ctx, tt.user, tt.pass, tt.confirm)
			if Message(err) != tt.wantMsg {
				t.Errorf("message = %q, want %q", Message(err), tt.wantMsg)
			}
			if tt.wantKind != nil && !errors.Is(err, tt.wantKind) {
				t.Errorf("err = %v, want %v", err, tt.wantKind)
			}
		})
	}

	if h.mgr.Status() != StatusUnauthenticated {
		t.Error("registration signed in")
	}
	if _, ok := h.store.Get(); ok {
		t.Error("registration stored a credential")
	}
	if err := h.mgr.Login(ctx, "bob", "secret123"); err != nil {
		t.Errorf("login after register: %v", err)
	}
}

func TestRegisterGenericFailure(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer hs.Close()
	h := newHarness(t, nil, hs.URL, nil, Options{})
	err := h.mgr.Register(context.Background(), "bob", "secret123")
	if Message(err) != "Registration failed" {
		t.Errorf("message = %q", Message(err))
	}
}

func TestSubscribe(t *testing.T) {
	h := setup(t)
	var got []Session
	unsubscribe := h.mgr.Subscribe(func(s Session) { got = append(got, s) })

	if err := h.mgr.Login(context.Background(), "alice", "secret123"); err != nil {
		t.Fatal(err)
	}
	h.mgr.Logout()
	unsubscribe()
	unsubscribe()
	h.mgr.Logout()

	if len(got) != 2 {
		t.Fatalf("got %d notifications, want 2", len(got))
	}
	if got[0].Status != StatusAuthenticated || got[0].Username() != "alice" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Status != StatusUnauthenticated || got[1].Identity != nil {
		t.Errorf("second = %+v", got[1])
	}
}

func TestCloseDropsSubscribers(t *testing.T) {
	h := setup(t)
	called := false
	h.mgr.Subscribe(func(Session) { called = true })
	h.mgr.Close()
	h.mgr.Logout()
	h.mgr.Subscribe(func(Session) { called = true })
	h.mgr.Logout()
	if called {
		t.Error("subscriber called after Close")
	}
}

func TestSubscriberMayCallManager(t *testing.T) {
	h := setup(t)
	h.mgr.Subscribe(func(s Session) {
		if s.Authenticated() {
			h.mgr.Snapshot()
			h.mgr.Logout()
		}
	})
	if err := h.mgr.Login(context.Background(), "alice", "secret123"); err != nil {
		t.Fatal(err)
	}
	if h.mgr.Status() != StatusUnauthenticated {
		t.Errorf("status = %v", h.mgr.Status())
	}
}

func TestChangeDuringDeliveryArrivesLast(t *testing.T) {
	h := setup(t)
	h.mgr.Subscribe(func(s Session) {
		if s.Authenticated() {
			h.mgr.Logout()
		}
	})
	var seen []Status
	h.mgr.Subscribe(func(s Session) {
		seen = append(seen, s.Status)
	})

	if err := h.mgr.Login(context.Background(), "alice", "secret123"); err != nil {
		t.Fatal(err)
	}
	if h.mgr.Status() != StatusUnauthenticated {
		t.Fatalf("status = %v", h.mgr.Status())
	}
	if len(seen) == 0 || seen[len(seen)-1] != StatusUnauthenticated {
		t.Errorf("second subscriber saw %v, want unauthenticated last", seen)
	}
}

func TestConcurrentChangesSettleOnCurrentState(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	var mu sync.Mutex
	var last Session
	h.mgr.Subscribe(func(s Session) {
		mu.Lock()
		last = s
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.mgr.Login(ctx, "alice", "secret123")
		}()
		go func() {
			defer wg.Done()
			h.mgr.Logout()
		}()
	}
	wg.Wait()
	h.mgr.Logout()

	mu.Lock()
	defer mu.Unlock()
	if last.Status != StatusUnauthenticated || last.Credential != "" {
		t.Errorf("last delivered = %+v, want signed out", last)
	}
}

func TestConcurrentRejections(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	if err := h.mgr.Login(ctx, "alice", "secret123"); err != nil {
		t.Fatal(err)
	}
	h.srv.RevokeAll()

	var notified int
	var mu sync.Mutex
	h.mgr.Subscribe(func(Session) {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.api.Dashboard(ctx)
		}()
	}
	wg.Wait()

	if h.mgr.Status() != StatusUnauthenticated {
		t.Errorf("status = %v", h.mgr.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	if notified != 1 {
		t.Errorf("notified %d times, want 1", notified)
	}
}

func TestStatusString(t *testing.T) {
	for s, want := range map[Status]string{
		StatusLoading:         "loading",
		StatusUnauthenticated: "unauthenticated",
		StatusAuthenticated:   "authenticated",
		Status(9):             "Status(9)",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func TestNewRequires(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without store")
	}
	store, _ := xstore.NewCredential(xstore.CredentialConfig{Store: xstore.NewMemoryDataStore()})
	if _, err := New(Options{Store: store}); err == nil {
		t.Error("expected error without api")
	}
}
