package explorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kardianos/explorer/xconfig"
	"github.com/kardianos/explorer/xdef"
	"github.com/kardianos/explorer/xguard"
	"github.com/kardianos/explorer/xmock"
	"github.com/kardianos/explorer/xsession"
	"github.com/kardianos/explorer/xstore"
	"github.com/kardianos/explorer/xtransport"
)

func startMock(t *testing.T) (*xmock.Server, string) {
	t.Helper()
	srv := xmock.New(xmock.Options{})
	if err := srv.AddUser("alice", "secret123", false); err != nil {
		t.Fatal(err)
	}
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return srv, hs.URL
}

func testConfig(baseURL string, store xconfig.Store) xconfig.Config {
	cfg := xconfig.Default()
	cfg.BaseURL = baseURL
	cfg.Store = store
	return cfg
}

func TestClientSessionAcrossRestarts(t *testing.T) {
	srv, url := startMock(t)
	ctx := context.Background()
	cfg := testConfig(url, xconfig.Store{
		Backend: xstore.BackendBolt,
		Path:    filepath.Join(t.TempDir(), "session.db"),
		Encrypt: true,
	})

	c, err := NewClient(ctx, ClientOpt{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	if c.Session.Status() != xsession.StatusUnauthenticated {
		t.Fatalf("fresh status = %v", c.Session.Status())
	}
	if err := c.Session.Login(ctx, "alice", "secret123"); err != nil {
		t.Fatal(err)
	}
	cred := c.Session.Snapshot().Credential
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c, err = NewClient(ctx, ClientOpt{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if s := c.Session.Snapshot(); !s.Authenticated() || s.Credential != cred || s.Username() != "alice" {
		t.Fatalf("restored session = %+v", s)
	}

	if _, err := c.API.Search(ctx, "golang"); err != nil {
		t.Fatal(err)
	}
	req, _ := srv.LastRequest("/search/")
	if req.Authorization != "Bearer "+cred {
		t.Errorf("Authorization = %q", req.Authorization)
	}
	if req.RequestID == "" {
		t.Error("request id missing")
	}
}

func TestClientNavigation(t *testing.T) {
	srv, url := startMock(t)
	ctx := context.Background()
	c, err := NewClient(ctx, ClientOpt{
		Config:    testConfig(url, xconfig.Store{}),
		DataStore: xstore.NewMemoryDataStore(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var mu sync.Mutex
	var routes []xdef.Route
	nav := c.Navigator(func(r xguard.Resolution) {
		mu.Lock()
		routes = append(routes, r.Route)
		mu.Unlock()
	})
	defer nav.Close()

	if got := nav.Navigate("/image-gen").Route; got != xdef.RouteLogin {
		t.Fatalf("anonymous navigate = %s", got)
	}
	if err := c.Session.Login(ctx, "alice", "secret123"); err != nil {
		t.Fatal(err)
	}
	if got := nav.Current().Route; got != xdef.RouteImageGen {
		t.Fatalf("after login = %s", got)
	}
	if _, err := c.API.GenerateImage(ctx, "a lighthouse at dusk"); err != nil {
		t.Fatal(err)
	}

	srv.RevokeAll()
	c.API.Dashboard(ctx)
	if got := nav.Current().Route; got != xdef.RouteLogin {
		t.Errorf("after rejection = %s", got)
	}
	if _, ok := c.Credential.Get(); ok {
		t.Error("credential kept after rejection")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []xdef.Route{xdef.RouteLogin, xdef.RouteImageGen, xdef.RouteLogin}
	if len(routes) != len(want) {
		t.Fatalf("routes = %v, want %v", routes, want)
	}
	for i := range want {
		if routes[i] != want[i] {
			t.Errorf("routes = %v, want %v", routes, want)
			break
		}
	}
}

func TestClientHooks(t *testing.T) {
	_, url := startMock(t)
	var mu sync.Mutex
	var paths []string
	hook := xtransport.HookFuncs{Send: func(r *http.Request) error {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		return nil
	}}
	c, err := NewClient(context.Background(), ClientOpt{
		Config:    testConfig(url, xconfig.Store{}),
		DataStore: xstore.NewMemoryDataStore(),
		Hooks:     []xtransport.Hook{hook},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.Session.Login(context.Background(), "alice", "secret123")

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || paths[0] != "/auth/token" {
		t.Errorf("hook saw %v", paths)
	}
}

func TestNewClientErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  xconfig.Config
		want string
	}{
		{"bad store", testConfig("http://localhost:1", xconfig.Store{Backend: "etcd"}), "open credential store"},
		{"bad url", testConfig("localhost:1", xconfig.Store{Backend: xstore.BackendMemory}), "http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(context.Background(), ClientOpt{Config: tt.cfg})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
