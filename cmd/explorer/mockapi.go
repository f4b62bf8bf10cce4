package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kardianos/explorer/xmock"
)

// MockAPIOptions configures the mockapi mode.
type MockAPIOptions struct {
	ListenAddr string
	Secret     string
	TokenTTL   time.Duration
	Users      string
}

// MockAPIResult contains information about the running server.
type MockAPIResult struct {
	Addr   string
	Server *xmock.Server
}

// RunMockAPI serves the fake API until ctx is cancelled.
func RunMockAPI(ctx context.Context, opts *MockAPIOptions) error {
	return RunMockAPIWithResult(ctx, opts, nil)
}

// RunMockAPIWithResult starts the server and optionally reports startup info.
func RunMockAPIWithResult(ctx context.Context, opts *MockAPIOptions, resultCh chan<- *MockAPIResult) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := xmock.New(xmock.Options{
		Secret:   []byte(opts.Secret),
		TokenTTL: opts.TokenTTL,
		Logger:   log,
	})
	users, err := parseUsers(opts.Users)
	if err != nil {
		return err
	}
	for name, pass := range users {
		if err := srv.AddUser(name, pass, false); err != nil {
			return fmt.Errorf("add user %s: %w", name, err)
		}
	}

	ln, err := net.Listen("tcp", opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	hs := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	addr := ln.Addr().String()
	log.Info("mock api listening", "addr", addr, "users", len(users))
	if resultCh != nil {
		resultCh <- &MockAPIResult{Addr: addr, Server: srv}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// parseUsers parses "name:pass,name2:pass2".
func parseUsers(s string) (map[string]string, error) {
	users := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, pass, ok := strings.Cut(pair, ":")
		if !ok || name == "" || pass == "" {
			return nil, fmt.Errorf("invalid user %q, want name:password", pair)
		}
		users[name] = pass
	}
	return users, nil
}
