// Package explorer assembles the session pipeline of the AI Explorer
// client: credential store, authorizing transport, collaborator API,
// session manager and route guard.
package explorer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/kardianos/explorer/xapi"
	"github.com/kardianos/explorer/xconfig"
	"github.com/kardianos/explorer/xguard"
	"github.com/kardianos/explorer/xsession"
	"github.com/kardianos/explorer/xstore"
	"github.com/kardianos/explorer/xtransport"
)

// ClientOpt configures a Client.
type ClientOpt struct {
	// Config selects the collaborator and the credential store.
	Config xconfig.Config

	// DataStore overrides the store described by Config.Store.
	// A store passed in is not closed by Client.Close.
	DataStore xstore.DataStore

	// Base overrides the transport used to reach the collaborator.
	Base http.RoundTripper

	// Hooks run around every request after the authorization hook.
	Hooks []xtransport.Hook

	Logger *slog.Logger
}

// Client is one running instance of the session pipeline.
type Client struct {
	Credential *xstore.Credential
	Transport  *xtransport.Transport
	API        *xapi.Client
	Session    *xsession.Manager
	Router     *xguard.Router

	data      xstore.DataStore
	ownedData bool
	unlisten  func()
	log       *slog.Logger
}

// NewClient builds the pipeline and restores the session from the store.
func NewClient(ctx context.Context, opt ClientOpt) (*Client, error) {
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg := opt.Config

	c := &Client{
		data: opt.DataStore,
		log:  log,
	}
	if c.data == nil {
		data, err := xstore.Open(cfg.Store.Options())
		if err != nil {
			return nil, fmt.Errorf("open credential store: %w", err)
		}
		c.data = data
		c.ownedData = true
	}

	var err error
	c.Credential, err = xstore.NewCredential(xstore.CredentialConfig{
		Store:   c.data,
		Encrypt: cfg.Store.Encrypt,
		Logger:  log.With("component", "store"),
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Transport, err = xtransport.New(xtransport.Options{
		Store:  c.Credential,
		Base:   opt.Base,
		HTTP3:  cfg.HTTP3,
		Hooks:  opt.Hooks,
		Logger: log.With("component", "transport"),
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	c.API, err = xapi.New(cfg.BaseURL, c.Transport.Client(cfg.HTTPTimeout))
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Session, err = xsession.New(xsession.Options{
		Store:           c.Credential,
		API:             c.API,
		Generation:      c.Transport.Generation(),
		ValidateOnStart: cfg.ValidateOnStart,
		Logger:          log.With("component", "session"),
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.unlisten = c.Transport.AddListener(c.Session)

	c.Router, err = xguard.NewRouter(xguard.DefaultRoutes())
	if err != nil {
		c.Close()
		return nil, err
	}

	log.Info("client started", "base_url", cfg.BaseURL, "store", c.data.Path(), "http3", cfg.HTTP3)
	c.Session.Initialize(ctx)
	return c, nil
}

// Navigator returns a navigator following this client's session.
func (c *Client) Navigator(onChange func(xguard.Resolution)) *xguard.Navigator {
	return xguard.NewNavigator(c.Router, c.Session, onChange)
}

// Close releases the transport and the store. The session is not logged
// out; the credential stays for the next start.
func (c *Client) Close() error {
	if c.unlisten != nil {
		c.unlisten()
	}
	if c.Session != nil {
		c.Session.Close()
	}
	var err error
	if c.Transport != nil {
		err = c.Transport.Close()
	}
	if c.ownedData && c.data != nil {
		if cerr := c.data.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// NewLogger returns a text logger writing to w at level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
