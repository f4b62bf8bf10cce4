// Package xtransport attaches the stored credential to every outbound
// request and turns an unauthorized response into a global session clear.
package xtransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kardianos/explorer/xstore"
	"github.com/quic-go/quic-go/http3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// HeaderRequestID carries a per-request identifier.
const HeaderRequestID = "X-Request-ID"

const tracerName = "github.com/kardianos/explorer/xtransport"

// Rejection describes a request the server answered with 401.
type Rejection struct {
	RequestID  string
	Method     string
	Path       string
	Generation uint64
}

// RejectionListener is told about every honored rejection, after the
// credential store has been cleared and before the response is returned
// to the caller.
type RejectionListener interface {
	OnCredentialRejected(ctx context.Context, r Rejection)
}

// Hook observes or adjusts requests around the round trip.
// BeforeSend receives a private clone of the request and may modify it;
// an error aborts the request. AfterReceive must not consume resp.Body.
type Hook interface {
	BeforeSend(req *http.Request) error
	AfterReceive(req *http.Request, resp *http.Response, err error)
}

// HookFuncs adapts a pair of functions to Hook. Either may be nil.
type HookFuncs struct {
	Send    func(req *http.Request) error
	Receive func(req *http.Request, resp *http.Response, err error)
}

func (h HookFuncs) BeforeSend(req *http.Request) error {
	if h.Send == nil {
		return nil
	}
	return h.Send(req)
}

func (h HookFuncs) AfterReceive(req *http.Request, resp *http.Response, err error) {
	if h.Receive != nil {
		h.Receive(req, resp, err)
	}
}

// Options configures a Transport.
type Options struct {
	// Store supplies the credential. Required.
	Store xstore.CredentialStore

	// Base performs the actual round trip. Defaults to a clone of
	// http.DefaultTransport, or an HTTP/3 transport when HTTP3 is set.
	Base http.RoundTripper

	// HTTP3 selects a QUIC based base transport when Base is nil.
	HTTP3 bool

	// TLSConfig is used by the HTTP/3 base transport.
	TLSConfig *tls.Config

	// Generation is shared with the session manager. Nil creates one.
	Generation *Generation

	// Listeners are notified of rejections. More may be added later.
	Listeners []RejectionListener

	// Hooks run after the authorization hook on send and before it on
	// receive.
	Hooks []Hook

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// Transport is an http.RoundTripper that authorizes requests from a
// CredentialStore.
type Transport struct {
	base   http.RoundTripper
	closer func() error
	auth   *authorizer
	hooks  []Hook
	log    *slog.Logger
	tracer trace.Tracer
}

var _ http.RoundTripper = (*Transport)(nil)

// New creates a Transport.
func New(opt Options) (*Transport, error) {
	if opt.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tp := opt.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	gen := opt.Generation
	if gen == nil {
		gen = &Generation{}
	}

	t := &Transport{
		base:   opt.Base,
		hooks:  opt.Hooks,
		log:    log,
		tracer: tp.Tracer(tracerName),
	}
	t.auth = &authorizer{
		store: opt.Store,
		gen:   gen,
		log:   log,
	}
	for _, l := range opt.Listeners {
		t.auth.add(l)
	}

	switch {
	case t.base != nil:
		t.closer = func() error { return nil }
	case opt.HTTP3:
		h3 := &http3.Transport{TLSClientConfig: opt.TLSConfig}
		t.base = h3
		t.closer = h3.Close
	default:
		ht := http.DefaultTransport.(*http.Transport).Clone()
		t.base = ht
		t.closer = func() error {
			ht.CloseIdleConnections()
			return nil
		}
	}
	return t, nil
}

// Generation returns the generation counter the transport checks
// rejections against.
func (t *Transport) Generation() *Generation {
	return t.auth.gen
}

// AddListener registers l for rejections and returns a function that
// removes it.
func (t *Transport) AddListener(l RejectionListener) (remove func()) {
	return t.auth.add(l)
}

// Client returns an http.Client that sends through t.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// Close releases the base transport's connections.
func (t *Transport) Close() error {
	return t.closer()
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.tracer.Start(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLPath(req.URL.Path),
		),
	)
	defer span.End()

	out := req.Clone(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))

	d := t.auth.BeforeSend(out)
	span.SetAttributes(attribute.Bool("explorer.credential.attached", d.attached))
	for _, h := range t.hooks {
		if err := h.BeforeSend(out); err != nil {
			if req.Body != nil {
				req.Body.Close()
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	resp, err := t.base.RoundTrip(out)

	for i := len(t.hooks) - 1; i >= 0; i-- {
		t.hooks[i].AfterReceive(out, resp, err)
	}
	rejected := t.auth.AfterReceive(ctx, out, d, resp, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.log.Debug("request failed", "request_id", d.requestID, "method", out.Method, "path", out.URL.Path, "err", err)
		return nil, err
	}
	span.SetAttributes(
		semconv.HTTPResponseStatusCode(resp.StatusCode),
		attribute.Bool("explorer.credential.rejected", rejected),
	)
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, resp.Status)
	}
	t.log.Debug("request done", "request_id", d.requestID, "method", out.Method, "path", out.URL.Path, "status", resp.StatusCode)
	return resp, nil
}

// dispatch is what the authorizer remembers between send and receive.
type dispatch struct {
	requestID  string
	generation uint64
	attached   bool
}

// authorizer is the built-in hook pair. It reads the credential at send
// time and clears it when the server rejects it.
type authorizer struct {
	store xstore.CredentialStore
	gen   *Generation
	log   *slog.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[int]RejectionListener
}

func (a *authorizer) add(l RejectionListener) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listeners == nil {
		a.listeners = make(map[int]RejectionListener)
	}
	id := a.nextID
	a.nextID++
	a.listeners[id] = l
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *authorizer) snapshot() []RejectionListener {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]int, 0, len(a.listeners))
	for id := range a.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]RejectionListener, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.listeners[id])
	}
	return out
}

// BeforeSend sets or removes the Authorization header on req, which must
// already be a private clone.
func (a *authorizer) BeforeSend(req *http.Request) dispatch {
	var d dispatch
	d.requestID = req.Header.Get(HeaderRequestID)
	if d.requestID == "" {
		d.requestID = uuid.NewString()
		req.Header.Set(HeaderRequestID, d.requestID)
	}

	req.Header.Del("Authorization")
	a.gen.Observe(func(n uint64) {
		d.generation = n
		if cred, ok := a.store.Get(); ok {
			req.Header.Set("Authorization", "Bearer "+cred)
			d.attached = true
		}
	})
	return d
}

// AfterReceive clears the store on 401 and reports whether the rejection
// was honored.
func (a *authorizer) AfterReceive(ctx context.Context, req *http.Request, d dispatch, resp *http.Response, err error) bool {
	if err != nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return false
	}
	honored := a.gen.IfCurrent(d.generation, a.store.Clear)
	if !honored {
		a.log.Debug("stale rejection ignored", "request_id", d.requestID, "path", req.URL.Path, "generation", d.generation)
		return false
	}
	a.log.Info("credential rejected", "request_id", d.requestID, "method", req.Method, "path", req.URL.Path)

	r := Rejection{
		RequestID:  d.requestID,
		Method:     req.Method,
		Path:       req.URL.Path,
		Generation: d.generation,
	}
	for _, l := range a.snapshot() {
		l.OnCredentialRejected(ctx, r)
	}
	return true
}
