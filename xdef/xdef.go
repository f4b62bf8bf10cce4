// Package xdef holds the types shared by every layer of the explorer session
// pipeline: the error taxonomy, the route names and the identity of the
// signed-in user.
package xdef

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCredentialRejected is matched by any error caused by the server
	// answering 401 Unauthorized. It always invalidates the session.
	ErrCredentialRejected = fmt.Errorf("explorer: credential rejected")

	// ErrProtocol is matched when a successful response lacks the expected shape.
	ErrProtocol = fmt.Errorf("explorer: protocol error")

	// ErrTransport is matched when no response was obtained at all.
	ErrTransport = fmt.Errorf("explorer: transport error")

	// ErrValidation is matched when input is rejected before any request is sent.
	ErrValidation = fmt.Errorf("explorer: validation error")

	// ErrStoreUnavailable is returned by a DataStore whose medium cannot be reached.
	ErrStoreUnavailable = fmt.Errorf("explorer: credential store unavailable")
)

// Identity is what the client knows about the signed-in user.
// Username is empty when it could not be recovered on a cold start.
type Identity struct {
	Username string
}

// Route names a view of the client.
type Route string

const (
	RouteLanding   Route = "/"
	RouteLogin     Route = "/login"
	RouteRegister  Route = "/register"
	RouteDashboard Route = "/dashboard"
	RouteSearch    Route = "/search"
	RouteImageGen  Route = "/image-gen"
)

// StatusError is returned for any non-2xx response from the collaborator.
type StatusError struct {
	Status int
	// Detail is the server supplied "detail" string, if the body carried one.
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("explorer: HTTP %d %s", e.Status, http.StatusText(e.Status))
}

// Unwrap reports ErrCredentialRejected for a 401 so callers can use errors.Is.
func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrCredentialRejected
	}
	return nil
}

// ProtocolError is returned when a 2xx response does not carry what was expected.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return e.Msg }

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// TransportError wraps a failure where no response was obtained.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// ValidationError is a local input rejection.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Reason returns the message a form should display for err.
// Server detail wins, then validation and protocol messages, then the
// transport error text, then fallback.
func Reason(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Detail != "" {
			return se.Detail
		}
		return fallback
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Msg
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Msg
	}
	var te *TransportError
	if errors.As(err, &te) && te.Err != nil {
		return te.Err.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}
