package xsession

import (
	"errors"

	"github.com/kardianos/explorer/xdef"
)

// Failure is returned by Login and Register when the collaborator call
// failed. Reason is the text a form should show.
type Failure struct {
	Op     string
	Reason string
	Err    error
}

func (f *Failure) Error() string { return f.Reason }

func (f *Failure) Unwrap() error { return f.Err }

// Message returns the user facing text for any error returned by this
// package or by xapi.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return xdef.Reason(err, "An unexpected error occurred. Please try again.")
}
