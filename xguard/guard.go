// Package xguard decides which view may be shown for a session status.
//
// Guards are pure functions of xsession.Status. A Router applies them to a
// route table and follows the resulting redirects; a Navigator keeps the
// visible route in step with a session manager.
package xguard

import (
	"fmt"

	"github.com/kardianos/explorer/xdef"
	"github.com/kardianos/explorer/xsession"
)

// Kind is what a guard asks the caller to do.
type Kind int

const (
	// Render shows the requested view.
	Render Kind = iota
	// Redirect navigates to Decision.Target instead.
	Redirect
	// Placeholder shows a neutral loading view until the session settles.
	Placeholder
)

func (k Kind) String() string {
	switch k {
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	case Placeholder:
		return "placeholder"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Decision is the outcome of a guard. Target is set only for Redirect.
type Decision struct {
	Kind   Kind
	Target xdef.Route
}

// Guard gates a route on the session status.
type Guard func(status xsession.Status) Decision

// RequiresSession gates protected views. Without a session the user is sent
// to the login view.
func RequiresSession(status xsession.Status) Decision {
	switch status {
	case xsession.StatusLoading:
		return Decision{Kind: Placeholder}
	case xsession.StatusAuthenticated:
		return Decision{Kind: Render}
	default:
		return Decision{Kind: Redirect, Target: xdef.RouteLogin}
	}
}

// RequiresNoSession gates the login and register views. A signed-in user is
// sent to the dashboard.
func RequiresNoSession(status xsession.Status) Decision {
	switch status {
	case xsession.StatusLoading:
		return Decision{Kind: Placeholder}
	case xsession.StatusAuthenticated:
		return Decision{Kind: Redirect, Target: xdef.RouteDashboard}
	default:
		return Decision{Kind: Render}
	}
}

// Open renders for every status.
func Open(xsession.Status) Decision {
	return Decision{Kind: Render}
}
