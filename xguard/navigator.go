package xguard

import (
	"sync"

	"github.com/kardianos/explorer/xsession"
)

// StatusSource is the part of the session manager a Navigator follows.
type StatusSource interface {
	Status() xsession.Status
	Subscribe(fn func(xsession.Session)) (unsubscribe func())
}

// Navigator holds the visible route. It re-resolves the last requested
// target whenever the session changes, so a rejection while a protected
// view is open moves the user to the login view, and signing in from there
// returns them to the view they asked for.
type Navigator struct {
	router   *Router
	src      StatusSource
	onChange func(Resolution)

	mu        sync.Mutex
	requested string
	status    xsession.Status
	current   Resolution

	unsubscribe func()
}

// NewNavigator starts at the landing route. onChange, if non-nil, is called
// outside the navigator's lock each time the resolution changes.
func NewNavigator(r *Router, src StatusSource, onChange func(Resolution)) *Navigator {
	n := &Navigator{
		router:    r,
		src:       src,
		onChange:  onChange,
		requested: "/",
	}
	// Subscribed before the first read so no change is missed.
	n.mu.Lock()
	n.unsubscribe = src.Subscribe(n.sessionChanged)
	n.status = src.Status()
	n.current = r.Resolve(n.requested, n.status)
	n.mu.Unlock()
	return n
}

// Navigate requests target and returns where the user ends up.
func (n *Navigator) Navigate(target string) Resolution {
	n.mu.Lock()
	n.requested = target
	res, changed := n.update()
	n.mu.Unlock()

	if changed {
		n.publish(res)
	}
	return res
}

// Current returns the visible route.
func (n *Navigator) Current() Resolution {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Close stops following the session.
func (n *Navigator) Close() {
	n.unsubscribe()
}

// sessionChanged treats the snapshot only as a signal and reads the status
// from the source, so a late delivery cannot restore an older status.
func (n *Navigator) sessionChanged(xsession.Session) {
	n.mu.Lock()
	n.status = n.src.Status()
	res, changed := n.update()
	n.mu.Unlock()

	if changed {
		n.publish(res)
	}
}

// update resolves the requested target. Called with n.mu held.
func (n *Navigator) update() (Resolution, bool) {
	res := n.router.Resolve(n.requested, n.status)
	changed := res.Route != n.current.Route || res.Placeholder != n.current.Placeholder
	n.current = res
	return res, changed
}

func (n *Navigator) publish(res Resolution) {
	if n.onChange != nil {
		n.onChange(res)
	}
}
