package xguard

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/kardianos/explorer/xdef"
	"github.com/kardianos/explorer/xsession"
)

// ErrRedirectLoop is returned by NewRouter when some status makes the
// route table redirect in a cycle.
var ErrRedirectLoop = errors.New("xguard: redirect loop")

// Entry is one row of the route table.
type Entry struct {
	Route xdef.Route
	Title string
	Guard Guard
}

// DefaultRoutes is the client's route table.
func DefaultRoutes() []Entry {
	return []Entry{
		{Route: xdef.RouteLanding, Title: "AI Explorer", Guard: Open},
		{Route: xdef.RouteLogin, Title: "Login", Guard: RequiresNoSession},
		{Route: xdef.RouteRegister, Title: "Register", Guard: RequiresNoSession},
		{Route: xdef.RouteDashboard, Title: "Dashboard", Guard: RequiresSession},
		{Route: xdef.RouteSearch, Title: "Web Search", Guard: RequiresSession},
		{Route: xdef.RouteImageGen, Title: "Image Generation", Guard: RequiresSession},
	}
}

// Resolution is where a navigation ends up.
type Resolution struct {
	// Requested is the normalized navigation target.
	Requested xdef.Route
	// Route is the view to show. For a placeholder it is the route whose
	// guard asked to wait.
	Route xdef.Route
	// Placeholder reports that the loading view should be shown.
	Placeholder bool
	// Redirects lists the routes visited before Route, in order.
	Redirects []xdef.Route
}

// Redirected reports whether Route differs from what was requested.
func (r Resolution) Redirected() bool {
	return len(r.Redirects) > 0
}

// Router applies guards to a route table.
type Router struct {
	entries  map[xdef.Route]Entry
	order    []xdef.Route
	fallback xdef.Route
}

var statuses = []xsession.Status{
	xsession.StatusLoading,
	xsession.StatusUnauthenticated,
	xsession.StatusAuthenticated,
}

// NewRouter builds a router over entries. Unmatched paths are sent to the
// landing route, which must be present. The table is checked for redirect
// cycles under every status.
func NewRouter(entries []Entry) (*Router, error) {
	r := &Router{
		entries:  make(map[xdef.Route]Entry, len(entries)),
		fallback: xdef.RouteLanding,
	}
	for _, e := range entries {
		if e.Guard == nil {
			return nil, fmt.Errorf("xguard: route %q has no guard", e.Route)
		}
		if _, dup := r.entries[e.Route]; dup {
			return nil, fmt.Errorf("xguard: duplicate route %q", e.Route)
		}
		r.entries[e.Route] = e
		r.order = append(r.order, e.Route)
	}
	if _, ok := r.entries[r.fallback]; !ok {
		return nil, fmt.Errorf("xguard: route table lacks %q", r.fallback)
	}
	for _, st := range statuses {
		for _, route := range r.order {
			if _, err := r.resolve(string(route), st); err != nil {
				return nil, fmt.Errorf("%w: from %q while %v", err, route, st)
			}
		}
	}
	return r, nil
}

// Entries returns the route table in declaration order.
func (r *Router) Entries() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, route := range r.order {
		out = append(out, r.entries[route])
	}
	return out
}

// Lookup returns the entry for an exact route.
func (r *Router) Lookup(route xdef.Route) (Entry, bool) {
	e, ok := r.entries[route]
	return e, ok
}

// Resolve follows guards and redirects from target for the given status.
func (r *Router) Resolve(target string, status xsession.Status) Resolution {
	res, err := r.resolve(target, status)
	if err != nil {
		// Unreachable for routers built by NewRouter.
		res.Placeholder = true
	}
	return res
}

func (r *Router) resolve(target string, status xsession.Status) (Resolution, error) {
	route := Normalize(target)
	res := Resolution{Requested: route}
	seen := make(map[xdef.Route]bool, len(r.entries)+1)
	for {
		e, ok := r.entries[route]
		if !ok {
			res.Redirects = append(res.Redirects, route)
			route = r.fallback
			e = r.entries[route]
		}
		if seen[route] {
			res.Route = route
			return res, ErrRedirectLoop
		}
		seen[route] = true

		d := e.Guard(status)
		switch d.Kind {
		case Placeholder:
			res.Route = route
			res.Placeholder = true
			return res, nil
		case Redirect:
			res.Redirects = append(res.Redirects, route)
			route = Normalize(string(d.Target))
		default:
			res.Route = route
			return res, nil
		}
	}
}

// Normalize maps a navigation target to a route: the query and fragment
// are dropped, the path is cleaned and a trailing slash is removed.
func Normalize(target string) xdef.Route {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	if target == "" {
		return xdef.RouteLanding
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return xdef.Route(path.Clean(target))
}
