package xtransport

import "sync"

// Generation counts credential changes. Every login, logout and accepted
// rejection advances it. A request remembers the generation it was sent
// under; a rejection is only honored while that generation is current.
//
// The zero value is ready to use.
type Generation struct {
	mu sync.Mutex
	n  uint64
}

// Current returns the current generation.
func (g *Generation) Current() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Observe runs fn with the current generation held steady.
func (g *Generation) Observe(fn func(n uint64)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.n)
}

// Advance runs fn and bumps the generation as one step, so no rejection
// check can observe fn's effect under the old generation. fn may be nil.
func (g *Generation) Advance(fn func()) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if fn != nil {
		fn()
	}
	g.n++
	return g.n
}

// AdvanceIf is Advance guarded by IfCurrent: when n is still current it
// runs fn, bumps the generation and returns true.
func (g *Generation) AdvanceIf(n uint64, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n != n {
		return false
	}
	if fn != nil {
		fn()
	}
	g.n++
	return true
}

// IfCurrent runs fn only if n is still the current generation and reports
// whether it ran. fn must not call back into g.
func (g *Generation) IfCurrent(n uint64, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n != n {
		return false
	}
	if fn != nil {
		fn()
	}
	return true
}
