// Package xstate provides an explicit state machine for the session
// lifecycle. Only declared transitions are accepted and every accepted
// transition is published to the machine's listeners.
package xstate

import (
	"fmt"
	"sync"
)

type State interface {
	comparable
	fmt.Stringer
}

// Transition defines a valid state transition.
type Transition[S State] struct {
	From S
	To   S
	Name string // Human-readable name for logging/debugging
}

// Change describes one accepted transition.
type Change[S State] struct {
	From S
	To   S
	Name string
}

type transitionKey[S State] struct {
	From, To S
}

// Machine enforces valid state transitions.
type Machine[S State] struct {
	mu      sync.RWMutex
	current S
	allowed map[transitionKey[S]]string

	lmu       sync.Mutex
	nextID    int
	listeners map[int]func(Change[S])
}

// New creates a state machine starting at the given state.
// If on is non-nil it is registered as the first listener.
func New[S State](initial S, transitions []Transition[S], on func(Change[S])) *Machine[S] {
	sm := &Machine[S]{
		current:   initial,
		allowed:   make(map[transitionKey[S]]string, len(transitions)),
		listeners: make(map[int]func(Change[S])),
	}
	for _, t := range transitions {
		sm.allowed[transitionKey[S]{From: t.From, To: t.To}] = t.Name
	}
	if on != nil {
		sm.Subscribe(on)
	}
	return sm
}

func (sm *Machine[S]) look(from, to S) (string, bool) {
	name, ok := sm.allowed[transitionKey[S]{From: from, To: to}]
	return name, ok
}

// Ensure moves the machine to the target state unless it is already there.
// It reports whether a transition happened and returns an error for an
// undeclared transition. Listeners run after the lock is released, in
// registration order.
func (sm *Machine[S]) Ensure(to S) (bool, error) {
	sm.mu.Lock()
	c := sm.current
	if c == to {
		sm.mu.Unlock()
		return false, nil
	}
	name, ok := sm.look(c, to)
	if !ok {
		sm.mu.Unlock()
		return false, fmt.Errorf("invalid state transition: %s -> %s", c, to)
	}
	sm.current = to
	sm.mu.Unlock()

	sm.publish(Change[S]{From: c, To: to, Name: name})
	return true, nil
}

// Current returns the current state.
func (sm *Machine[S]) Current() S {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Subscribe registers fn for every accepted transition.
// The returned function removes it; calling it more than once is safe.
func (sm *Machine[S]) Subscribe(fn func(Change[S])) func() {
	sm.lmu.Lock()
	id := sm.nextID
	sm.nextID++
	sm.listeners[id] = fn
	sm.lmu.Unlock()

	return func() {
		sm.lmu.Lock()
		delete(sm.listeners, id)
		sm.lmu.Unlock()
	}
}

func (sm *Machine[S]) publish(ch Change[S]) {
	sm.lmu.Lock()
	fns := make([]func(Change[S]), 0, len(sm.listeners))
	// Registration order.
	for id := 0; id < sm.nextID; id++ {
		if fn, ok := sm.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	sm.lmu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}
