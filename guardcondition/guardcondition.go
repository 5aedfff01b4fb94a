// Package guardcondition implements GuardCondition: a shared,
// reference-counted wrapper around a middleware guard handle (spec.md §4.1).
//
// Triggering a GuardCondition wakes any Selector that included it in its
// current wait-set. It is designed to be triggered from any thread even
// though subsequent readiness processing is single-threaded - the same
// any-goroutine-may-send discipline the teacher uses for its wake pipe
// (eventloop/wakeup_linux.go) and fast wakeup channel.
package guardcondition

import (
	"sync"
	"sync/atomic"

	"github.com/rclgo/rclgo/rclerr"
)

// shared is the reference-counted guard state. Multiple GuardCondition
// values clone from the same shared instance; the underlying handle is
// finalized on last drop.
type shared struct {
	mu        sync.Mutex
	triggered bool
	finalized bool
	refs      atomic.Int64
	onTrigger []func()
}

// GuardCondition is a trivially-copyable shared reference to a middleware
// guard (spec.md §4.1). The zero value is not usable; construct with New.
type GuardCondition struct {
	s *shared
}

// New creates a GuardCondition with one reference.
func New() *GuardCondition {
	s := &shared{}
	s.refs.Store(1)
	return &GuardCondition{s: s}
}

// Clone returns a new handle sharing the same underlying guard, incrementing
// the reference count. Each Clone must be balanced with a Drop.
func (g *GuardCondition) Clone() *GuardCondition {
	g.s.refs.Add(1)
	return &GuardCondition{s: g.s}
}

// Drop releases this handle's reference. The last drop finalizes the
// underlying guard (spec.md §4.1: "drop (last-drop finalizes)").
func (g *GuardCondition) Drop() {
	if g.s.refs.Add(-1) == 0 {
		g.s.mu.Lock()
		g.s.finalized = true
		g.s.mu.Unlock()
	}
}

// Trigger performs a best-effort wake of any Selector waiting on this guard.
// It fails with rclerr.ErrShuttingDown if the owning context is finalized;
// otherwise the trigger is latched until a Selector observes and clears it,
// satisfying invariant 9 (N triggers before one wait wake it exactly once).
//
// Safe to call from any goroutine.
func (g *GuardCondition) Trigger() error {
	g.s.mu.Lock()
	if g.s.finalized {
		g.s.mu.Unlock()
		return rclerr.ErrShuttingDown
	}
	already := g.s.triggered
	g.s.triggered = true
	callbacks := append([]func(){}, g.s.onTrigger...)
	g.s.mu.Unlock()

	if !already {
		for _, cb := range callbacks {
			cb()
		}
	}
	return nil
}

// TakeTriggered atomically reads and clears the triggered flag, returning
// whether it was set. Called by a Selector once per wait() iteration for
// each registered guard condition.
func (g *GuardCondition) TakeTriggered() bool {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	was := g.s.triggered
	g.s.triggered = false
	return was
}

// OnWake registers a callback invoked synchronously, from whatever goroutine
// calls Trigger, the first time Trigger observes a rising edge (untriggered
// -> triggered). This is the hook AsyncSelector and Selector's background
// wait loop use to interrupt a blocked wait immediately rather than only on
// the next poll; it complements, rather than replaces, TakeTriggered.
func (g *GuardCondition) OnWake(cb func()) {
	g.s.mu.Lock()
	g.s.onTrigger = append(g.s.onTrigger, cb)
	g.s.mu.Unlock()
}

// Finalized reports whether this guard's owning context has shut down.
func (g *GuardCondition) Finalized() bool {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return g.s.finalized
}
