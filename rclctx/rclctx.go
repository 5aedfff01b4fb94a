// Package rclctx implements Context: the process-wide state a running node
// tree hangs off (spec.md §6 "Context.create_selector(), Context.create_node
// (...)"), including the halt flag and guard condition every live selector
// registers (spec.md §5 "a process-wide halt predicate... causes wait and
// all futures to complete with Signaled").
package rclctx

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rclgo/rclgo/asyncselector"
	"github.com/rclgo/rclgo/guardcondition"
	"github.com/rclgo/rclgo/internal/clock"
	"github.com/rclgo/rclgo/mw"
	"github.com/rclgo/rclgo/selector"
)

// Middleware is the capability Context needs beyond the plain
// mw.Middleware take/send contract: minting guard-condition handles, for
// both the per-selector halt guard and the async bridge's wake-up plumbing.
type Middleware interface {
	mw.Middleware
	CreateGuardCondition(gc *guardcondition.GuardCondition) mw.GuardHandle
}

// NodeOptions carries construction-time settings recovered from
// oxidros::NodeOptions (spec.md is silent on these; original_source parses
// them from CLI arguments, which stays out of scope here - only the
// resulting struct is consumed).
type NodeOptions struct {
	// Remap maps a name (topic, service or parameter) to the name actually
	// used on the wire, the way ROS 2's "--ros-args -r from:=to" does.
	Remap map[string]string
	// UseGlobalArguments mirrors oxidros::NodeOptions::use_global_arguments:
	// when true, a remap table installed on the owning Context also applies
	// to this node; when false, only Remap above applies.
	UseGlobalArguments bool
}

// Context is the process-wide root: one middleware instance, one clock
// source, the halt flag, the halt guard conditions of Selectors built via
// CreateSelector, and the async bridge that owns this context's background
// Selector (spec.md §4.4 "process-wide mapping context -> background
// Selector thread").
type Context struct {
	id      string
	middle  Middleware
	clk     clock.Source
	bridge  *asyncselector.Bridge
	remap   map[string]string

	halted atomic.Bool
	mu     sync.Mutex
	guards []*guardcondition.GuardCondition
}

// New constructs a Context. clk may be nil, in which case clock.System{} is
// used. globalRemap is consulted by nodes created with
// NodeOptions.UseGlobalArguments set.
func New(id string, middle Middleware, clk clock.Source, globalRemap map[string]string) *Context {
	if clk == nil {
		clk = clock.System{}
	}
	return &Context{
		id:     id,
		middle: middle,
		clk:    clk,
		bridge: asyncselector.NewBridge(),
		remap:  globalRemap,
	}
}

// ID returns the context id used to key background selectors and scope
// handle ownership checks (spec.md §4.3 "fails silently if the subscription
// belongs to a different context").
func (c *Context) ID() string { return c.id }

// Middleware returns the underlying middleware instance.
func (c *Context) Middleware() Middleware { return c.middle }

// Clock returns the clock source new selectors/timers are built against.
func (c *Context) Clock() clock.Source { return c.clk }

// Bridge returns the async bridge backing recv().await-style futures
// created under this context.
func (c *Context) Bridge() *asyncselector.Bridge { return c.bridge }

// Halted reports whether Halt has been called.
func (c *Context) Halted() bool { return c.halted.Load() }

// CreateSelector builds a Selector bound to this context and registers the
// process-wide halt guard condition on it, so Halt promptly wakes it
// (spec.md §5). Callers still drive Wait/WaitTimeout themselves; this does
// not spawn a goroutine (use asyncselector for that).
func (c *Context) CreateSelector(ctx context.Context) (*selector.Selector, error) {
	sel, err := selector.New(ctx, c.id, c.middle, c.clk)
	if err != nil {
		return nil, err
	}

	gc := guardcondition.New()
	handle := c.middle.CreateGuardCondition(gc)
	sel.AddGuardCondition(handle, gc, sel.Halt, false)

	c.mu.Lock()
	c.guards = append(c.guards, gc)
	already := c.halted.Load()
	c.mu.Unlock()

	if already {
		_ = gc.Trigger()
	}
	return sel, nil
}

// Halt sets the process-wide halt flag and triggers every guard condition
// registered via CreateSelector plus the background bridge for this
// context, producing prompt Signaled returns from every live Wait/poll
// (spec.md §5, §7 "Signaled - halt predicate set; terminal for the
// caller's loop"). Idempotent.
func (c *Context) Halt() {
	if !c.halted.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	guards := append([]*guardcondition.GuardCondition{}, c.guards...)
	c.mu.Unlock()
	for _, gc := range guards {
		_ = gc.Trigger()
	}
	c.bridge.Halt(c.id)
}

// ResolveName applies opts.Remap, falling back to the context's global
// remap table when opts.UseGlobalArguments is set (oxidros::NodeOptions
// semantics recovered from original_source; spec.md §1 excludes the
// argument *parsing* that would populate these tables, not their use).
func (c *Context) ResolveName(name string, opts NodeOptions) string {
	if opts.Remap != nil {
		if to, ok := opts.Remap[name]; ok {
			return to
		}
	}
	if opts.UseGlobalArguments && c.remap != nil {
		if to, ok := c.remap[name]; ok {
			return to
		}
	}
	return name
}
