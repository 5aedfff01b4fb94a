package loopback

import (
	"github.com/rclgo/rclgo/guardcondition"
	"github.com/rclgo/rclgo/mw"
)

// guardHandle adapts a guardcondition.GuardCondition to mw.GuardHandle, so
// a loopback Bus can host guard conditions alongside topics/services/
// actions in the same wait set.
type guardHandle struct {
	handleBase
	gc     *guardcondition.GuardCondition
	signal chan struct{}
}

// CreateGuardCondition wraps gc as an mw.GuardHandle on this Bus, wiring its
// OnWake callback to the waitSet's select-driven wake path.
func (b *Bus) CreateGuardCondition(gc *guardcondition.GuardCondition) mw.GuardHandle {
	h := &guardHandle{gc: gc, signal: newSignal()}
	h.bus = b
	gc.OnWake(func() { pingSignal(h.signal) })
	return h
}
