// Package action implements the server-side goal state machine
// (ActionGoalTable, GoalHandle) and the client-side multi-channel
// correlator (ActionClientBundle) from spec.md §4.5 and §4.6.
package action

import (
	"sync"
	"time"

	"github.com/rclgo/rclgo/internal/clock"
	"github.com/rclgo/rclgo/mw"
	"github.com/rclgo/rclgo/rclerr"
)

// GoalState enumerates the action-server goal lifecycle from spec.md §4.5.
type GoalState int32

const (
	GoalAccepted GoalState = iota
	GoalExecuting
	GoalCanceling
	GoalSucceeded
	GoalAborted
	GoalCanceled
)

func (s GoalState) String() string {
	switch s {
	case GoalAccepted:
		return "accepted"
	case GoalExecuting:
		return "executing"
	case GoalCanceling:
		return "canceling"
	case GoalSucceeded:
		return "succeeded"
	case GoalAborted:
		return "aborted"
	case GoalCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the three states invariant 4
// (spec.md §8) forbids leaving.
func (s GoalState) Terminal() bool {
	return s == GoalSucceeded || s == GoalAborted || s == GoalCanceled
}

type goalEntry struct {
	uuid       [16]byte
	state      GoalState
	terminalAt time.Time
	acceptedAt time.Time
}

type depositedResult struct {
	status int32
	result any
}

// GoalHandle is the server-side handle for one in-flight goal (spec.md §3,
// §4.5). It is safe to call from any goroutine: the user's worker typically
// runs on its own goroutine and calls Finish/Abort/Canceled once its
// long-running work concludes, independent of the Selector thread that
// dispatches goal/cancel/result requests.
type GoalHandle struct {
	uuid  [16]byte
	table *ActionGoalTable
}

// UUID returns the goal's client-generated identifier.
func (h *GoalHandle) UUID() [16]byte { return h.uuid }

// State returns the goal's current lifecycle state.
func (h *GoalHandle) State() GoalState {
	t := h.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if g, ok := t.goals[h.uuid]; ok {
		return g.state
	}
	return GoalCanceled // already swept/expired: report a terminal state
}

// IsCanceling reports whether a cancel request has driven this goal into
// Canceling, so the user's worker can observe it and wind down.
func (h *GoalHandle) IsCanceling() bool { return h.State() == GoalCanceling }

// Finish deposits result and transitions the goal to Succeeded. Valid only
// from Executing; invariant 4 forbids any other source state.
func (h *GoalHandle) Finish(result any) error {
	return h.table.depositTerminal(h.uuid, GoalExecuting, GoalSucceeded, 0, result)
}

// Abort deposits result and transitions the goal to Aborted. Valid from
// Executing or Canceling (a worker may discover a fatal error mid-cancel).
func (h *GoalHandle) Abort(result any) error {
	t := h.table
	t.mu.Lock()
	g, ok := t.goals[h.uuid]
	t.mu.Unlock()
	if !ok {
		return &rclerr.ActionError{Code: rclerr.ActionCodeHandleInvalid, Message: "goal handle already swept"}
	}
	from := g.state
	if from != GoalExecuting && from != GoalCanceling {
		from = GoalExecuting // depositTerminal rejects the transition
	}
	return h.table.depositTerminal(h.uuid, from, GoalAborted, 0, result)
}

// Canceled deposits result and transitions the goal to Canceled. Valid only
// from Canceling.
func (h *GoalHandle) Canceled(result any) error {
	return h.table.depositTerminal(h.uuid, GoalCanceling, GoalCanceled, 0, result)
}

// ActionGoalTable is the server-side state machine and take/send dispatcher
// for one action server handle (spec.md §4.5). It is driven by a Selector
// via the three callbacks HandleGoalRequest/HandleCancelRequest/
// HandleResultRequest, wired through selector.ActionServerCallbacks.
type ActionGoalTable struct {
	name          string
	middle        mw.Middleware
	handle        mw.ActionServerHandle
	clk           clock.Source
	resultTimeout time.Duration

	goalHandler   func(uuid [16]byte, goal any) bool
	acceptHandler func(*GoalHandle)
	cancelHandler func(*GoalHandle) bool

	mu                    sync.Mutex
	goals                 map[[16]byte]*goalEntry
	results               map[[16]byte]depositedResult
	pendingResultRequests map[[16]byte][]mw.RequestID
	statusDirty           bool
}

// NewActionGoalTable constructs an ActionGoalTable for one action server
// handle. goalHandler decides acceptance; acceptHandler (optional) observes
// a freshly accepted GoalHandle; cancelHandler decides per-candidate cancel
// acceptance during a cancel request.
func NewActionGoalTable(
	name string,
	middle mw.Middleware,
	handle mw.ActionServerHandle,
	clk clock.Source,
	resultTimeout time.Duration,
	goalHandler func(uuid [16]byte, goal any) bool,
	acceptHandler func(*GoalHandle),
	cancelHandler func(*GoalHandle) bool,
) *ActionGoalTable {
	if clk == nil {
		clk = clock.System{}
	}
	return &ActionGoalTable{
		name:                  name,
		middle:                middle,
		handle:                handle,
		clk:                   clk,
		resultTimeout:         resultTimeout,
		goalHandler:           goalHandler,
		acceptHandler:         acceptHandler,
		cancelHandler:         cancelHandler,
		goals:                 make(map[[16]byte]*goalEntry),
		results:               make(map[[16]byte]depositedResult),
		pendingResultRequests: make(map[[16]byte][]mw.RequestID),
	}
}

// HandleGoalRequest drains and services one pending goal request.
func (t *ActionGoalTable) HandleGoalRequest() {
	uuid, payload, reqID, ok, err := t.middle.TakeActionGoalRequest(t.handle)
	if err != nil || !ok {
		return
	}
	stamp := t.clk.Now()
	accept := t.goalHandler != nil && t.goalHandler(uuid, payload)
	if accept {
		gh := &GoalHandle{uuid: uuid, table: t}
		t.mu.Lock()
		t.goals[uuid] = &goalEntry{uuid: uuid, state: GoalAccepted, acceptedAt: stamp}
		// "publish Execute transition" - spec.md §4.5 treats Accepted as
		// momentary: goal-request handling always immediately runs the goal.
		// This must happen before acceptHandler runs (original_source's
		// accept_goal() calls handle.update(GoalEvent::Execute) and
		// publish_goal_status() before invoking the user's handler), since
		// acceptHandler may synchronously call Finish/Abort/Canceled on gh,
		// each of which requires the goal to already be in its valid source
		// state.
		t.goals[uuid].state = GoalExecuting
		t.statusDirty = true
		t.mu.Unlock()
		t.DrainStatusDirty()
		if t.acceptHandler != nil {
			t.acceptHandler(gh)
		}
	}
	_ = t.middle.SendActionGoalResponse(t.handle, reqID, accept, stamp)
	t.DrainStatusDirty()
}

// HandleCancelRequest drains and services one pending cancel request.
func (t *ActionGoalTable) HandleCancelRequest() {
	uuid, stamp, reqID, ok, err := t.middle.TakeActionCancelRequest(t.handle)
	if err != nil || !ok {
		return
	}

	resp := t.cancel(uuid, stamp)
	_ = t.middle.SendActionCancelResponse(t.handle, reqID, resp)
	t.DrainStatusDirty()
}

var zeroUUID [16]byte

func (t *ActionGoalTable) cancel(uuid [16]byte, stamp time.Time) mw.ActionCancelResponse {
	t.mu.Lock()
	defer t.mu.Unlock()

	var candidates []*goalEntry
	if uuid != zeroUUID {
		g, exists := t.goals[uuid]
		if !exists {
			return mw.ActionCancelResponse{ReturnCode: mw.CancelReturnCodeUnknownGoalID}
		}
		candidates = []*goalEntry{g}
	} else {
		for _, g := range t.goals {
			if stamp.IsZero() || !g.acceptedAt.After(stamp) {
				candidates = append(candidates, g)
			}
		}
	}
	if len(candidates) == 0 {
		return mw.ActionCancelResponse{ReturnCode: mw.CancelReturnCodeRejected}
	}

	var nonTerminal []*goalEntry
	for _, g := range candidates {
		if !g.state.Terminal() {
			nonTerminal = append(nonTerminal, g)
		}
	}
	if len(nonTerminal) == 0 {
		return mw.ActionCancelResponse{ReturnCode: mw.CancelReturnCodeGoalTerminated}
	}

	var accepted [][16]byte
	for _, g := range nonTerminal {
		gh := &GoalHandle{uuid: g.uuid, table: t}
		if t.cancelHandler == nil || t.cancelHandler(gh) {
			g.state = GoalCanceling
			accepted = append(accepted, g.uuid)
			t.statusDirty = true
		}
	}
	if len(accepted) == 0 {
		return mw.ActionCancelResponse{ReturnCode: mw.CancelReturnCodeRejected}
	}
	return mw.ActionCancelResponse{ReturnCode: mw.CancelReturnCodeNone, GoalsCanceling: accepted}
}

// HandleResultRequest drains and services one pending result request.
func (t *ActionGoalTable) HandleResultRequest() {
	uuid, reqID, ok, err := t.middle.TakeActionResultRequest(t.handle)
	if err != nil || !ok {
		return
	}

	t.mu.Lock()
	res, have := t.results[uuid]
	if !have {
		t.pendingResultRequests[uuid] = append(t.pendingResultRequests[uuid], reqID)
	}
	t.mu.Unlock()

	if have {
		_ = t.middle.SendActionResultResponse(t.handle, reqID, res.status, res.result)
	}
}

func (t *ActionGoalTable) depositTerminal(uuid [16]byte, from, to GoalState, _ int32, result any) error {
	t.mu.Lock()
	g, ok := t.goals[uuid]
	if !ok {
		t.mu.Unlock()
		return &rclerr.ActionError{Code: rclerr.ActionCodeHandleInvalid, Message: "goal handle already swept"}
	}
	if g.state != from {
		t.mu.Unlock()
		return &rclerr.ActionError{Code: rclerr.ActionCodeGoalRejected, Message: "goal not in " + from.String() + " state"}
	}
	now := t.clk.Now()
	g.state = to
	g.terminalAt = now
	t.results[uuid] = depositedResult{status: int32(to), result: result}
	pending := t.pendingResultRequests[uuid]
	delete(t.pendingResultRequests, uuid)
	t.statusDirty = true
	t.mu.Unlock()

	for _, reqID := range pending {
		_ = t.middle.SendActionResultResponse(t.handle, reqID, int32(to), result)
	}
	t.DrainStatusDirty()
	return nil
}

// DrainStatusDirty publishes a GoalStatusArray if any goal transitioned
// since the last publish, so transitions made between two calls go out as
// one send (recovered from oxidros::action_server; SPEC_FULL.md §4 "status
// array publish throttling"). The table's request handlers and result
// deposits call it after each request or deposit they handle. Safe, and
// cheap, to call unconditionally after every dispatch.
func (t *ActionGoalTable) DrainStatusDirty() {
	t.mu.Lock()
	if !t.statusDirty {
		t.mu.Unlock()
		return
	}
	t.statusDirty = false
	statuses := make([]mw.ActionStatus, 0, len(t.goals))
	for uuid, g := range t.goals {
		statuses = append(statuses, mw.ActionStatus{UUID: uuid, State: int32(g.state)})
	}
	t.mu.Unlock()

	_ = t.middle.SendActionStatusArray(t.handle, statuses)
}

// SweepExpired drops bookkeeping (GoalHandle, results, residual pending
// requests) for any goal that has been terminal for longer than
// resultTimeout (recovered from oxidros::action_server; SPEC_FULL.md §4
// "goal expiry sweep"). Intended to be invoked from a wall timer the action
// server registers on its owning Selector.
func (t *ActionGoalTable) SweepExpired(now time.Time) {
	if t.resultTimeout <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for uuid, g := range t.goals {
		if !g.state.Terminal() {
			continue
		}
		if now.Sub(g.terminalAt) >= t.resultTimeout {
			delete(t.goals, uuid)
			delete(t.results, uuid)
			delete(t.pendingResultRequests, uuid)
		}
	}
}
