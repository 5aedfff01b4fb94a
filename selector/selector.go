// Package selector implements Selector: the single-threaded core that owns
// a middleware wait-set, a DeltaTimerList, and the registered handler
// bindings for every subscription, service, client, guard condition and
// action handle in one context (spec.md §4.3).
//
// It is grounded on the teacher's FastState pattern (eventloop/state.go): a
// lock-free atomic state word guards the halt check the same way FastState
// guards the event loop's run/sleep/terminate transitions, without the
// loop's own run/sleep states since a Selector only ever blocks inside a
// single Wait call at a time.
package selector

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/rclgo/rclgo/guardcondition"
	"github.com/rclgo/rclgo/internal/clock"
	"github.com/rclgo/rclgo/internal/drain"
	"github.com/rclgo/rclgo/internal/rlog"
	"github.com/rclgo/rclgo/mw"
	"github.com/rclgo/rclgo/rclerr"
	"github.com/rclgo/rclgo/timerlist"
	"github.com/rclgo/rclgo/waitset"
)

// HandlerResult tells the Selector whether to keep or remove a binding
// after its handler runs (spec.md §4.3 step 6).
type HandlerResult int

const (
	Keep HandlerResult = iota
	Remove
)

// DrainBudget is the bounded-loop budget every data handler installed by
// AddSubscriber, AddServer and AddClient uses, per spec.md §4.3 ("break after 1ms elapsed or
// on empty").
var DrainBudget = drain.Config{Budget: time.Millisecond}

type subBinding struct {
	handle  mw.SubscriptionHandle
	handler func(mw.SubscriptionHandle) HandlerResult
	isOnce  bool
}

type svcBinding struct {
	handle  mw.ServiceHandle
	handler func(mw.ServiceHandle) HandlerResult
	isOnce  bool
}

type cliBinding struct {
	handle  mw.ClientHandle
	handler func(mw.ClientHandle) HandlerResult
	isOnce  bool
}

type guardBinding struct {
	handle  mw.GuardHandle
	gc      *guardcondition.GuardCondition
	handler func() HandlerResult // optional, may be nil
	isOnce  bool
}

// ActionServerCallbacks bundles the three per-channel callbacks
// add_action_server installs (spec.md §4.3, §4.5).
type ActionServerCallbacks struct {
	Goal   func(mw.ActionServerHandle)
	Cancel func(mw.ActionServerHandle)
	Result func(mw.ActionServerHandle)
}

type actionServerBinding struct {
	handle mw.ActionServerHandle
	cb     ActionServerCallbacks
}

// ActionClientCallbacks bundles the five per-channel callbacks
// add_action_client installs (spec.md §4.3, §4.6).
type ActionClientCallbacks struct {
	Feedback func(mw.ActionClientHandle)
	Status   func(mw.ActionClientHandle)
	Goal     func(mw.ActionClientHandle)
	Cancel   func(mw.ActionClientHandle)
	Result   func(mw.ActionClientHandle)
}

type actionClientBinding struct {
	handle mw.ActionClientHandle
	cb     ActionClientCallbacks
}

// Selector is the single-threaded wait/dispatch core from spec.md §4.3. It
// is not safe for concurrent use: the wait-set, timer list and every
// binding are touched from exactly one goroutine at a time, matching the
// "not Sync, not transferable across threads while active" rule in
// spec.md §5. Guard conditions may still be triggered from any goroutine -
// that's the whole point of a guard condition.
type Selector struct {
	contextID string
	middle    mw.Middleware
	ws        mw.WaitSet
	clk       clock.Source
	timers    *timerlist.DeltaTimerList

	subs   []*subBinding
	svcs   []*svcBinding
	clis   []*cliBinding
	guards []*guardBinding
	aSrv   []*actionServerBinding
	aCli   []*actionClientBinding

	halted atomic.Bool
	log    *rlog.Limited
}

// New constructs a Selector bound to one middleware instance. clk may be
// nil, in which case clock.System{} is used.
func New(ctx context.Context, contextID string, middleware mw.Middleware, clk clock.Source) (*Selector, error) {
	ws, err := middleware.NewWaitSet(ctx)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Selector{
		contextID: contextID,
		middle:    middleware,
		ws:        ws,
		clk:       clk,
		timers:    timerlist.New(),
		log:       rlog.NewLimited(rlog.Nop(), time.Second, 1),
	}, nil
}

// SetLogger installs log as the destination for this Selector's rate
// limited diagnostics (a take that keeps erroring inside a drain loop), at
// most n occurrences per window per category. The zero Selector logs
// nowhere until this is called.
func (s *Selector) SetLogger(log *rlog.Logger, window time.Duration, n int) {
	s.log = rlog.NewLimited(log, window, n)
}

// Halt sets the halt predicate: this and every subsequent Wait/WaitTimeout
// call returns rclerr.ErrSignaled immediately (spec.md §5 "a process-wide
// halt predicate... causes wait and all futures to complete with
// Signaled").
func (s *Selector) Halt() { s.halted.Store(true) }

// Halted reports whether Halt has been called.
func (s *Selector) Halted() bool { return s.halted.Load() }

func sameContext(h mw.Handle, contextID string) bool { return h.ContextID() == contextID }

func (s *Selector) logDrainErr(category string, err error) {
	if err == nil {
		return
	}
	s.log.Warn(category, "drain loop stopped on error", func(b *rlog.Builder) *rlog.Builder {
		return b.Err(err).Str("context", s.contextID)
	})
}

// maxBlockTimeout is the largest blocking timeout Wait will ever pass to the
// wait-set, matching spec.md §4.3 step 4's "clamped to [0, i64::MAX ns]".
const maxBlockTimeout = time.Duration(math.MaxInt64)

func (s *Selector) logTimeoutOverflow(d time.Duration) {
	s.log.Warn("timer_overflow", "blocking timeout saturated to max duration", func(b *rlog.Builder) *rlog.Builder {
		return b.Str("context", s.contextID).Str("timeout", d.String())
	})
}

// AddSubscriber registers a draining callback for sub. onMessage is invoked
// once per message actually taken, inside a bounded drain loop so a busy
// subscription can't starve the rest of the wait-set (spec.md §4.3). Fails
// silently (returns false) if sub belongs to a different context.
func (s *Selector) AddSubscriber(sub mw.SubscriptionHandle, onMessage func(payload any)) bool {
	if !sameContext(sub, s.contextID) {
		return false
	}
	s.subs = append(s.subs, &subBinding{
		handle: sub,
		handler: func(h mw.SubscriptionHandle) HandlerResult {
			_, err := drain.Loop(DrainBudget, func() (bool, error) {
				payload, ok, err := s.middle.TakeSubscription(h)
				if err != nil || !ok {
					return false, err
				}
				onMessage(payload)
				return true, nil
			})
			s.logDrainErr("subscription-take", err)
			return Keep
		},
	})
	return true
}

// AddServer registers a draining callback for a service server handle.
func (s *Selector) AddServer(server mw.ServiceHandle, onRequest func(payload any, reqID mw.RequestID)) bool {
	if !sameContext(server, s.contextID) {
		return false
	}
	s.svcs = append(s.svcs, &svcBinding{
		handle: server,
		handler: func(h mw.ServiceHandle) HandlerResult {
			_, err := drain.Loop(DrainBudget, func() (bool, error) {
				payload, reqID, ok, err := s.middle.TakeRequest(h)
				if err != nil || !ok {
					return false, err
				}
				onRequest(payload, reqID)
				return true, nil
			})
			s.logDrainErr("server-take", err)
			return Keep
		},
	})
	return true
}

// AddClient registers a draining callback for a plain (non-action) service
// client handle. Not named in spec.md §4.3's operation list verbatim, but
// required by the same recv_timeout(selector)/recv().await surface spec.md
// §6 promises typed clients.
func (s *Selector) AddClient(client mw.ClientHandle, onResponse func(payload any, reqID mw.RequestID)) bool {
	if !sameContext(client, s.contextID) {
		return false
	}
	s.clis = append(s.clis, &cliBinding{
		handle: client,
		handler: func(h mw.ClientHandle) HandlerResult {
			_, err := drain.Loop(DrainBudget, func() (bool, error) {
				payload, reqID, ok, err := s.middle.TakeResponse(h)
				if err != nil || !ok {
					return false, err
				}
				onResponse(payload, reqID)
				return true, nil
			})
			s.logDrainErr("client-take", err)
			return Keep
		},
	})
	return true
}

// AddSubscriptionWake registers a readiness-only callback for sub: unlike
// AddSubscriber, it never calls TakeSubscription itself, it just notifies
// wake when the handle becomes ready. This is the primitive AsyncSelector
// builds its one-shot future registrations on (spec.md §4.4), as distinct
// from the bounded drain-and-dispatch callback spec.md §4.3 describes for
// the synchronous core.
func (s *Selector) AddSubscriptionWake(sub mw.SubscriptionHandle, wake func(), isOnce bool) bool {
	if !sameContext(sub, s.contextID) {
		return false
	}
	s.subs = append(s.subs, &subBinding{
		handle:  sub,
		handler: func(mw.SubscriptionHandle) HandlerResult { wake(); return Keep },
		isOnce:  isOnce,
	})
	return true
}

// AddServerWake is AddSubscriptionWake's counterpart for service servers.
func (s *Selector) AddServerWake(server mw.ServiceHandle, wake func(), isOnce bool) bool {
	if !sameContext(server, s.contextID) {
		return false
	}
	s.svcs = append(s.svcs, &svcBinding{
		handle:  server,
		handler: func(mw.ServiceHandle) HandlerResult { wake(); return Keep },
		isOnce:  isOnce,
	})
	return true
}

// AddClientWake is AddSubscriptionWake's counterpart for service clients.
func (s *Selector) AddClientWake(client mw.ClientHandle, wake func(), isOnce bool) bool {
	if !sameContext(client, s.contextID) {
		return false
	}
	s.clis = append(s.clis, &cliBinding{
		handle:  client,
		handler: func(mw.ClientHandle) HandlerResult { wake(); return Keep },
		isOnce:  isOnce,
	})
	return true
}

// AddGuardCondition registers guard on this Selector. handler is optional
// (nil is fine, e.g. for a pure wake-up like the shutdown guard); isOnce
// removes the binding after its first fire.
func (s *Selector) AddGuardCondition(handle mw.GuardHandle, gc *guardcondition.GuardCondition, handler func(), isOnce bool) bool {
	if !sameContext(handle, s.contextID) {
		return false
	}
	var wrapped func() HandlerResult
	if handler != nil {
		wrapped = func() HandlerResult { handler(); return Keep }
	}
	s.guards = append(s.guards, &guardBinding{handle: handle, gc: gc, handler: wrapped, isOnce: isOnce})
	return true
}

// AddActionServer installs cb's three channel callbacks for server.
func (s *Selector) AddActionServer(server mw.ActionServerHandle, cb ActionServerCallbacks) bool {
	if !sameContext(server, s.contextID) {
		return false
	}
	s.aSrv = append(s.aSrv, &actionServerBinding{handle: server, cb: cb})
	return true
}

// AddActionClient installs cb's five channel callbacks for client.
func (s *Selector) AddActionClient(client mw.ActionClientHandle, cb ActionClientCallbacks) bool {
	if !sameContext(client, s.contextID) {
		return false
	}
	s.aCli = append(s.aCli, &actionClientBinding{handle: client, cb: cb})
	return true
}

// AddTimer installs a one-shot timer firing after delay, returning its id.
func (s *Selector) AddTimer(delay time.Duration, handler func()) timerlist.TimerID {
	id := s.timers.NextID()
	s.timers.Insert(s.clk.Now(), delay, timerlist.TimerEntry{
		ID:      id,
		Kind:    timerlist.OneShot,
		Handler: handler,
	})
	return id
}

// AddWallTimer installs a reloading periodic timer, returning its id. The
// reload policy lives in timerlist.ReloadWall, applied each time the timer
// fires inside Wait.
func (s *Selector) AddWallTimer(name string, period time.Duration, handler func()) timerlist.TimerID {
	id := s.timers.NextID()
	s.timers.Insert(s.clk.Now(), period, timerlist.TimerEntry{
		ID:      id,
		Kind:    timerlist.Wall,
		Name:    name,
		Period:  period,
		Handler: handler,
	})
	return id
}

// RemoveTimer removes any timer entry (one-shot or wall) with the given id.
func (s *Selector) RemoveTimer(id timerlist.TimerID) { s.timers.Remove(id) }

// RemoveSubscriber drops the binding for sub, if present. Used by
// AsyncSelector to cancel a one-shot wake-up registration on future drop
// (spec.md §4.4 invariant 3).
func (s *Selector) RemoveSubscriber(sub mw.SubscriptionHandle) {
	for i, b := range s.subs {
		if b.handle == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// RemoveServer drops the binding for server, if present.
func (s *Selector) RemoveServer(server mw.ServiceHandle) {
	for i, b := range s.svcs {
		if b.handle == server {
			s.svcs = append(s.svcs[:i], s.svcs[i+1:]...)
			return
		}
	}
}

// RemoveClient drops the binding for client, if present.
func (s *Selector) RemoveClient(client mw.ClientHandle) {
	for i, b := range s.clis {
		if b.handle == client {
			s.clis = append(s.clis[:i], s.clis[i+1:]...)
			return
		}
	}
}

// RemoveGuardCondition drops the binding for handle, if present.
func (s *Selector) RemoveGuardCondition(handle mw.GuardHandle) {
	for i, b := range s.guards {
		if b.handle == handle {
			s.guards = append(s.guards[:i], s.guards[i+1:]...)
			return
		}
	}
}

// RemoveActionServer drops the binding for server, if present.
func (s *Selector) RemoveActionServer(server mw.ActionServerHandle) {
	for i, b := range s.aSrv {
		if b.handle == server {
			s.aSrv = append(s.aSrv[:i], s.aSrv[i+1:]...)
			return
		}
	}
}

// RemoveActionClient drops the binding for client, if present.
func (s *Selector) RemoveActionClient(client mw.ActionClientHandle) {
	for i, b := range s.aCli {
		if b.handle == client {
			s.aCli = append(s.aCli[:i], s.aCli[i+1:]...)
			return
		}
	}
}

// TimeoutOutcome is the result of WaitTimeout.
type TimeoutOutcome int

const (
	TimeoutFired TimeoutOutcome = iota
	TimeoutExpired
)

// WaitTimeout adds a temporary one-shot timer of duration d, runs one Wait,
// and reports TimeoutExpired if that timer fired, or TimeoutFired (after
// removing the timer) if something else woke the wait first (spec.md §4.3).
// A non-positive d is
// treated as "poll once" (spec.md §5).
func (s *Selector) WaitTimeout(ctx context.Context, d time.Duration) (TimeoutOutcome, error) {
	if d < 0 {
		d = 0
	}
	var fired bool
	id := s.AddTimer(d, func() { fired = true })

	err := s.Wait(ctx)
	if err != nil {
		s.RemoveTimer(id)
		return TimeoutExpired, err
	}
	if fired {
		return TimeoutExpired, nil
	}
	s.RemoveTimer(id)
	return TimeoutFired, nil
}

// Wait runs exactly one iteration of the algorithm from spec.md §4.3.
func (s *Selector) Wait(ctx context.Context) error {
	// step 1
	if s.halted.Load() {
		return rclerr.ErrSignaled
	}

	// step 2 and 3
	subs := make([]mw.SubscriptionHandle, len(s.subs))
	for i, b := range s.subs {
		subs[i] = b.handle
	}
	svcs := make([]mw.ServiceHandle, len(s.svcs))
	for i, b := range s.svcs {
		svcs[i] = b.handle
	}
	clis := make([]mw.ClientHandle, len(s.clis))
	for i, b := range s.clis {
		clis[i] = b.handle
	}
	guards := make([]mw.GuardHandle, len(s.guards))
	for i, b := range s.guards {
		guards[i] = b.handle
	}
	aSrvs := make([]mw.ActionServerHandle, len(s.aSrv))
	for i, b := range s.aSrv {
		aSrvs[i] = b.handle
	}
	aClis := make([]mw.ActionClientHandle, len(s.aCli))
	for i, b := range s.aCli {
		aClis[i] = b.handle
	}
	snap, err := waitset.Populate(s.ws, subs, svcs, clis, guards, aSrvs, aClis)
	if err != nil {
		return err
	}
	subIdx, svcIdx, cliIdx := snap.Subscriptions, snap.Services, snap.Clients
	guardIdx, aSrvIdx, aCliIdx := snap.Guards, snap.ActionServers, snap.ActionClients

	// step 4: clamp to [0, maxDuration], logging a diagnostic on overflow
	// (spec.md §4.3 step 4, boundary behavior #11). time.Time.Sub already
	// saturates at math.MaxInt64 ns rather than wrapping, so the clamp here
	// is a no-op in practice; the diagnostic is the part that actually needs
	// wiring.
	blockTimeout := -1 * time.Nanosecond
	if !s.timers.IsEmpty() {
		d := s.timers.FrontAbsolute().Sub(s.clk.Now())
		if d < 0 {
			d = 0
		}
		if d >= maxBlockTimeout {
			s.logTimeoutOverflow(d)
			d = maxBlockTimeout
		}
		blockTimeout = d
	}

	// step 5
	result, err := s.ws.Wait(ctx, blockTimeout)
	if err != nil {
		return err
	}

	// step 6
	if result == mw.WaitReady {
		s.dispatchSubs(subIdx)
		s.dispatchSvcs(svcIdx)
		s.dispatchClis(cliIdx)
		s.dispatchGuards(guardIdx)
		// step 7
		s.dispatchActionServers(aSrvIdx)
		s.dispatchActionClients(aCliIdx)
	}

	// step 8: data-then-timer ordering.
	s.fireExpiredTimers()

	// step 9
	if s.halted.Load() {
		return rclerr.ErrSignaled
	}
	return nil
}

func (s *Selector) dispatchSubs(idx []int) {
	kept := s.subs[:0]
	for i, b := range s.subs {
		if !s.ws.SubscriptionReady(idx[i]) {
			kept = append(kept, b)
			continue
		}
		if b.handler(b.handle) == Keep && !b.isOnce {
			kept = append(kept, b)
		}
	}
	s.subs = kept
}

func (s *Selector) dispatchSvcs(idx []int) {
	kept := s.svcs[:0]
	for i, b := range s.svcs {
		if !s.ws.ServiceReady(idx[i]) {
			kept = append(kept, b)
			continue
		}
		if b.handler(b.handle) == Keep && !b.isOnce {
			kept = append(kept, b)
		}
	}
	s.svcs = kept
}

func (s *Selector) dispatchClis(idx []int) {
	kept := s.clis[:0]
	for i, b := range s.clis {
		if !s.ws.ClientReady(idx[i]) {
			kept = append(kept, b)
			continue
		}
		if b.handler(b.handle) == Keep && !b.isOnce {
			kept = append(kept, b)
		}
	}
	s.clis = kept
}

func (s *Selector) dispatchGuards(idx []int) {
	kept := s.guards[:0]
	for i, b := range s.guards {
		if !s.ws.GuardConditionReady(idx[i]) {
			kept = append(kept, b)
			continue
		}
		result := Keep
		if b.handler != nil {
			result = b.handler()
		}
		if result == Keep && !b.isOnce {
			kept = append(kept, b)
		}
	}
	s.guards = kept
}

func (s *Selector) dispatchActionServers(idx []int) {
	for i, b := range s.aSrv {
		ready := s.ws.ActionServerReadyAt(idx[i])
		if ready.Goal && b.cb.Goal != nil {
			b.cb.Goal(b.handle)
		}
		if ready.Cancel && b.cb.Cancel != nil {
			b.cb.Cancel(b.handle)
		}
		if ready.Result && b.cb.Result != nil {
			b.cb.Result(b.handle)
		}
	}
}

func (s *Selector) dispatchActionClients(idx []int) {
	for i, b := range s.aCli {
		ready := s.ws.ActionClientReadyAt(idx[i])
		if ready.Feedback && b.cb.Feedback != nil {
			b.cb.Feedback(b.handle)
		}
		if ready.Status && b.cb.Status != nil {
			b.cb.Status(b.handle)
		}
		if ready.Goal && b.cb.Goal != nil {
			b.cb.Goal(b.handle)
		}
		if ready.Cancel && b.cb.Cancel != nil {
			b.cb.Cancel(b.handle)
		}
		if ready.Result && b.cb.Result != nil {
			b.cb.Result(b.handle)
		}
	}
}

func (s *Selector) fireExpiredTimers() {
	now := s.clk.Now()
	for !s.timers.IsEmpty() && !s.timers.FrontAbsolute().After(now) {
		fireTime := s.timers.FrontAbsolute()
		entry := s.timers.Pop()
		if entry.Handler != nil {
			entry.Handler()
		}
		if entry.Kind == timerlist.Wall {
			next := timerlist.ReloadWall(s.clk.Now(), fireTime, entry.Period)
			s.timers.Insert(s.clk.Now(), next, *entry)
		}
	}
}
