// Package asyncselector implements the process-wide bridge from spec.md
// §4.4: one background Selector per context, driven by a command channel,
// used to turn the synchronous core's readiness callbacks into futures a
// caller can recv().await (recv, in Go: block on a context-cancellable
// channel).
//
// The interrupt mechanism - waking a blocked Selector.Wait the instant a
// new command is enqueued - is itself built from a guardcondition.
// GuardCondition the worker owns and registers persistently, the same
// any-goroutine-may-trigger discipline the teacher's wakeup pipe
// (eventloop/wakeup_linux.go) uses to interrupt a blocked poll.
package asyncselector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rclgo/rclgo/guardcondition"
	"github.com/rclgo/rclgo/internal/clock"
	"github.com/rclgo/rclgo/internal/rlog"
	"github.com/rclgo/rclgo/mw"
	"github.com/rclgo/rclgo/selector"
)

// Middleware is the subset of capability asyncselector needs beyond the
// mw.Middleware take/send contract: the ability to mint a guard-condition
// handle for the worker's own wake-up plumbing. Any concrete middleware
// that exposes CreateGuardCondition (e.g. internal/mw/loopback.Bus)
// satisfies this automatically.
type Middleware interface {
	mw.Middleware
	CreateGuardCondition(gc *guardcondition.GuardCondition) mw.GuardHandle
}

type command func(*selector.Selector)

// worker owns exactly one background goroutine and the Selector it drives,
// for one context (spec.md §4.4 "process-wide mapping context -> background
// Selector thread").
type worker struct {
	sel       *selector.Selector
	gc        *guardcondition.GuardCondition
	cmdCh     chan command
	done      chan struct{}
	halted    atomic.Bool
	contextID string
	log       *rlog.Limited
}

func newWorker(ctx context.Context, contextID string, middleware Middleware, clk clock.Source, log *rlog.Limited) (*worker, error) {
	sel, err := selector.New(ctx, contextID, middleware, clk)
	if err != nil {
		return nil, err
	}
	gc := guardcondition.New()
	handle := middleware.CreateGuardCondition(gc)

	w := &worker{
		sel:       sel,
		gc:        gc,
		cmdCh:     make(chan command, 256),
		done:      make(chan struct{}),
		contextID: contextID,
		log:       log,
	}
	sel.AddGuardCondition(handle, gc, w.drainCommands, false)

	go w.run(ctx)
	return w, nil
}

func (w *worker) drainCommands() {
	for {
		select {
		case cmd := <-w.cmdCh:
			cmd(w.sel)
		default:
			return
		}
	}
}

// enqueue hands cmd to the worker goroutine and wakes it so the command
// takes effect before the next data event, not just the next timer fire.
func (w *worker) enqueue(cmd command) {
	select {
	case w.cmdCh <- cmd:
	default:
		// Queue is saturated; run inline on the next drain by blocking send -
		// 256 pending registrations would already indicate a caller leak.
		w.cmdCh <- cmd
	}
	_ = w.gc.Trigger()
}

func (w *worker) run(ctx context.Context) {
	w.log.Info(w.contextID, "asyncselector worker starting", func(b *rlog.Builder) *rlog.Builder {
		return b.Str("context", w.contextID)
	})
	defer close(w.done)
	defer w.gc.Drop()
	defer w.log.Info(w.contextID, "asyncselector worker stopped", func(b *rlog.Builder) *rlog.Builder {
		return b.Str("context", w.contextID)
	})
	for {
		if err := w.sel.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (w *worker) halt() {
	if !w.halted.CompareAndSwap(false, true) {
		return
	}
	w.sel.Halt()
	_ = w.gc.Trigger()
}

// Bridge is the process-wide registry of per-context workers.
type Bridge struct {
	mu      sync.Mutex
	workers map[string]*worker
	log     *rlog.Limited
}

// NewBridge returns an empty Bridge.
func NewBridge() *Bridge {
	return &Bridge{
		workers: make(map[string]*worker),
		log:     rlog.NewLimited(rlog.Nop(), time.Second, 1),
	}
}

// SetLogger installs log as the destination for every worker's lifecycle
// diagnostics this Bridge spawns from now on, rate limited to n occurrences
// per window per context ID. Workers already running keep their prior
// logger.
func (b *Bridge) SetLogger(log *rlog.Logger, window time.Duration, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = rlog.NewLimited(log, window, n)
}

func (b *Bridge) ensure(ctx context.Context, contextID string, middleware Middleware, clk clock.Source) (*worker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.workers[contextID]; ok {
		return w, nil
	}
	w, err := newWorker(ctx, contextID, middleware, clk, b.log)
	if err != nil {
		return nil, err
	}
	b.workers[contextID] = w
	return w, nil
}

// Halt terminates the background thread for contextID, per spec.md §4.4's
// Halt command. Idempotent.
func (b *Bridge) Halt(contextID string) {
	b.mu.Lock()
	w, ok := b.workers[contextID]
	if ok {
		delete(b.workers, contextID)
	}
	b.mu.Unlock()
	if ok {
		w.halt()
	}
}

// recvOnce implements the four-step future protocol from spec.md §4.4
// generically: tryRecv is called first; if it doesn't produce a result,
// register installs a one-shot wake against the worker's selector, and the
// call blocks until wake fires or ctx is cancelled. On cancellation, remove
// is invoked so the one-shot registration does not later fire with a stale
// waker (invariant 3).
func recvOnce[T any](
	ctx context.Context,
	w *worker,
	tryRecv func() (T, bool, error),
	register func(sel *selector.Selector, wake func()),
	remove func(sel *selector.Selector),
) (T, error) {
	var zero T
	if v, ok, err := tryRecv(); err != nil {
		return zero, err
	} else if ok {
		return v, nil
	}

	woken := make(chan struct{}, 1)
	w.enqueue(func(sel *selector.Selector) {
		register(sel, func() { wakeOnce(woken) })
	})

	select {
	case <-woken:
	case <-ctx.Done():
		w.enqueue(remove)
		return zero, ctx.Err()
	}

	for {
		v, ok, err := tryRecv()
		if err != nil {
			return zero, err
		}
		if ok {
			return v, nil
		}
		// Retried too early (e.g. take reported a different sequence number);
		// re-register and wait again.
		select {
		case <-woken:
		case <-ctx.Done():
			w.enqueue(remove)
			return zero, ctx.Err()
		default:
			woken = make(chan struct{}, 1)
			w.enqueue(func(sel *selector.Selector) { register(sel, func() { wakeOnce(woken) }) })
			select {
			case <-woken:
			case <-ctx.Done():
				w.enqueue(remove)
				return zero, ctx.Err()
			}
		}
	}
}

func wakeOnce(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// RecvSubscription blocks until a message is available on sub or ctx is
// cancelled.
func RecvSubscription(ctx context.Context, bridge *Bridge, contextID string, middleware Middleware, clk clock.Source, sub mw.SubscriptionHandle) (any, error) {
	w, err := bridge.ensure(ctx, contextID, middleware, clk)
	if err != nil {
		return nil, err
	}
	return recvOnce(ctx, w,
		func() (any, bool, error) { return middleware.TakeSubscription(sub) },
		func(sel *selector.Selector, wake func()) { sel.AddSubscriptionWake(sub, wake, true) },
		func(sel *selector.Selector) { sel.RemoveSubscriber(sub) },
	)
}

// reqResp is the payload RecvRequest/RecvResponse hand back: the take
// result plus its correlating RequestID.
type reqResp struct {
	Payload any
	ReqID   mw.RequestID
}

// RecvRequest blocks until a request is available on server or ctx is
// cancelled.
func RecvRequest(ctx context.Context, bridge *Bridge, contextID string, middleware Middleware, clk clock.Source, server mw.ServiceHandle) (any, mw.RequestID, error) {
	w, err := bridge.ensure(ctx, contextID, middleware, clk)
	if err != nil {
		return nil, mw.RequestID{}, err
	}
	rr, err := recvOnce(ctx, w,
		func() (reqResp, bool, error) {
			p, id, ok, e := middleware.TakeRequest(server)
			return reqResp{Payload: p, ReqID: id}, ok, e
		},
		func(sel *selector.Selector, wake func()) { sel.AddServerWake(server, wake, true) },
		func(sel *selector.Selector) { sel.RemoveServer(server) },
	)
	return rr.Payload, rr.ReqID, err
}

// RecvResponse blocks until a response whose sequence number equals
// expectedSeq is available or ctx is cancelled, and returns its payload
// (spec.md §4.6). Responses taken with any other sequence number are
// discarded and the wait continues.
func RecvResponse(ctx context.Context, bridge *Bridge, contextID string, middleware Middleware, clk clock.Source, client mw.ClientHandle, expectedSeq int64) (any, error) {
	w, err := bridge.ensure(ctx, contextID, middleware, clk)
	if err != nil {
		return nil, err
	}
	rr, err := recvOnce(ctx, w,
		func() (reqResp, bool, error) {
			p, id, ok, e := middleware.TakeResponse(client)
			if e != nil || !ok {
				return reqResp{}, false, e
			}
			if id.SequenceNumber != expectedSeq {
				return reqResp{}, false, nil
			}
			return reqResp{Payload: p, ReqID: id}, true, nil
		},
		func(sel *selector.Selector, wake func()) { sel.AddClientWake(client, wake, true) },
		func(sel *selector.Selector) { sel.RemoveClient(client) },
	)
	if err != nil {
		return nil, err
	}
	return rr.Payload, nil
}
