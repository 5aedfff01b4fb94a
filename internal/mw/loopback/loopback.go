// Package loopback implements mw.Middleware entirely in-process, without any
// socket or serialization. It exists so the selector, async bridge, action
// and parameter packages have something real to run against in tests and in
// cmd/rclgo-demo, the way spec.md §1 treats the wire transport as an opaque
// external collaborator.
//
// It is grounded on the teacher's inprocgrpc package (an event-loop-driven
// in-process gRPC channel: "all RPC communication is event-loop-driven...
// coordinates message delivery" via in-process queues rather than sockets)
// and on its use of a readiness/notify channel per logical stream instead of
// a real poller. Unlike inprocgrpc, payloads here are untyped (`any`): this
// middleware deliberately never requires a protobuf message type, since
// message memory layout is out of scope (spec.md §1 non-goals).
package loopback

import (
	"context"
	"crypto/rand"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rclgo/rclgo/mw"
)

// Bus is a loopback middleware instance: one per simulated "context". All
// handles created from the same Bus can see each other's topics/services/
// actions; handles from different buses are isolated, mirroring
// spec.md §4.3's "fails silently if the subscription belongs to a different
// context" rule (ContextID is the Bus's id).
type Bus struct {
	id string

	mu       sync.Mutex
	topics   map[string]*topic
	services map[string]*serviceBus
	actions  map[string]*actionBus
}

// New creates a fresh, empty Bus with a random context id.
func New() *Bus {
	return &Bus{
		id:       randID(),
		topics:   make(map[string]*topic),
		services: make(map[string]*serviceBus),
		actions:  make(map[string]*actionBus),
	}
}

// ID returns the Bus's context id, the same value every handle created from
// it reports via ContextID.
func (b *Bus) ID() string { return b.id }

func randID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%x", b)
}

func pingSignal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func newSignal() chan struct{} { return make(chan struct{}, 1) }

// ---- handle base ----

type handleBase struct {
	bus    *Bus
	closed atomic.Bool
}

func (h *handleBase) ContextID() string { return h.bus.id }
func (h *handleBase) Close() error      { h.closed.Store(true); return nil }

// ---- topics (pub/sub) ----

type topic struct {
	mu   sync.Mutex
	qos  mw.QoS
	subs []*subHandle
}

func (b *Bus) topicFor(name string, qos mw.QoS) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topic{qos: qos}
		b.topics[name] = t
	}
	return t
}

type subHandle struct {
	handleBase
	topic  *topic
	ch     chan any
	signal chan struct{}
}

type pubHandle struct {
	handleBase
	topic *topic
}

// CreateSubscriber registers a new subscription on the given topic.
func (b *Bus) CreateSubscriber(name string, qos mw.QoS) mw.SubscriptionHandle {
	t := b.topicFor(name, qos)
	depth := qos.Depth
	if depth <= 0 {
		depth = 16
	}
	s := &subHandle{topic: t, ch: make(chan any, depth), signal: newSignal()}
	s.bus = b
	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()
	return s
}

// CreatePublisher registers a new publisher on the given topic.
func (b *Bus) CreatePublisher(name string, qos mw.QoS) mw.PublisherHandle {
	t := b.topicFor(name, qos)
	p := &pubHandle{topic: t}
	p.bus = b
	return p
}

func (b *Bus) TakeSubscription(h mw.SubscriptionHandle) (any, bool, error) {
	s := h.(*subHandle)
	select {
	case v := <-s.ch:
		return v, true, nil
	default:
		return nil, false, nil
	}
}

func (b *Bus) SendPublisher(h mw.PublisherHandle, payload any) error {
	p := h.(*pubHandle)
	p.topic.mu.Lock()
	subs := append([]*subHandle(nil), p.topic.subs...)
	p.topic.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- payload:
		default:
			// depth exceeded: drop oldest, matching a best-effort QoS profile
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- payload:
			default:
			}
		}
		pingSignal(s.signal)
	}
	return nil
}

// ---- services (request/response) ----

type reqEnvelope struct {
	payload any
	reqID   mw.RequestID
	respCh  chan respEnvelope
}

type respEnvelope struct {
	payload any
	reqID   mw.RequestID
}

type serviceBus struct {
	name    string
	mu      sync.Mutex
	nextSeq int64
	reqCh   chan reqEnvelope
	signal  chan struct{}
	pending map[int64]chan respEnvelope
}

func (b *Bus) serviceFor(name string) *serviceBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.services[name]
	if !ok {
		s = &serviceBus{name: name, reqCh: make(chan reqEnvelope, 64), signal: newSignal(), pending: make(map[int64]chan respEnvelope)}
		b.services[name] = s
	}
	return s
}

type serviceHandle struct {
	handleBase
	svc *serviceBus
}

type clientHandle struct {
	handleBase
	svc     *serviceBus
	inbound chan respEnvelope
	signal  chan struct{}
}

func (b *Bus) CreateServer(name string) mw.ServiceHandle {
	sb := b.serviceFor(name)
	h := &serviceHandle{svc: sb}
	h.bus = b
	return h
}

func (b *Bus) CreateClient(name string) mw.ClientHandle {
	sb := b.serviceFor(name)
	h := &clientHandle{svc: sb, inbound: make(chan respEnvelope, 64), signal: newSignal()}
	h.bus = b
	clientSignals.Store(h.inbound, h.signal)
	return h
}

func (b *Bus) TakeRequest(h mw.ServiceHandle) (any, mw.RequestID, bool, error) {
	sh := h.(*serviceHandle)
	select {
	case env := <-sh.svc.reqCh:
		sh.svc.mu.Lock()
		sh.svc.pending[env.reqID.SequenceNumber] = env.respCh
		sh.svc.mu.Unlock()
		return env.payload, env.reqID, true, nil
	default:
		return nil, mw.RequestID{}, false, nil
	}
}

func (b *Bus) SendResponse(h mw.ServiceHandle, reqID mw.RequestID, payload any) error {
	sh := h.(*serviceHandle)
	sh.svc.mu.Lock()
	respCh, ok := sh.svc.pending[reqID.SequenceNumber]
	delete(sh.svc.pending, reqID.SequenceNumber)
	sh.svc.mu.Unlock()
	if !ok {
		return fmt.Errorf("loopback: no pending request for sequence %d", reqID.SequenceNumber)
	}
	respCh <- respEnvelope{payload: payload, reqID: reqID}
	pingAllClientSignals(respCh)
	return nil
}

// clientSignals maps a client's inbound response channel back to the signal
// channel a waitSet selects on, so SendResponse can wake a blocked Wait.
var clientSignals sync.Map // chan respEnvelope -> chan struct{}

func pingAllClientSignals(respCh chan respEnvelope) {
	if v, ok := clientSignals.Load(respCh); ok {
		pingSignal(v.(chan struct{}))
	}
}

func (b *Bus) SendRequest(h mw.ClientHandle, payload any) (mw.RequestID, error) {
	ch := h.(*clientHandle)
	ch.svc.mu.Lock()
	ch.svc.nextSeq++
	seq := ch.svc.nextSeq
	ch.svc.mu.Unlock()

	reqID := mw.RequestID{SequenceNumber: seq}
	env := reqEnvelope{payload: payload, reqID: reqID, respCh: ch.inbound}
	select {
	case ch.svc.reqCh <- env:
	default:
		return mw.RequestID{}, fmt.Errorf("loopback: service %q request queue full", ch.svc.name)
	}
	pingSignal(ch.svc.signal)
	return reqID, nil
}

func (b *Bus) TakeResponse(h mw.ClientHandle) (any, mw.RequestID, bool, error) {
	ch := h.(*clientHandle)
	select {
	case env := <-ch.inbound:
		return env.payload, env.reqID, true, nil
	default:
		return nil, mw.RequestID{}, false, nil
	}
}

// ---- wait set ----

// waitItem is one registered handle plus the channel that signals it may
// have become ready, and a peek closure used after a wake to decide whether
// this specific item actually is ready (channels can coalesce pings).
type waitItem struct {
	signal chan struct{}
	peek   func() bool
}

type waitSet struct {
	bus   *Bus
	items []waitItem

	subIdx, svcIdx, cliIdx, guardIdx []int // index within items, parallel to Add* return values
	asReady                          map[int]mw.ActionServerReady
	acReady                          map[int]mw.ActionClientReady
	asItems                          []int
	acItems                          []int
}

func (b *Bus) NewWaitSet(ctx context.Context) (mw.WaitSet, error) {
	return &waitSet{bus: b}, nil
}

func (w *waitSet) Resize(counts mw.EntityCounts) error {
	w.items = w.items[:0]
	w.subIdx = nil
	w.svcIdx = nil
	w.cliIdx = nil
	w.guardIdx = nil
	w.asItems = nil
	w.acItems = nil
	w.asReady = make(map[int]mw.ActionServerReady)
	w.acReady = make(map[int]mw.ActionClientReady)
	return nil
}

func (w *waitSet) addItem(signal chan struct{}, peek func() bool) int {
	w.items = append(w.items, waitItem{signal: signal, peek: peek})
	return len(w.items) - 1
}

func (w *waitSet) AddSubscription(h mw.SubscriptionHandle) (int, error) {
	s := h.(*subHandle)
	idx := w.addItem(s.signal, func() bool { return len(s.ch) > 0 })
	w.subIdx = append(w.subIdx, idx)
	return idx, nil
}

func (w *waitSet) AddService(h mw.ServiceHandle) (int, error) {
	s := h.(*serviceHandle)
	idx := w.addItem(s.svc.signal, func() bool { return len(s.svc.reqCh) > 0 })
	w.svcIdx = append(w.svcIdx, idx)
	return idx, nil
}

func (w *waitSet) AddClient(h mw.ClientHandle) (int, error) {
	c := h.(*clientHandle)
	idx := w.addItem(c.signal, func() bool { return len(c.inbound) > 0 })
	w.cliIdx = append(w.cliIdx, idx)
	return idx, nil
}

func (w *waitSet) AddGuardCondition(h mw.GuardHandle) (int, error) {
	g := h.(*guardHandle)
	// Latch the trigger for this iteration: Wait's readiness scan takes it,
	// and GuardConditionReady must still report it afterwards.
	fired := false
	idx := w.addItem(g.signal, func() bool {
		if g.gc.TakeTriggered() {
			fired = true
		}
		return fired
	})
	w.guardIdx = append(w.guardIdx, idx)
	return idx, nil
}

func (w *waitSet) AddActionServer(h mw.ActionServerHandle) (int, error) {
	as := h.(*actionServerHandle)
	var idx int
	idx = w.addItem(as.act.signal, func() bool {
		r := mw.ActionServerReady{
			Goal:   len(as.act.goalReqCh) > 0,
			Cancel: len(as.act.cancelReqCh) > 0,
			Result: len(as.act.resultReqCh) > 0,
		}
		w.asReady[idx] = r
		return r.Goal || r.Cancel || r.Result
	})
	w.asItems = append(w.asItems, idx)
	return idx, nil
}

func (w *waitSet) AddActionClient(h mw.ActionClientHandle) (int, error) {
	ac := h.(*actionClientHandle)
	var idx int
	idx = w.addItem(ac.signal, func() bool {
		r := mw.ActionClientReady{
			Feedback: len(ac.feedbackCh) > 0,
			Status:   len(ac.statusCh) > 0,
			Goal:     len(ac.goalRespCh) > 0,
			Cancel:   len(ac.cancelRespCh) > 0,
			Result:   len(ac.resultRespCh) > 0,
		}
		w.acReady[idx] = r
		return r.Feedback || r.Status || r.Goal || r.Cancel || r.Result
	})
	w.acItems = append(w.acItems, idx)
	return idx, nil
}

func (w *waitSet) Wait(ctx context.Context, timeout time.Duration) (mw.WaitResult, error) {
	// First, a non-blocking scan: anything already pending means we don't
	// need to select/block at all.
	if w.anyReady() {
		return mw.WaitReady, nil
	}

	cases := make([]reflect.SelectCase, 0, len(w.items)+2)
	for _, it := range w.items {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(it.signal)})
	}
	ctxDoneIdx := len(cases)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

	timeoutIdx := -1
	if timeout >= 0 {
		timeoutIdx = len(cases)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(time.After(timeout))})
	}

	if len(w.items) == 0 && timeout < 0 {
		// nothing registered and indefinite wait: block on context only.
		<-ctx.Done()
		return mw.WaitTimeout, ctx.Err()
	}

	chosen, _, _ := reflect.Select(cases)
	switch {
	case chosen == ctxDoneIdx:
		return mw.WaitTimeout, ctx.Err()
	case timeoutIdx >= 0 && chosen == timeoutIdx:
		return mw.WaitTimeout, nil
	default:
		if w.anyReady() {
			return mw.WaitReady, nil
		}
		return mw.WaitTimeout, nil
	}
}

func (w *waitSet) anyReady() bool {
	ready := false
	for _, it := range w.items {
		if it.peek() {
			ready = true
		}
	}
	return ready
}

func (w *waitSet) SubscriptionReady(index int) bool    { return w.items[index].peek() }
func (w *waitSet) ServiceReady(index int) bool          { return w.items[index].peek() }
func (w *waitSet) ClientReady(index int) bool           { return w.items[index].peek() }
func (w *waitSet) GuardConditionReady(index int) bool   { return w.items[index].peek() }
func (w *waitSet) ActionServerReadyAt(index int) mw.ActionServerReady {
	w.items[index].peek()
	return w.asReady[index]
}
func (w *waitSet) ActionClientReadyAt(index int) mw.ActionClientReady {
	w.items[index].peek()
	return w.acReady[index]
}

var _ mw.Middleware = (*Bus)(nil)
