// Package node implements the thin typed wrapper façades spec.md §2 lists
// last ("Wrappers... not the core"): Subscriber, Publisher, Server, Client
// and Timer, each presenting try_recv/recv_timeout/recv over the
// mw.Middleware SPI, a Selector, and the asyncselector background bridge.
package node

import (
	"context"
	"time"

	"github.com/rclgo/rclgo/action"
	"github.com/rclgo/rclgo/asyncselector"
	"github.com/rclgo/rclgo/guardcondition"
	"github.com/rclgo/rclgo/internal/rlog"
	"github.com/rclgo/rclgo/internal/wire/cdr"
	"github.com/rclgo/rclgo/mw"
	"github.com/rclgo/rclgo/parameter"
	"github.com/rclgo/rclgo/rclctx"
	"github.com/rclgo/rclgo/rclerr"
	"github.com/rclgo/rclgo/selector"
	"github.com/rclgo/rclgo/timerlist"
)

// Middleware is the capability Node needs to mint handles: the plain
// take/send contract plus every Create* a concrete transport
// (internal/mw/loopback.Bus) exposes.
type Middleware interface {
	mw.Middleware
	CreateSubscriber(name string, qos mw.QoS) mw.SubscriptionHandle
	CreatePublisher(name string, qos mw.QoS) mw.PublisherHandle
	CreateServer(name string) mw.ServiceHandle
	CreateClient(name string) mw.ClientHandle
	CreateActionServer(name string) mw.ActionServerHandle
	CreateActionClient(name string) mw.ActionClientHandle
	CreateGuardCondition(gc *guardcondition.GuardCondition) mw.GuardHandle
}

// Node is a named, namespaced handle-minting facade over one Context
// (spec.md §6 "Node.create_subscriber<T>(topic, qos), create_publisher<T>
// (...), create_server<S>(...), create_client<S>(...), create_action_server
// <A>(...), create_action_client<A>(...), create_parameter_server()").
type Node struct {
	name      string
	namespace string
	ctx       *rclctx.Context
	middle    Middleware
	opts      rclctx.NodeOptions
	log       *rlog.Limited
}

// New constructs a Node under ctx. middle must be the same middleware
// instance ctx was built with (asserted loosely: callers are expected to
// pass ctx.Middleware() back in, typed as the richer Middleware interface
// above, since rclctx.Context only needs the guard-condition subset).
func New(ctx *rclctx.Context, middle Middleware, name, namespace string, opts rclctx.NodeOptions) *Node {
	return &Node{
		name: name, namespace: namespace, ctx: ctx, middle: middle, opts: opts,
		log: rlog.NewLimited(rlog.Nop(), time.Second, 1),
	}
}

// SetLogger installs log as the destination for this Node's wrapper-level
// diagnostics (a taken payload that doesn't match the wrapper's type
// parameter), rate limited to n occurrences per window per topic/service
// name.
func (n *Node) SetLogger(log *rlog.Logger, window time.Duration, count int) {
	n.log = rlog.NewLimited(log, window, count)
}

func (n *Node) resolve(name string) string { return n.ctx.ResolveName(name, n.opts) }

// CreateSelector builds a Selector bound to this Node's context, with the
// shutdown guard condition already installed (rclctx.Context.CreateSelector).
func (n *Node) CreateSelector(ctx context.Context) (*selector.Selector, error) {
	return n.ctx.CreateSelector(ctx)
}

// Subscriber is a typed façade over a subscription handle.
type Subscriber[T any] struct {
	handle mw.SubscriptionHandle
	middle Middleware
	ctx    *rclctx.Context
	topic  string
	log    *rlog.Limited
}

// CreateSubscriber mints a subscription and wraps it for type T.
func CreateSubscriber[T any](n *Node, topic string, qos mw.QoS) *Subscriber[T] {
	h := n.middle.CreateSubscriber(n.resolve(topic), qos)
	return &Subscriber[T]{handle: h, middle: n.middle, ctx: n.ctx, topic: topic, log: n.log}
}

// TryRecv returns the next message without blocking.
func (s *Subscriber[T]) TryRecv() (T, bool, error) {
	var zero T
	payload, ok, err := s.middle.TakeSubscription(s.handle)
	if err != nil || !ok {
		return zero, ok, err
	}
	v, ok := payload.(T)
	if !ok {
		s.log.Warn(s.topic, "subscription payload did not match the wrapper's type", func(b *rlog.Builder) *rlog.Builder {
			return b.Str("topic", s.topic).Str("payload", cdr.Preview(payload, 0))
		})
		return zero, false, nil
	}
	return v, true, nil
}

// RecvTimeout blocks on sel until a message arrives or d elapses, whichever
// comes first (spec.md §6 "recv_timeout(dur, selector)").
func (s *Subscriber[T]) RecvTimeout(ctx context.Context, sel *selector.Selector, d time.Duration) (T, bool, error) {
	var zero T
	if v, ok, err := s.TryRecv(); err != nil || ok {
		return v, ok, err
	}

	sel.AddSubscriptionWake(s.handle, func() {}, true)
	outcome, err := sel.WaitTimeout(ctx, d)
	if err != nil {
		return zero, false, err
	}
	if outcome == selector.TimeoutExpired {
		return zero, false, nil
	}
	return s.TryRecv()
}

// Recv blocks until a message is available or ctx is cancelled
// (spec.md §6 "recv().await").
func (s *Subscriber[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	payload, err := asyncselector.RecvSubscription(ctx, s.ctx.Bridge(), s.ctx.ID(), s.middle, s.ctx.Clock(), s.handle)
	if err != nil {
		return zero, err
	}
	v, ok := payload.(T)
	if !ok {
		return zero, rclerr.ErrRetryLater
	}
	return v, nil
}

// Close releases the subscription handle.
func (s *Subscriber[T]) Close() error { return s.handle.Close() }

// Publisher is a typed façade over a publisher handle.
type Publisher[T any] struct {
	handle mw.PublisherHandle
	middle Middleware
}

// CreatePublisher mints a publisher for type T.
func CreatePublisher[T any](n *Node, topic string, qos mw.QoS) *Publisher[T] {
	h := n.middle.CreatePublisher(n.resolve(topic), qos)
	return &Publisher[T]{handle: h, middle: n.middle}
}

// Send publishes v.
func (p *Publisher[T]) Send(v T) error { return p.middle.SendPublisher(p.handle, v) }

// Close releases the publisher handle.
func (p *Publisher[T]) Close() error { return p.handle.Close() }

// Server is a typed façade over a service server handle.
type Server[Req, Resp any] struct {
	handle  mw.ServiceHandle
	middle  Middleware
	ctx     *rclctx.Context
	service string
	log     *rlog.Limited
}

// CreateServer mints a service server for (Req, Resp).
func CreateServer[Req, Resp any](n *Node, service string, qos mw.QoS) *Server[Req, Resp] {
	h := n.middle.CreateServer(n.resolve(service))
	return &Server[Req, Resp]{handle: h, middle: n.middle, ctx: n.ctx, service: service, log: n.log}
}

// TryRecv returns the next request without blocking.
func (s *Server[Req, Resp]) TryRecv() (Req, mw.RequestID, bool, error) {
	var zero Req
	payload, reqID, ok, err := s.middle.TakeRequest(s.handle)
	if err != nil || !ok {
		return zero, reqID, ok, err
	}
	v, ok := payload.(Req)
	if !ok {
		s.log.Warn(s.service, "request payload did not match the wrapper's type", func(b *rlog.Builder) *rlog.Builder {
			return b.Str("service", s.service).Str("payload", cdr.Preview(payload, 0))
		})
		return zero, reqID, false, nil
	}
	return v, reqID, true, nil
}

// Recv blocks until a request is available or ctx is cancelled.
func (s *Server[Req, Resp]) Recv(ctx context.Context) (Req, mw.RequestID, error) {
	var zero Req
	payload, reqID, err := asyncselector.RecvRequest(ctx, s.ctx.Bridge(), s.ctx.ID(), s.middle, s.ctx.Clock(), s.handle)
	if err != nil {
		return zero, reqID, err
	}
	v, ok := payload.(Req)
	if !ok {
		return zero, reqID, rclerr.ErrRetryLater
	}
	return v, reqID, nil
}

// Respond answers reqID with resp.
func (s *Server[Req, Resp]) Respond(reqID mw.RequestID, resp Resp) error {
	return s.middle.SendResponse(s.handle, reqID, resp)
}

// Close releases the server handle.
func (s *Server[Req, Resp]) Close() error { return s.handle.Close() }

// Client is a typed façade over a service client handle.
type Client[Req, Resp any] struct {
	handle  mw.ClientHandle
	middle  Middleware
	ctx     *rclctx.Context
	service string
	log     *rlog.Limited
}

// CreateClient mints a service client for (Req, Resp).
func CreateClient[Req, Resp any](n *Node, service string, qos mw.QoS) *Client[Req, Resp] {
	h := n.middle.CreateClient(n.resolve(service))
	return &Client[Req, Resp]{handle: h, middle: n.middle, ctx: n.ctx, service: service, log: n.log}
}

// Send issues req, returning the sequence number to correlate the reply.
func (c *Client[Req, Resp]) Send(req Req) (int64, error) {
	reqID, err := c.middle.SendRequest(c.handle, req)
	return reqID.SequenceNumber, err
}

// TryRecv returns the next response without blocking, regardless of which
// request it answers (callers correlate against the sequence Send returned).
func (c *Client[Req, Resp]) TryRecv() (Resp, mw.RequestID, bool, error) {
	var zero Resp
	payload, reqID, ok, err := c.middle.TakeResponse(c.handle)
	if err != nil || !ok {
		return zero, reqID, ok, err
	}
	v, ok := payload.(Resp)
	if !ok {
		c.log.Warn(c.service, "response payload did not match the wrapper's type", func(b *rlog.Builder) *rlog.Builder {
			return b.Str("service", c.service).Str("payload", cdr.Preview(payload, 0))
		})
		return zero, reqID, false, nil
	}
	return v, reqID, true, nil
}

// Recv blocks until the response matching expectedSeq is available or ctx
// is cancelled (spec.md §4.6 sequence-number correlation).
func (c *Client[Req, Resp]) Recv(ctx context.Context, expectedSeq int64) (Resp, error) {
	var zero Resp
	payload, err := asyncselector.RecvResponse(ctx, c.ctx.Bridge(), c.ctx.ID(), c.middle, c.ctx.Clock(), c.handle, expectedSeq)
	if err != nil {
		return zero, err
	}
	v, ok := payload.(Resp)
	if !ok {
		return zero, rclerr.ErrRetryLater
	}
	return v, nil
}

// Close releases the client handle.
func (c *Client[Req, Resp]) Close() error { return c.handle.Close() }

// Timer wraps a Selector timer registration.
type Timer struct {
	id  timerlist.TimerID
	sel *selector.Selector
}

// CreateTimer installs a one-shot timer on sel.
func (n *Node) CreateTimer(sel *selector.Selector, d time.Duration, handler func()) *Timer {
	return &Timer{id: sel.AddTimer(d, handler), sel: sel}
}

// CreateWallTimer installs a reloading periodic timer on sel.
func (n *Node) CreateWallTimer(sel *selector.Selector, name string, period time.Duration, handler func()) *Timer {
	return &Timer{id: sel.AddWallTimer(name, period, handler), sel: sel}
}

// Stop removes the timer from its Selector.
func (t *Timer) Stop() { t.sel.RemoveTimer(t.id) }

// CreateActionServer mints an action-server handle, builds an
// ActionGoalTable over it and wires its three request channels onto sel
// (spec.md §6 "create_action_server<A>(name, qos)").
func (n *Node) CreateActionServer(
	sel *selector.Selector,
	name string,
	resultTimeout time.Duration,
	goalHandler func(uuid [16]byte, goal any) bool,
	acceptHandler func(*action.GoalHandle),
	cancelHandler func(*action.GoalHandle) bool,
) *action.ActionGoalTable {
	h := n.middle.CreateActionServer(n.resolve(name))
	table := action.NewActionGoalTable(n.resolve(name), n.middle, h, n.ctx.Clock(), resultTimeout, goalHandler, acceptHandler, cancelHandler)
	sel.AddActionServer(h, selector.ActionServerCallbacks{
		Goal:   func(mw.ActionServerHandle) { table.HandleGoalRequest() },
		Cancel: func(mw.ActionServerHandle) { table.HandleCancelRequest() },
		Result: func(mw.ActionServerHandle) { table.HandleResultRequest() },
	})
	if resultTimeout > 0 {
		sel.AddWallTimer(n.resolve(name)+"/goal_expiry", resultTimeout, func() {
			table.SweepExpired(n.ctx.Clock().Now())
		})
	}
	return table
}

// CreateActionClient mints an action-client handle and wraps it in an
// ActionClientBundle (spec.md §6 "create_action_client<A>(name, qos)").
func (n *Node) CreateActionClient(name string) *action.ActionClientBundle {
	h := n.middle.CreateActionClient(n.resolve(name))
	return action.NewActionClientBundle(n.middle, h)
}

// CreateParameterServer spawns a ParameterServer over store under this
// node's context (spec.md §6 "create_parameter_server()").
func (n *Node) CreateParameterServer(ctx context.Context, store *parameter.Store) (*parameter.ParameterServer, error) {
	return parameter.New(ctx, n.ctx.ID(), n.middle, n.ctx.Clock(), n.resolve(n.name), store)
}

// Name returns the node's configured name.
func (n *Node) Name() string { return n.name }

// Namespace returns the node's configured namespace.
func (n *Node) Namespace() string { return n.namespace }
