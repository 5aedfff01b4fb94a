// Package mw defines the middleware runtime contract spec.md §6 describes as
// an external collaborator: the wire transport, message (de)serialization,
// and the wait-set primitives the Selector blocks on. The core treats every
// handle as opaque except for a fixed, middleware-documented shape (spec.md
// §9: "the core treats the middleware struct as opaque").
//
// Message payloads are carried as `any` throughout this package: defining
// message memory layout is an explicit non-goal (spec.md §1). A concrete
// transport (e.g. the loopback implementation in
// internal/mw/loopback) is free to require a particular payload shape of its
// own choosing via its own Create* constructors.
package mw

import (
	"context"
	"time"
)

// QoS bundles the settings controlling reliability, durability, history
// depth, lifespan, deadline and liveliness for a topic or service endpoint
// (spec.md GLOSSARY). The core only carries these across the interface; it
// never interprets them.
type QoS struct {
	Reliable       bool
	TransientLocal bool
	Depth          int
	Deadline       time.Duration
	Lifespan       time.Duration
	Liveliness     time.Duration
}

// DefaultQoS is the general-purpose profile: reliable, volatile, depth 10.
// TransientLocalQoS below is the transient-local, depth 1 profile.
func DefaultQoS() QoS { return QoS{Reliable: true, Depth: 10} }

// TransientLocalQoS is used for the action status channel.
func TransientLocalQoS() QoS {
	return QoS{Reliable: true, TransientLocal: true, Depth: 1}
}

// RequestID is the middleware-supplied correlator carrying
// {sequence_number, writer_guid} bits, preserved bit-exact across
// take_request -> send_response (spec.md §6, GLOSSARY).
type RequestID struct {
	SequenceNumber int64
	WriterGUID     [16]byte
}

// TypeSupport carries service/action/message type names purely as opaque
// strings for logging and diagnostics (recovered from
// original_source/ros2-types: ServiceTypeSupport/ActionTypeSupport). It is
// never used for wire decoding.
type TypeSupport struct {
	Name            string
	RequestName     string
	ResponseName    string
	GoalName        string
	ResultName      string
	FeedbackName    string
}

// Handle is the base opaque resource contract: construction/finalization
// pairs (spec.md GLOSSARY). Close must be safe to call from the handle's
// owning wrapper's Drop, exactly once.
type Handle interface {
	// ContextID identifies the owning context, so Selector.add_* can fail
	// silently (return false) when a handle belongs to a different context
	// (spec.md §4.3).
	ContextID() string
	Close() error
}

// SubscriptionHandle, PublisherHandle, ServiceHandle, ClientHandle,
// GuardHandle, ActionServerHandle and ActionClientHandle are the concrete
// handle kinds a wait set can hold (spec.md §3).
type (
	SubscriptionHandle interface{ Handle }
	PublisherHandle    interface{ Handle }
	ServiceHandle      interface{ Handle }
	ClientHandle       interface{ Handle }
	GuardHandle        interface{ Handle }
	ActionServerHandle interface{ Handle }
	ActionClientHandle interface{ Handle }
)

// WaitResult is the outcome of a single blocking Middleware.Wait call.
type WaitResult int

const (
	// WaitReady means the middleware wait returned with at least one
	// indicator set (or none - callers must still scan the indicator
	// arrays; spec.md §9 open question: a Timeout result inside wait_timer
	// still iterates the ready arrays, which is benign but must be handled
	// explicitly, so this type deliberately keeps Ready and Timeout
	// distinct rather than conflating them).
	WaitReady WaitResult = iota
	// WaitTimeout is the normal "nothing ready within the deadline" outcome,
	// treated as success with no ready handles (spec.md §4.3 step 5,
	// §7 "MiddlewareTimeout is normal").
	WaitTimeout
)

// EntityCounts declares how many of each kind of handle a WaitSet must be
// sized to hold, per spec.md §4.3 step 2 ("resize it to hold current entity
// counts").
type EntityCounts struct {
	Subscriptions int
	Services      int
	Clients       int
	Guards        int
	ActionServers int
	ActionClients int
}

// ActionServerReady reports which of an action server handle's three
// sub-channels (goal, cancel, result) are ready (spec.md §4.3 step 7).
type ActionServerReady struct {
	Goal, Cancel, Result bool
}

// ActionClientReady reports which of an action client handle's five
// sub-channels are ready (spec.md §4.3 step 7).
type ActionClientReady struct {
	Feedback, Status, Goal, Cancel, Result bool
}

// WaitSet is the opaque snapshot over handles a Middleware populates and
// waits on (spec.md §3 "WaitSet"). A Middleware implementation owns the
// concrete representation; Selector only drives this interface.
type WaitSet interface {
	// Resize clears and resizes the snapshot to the given counts
	// (spec.md §4.3 step 2). Same-size rule: the caller queries
	// action-server/client sub-entity counts from only the first handle of
	// each kind, trusting the middleware guarantee that all entities of a
	// kind share the same sub-entity layout.
	Resize(counts EntityCounts) error

	AddSubscription(h SubscriptionHandle) (index int, err error)
	AddService(h ServiceHandle) (index int, err error)
	AddClient(h ClientHandle) (index int, err error)
	AddGuardCondition(h GuardHandle) (index int, err error)
	AddActionServer(h ActionServerHandle) (index int, err error)
	AddActionClient(h ActionClientHandle) (index int, err error)

	// Wait blocks on the middleware for up to timeout (timeout < 0 means
	// indefinite), per spec.md §4.3 step 5.
	Wait(ctx context.Context, timeout time.Duration) (WaitResult, error)

	// The *Ready slices/accessors below are valid only immediately after a
	// Wait call, and are indexed by the position returned from the
	// corresponding Add* call.
	SubscriptionReady(index int) bool
	ServiceReady(index int) bool
	ClientReady(index int) bool
	GuardConditionReady(index int) bool
	ActionServerReadyAt(index int) ActionServerReady
	ActionClientReadyAt(index int) ActionClientReady
}

// Middleware is the root SPI (spec.md §6): handle creation/destruction, the
// wait-set primitives, and per-channel take/send.
type Middleware interface {
	NewWaitSet(ctx context.Context) (WaitSet, error)

	TakeSubscription(h SubscriptionHandle) (payload any, ok bool, err error)
	SendPublisher(h PublisherHandle, payload any) error

	TakeRequest(h ServiceHandle) (payload any, reqID RequestID, ok bool, err error)
	SendResponse(h ServiceHandle, reqID RequestID, payload any) error

	SendRequest(h ClientHandle, payload any) (RequestID, error)
	TakeResponse(h ClientHandle) (payload any, reqID RequestID, ok bool, err error)

	// Action channels. uuid identifies the goal (spec.md §3 GoalHandle).
	TakeActionGoalRequest(h ActionServerHandle) (uuid [16]byte, payload any, reqID RequestID, ok bool, err error)
	SendActionGoalResponse(h ActionServerHandle, reqID RequestID, accepted bool, stamp time.Time) error

	TakeActionCancelRequest(h ActionServerHandle) (uuid [16]byte, stamp time.Time, reqID RequestID, ok bool, err error)
	SendActionCancelResponse(h ActionServerHandle, reqID RequestID, resp ActionCancelResponse) error

	TakeActionResultRequest(h ActionServerHandle) (uuid [16]byte, reqID RequestID, ok bool, err error)
	SendActionResultResponse(h ActionServerHandle, reqID RequestID, status int32, result any) error

	SendActionFeedback(h ActionServerHandle, uuid [16]byte, feedback any) error
	SendActionStatusArray(h ActionServerHandle, statuses []ActionStatus) error

	SendActionGoalRequest(h ActionClientHandle, uuid [16]byte, goal any) (RequestID, error)
	TakeActionGoalResponse(h ActionClientHandle) (accepted bool, stamp time.Time, reqID RequestID, ok bool, err error)

	SendActionCancelRequest(h ActionClientHandle, uuid [16]byte, stamp time.Time) (RequestID, error)
	TakeActionCancelResponse(h ActionClientHandle) (resp ActionCancelResponse, reqID RequestID, ok bool, err error)

	SendActionResultRequest(h ActionClientHandle, uuid [16]byte) (RequestID, error)
	TakeActionResultResponse(h ActionClientHandle) (status int32, result any, reqID RequestID, ok bool, err error)

	TakeActionFeedback(h ActionClientHandle) (uuid [16]byte, feedback any, ok bool, err error)
	TakeActionStatusArray(h ActionClientHandle) (statuses []ActionStatus, ok bool, err error)
}

// ActionCancelResponse mirrors the cancel-request reply shape from
// spec.md §4.5.
type ActionCancelResponse struct {
	ReturnCode    CancelReturnCode
	GoalsCanceling [][16]byte
}

// CancelReturnCode enumerates the response codes spec.md §4.5 lists for
// cancel requests.
type CancelReturnCode int32

const (
	CancelReturnCodeNone CancelReturnCode = iota
	CancelReturnCodeRejected
	CancelReturnCodeUnknownGoalID
	CancelReturnCodeGoalTerminated
)

// ActionStatus is one row of a GoalStatusArray publication.
type ActionStatus struct {
	UUID  [16]byte
	State int32
}
