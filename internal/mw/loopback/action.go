package loopback

import (
	"fmt"
	"sync"
	"time"

	"github.com/rclgo/rclgo/mw"
)

// actionBus is the five-channel backbone for one action name: three
// request/response channels the server takes from and responds on (goal,
// cancel, result) and two broadcast channels the server publishes on and
// every registered client receives (feedback, status).
type actionBus struct {
	name string

	mu      sync.Mutex
	nextSeq int64

	goalReqCh   chan actionGoalReq
	cancelReqCh chan actionCancelReq
	resultReqCh chan actionResultReq
	signal      chan struct{} // server-side readiness

	goalPending   map[int64]chan actionGoalResp
	cancelPending map[int64]chan actionCancelResp
	resultPending map[int64]chan actionResultResp

	clients []*actionClientHandle
}

type actionGoalReq struct {
	uuid    [16]byte
	payload any
	reqID   mw.RequestID
	respCh  chan actionGoalResp
}
type actionGoalResp struct {
	accepted bool
	stamp    time.Time
	reqID    mw.RequestID
}

type actionCancelReq struct {
	uuid   [16]byte
	stamp  time.Time
	reqID  mw.RequestID
	respCh chan actionCancelResp
}
type actionCancelResp struct {
	resp  mw.ActionCancelResponse
	reqID mw.RequestID
}

type actionResultReq struct {
	uuid   [16]byte
	reqID  mw.RequestID
	respCh chan actionResultResp
}
type actionResultResp struct {
	status int32
	result any
	reqID  mw.RequestID
}

type feedbackEnvelope struct {
	uuid    [16]byte
	payload any
}

func (b *Bus) actionFor(name string) *actionBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.actions[name]
	if !ok {
		a = &actionBus{
			name:          name,
			goalReqCh:     make(chan actionGoalReq, 64),
			cancelReqCh:   make(chan actionCancelReq, 64),
			resultReqCh:   make(chan actionResultReq, 64),
			signal:        newSignal(),
			goalPending:   make(map[int64]chan actionGoalResp),
			cancelPending: make(map[int64]chan actionCancelResp),
			resultPending: make(map[int64]chan actionResultResp),
		}
		b.actions[name] = a
	}
	return a
}

func (a *actionBus) seq() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSeq++
	return a.nextSeq
}

type actionServerHandle struct {
	handleBase
	act *actionBus
}

type actionClientHandle struct {
	handleBase
	act          *actionBus
	goalRespCh   chan actionGoalResp
	cancelRespCh chan actionCancelResp
	resultRespCh chan actionResultResp
	feedbackCh   chan feedbackEnvelope
	statusCh     chan []mw.ActionStatus
	signal       chan struct{}
}

// CreateActionServer registers a server handle for the named action.
func (b *Bus) CreateActionServer(name string) mw.ActionServerHandle {
	h := &actionServerHandle{act: b.actionFor(name)}
	h.bus = b
	return h
}

// CreateActionClient registers a client handle for the named action.
func (b *Bus) CreateActionClient(name string) mw.ActionClientHandle {
	ab := b.actionFor(name)
	h := &actionClientHandle{
		act:          ab,
		goalRespCh:   make(chan actionGoalResp, 16),
		cancelRespCh: make(chan actionCancelResp, 16),
		resultRespCh: make(chan actionResultResp, 16),
		feedbackCh:   make(chan feedbackEnvelope, 64),
		statusCh:     make(chan []mw.ActionStatus, 16),
		signal:       newSignal(),
	}
	h.bus = b
	ab.mu.Lock()
	ab.clients = append(ab.clients, h)
	ab.mu.Unlock()
	return h
}

// ---- server side ----

func (b *Bus) TakeActionGoalRequest(h mw.ActionServerHandle) ([16]byte, any, mw.RequestID, bool, error) {
	s := h.(*actionServerHandle)
	select {
	case env := <-s.act.goalReqCh:
		s.act.mu.Lock()
		s.act.goalPending[env.reqID.SequenceNumber] = env.respCh
		s.act.mu.Unlock()
		return env.uuid, env.payload, env.reqID, true, nil
	default:
		return [16]byte{}, nil, mw.RequestID{}, false, nil
	}
}

func (b *Bus) SendActionGoalResponse(h mw.ActionServerHandle, reqID mw.RequestID, accepted bool, stamp time.Time) error {
	s := h.(*actionServerHandle)
	s.act.mu.Lock()
	respCh, ok := s.act.goalPending[reqID.SequenceNumber]
	delete(s.act.goalPending, reqID.SequenceNumber)
	s.act.mu.Unlock()
	if !ok {
		return fmt.Errorf("loopback: no pending goal request for sequence %d", reqID.SequenceNumber)
	}
	respCh <- actionGoalResp{accepted: accepted, stamp: stamp, reqID: reqID}
	return nil
}

func (b *Bus) TakeActionCancelRequest(h mw.ActionServerHandle) ([16]byte, time.Time, mw.RequestID, bool, error) {
	s := h.(*actionServerHandle)
	select {
	case env := <-s.act.cancelReqCh:
		s.act.mu.Lock()
		s.act.cancelPending[env.reqID.SequenceNumber] = env.respCh
		s.act.mu.Unlock()
		return env.uuid, env.stamp, env.reqID, true, nil
	default:
		return [16]byte{}, time.Time{}, mw.RequestID{}, false, nil
	}
}

func (b *Bus) SendActionCancelResponse(h mw.ActionServerHandle, reqID mw.RequestID, resp mw.ActionCancelResponse) error {
	s := h.(*actionServerHandle)
	s.act.mu.Lock()
	respCh, ok := s.act.cancelPending[reqID.SequenceNumber]
	delete(s.act.cancelPending, reqID.SequenceNumber)
	s.act.mu.Unlock()
	if !ok {
		return fmt.Errorf("loopback: no pending cancel request for sequence %d", reqID.SequenceNumber)
	}
	respCh <- actionCancelResp{resp: resp, reqID: reqID}
	return nil
}

func (b *Bus) TakeActionResultRequest(h mw.ActionServerHandle) ([16]byte, mw.RequestID, bool, error) {
	s := h.(*actionServerHandle)
	select {
	case env := <-s.act.resultReqCh:
		s.act.mu.Lock()
		s.act.resultPending[env.reqID.SequenceNumber] = env.respCh
		s.act.mu.Unlock()
		return env.uuid, env.reqID, true, nil
	default:
		return [16]byte{}, mw.RequestID{}, false, nil
	}
}

func (b *Bus) SendActionResultResponse(h mw.ActionServerHandle, reqID mw.RequestID, status int32, result any) error {
	s := h.(*actionServerHandle)
	s.act.mu.Lock()
	respCh, ok := s.act.resultPending[reqID.SequenceNumber]
	delete(s.act.resultPending, reqID.SequenceNumber)
	s.act.mu.Unlock()
	if !ok {
		return fmt.Errorf("loopback: no pending result request for sequence %d", reqID.SequenceNumber)
	}
	respCh <- actionResultResp{status: status, result: result, reqID: reqID}
	return nil
}

func (b *Bus) SendActionFeedback(h mw.ActionServerHandle, uuid [16]byte, feedback any) error {
	s := h.(*actionServerHandle)
	s.act.mu.Lock()
	clients := append([]*actionClientHandle(nil), s.act.clients...)
	s.act.mu.Unlock()
	for _, c := range clients {
		select {
		case c.feedbackCh <- feedbackEnvelope{uuid: uuid, payload: feedback}:
		default:
		}
		pingSignal(c.signal)
	}
	return nil
}

func (b *Bus) SendActionStatusArray(h mw.ActionServerHandle, statuses []mw.ActionStatus) error {
	s := h.(*actionServerHandle)
	s.act.mu.Lock()
	clients := append([]*actionClientHandle(nil), s.act.clients...)
	s.act.mu.Unlock()
	for _, c := range clients {
		select {
		case c.statusCh <- statuses:
		default:
			select {
			case <-c.statusCh:
			default:
			}
			select {
			case c.statusCh <- statuses:
			default:
			}
		}
		pingSignal(c.signal)
	}
	return nil
}

// ---- client side ----

func (b *Bus) SendActionGoalRequest(h mw.ActionClientHandle, uuid [16]byte, goal any) (mw.RequestID, error) {
	c := h.(*actionClientHandle)
	reqID := mw.RequestID{SequenceNumber: c.act.seq()}
	select {
	case c.act.goalReqCh <- actionGoalReq{uuid: uuid, payload: goal, reqID: reqID, respCh: c.goalRespCh}:
	default:
		return mw.RequestID{}, fmt.Errorf("loopback: action %q goal queue full", c.act.name)
	}
	pingSignal(c.act.signal)
	return reqID, nil
}

func (b *Bus) TakeActionGoalResponse(h mw.ActionClientHandle) (bool, time.Time, mw.RequestID, bool, error) {
	c := h.(*actionClientHandle)
	select {
	case env := <-c.goalRespCh:
		return env.accepted, env.stamp, env.reqID, true, nil
	default:
		return false, time.Time{}, mw.RequestID{}, false, nil
	}
}

func (b *Bus) SendActionCancelRequest(h mw.ActionClientHandle, uuid [16]byte, stamp time.Time) (mw.RequestID, error) {
	c := h.(*actionClientHandle)
	reqID := mw.RequestID{SequenceNumber: c.act.seq()}
	select {
	case c.act.cancelReqCh <- actionCancelReq{uuid: uuid, stamp: stamp, reqID: reqID, respCh: c.cancelRespCh}:
	default:
		return mw.RequestID{}, fmt.Errorf("loopback: action %q cancel queue full", c.act.name)
	}
	pingSignal(c.act.signal)
	return reqID, nil
}

func (b *Bus) TakeActionCancelResponse(h mw.ActionClientHandle) (mw.ActionCancelResponse, mw.RequestID, bool, error) {
	c := h.(*actionClientHandle)
	select {
	case env := <-c.cancelRespCh:
		return env.resp, env.reqID, true, nil
	default:
		return mw.ActionCancelResponse{}, mw.RequestID{}, false, nil
	}
}

func (b *Bus) SendActionResultRequest(h mw.ActionClientHandle, uuid [16]byte) (mw.RequestID, error) {
	c := h.(*actionClientHandle)
	reqID := mw.RequestID{SequenceNumber: c.act.seq()}
	select {
	case c.act.resultReqCh <- actionResultReq{uuid: uuid, reqID: reqID, respCh: c.resultRespCh}:
	default:
		return mw.RequestID{}, fmt.Errorf("loopback: action %q result queue full", c.act.name)
	}
	pingSignal(c.act.signal)
	return reqID, nil
}

func (b *Bus) TakeActionResultResponse(h mw.ActionClientHandle) (int32, any, mw.RequestID, bool, error) {
	c := h.(*actionClientHandle)
	select {
	case env := <-c.resultRespCh:
		return env.status, env.result, env.reqID, true, nil
	default:
		return 0, nil, mw.RequestID{}, false, nil
	}
}

func (b *Bus) TakeActionFeedback(h mw.ActionClientHandle) ([16]byte, any, bool, error) {
	c := h.(*actionClientHandle)
	select {
	case env := <-c.feedbackCh:
		return env.uuid, env.payload, true, nil
	default:
		return [16]byte{}, nil, false, nil
	}
}

func (b *Bus) TakeActionStatusArray(h mw.ActionClientHandle) ([]mw.ActionStatus, bool, error) {
	c := h.(*actionClientHandle)
	select {
	case env := <-c.statusCh:
		return env, true, nil
	default:
		return nil, false, nil
	}
}
