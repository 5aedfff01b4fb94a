package action

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/joeycumines/go-longpoll"

	"github.com/rclgo/rclgo/mw"
)

// goalResponse and its cancel/result siblings are what a mismatched-sequence
// take gets stashed as, keyed by the sequence number that arrived instead of
// the one the caller asked for.
type goalResponse struct {
	accepted bool
	stamp    time.Time
}

type resultResponse struct {
	status int32
	result any
}

// ActionClientBundle is the five-channel client correlator from spec.md
// §4.6: goal, cancel and result requests are matched to their response by
// sequence number; feedback and the status array are unfiltered streams.
// Every accessor follows the mw take/send (value..., ok, err) shape rather
// than introducing a separate receive-kind enum.
//
// Concurrent goals share the same client handle and therefore the same
// underlying response channel (spec.md §4.5 "uniqueness across concurrent
// goals"), so a TryRecv* for sequence A may first observe sequence B's
// response sitting ahead of it in the queue. Per spec.md §4.6 that is
// RetryLater, not a match: the non-matching envelope is stashed here rather
// than discarded, so a later call for sequence B still observes it.
type ActionClientBundle struct {
	middle mw.Middleware
	handle mw.ActionClientHandle

	mu          sync.Mutex
	goalStash   map[int64]goalResponse
	cancelStash map[int64]mw.ActionCancelResponse
	resultStash map[int64]resultResponse
}

// NewActionClientBundle wraps an action client handle already created on
// middle.
func NewActionClientBundle(middle mw.Middleware, handle mw.ActionClientHandle) *ActionClientBundle {
	return &ActionClientBundle{
		middle:      middle,
		handle:      handle,
		goalStash:   make(map[int64]goalResponse),
		cancelStash: make(map[int64]mw.ActionCancelResponse),
		resultStash: make(map[int64]resultResponse),
	}
}

// SendGoal sends a goal request and returns the sequence number correlating
// the eventual TryRecvGoalResponse.
func (b *ActionClientBundle) SendGoal(uuid [16]byte, goal any) (int64, error) {
	reqID, err := b.middle.SendActionGoalRequest(b.handle, uuid, goal)
	if err != nil {
		return 0, err
	}
	return reqID.SequenceNumber, nil
}

// TryRecvGoalResponse drains pending goal responses until it finds the one
// correlating with expectedSeq (spec.md §4.6: ok only if
// header.sequence_number == expectedSeq), RetryLater (ok=false, err=nil) if
// the queue runs dry first. Responses for other in-flight goals encountered
// along the way are stashed, not dropped.
func (b *ActionClientBundle) TryRecvGoalResponse(expectedSeq int64) (accepted bool, stamp time.Time, reqID mw.RequestID, ok bool, err error) {
	b.mu.Lock()
	if env, found := b.goalStash[expectedSeq]; found {
		delete(b.goalStash, expectedSeq)
		b.mu.Unlock()
		return env.accepted, env.stamp, mw.RequestID{SequenceNumber: expectedSeq}, true, nil
	}
	b.mu.Unlock()

	for {
		acc, st, id, gotOK, e := b.middle.TakeActionGoalResponse(b.handle)
		if e != nil || !gotOK {
			return false, time.Time{}, mw.RequestID{}, false, e
		}
		if id.SequenceNumber == expectedSeq {
			return acc, st, id, true, nil
		}
		b.mu.Lock()
		b.goalStash[id.SequenceNumber] = goalResponse{accepted: acc, stamp: st}
		b.mu.Unlock()
	}
}

// SendCancelRequest sends a cancel request. A zero uuid cancels by stamp
// filter (or all goals, if stamp is also zero), matching spec.md §4.5's
// server-side filter semantics.
func (b *ActionClientBundle) SendCancelRequest(uuid [16]byte, stamp time.Time) (int64, error) {
	reqID, err := b.middle.SendActionCancelRequest(b.handle, uuid, stamp)
	if err != nil {
		return 0, err
	}
	return reqID.SequenceNumber, nil
}

// TryRecvCancelResponse drains pending cancel responses until it finds the
// one correlating with expectedSeq, the same RetryLater/stash discipline as
// TryRecvGoalResponse.
func (b *ActionClientBundle) TryRecvCancelResponse(expectedSeq int64) (resp mw.ActionCancelResponse, reqID mw.RequestID, ok bool, err error) {
	b.mu.Lock()
	if env, found := b.cancelStash[expectedSeq]; found {
		delete(b.cancelStash, expectedSeq)
		b.mu.Unlock()
		return env, mw.RequestID{SequenceNumber: expectedSeq}, true, nil
	}
	b.mu.Unlock()

	for {
		r, id, gotOK, e := b.middle.TakeActionCancelResponse(b.handle)
		if e != nil || !gotOK {
			return mw.ActionCancelResponse{}, mw.RequestID{}, false, e
		}
		if id.SequenceNumber == expectedSeq {
			return r, id, true, nil
		}
		b.mu.Lock()
		b.cancelStash[id.SequenceNumber] = r
		b.mu.Unlock()
	}
}

// SendResultRequest sends a result request for uuid.
func (b *ActionClientBundle) SendResultRequest(uuid [16]byte) (int64, error) {
	reqID, err := b.middle.SendActionResultRequest(b.handle, uuid)
	if err != nil {
		return 0, err
	}
	return reqID.SequenceNumber, nil
}

// TryRecvResultResponse drains pending result responses until it finds the
// one correlating with expectedSeq, the same RetryLater/stash discipline as
// TryRecvGoalResponse.
func (b *ActionClientBundle) TryRecvResultResponse(expectedSeq int64) (status int32, result any, reqID mw.RequestID, ok bool, err error) {
	b.mu.Lock()
	if env, found := b.resultStash[expectedSeq]; found {
		delete(b.resultStash, expectedSeq)
		b.mu.Unlock()
		return env.status, env.result, mw.RequestID{SequenceNumber: expectedSeq}, true, nil
	}
	b.mu.Unlock()

	for {
		st, res, id, gotOK, e := b.middle.TakeActionResultResponse(b.handle)
		if e != nil || !gotOK {
			return 0, nil, mw.RequestID{}, false, e
		}
		if id.SequenceNumber == expectedSeq {
			return st, res, id, true, nil
		}
		b.mu.Lock()
		b.resultStash[id.SequenceNumber] = resultResponse{status: st, result: res}
		b.mu.Unlock()
	}
}

// TryRecvFeedback drains one pending feedback message. Feedback is an
// unfiltered stream: any uuid may arrive, not just the caller's own goal.
func (b *ActionClientBundle) TryRecvFeedback() (uuid [16]byte, feedback any, ok bool, err error) {
	return b.middle.TakeActionFeedback(b.handle)
}

// TryRecvStatusArray drains one pending goal-status-array publication.
func (b *ActionClientBundle) TryRecvStatusArray() (statuses []mw.ActionStatus, ok bool, err error) {
	return b.middle.TakeActionStatusArray(b.handle)
}

// Feedback pairs one TryRecvFeedback result for RecvFeedbackBatch.
type Feedback struct {
	UUID     [16]byte
	Feedback any
}

// RecvFeedbackBatch blocks until cfg's MinSize values are collected, its
// MaxSize is reached, or ctx is cancelled, returning everything gathered so
// far - a recv_timeout-style bounded batch wrapper around the unfiltered
// feedback stream, built on longpoll.Channel's bounded multi-value receive
// (cfg may be nil for its documented defaults).
func (b *ActionClientBundle) RecvFeedbackBatch(ctx context.Context, cfg *longpoll.ChannelConfig) ([]Feedback, error) {
	ch := make(chan Feedback)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			uuid, fb, ok, err := b.middle.TakeActionFeedback(b.handle)
			if err != nil {
				return
			}
			if !ok {
				select {
				case <-done:
					return
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
					continue
				}
			}
			select {
			case ch <- Feedback{UUID: uuid, Feedback: fb}:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var batch []Feedback
	err := longpoll.Channel(ctx, cfg, ch, func(v Feedback) error {
		batch = append(batch, v)
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return batch, err
	}
	return batch, nil
}
