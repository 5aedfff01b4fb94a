package asyncselector_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rclgo/rclgo/asyncselector"
	"github.com/rclgo/rclgo/internal/clock"
	"github.com/rclgo/rclgo/internal/mw/loopback"
	"github.com/rclgo/rclgo/mw"
)

const contextID = "test-ctx"

func TestRecvSubscriptionReturnsImmediatelyWhenAlreadyAvailable(t *testing.T) {
	bus := loopback.New()
	bridge := asyncselector.NewBridge()
	sub := bus.CreateSubscriber("topic", mw.DefaultQoS())
	pub := bus.CreatePublisher("topic", mw.DefaultQoS())
	require.NoError(t, bus.SendPublisher(pub, "hello"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := asyncselector.RecvSubscription(ctx, bridge, contextID, bus, clock.System{}, sub)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestRecvSubscriptionBlocksUntilMessageArrives(t *testing.T) {
	bus := loopback.New()
	bridge := asyncselector.NewBridge()
	sub := bus.CreateSubscriber("topic", mw.DefaultQoS())
	pub := bus.CreatePublisher("topic", mw.DefaultQoS())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := asyncselector.RecvSubscription(ctx, bridge, contextID, bus, clock.System{}, sub)
		done <- result{v, err}
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bus.SendPublisher(pub, "later"))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "later", r.v)
	case <-time.After(time.Second):
		t.Fatal("RecvSubscription did not unblock")
	}
}

func TestRecvSubscriptionReturnsContextErrorOnCancel(t *testing.T) {
	bus := loopback.New()
	bridge := asyncselector.NewBridge()
	sub := bus.CreateSubscriber("topic", mw.DefaultQoS())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := asyncselector.RecvSubscription(ctx, bridge, contextID, bus, clock.System{}, sub)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RecvSubscription did not return after cancel")
	}
}

func TestRecvRequestDeliversPayloadAndRequestID(t *testing.T) {
	bus := loopback.New()
	bridge := asyncselector.NewBridge()
	srv := bus.CreateServer("svc")
	cli := bus.CreateClient("svc")

	_, err := bus.SendRequest(cli, "ping")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, reqID, err := asyncselector.RecvRequest(ctx, bridge, contextID, bus, clock.System{}, srv)
	require.NoError(t, err)
	assert.Equal(t, "ping", payload)
	assert.NotZero(t, reqID.SequenceNumber)
}

func TestRecvResponseIgnoresWrongSequenceNumber(t *testing.T) {
	bus := loopback.New()
	bridge := asyncselector.NewBridge()
	srv := bus.CreateServer("svc")
	cli := bus.CreateClient("svc")

	seq1, err := bus.SendRequest(cli, "first")
	require.NoError(t, err)
	_, err = bus.SendRequest(cli, "second")
	require.NoError(t, err)

	_, reqID1, ok, err := bus.TakeRequest(srv)
	require.NoError(t, err)
	require.True(t, ok)
	_, reqID2, ok, err := bus.TakeRequest(srv)
	require.NoError(t, err)
	require.True(t, ok)

	// Answer the second request first: the client's inbound channel now
	// carries a response whose sequence number does not match seq1, which
	// RecvResponse must skip rather than return.
	require.NoError(t, bus.SendResponse(srv, reqID2, "second-reply"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := asyncselector.RecvResponse(ctx, bridge, contextID, bus, clock.System{}, cli, seq1.SequenceNumber)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("RecvResponse returned early with %v/%v before the matching sequence arrived", r.v, r.err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, bus.SendResponse(srv, reqID1, "first-reply"))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "first-reply", r.v)
	case <-time.After(time.Second):
		t.Fatal("RecvResponse did not unblock after the matching sequence arrived")
	}
}

func TestBridgeHaltIsIdempotentAndLaterRecvStartsFreshWorker(t *testing.T) {
	bus := loopback.New()
	bridge := asyncselector.NewBridge()
	sub := bus.CreateSubscriber("topic", mw.DefaultQoS())
	pub := bus.CreatePublisher("topic", mw.DefaultQoS())
	haltCtxID := contextID + "-halt"

	// Halting a context with no worker yet is a no-op.
	bridge.Halt(haltCtxID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.SendPublisher(pub, "before halt"))
	v, err := asyncselector.RecvSubscription(ctx, bridge, haltCtxID, bus, clock.System{}, sub)
	require.NoError(t, err)
	assert.Equal(t, "before halt", v)

	// Halt tears the worker down; calling it twice must not panic.
	bridge.Halt(haltCtxID)
	bridge.Halt(haltCtxID)

	// A later recv on the same contextID spins up a fresh worker.
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, bus.SendPublisher(pub, "after halt"))
	v, err = asyncselector.RecvSubscription(ctx2, bridge, haltCtxID, bus, clock.System{}, sub)
	require.NoError(t, err)
	assert.Equal(t, "after halt", v)
}
