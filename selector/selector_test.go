package selector_test

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rclgo/rclgo/guardcondition"
	"github.com/rclgo/rclgo/internal/clock"
	"github.com/rclgo/rclgo/internal/mw/loopback"
	"github.com/rclgo/rclgo/internal/rlog"
	"github.com/rclgo/rclgo/mw"
	"github.com/rclgo/rclgo/rclerr"
	"github.com/rclgo/rclgo/selector"
)

func newSelector(t *testing.T, bus *loopback.Bus, ctxID string) *selector.Selector {
	t.Helper()
	sel, err := selector.New(context.Background(), ctxID, bus, clock.System{})
	require.NoError(t, err)
	return sel
}

func TestAddSubscriberDrainsAllPendingMessages(t *testing.T) {
	bus := loopback.New()
	sel := newSelector(t, bus, bus.ID())

	sub := bus.CreateSubscriber("topic", mw.DefaultQoS())
	pub := bus.CreatePublisher("topic", mw.DefaultQoS())
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.SendPublisher(pub, i))
	}

	var got []int
	ok := sel.AddSubscriber(sub, func(payload any) { got = append(got, payload.(int)) })
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sel.Wait(ctx))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestAddGuardConditionFiresOnceHandlerInvokedOnTrigger(t *testing.T) {
	bus := loopback.New()
	sel := newSelector(t, bus, bus.ID())

	gc := guardcondition.New()
	defer gc.Drop()
	handle := bus.CreateGuardCondition(gc)

	var n int
	ok := sel.AddGuardCondition(handle, gc, func() { n++ }, false)
	require.True(t, ok)

	require.NoError(t, gc.Trigger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sel.Wait(ctx))
	assert.Equal(t, 1, n)
}

func TestWaitTimeoutExpiresWhenNothingReady(t *testing.T) {
	bus := loopback.New()
	sel := newSelector(t, bus, bus.ID())

	outcome, err := sel.WaitTimeout(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, selector.TimeoutExpired, outcome)
}

func TestHaltMakesWaitReturnSignaled(t *testing.T) {
	bus := loopback.New()
	sel := newSelector(t, bus, bus.ID())
	sel.Halt()

	err := sel.Wait(context.Background())
	assert.ErrorIs(t, err, rclerr.ErrSignaled)
}

func TestWaitLogsDiagnosticWhenBlockingTimeoutSaturates(t *testing.T) {
	bus := loopback.New()
	clk := clock.NewManual(time.Unix(0, 0))
	sel, err := selector.New(context.Background(), bus.ID(), bus, clk)
	require.NoError(t, err)

	var buf bytes.Buffer
	sel.SetLogger(rlog.New(&buf, logiface.LevelWarning), time.Minute, 10)

	// A delay of math.MaxInt64 ns is the largest representable
	// time.Duration, so the head timer's absolute fire time sits exactly at
	// the boundary spec.md §4.3 step 4 calls out: timerlist.FrontAbsolute()
	// minus clk.Now() saturates to that same max duration.
	sel.AddTimer(time.Duration(math.MaxInt64), func() {})

	// The diagnostic is logged synchronously while computing the blocking
	// timeout, before Wait ever calls into the wait-set, so a short ctx
	// deadline (which Wait surfaces as an error once it actually blocks) does
	// not race the assertion below.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = sel.Wait(ctx)
	assert.Error(t, err)

	assert.Contains(t, buf.String(), "blocking timeout saturated to max duration")
}

func TestAddWallTimerReloadsAfterEachFire(t *testing.T) {
	bus := loopback.New()
	sel := newSelector(t, bus, bus.ID())

	var fires int
	sel.AddWallTimer("tick", 5*time.Millisecond, func() { fires++ })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for fires < 3 {
		require.NoError(t, sel.Wait(ctx))
	}
	assert.GreaterOrEqual(t, fires, 3)
}
