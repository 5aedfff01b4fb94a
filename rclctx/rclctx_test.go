package rclctx_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rclgo/rclgo/internal/clock"
	"github.com/rclgo/rclgo/internal/mw/loopback"
	"github.com/rclgo/rclgo/rclctx"
	"github.com/rclgo/rclgo/rclerr"
	"github.com/rclgo/rclgo/selector"
)

func TestHaltWakesEveryRegisteredSelector(t *testing.T) {
	bus := loopback.New()
	c := rclctx.New("ctx-1", bus, clock.System{}, nil)

	sel1, err := c.CreateSelector(context.Background())
	require.NoError(t, err)
	sel2, err := c.CreateSelector(context.Background())
	require.NoError(t, err)

	c.Halt()

	assert.ErrorIs(t, sel1.Wait(context.Background()), rclerr.ErrSignaled)
	assert.ErrorIs(t, sel2.Wait(context.Background()), rclerr.ErrSignaled)
	assert.True(t, c.Halted())
}

func TestHaltIsIdempotent(t *testing.T) {
	bus := loopback.New()
	c := rclctx.New("ctx-2", bus, clock.System{}, nil)
	c.Halt()
	assert.NotPanics(t, func() { c.Halt() })
}

func TestCreateSelectorAfterHaltIsImmediatelySignaled(t *testing.T) {
	bus := loopback.New()
	c := rclctx.New("ctx-3", bus, clock.System{}, nil)
	c.Halt()

	sel, err := c.CreateSelector(context.Background())
	require.NoError(t, err)
	assert.Error(t, sel.Wait(context.Background()))
}

func TestResolveNameAppliesLocalRemapBeforeGlobal(t *testing.T) {
	bus := loopback.New()
	c := rclctx.New("ctx-4", bus, clock.System{}, map[string]string{"/a": "/global_a"})

	assert.Equal(t, "/global_a", c.ResolveName("/a", rclctx.NodeOptions{UseGlobalArguments: true}))
	assert.Equal(t, "/a", c.ResolveName("/a", rclctx.NodeOptions{UseGlobalArguments: false}))
	assert.Equal(t, "/local_a", c.ResolveName("/a", rclctx.NodeOptions{
		Remap:              map[string]string{"/a": "/local_a"},
		UseGlobalArguments: true,
	}))
}

func TestSelectorWaitTimeoutStillWorksUnderContext(t *testing.T) {
	bus := loopback.New()
	c := rclctx.New("ctx-5", bus, clock.System{}, nil)
	sel, err := c.CreateSelector(context.Background())
	require.NoError(t, err)

	outcome, err := sel.WaitTimeout(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, selector.TimeoutExpired, outcome)
}
