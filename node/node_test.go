package node_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rclgo/rclgo/internal/clock"
	"github.com/rclgo/rclgo/internal/mw/loopback"
	"github.com/rclgo/rclgo/mw"
	"github.com/rclgo/rclgo/node"
	"github.com/rclgo/rclgo/rclctx"
)

func newNode(t *testing.T, id string) (*loopback.Bus, *node.Node) {
	t.Helper()
	bus := loopback.New()
	c := rclctx.New(id, bus, clock.System{}, nil)
	return bus, node.New(c, bus, "talker", "/", rclctx.NodeOptions{})
}

func TestSubscriberTryRecv(t *testing.T) {
	bus, n := newNode(t, "n1")
	sub := node.CreateSubscriber[string](n, "chatter", mw.DefaultQoS())
	_, ok, err := sub.TryRecv()
	require.NoError(t, err)
	assert.False(t, ok)

	pub := bus.CreatePublisher("chatter", mw.DefaultQoS())
	require.NoError(t, bus.SendPublisher(pub, "hello"))

	v, ok, err := sub.TryRecv()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestPublisherSendReachesSubscriber(t *testing.T) {
	_, n := newNode(t, "n2")
	pub := node.CreatePublisher[string](n, "chatter", mw.DefaultQoS())
	sub := node.CreateSubscriber[string](n, "chatter", mw.DefaultQoS())

	require.NoError(t, pub.Send("ping"))
	v, ok, err := sub.TryRecv()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ping", v)
}

func TestSubscriberRecvTimeoutExpiresWithoutAMessage(t *testing.T) {
	_, n := newNode(t, "n3")
	sub := node.CreateSubscriber[string](n, "chatter", mw.DefaultQoS())
	sel, err := n.CreateSelector(context.Background())
	require.NoError(t, err)

	_, ok, err := sub.RecvTimeout(context.Background(), sel, 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscriberRecvTimeoutReturnsAPublishedMessage(t *testing.T) {
	bus, n := newNode(t, "n4")
	sub := node.CreateSubscriber[string](n, "chatter", mw.DefaultQoS())
	sel, err := n.CreateSelector(context.Background())
	require.NoError(t, err)

	pub := bus.CreatePublisher("chatter", mw.DefaultQoS())
	require.NoError(t, bus.SendPublisher(pub, "already here"))

	v, ok, err := sub.RecvTimeout(context.Background(), sel, 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "already here", v)
}

func TestSubscriberRecvBlocksUntilCancelled(t *testing.T) {
	_, n := newNode(t, "n5")
	sub := node.CreateSubscriber[string](n, "chatter", mw.DefaultQoS())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := sub.Recv(ctx)
	assert.Error(t, err)
}

func TestServerClientRoundTrip(t *testing.T) {
	_, n := newNode(t, "n6")
	srv := node.CreateServer[string, string](n, "echo", mw.DefaultQoS())
	cli := node.CreateClient[string, string](n, "echo", mw.DefaultQoS())

	seq, err := cli.Send("ask")
	require.NoError(t, err)

	req, reqID, ok, err := srv.TryRecv()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ask", req)
	require.NoError(t, srv.Respond(reqID, "answer: "+req))

	resp, reqID2, ok, err := cli.TryRecv()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, seq, reqID2.SequenceNumber)
	assert.Equal(t, "answer: ask", resp)
}

func TestTimerFiresOnce(t *testing.T) {
	_, n := newNode(t, "n7")
	sel, err := n.CreateSelector(context.Background())
	require.NoError(t, err)

	var fired int
	n.CreateTimer(sel, 5*time.Millisecond, func() { fired++ })

	require.NoError(t, sel.Wait(context.Background()))
	assert.Equal(t, 1, fired)
}
