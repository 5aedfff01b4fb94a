package parameter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rclgo/rclgo/internal/clock"
	"github.com/rclgo/rclgo/internal/mw/loopback"
	"github.com/rclgo/rclgo/mw"
	"github.com/rclgo/rclgo/parameter"
)

func newServer(t *testing.T) (*loopback.Bus, *parameter.ParameterServer) {
	t.Helper()
	bus := loopback.New()
	store := parameter.NewStore()
	store.Declare("speed", parameter.IntValue(1), parameter.Descriptor{})
	srv, err := parameter.New(context.Background(), "test", bus, clock.System{}, "/params", store)
	require.NoError(t, err)
	t.Cleanup(srv.Halt)
	return bus, srv
}

func callService[Req, Resp any](t *testing.T, bus *loopback.Bus, name string, req Req) Resp {
	t.Helper()
	cli := bus.CreateClient(name)
	_, err := bus.SendRequest(cli, req)
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if payload, _, ok, err := bus.TakeResponse(cli); err == nil && ok {
			resp, ok := payload.(Resp)
			require.True(t, ok)
			return resp
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no response from %s", name)
	panic("unreachable")
}

func TestGetParametersReturnsCurrentValue(t *testing.T) {
	bus, _ := newServer(t)
	resp := callService[parameter.GetParametersRequest, parameter.GetParametersResponse](
		t, bus, "/params/get_parameters", parameter.GetParametersRequest{Names: []string{"speed"}})
	require.Len(t, resp.Values, 1)
	assert.Equal(t, int64(1), resp.Values[0].Integer)
}

func TestSetParametersAppliesAndTriggersChanged(t *testing.T) {
	bus, srv := newServer(t)
	resp := callService[parameter.SetParametersRequest, parameter.SetParametersResponse](
		t, bus, "/params/set_parameters", parameter.SetParametersRequest{
			Parameters: []parameter.NamedValue{{Name: "speed", Value: parameter.IntValue(9)}},
		})
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Successful)

	v, ok := srv.Store().Get("speed")
	require.True(t, ok)
	assert.Equal(t, int64(9), v.Value.Integer)

	assert.True(t, srv.ChangedGuardCondition().TakeTriggered())
	assert.Equal(t, []string{"speed"}, srv.Store().TakeUpdated())
}

func TestSetParametersAtomicallyRejectsOnTypeMismatch(t *testing.T) {
	bus, srv := newServer(t)
	resp := callService[parameter.SetParametersAtomicallyRequest, parameter.SetParametersAtomicallyResponse](
		t, bus, "/params/set_parameters_atomically", parameter.SetParametersAtomicallyRequest{
			Parameters: []parameter.NamedValue{{Name: "speed", Value: parameter.StringValue("fast")}},
		})
	assert.False(t, resp.Result.Successful)
	assert.Equal(t, "failed type checking: dst=int, src=string", resp.Result.Reason)

	v, _ := srv.Store().Get("speed")
	assert.Equal(t, int64(1), v.Value.Integer)
}

func TestListParametersReturnsDeclaredNames(t *testing.T) {
	bus, _ := newServer(t)
	resp := callService[parameter.ListParametersRequest, parameter.ListParametersResponse](
		t, bus, "/params/list_parameters", parameter.ListParametersRequest{})
	assert.Equal(t, []string{"speed"}, resp.Names)
}

func TestDescribeParametersReportsDescriptor(t *testing.T) {
	bus, _ := newServer(t)
	resp := callService[parameter.DescribeParametersRequest, parameter.DescribeParametersResponse](
		t, bus, "/params/describe_parameters", parameter.DescribeParametersRequest{Names: []string{"speed", "missing"}})
	require.Len(t, resp.Descriptors, 2)
	assert.True(t, resp.Descriptors[0].OK)
	assert.False(t, resp.Descriptors[1].OK)
}

func TestGetParameterTypesReportsKind(t *testing.T) {
	bus, _ := newServer(t)
	resp := callService[parameter.GetParameterTypesRequest, parameter.GetParameterTypesResponse](
		t, bus, "/params/get_parameter_types", parameter.GetParameterTypesRequest{Names: []string{"speed"}})
	assert.Equal(t, []parameter.Kind{parameter.KindInteger}, resp.Types)
}

func TestHaltStopsBackgroundGoroutine(t *testing.T) {
	bus := loopback.New()
	store := parameter.NewStore()
	srv, err := parameter.New(context.Background(), "test", bus, clock.System{}, "/params2", store)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		srv.Halt()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Halt did not return")
	}
}

var _ mw.Middleware = (*loopback.Bus)(nil)
