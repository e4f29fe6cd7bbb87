package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labrig/labrig-go/internal/devicetest"
	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/transport"
	"github.com/labrig/labrig-go/pkg/trigger"
	"github.com/labrig/labrig-go/pkg/wire"
)

type fixture struct {
	srv     *Server
	core    *device.Core
	adapter *devicetest.Adapter
}

func startServer(t *testing.T) *fixture {
	t.Helper()
	a := devicetest.NewAdapter("cam0", model.CapCamera)
	core, err := device.New(device.Config{Adapter: a, BufferCapacity: 4})
	require.NoError(t, err)
	require.NoError(t, core.Start(context.Background()))
	t.Cleanup(func() { core.Detach(context.Background()) })

	srv, err := New(Config{ServerID: "bench-1", Address: "127.0.0.1:0"}, core)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })

	return &fixture{srv: srv, core: core, adapter: a}
}

// wireClient is a raw protocol client. Calls from one wireClient must not
// overlap.
type wireClient struct {
	t    *testing.T
	conn *transport.ClientConn
	next uint32
}

func dial(t *testing.T, srv *Server) *wireClient {
	t.Helper()
	c, err := transport.NewClient(transport.ClientConfig{})
	require.NoError(t, err)
	conn, err := c.Connect(context.Background(), srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wireClient{t: t, conn: conn}
}

func (c *wireClient) send(op wire.Operation, dev string, payload any) uint32 {
	c.t.Helper()
	c.next++
	raw, err := wire.EncodePayload(payload)
	require.NoError(c.t, err)
	data, err := wire.EncodeRequest(&wire.Request{MessageID: c.next, Operation: op, Device: dev, Payload: raw})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.Send(data))
	return c.next
}

func (c *wireClient) receive(timeout time.Duration) (*wire.Response, error) {
	data, err := c.conn.Receive(timeout)
	if err != nil {
		return nil, err
	}
	return wire.DecodeResponse(data)
}

func (c *wireClient) mustReceive() *wire.Response {
	c.t.Helper()
	resp, err := c.receive(2 * time.Second)
	require.NoError(c.t, err)
	return resp
}

func (c *wireClient) call(op wire.Operation, dev string, payload any) *wire.Response {
	c.t.Helper()
	id := c.send(op, dev, payload)
	resp := c.mustReceive()
	require.Equal(c.t, id, resp.MessageID)
	return resp
}

func TestHelloReturnsDescriptions(t *testing.T) {
	f := startServer(t)
	c := dial(t, f.srv)

	resp := c.call(wire.OpHello, "", wire.HelloRequest{Client: "notebook", Version: wire.ProtocolVersion})
	require.True(t, resp.IsSuccess(), resp.Err())

	var hello wire.HelloResponse
	require.NoError(t, wire.Unmarshal(resp.Payload, &hello))
	assert.Equal(t, "bench-1", hello.ServerID)
	require.Len(t, hello.Devices, 1)
	assert.Equal(t, "cam0", hello.Devices[0].DeviceID)
	assert.True(t, hello.Devices[0].Capabilities.Has(model.CapAcquisition))
	assert.Equal(t, 4, hello.Devices[0].BufferCapacity)

	require.Eventually(t, func() bool {
		s := f.srv.Sessions()
		return len(s) == 1 && s[0].Client == "notebook"
	}, time.Second, 10*time.Millisecond)
}

func TestHelloRejectsNewerVersion(t *testing.T) {
	f := startServer(t)
	c := dial(t, f.srv)

	resp := c.call(wire.OpHello, "", wire.HelloRequest{Version: wire.ProtocolVersion + 1})
	assert.ErrorIs(t, resp.Err(), model.ErrInvalidRequest)
}

func TestUnknownDevice(t *testing.T) {
	f := startServer(t)
	c := dial(t, f.srv)

	resp := c.call(wire.OpState, "cam9", nil)
	assert.ErrorIs(t, resp.Err(), model.ErrUnknownDevice)
}

func TestMalformedRequest(t *testing.T) {
	f := startServer(t)
	c := dial(t, f.srv)

	// Operation 99 does not exist; EncodeRequest would refuse it.
	data, err := wire.Marshal(&wire.Request{MessageID: 7, Operation: 99, Device: "cam0"})
	require.NoError(t, err)
	require.NoError(t, c.conn.Send(data))

	resp := c.mustReceive()
	assert.Equal(t, uint32(7), resp.MessageID)
	assert.ErrorIs(t, resp.Err(), model.ErrInvalidRequest)

	resp = c.call(wire.OpGetSetting, "cam0", wire.SettingPayload{})
	assert.ErrorIs(t, resp.Err(), model.ErrInvalidRequest)
}

func TestSettingsOverTheWire(t *testing.T) {
	f := startServer(t)
	c := dial(t, f.srv)

	resp := c.call(wire.OpSetSetting, "cam0", wire.SettingPayload{Name: "gain", Value: 42})
	require.True(t, resp.IsSuccess(), resp.Err())

	resp = c.call(wire.OpGetSetting, "cam0", wire.SettingPayload{Name: "gain"})
	require.True(t, resp.IsSuccess(), resp.Err())
	var got wire.SettingPayload
	require.NoError(t, wire.Unmarshal(resp.Payload, &got))
	assert.EqualValues(t, 42, got.Value)

	tests := []struct {
		name    string
		payload wire.SettingPayload
		want    error
	}{
		{"out of range", wire.SettingPayload{Name: "gain", Value: 101}, model.ErrInvalidValue},
		{"wrong type", wire.SettingPayload{Name: "gain", Value: "high"}, model.ErrInvalidValue},
		{"read only", wire.SettingPayload{Name: "temperature", Value: 20.0}, model.ErrReadOnlySetting},
		{"unknown", wire.SettingPayload{Name: "offset", Value: 1}, model.ErrUnknownSetting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := c.call(wire.OpSetSetting, "cam0", tt.payload)
			assert.ErrorIs(t, resp.Err(), tt.want)
		})
	}

	v, err := f.core.GetSetting(context.Background(), "gain")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestAcquisitionOverTheWire(t *testing.T) {
	f := startServer(t)
	c := dial(t, f.srv)

	require.True(t, c.call(wire.OpArm, "cam0", nil).IsSuccess())
	require.True(t, c.call(wire.OpTrigger, "cam0", nil).IsSuccess())

	resp := c.call(wire.OpState, "cam0", nil)
	var st trigger.Status
	require.NoError(t, wire.Unmarshal(resp.Payload, &st))
	assert.Equal(t, trigger.StateAcquiring, st.State)

	f.adapter.Frame("one")
	resp = c.call(wire.OpFetchFrame, "cam0", wire.NewFetchPayload(time.Second))
	require.True(t, resp.IsSuccess(), resp.Err())
	var fp wire.FramePayload
	require.NoError(t, wire.Unmarshal(resp.Payload, &fp))
	require.NotNil(t, fp.Frame)
	assert.Equal(t, uint64(1), fp.Frame.Seq)
	assert.Equal(t, []byte("one"), fp.Frame.Payload)

	resp = c.call(wire.OpFetchFrame, "cam0", wire.NewFetchPayload(20*time.Millisecond))
	assert.ErrorIs(t, resp.Err(), model.ErrTimeout)

	resp = c.call(wire.OpArm, "cam0", nil)
	assert.ErrorIs(t, resp.Err(), model.ErrAlreadyArmed)

	require.True(t, c.call(wire.OpAbort, "cam0", nil).IsSuccess())
	resp = c.call(wire.OpMoveTo, "cam0", wire.AxesPayload{Axes: map[string]float64{"x": 1}})
	assert.ErrorIs(t, resp.Err(), model.ErrUnsupported)
}

func TestCallsFromSessionsRunInArrivalOrder(t *testing.T) {
	f := startServer(t)
	a := dial(t, f.srv)
	b := dial(t, f.srv)

	require.True(t, a.call(wire.OpArm, "cam0", nil).IsSuccess())

	gate := f.adapter.Hold()
	a.send(wire.OpSetSetting, "cam0", wire.SettingPayload{Name: "gain", Value: 5})
	<-f.adapter.Entered()

	b.send(wire.OpTrigger, "cam0", nil)
	_, err := b.receive(150 * time.Millisecond)
	require.Error(t, err, "trigger must wait for the setting write")

	st, _ := f.core.State(context.Background())
	assert.Equal(t, trigger.StateArmed, st.State)

	close(gate)
	assert.True(t, a.mustReceive().IsSuccess())
	assert.True(t, b.mustReceive().IsSuccess())

	st, _ = f.core.State(context.Background())
	assert.Equal(t, trigger.StateAcquiring, st.State)
}

func TestAbortCancelsQueuedCalls(t *testing.T) {
	f := startServer(t)
	a := dial(t, f.srv)
	b := dial(t, f.srv)

	require.True(t, a.call(wire.OpArm, "cam0", nil).IsSuccess())

	gate := f.adapter.Hold()
	a.send(wire.OpSetSetting, "cam0", wire.SettingPayload{Name: "gain", Value: 5})
	<-f.adapter.Entered()

	triggerID := b.send(wire.OpTrigger, "cam0", nil)
	abortID := b.send(wire.OpAbort, "cam0", nil)
	require.Eventually(t, func() bool {
		for _, s := range f.srv.Sessions() {
			if s.Pending == 2 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	close(gate)
	assert.True(t, a.mustReceive().IsSuccess())

	got := map[uint32]*wire.Response{}
	for range 2 {
		resp := b.mustReceive()
		got[resp.MessageID] = resp
	}
	require.Contains(t, got, abortID)
	require.Contains(t, got, triggerID)
	assert.True(t, got[abortID].IsSuccess(), got[abortID].Err())
	assert.ErrorIs(t, got[triggerID].Err(), model.ErrAborted)

	st, _ := f.core.State(context.Background())
	assert.Equal(t, trigger.StateIdle, st.State)
}

func TestClosedSessionCallsAreDiscarded(t *testing.T) {
	f := startServer(t)
	a := dial(t, f.srv)

	gate := f.adapter.Hold()
	a.send(wire.OpSetSetting, "cam0", wire.SettingPayload{Name: "gain", Value: 5})
	<-f.adapter.Entered()
	a.send(wire.OpSetSetting, "cam0", wire.SettingPayload{Name: "gain", Value: 7})

	require.NoError(t, a.conn.Close())
	require.Eventually(t, func() bool { return len(f.srv.Sessions()) == 0 }, time.Second, 5*time.Millisecond)
	close(gate)

	// The in-flight write completes, the queued one never runs.
	b := dial(t, f.srv)
	resp := b.call(wire.OpGetSetting, "cam0", wire.SettingPayload{Name: "gain"})
	require.True(t, resp.IsSuccess(), resp.Err())
	var got wire.SettingPayload
	require.NoError(t, wire.Unmarshal(resp.Payload, &got))
	assert.EqualValues(t, 5, got.Value)

	select {
	case name := <-f.adapter.Entered():
		t.Fatalf("queued write of closed session reached the adapter: %s", name)
	default:
	}
}

func TestNewRejectsDuplicateDevices(t *testing.T) {
	a, err := device.New(device.Config{Adapter: devicetest.NewAdapter("cam0", model.CapCamera)})
	require.NoError(t, err)
	b, err := device.New(device.Config{Adapter: devicetest.NewAdapter("cam0", model.CapCamera)})
	require.NoError(t, err)

	_, err = New(Config{Address: "127.0.0.1:0"}, a, b)
	assert.Error(t, err)
}

func TestHandleRequestWithoutTransport(t *testing.T) {
	a := devicetest.NewAdapter("cam0", model.CapCamera)
	core, err := device.New(device.Config{ID: "cam7", Adapter: a})
	require.NoError(t, err)
	require.NoError(t, core.Start(context.Background()))
	defer core.Detach(context.Background())

	resp := HandleRequest(context.Background(), core, &wire.Request{MessageID: 3, Operation: wire.OpListSettings, Device: "cam7"})
	require.True(t, resp.IsSuccess())
	var list wire.SettingListPayload
	require.NoError(t, wire.Unmarshal(resp.Payload, &list))
	require.Len(t, list.Settings, 2)
	assert.Equal(t, "gain", list.Settings[0].Name)

	resp = HandleRequest(context.Background(), core, &wire.Request{MessageID: 4, Operation: wire.OpHello})
	assert.ErrorIs(t, resp.Err(), model.ErrInvalidRequest)
}
