package host

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/labrig/labrig-go/internal/devicetest"
	"github.com/labrig/labrig-go/pkg/config"
	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/discovery"
	"github.com/labrig/labrig-go/pkg/discovery/mocks"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/proxy"
	"github.com/labrig/labrig-go/pkg/registry"
	"github.com/labrig/labrig-go/pkg/trigger"
)

type memoryBroker struct {
	mu     sync.Mutex
	topics map[string][]byte
	closed bool
}

func (b *memoryBroker) Publish(topic string, payload []byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics == nil {
		b.topics = make(map[string][]byte)
	}
	b.topics[topic] = payload
	return nil
}

func (b *memoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *memoryBroker) has(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.topics[topic]
	return ok
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ID = "bench-1"
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Status.Enabled = true
	cfg.Status.Listen = "127.0.0.1:0"
	cfg.MQTT.Enabled = true
	cfg.Devices = []config.DeviceConfig{
		{ID: "cam0", Kind: registry.KindSimCamera, Params: config.Params{"frame_interval": "5ms"}},
		{ID: "stage0", Kind: registry.KindSimStage},
		{ID: "flaky0", Kind: "flaky"},
	}
	return cfg
}

func testRegistry() *registry.Registry {
	r := registry.Builtin()
	_ = r.Register("flaky", func(id string, _ config.Params) (device.Adapter, error) {
		a := devicetest.NewAdapter(id, model.CapCamera)
		a.FailInit(errors.New("no such usb device"))
		return a, nil
	})
	return r
}

func TestHostLifecycle(t *testing.T) {
	ctx := context.Background()
	broker := &memoryBroker{}
	adv := mocks.NewMockAdvertiser(t)
	adv.EXPECT().Advertise(mock.Anything, mock.MatchedBy(func(info *discovery.ServerInfo) bool {
		return info.ServerID == "bench-1" && info.Port != 0 &&
			assert.ObjectsAreEqual([]string{"cam0", "stage0", "flaky0"}, info.Devices)
	})).Return(nil).Once()
	adv.EXPECT().Stop().Return(nil).Once()

	h, err := New(Options{
		Config:     testConfig(),
		Registry:   testRegistry(),
		Advertiser: adv,
		Broker:     broker,
	})
	require.NoError(t, err)
	require.NoError(t, h.Start(ctx))

	client, err := proxy.Dial(ctx, h.Server().Addr().String(), proxy.Config{ClientName: t.Name()})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "bench-1", client.ServerID())
	assert.Len(t, client.Devices(), 3)

	cam, err := client.Device("cam0")
	require.NoError(t, err)
	require.NoError(t, cam.Arm(ctx))
	require.NoError(t, cam.Trigger(ctx))
	f, err := cam.FetchFrame(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)

	flaky, err := client.Device("flaky0")
	require.NoError(t, err)
	status, err := flaky.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, trigger.StateFaulted, status.State)
	assert.Contains(t, status.Cause, "no such usb device")

	resp, err := http.Get("http://" + h.StatusAddr().String() + "/api/devices")
	require.NoError(t, err)
	var body struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Len(t, body.Items, 3)

	require.Eventually(t, func() bool {
		return broker.has("labrig/cam0/state") && broker.has("labrig/stage0/settings/speed")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.Stop(ctx))
	assert.True(t, broker.closed)

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not disconnected by stop")
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	cfg := testConfig()
	cfg.Devices = append(cfg.Devices, config.DeviceConfig{ID: "laser0", Kind: "laser"})
	_, err := New(Options{Config: cfg, Registry: testRegistry()})
	assert.ErrorContains(t, err, `unknown kind "laser"`)
}

func TestStartFailureStopsStartedParts(t *testing.T) {
	ctx := context.Background()
	broker := &memoryBroker{}
	adv := mocks.NewMockAdvertiser(t)
	adv.EXPECT().Advertise(mock.Anything, mock.Anything).Return(errors.New("multicast unavailable")).Once()

	h, err := New(Options{Config: testConfig(), Registry: testRegistry(), Advertiser: adv, Broker: broker})
	require.NoError(t, err)

	err = h.Start(ctx)
	assert.ErrorContains(t, err, "multicast unavailable")
	assert.True(t, broker.closed)
	assert.Nil(t, h.StatusAddr())
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Discovery.Enabled = false
	cfg.Status.Enabled = false
	cfg.MQTT.Enabled = false

	h, err := New(Options{Config: cfg, Registry: testRegistry()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()

	time.AfterFunc(50*time.Millisecond, cancel)
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
}
