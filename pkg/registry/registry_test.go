package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labrig/labrig-go/pkg/config"
	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
)

func TestBuiltinKinds(t *testing.T) {
	assert.Equal(t, []string{KindGPIO, KindSimCamera, KindSimFilterWheel, KindSimLaser, KindSimStage, KindSimValueLogger}, Builtin().Kinds())
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := Builtin()
	err := r.Register(KindSimCamera, newSimCamera)
	assert.ErrorContains(t, err, "already registered")
	assert.Error(t, r.Register("", newSimCamera))
}

func TestBuildSimCamera(t *testing.T) {
	c, err := Builtin().Build(config.DeviceConfig{
		ID:             "cam0",
		Kind:           KindSimCamera,
		BufferCapacity: 4,
		Params:         config.Params{"width": 32, "serial": "SN-9"},
	}, device.Config{BufferCapacity: 16})
	require.NoError(t, err)

	desc, err := c.DescribeCapabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cam0", desc.DeviceID)
	assert.Equal(t, "SN-9", desc.SerialNumber)
	assert.Equal(t, 4, desc.BufferCapacity, "device entry overrides base")
}

func TestBuildGPIO(t *testing.T) {
	ctx := context.Background()
	c, err := Builtin().Build(config.DeviceConfig{
		ID:   "io0",
		Kind: KindGPIO,
		Params: config.Params{
			"driver":  "memory",
			"pins":    []any{17, 22},
			"names":   []any{"shutter", "door closed"},
			"outputs": []any{"shutter"},
		},
	}, device.Config{})
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { c.Detach(ctx) })

	require.NoError(t, c.SetSetting(ctx, "shutter", true))
	assert.ErrorIs(t, c.SetSetting(ctx, "door closed", true), model.ErrReadOnlySetting)
}

func TestBuildSimInstruments(t *testing.T) {
	ctx := context.Background()
	r := Builtin()

	wheel, err := r.Build(config.DeviceConfig{ID: "fw0", Kind: KindSimFilterWheel, Params: config.Params{"positions": 8}}, device.Config{})
	require.NoError(t, err)
	desc, err := wheel.DescribeCapabilities(ctx)
	require.NoError(t, err)
	pos, ok := desc.Setting("position")
	require.True(t, ok)
	assert.Equal(t, 7.0, *pos.Max)

	laser, err := r.Build(config.DeviceConfig{ID: "l488", Kind: KindSimLaser, Params: config.Params{"max_power": 50.0}}, device.Config{})
	require.NoError(t, err)
	desc, err = laser.DescribeCapabilities(ctx)
	require.NoError(t, err)
	power, ok := desc.Setting("power")
	require.True(t, ok)
	assert.Equal(t, 50.0, *power.Max)
	assert.Equal(t, "mW", power.Unit)

	logger, err := r.Build(config.DeviceConfig{ID: "temp0", Kind: KindSimValueLogger, Params: config.Params{"sensors": 3, "period": "10ms"}}, device.Config{})
	require.NoError(t, err)
	desc, err = logger.DescribeCapabilities(ctx)
	require.NoError(t, err)
	assert.True(t, desc.Capabilities.Has(model.CapAcquisition))
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		dc      config.DeviceConfig
		wantErr string
	}{
		{"unknown kind", config.DeviceConfig{ID: "x", Kind: "laser"}, `unknown kind "laser"`},
		{"bad param type", config.DeviceConfig{ID: "x", Kind: KindSimCamera, Params: config.Params{"width": "wide"}}, "width"},
		{"pin count", config.DeviceConfig{ID: "x", Kind: KindGPIO, Params: config.Params{"pins": []any{1, 2}, "names": []any{"a"}}}, "2 pins but 1 names"},
		{"unknown output", config.DeviceConfig{ID: "x", Kind: KindGPIO, Params: config.Params{"driver": "memory", "pins": []any{1}, "names": []any{"a"}, "outputs": []any{"b"}}}, `output "b"`},
		{"unknown driver", config.DeviceConfig{ID: "x", Kind: KindGPIO, Params: config.Params{"driver": "usb", "pins": []any{1}, "names": []any{"a"}}}, `driver "usb"`},
		{"no lines", config.DeviceConfig{ID: "x", Kind: KindGPIO, Params: config.Params{"driver": "memory"}}, "at least one line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Builtin().Build(tt.dc, device.Config{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
