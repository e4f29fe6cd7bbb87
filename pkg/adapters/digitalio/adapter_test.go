package digitalio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/trigger"
)

func newBench(t *testing.T) (*device.Core, *MemoryDriver) {
	t.Helper()
	mem := NewMemoryDriver()
	mem.Drive(22, High)

	a, err := New(Config{
		Lines: []Line{
			{Name: "shutter", Pin: 17, Output: true},
			{Name: "lamp", Pin: 27, Output: true, Initial: true},
			{Name: "door closed", Pin: 22},
		},
		Open: mem.Open,
	})
	require.NoError(t, err)

	c, err := device.New(device.Config{ID: "io0", Adapter: a})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Detach(context.Background()) })
	return c, mem
}

func TestNewRejectsBadLines(t *testing.T) {
	tests := []struct {
		name  string
		lines []Line
	}{
		{"empty", nil},
		{"unnamed", []Line{{Pin: 4}}},
		{"duplicate name", []Line{{Name: "a", Pin: 4}, {Name: "a", Pin: 5}}},
		{"duplicate pin", []Line{{Name: "a", Pin: 4}, {Name: "b", Pin: 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Lines: tt.lines})
			assert.Error(t, err)
		})
	}
}

func TestInitializeConfiguresPins(t *testing.T) {
	c, mem := newBench(t)

	mode, ok := mem.Mode(17)
	require.True(t, ok)
	assert.Equal(t, Output, mode)
	mode, _ = mem.Mode(22)
	assert.Equal(t, Input, mode)

	level, err := mem.ReadPin(27)
	require.NoError(t, err)
	assert.Equal(t, High, level, "initial level driven")

	desc, err := c.DescribeCapabilities(context.Background())
	require.NoError(t, err)
	assert.True(t, desc.Capabilities.Has(model.CapDigitalIO))
	meta, ok := desc.Setting("door closed")
	require.True(t, ok)
	assert.True(t, meta.ReadOnly)
}

func TestLinesAsSettings(t *testing.T) {
	ctx := context.Background()
	c, mem := newBench(t)

	v, err := c.GetSetting(ctx, "door closed")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	require.NoError(t, c.SetSetting(ctx, "shutter", true))
	level, _ := mem.ReadPin(17)
	assert.Equal(t, High, level)

	assert.ErrorIs(t, c.SetSetting(ctx, "door closed", false), model.ErrReadOnlySetting)
	assert.ErrorIs(t, c.SetSetting(ctx, "shutter", 1), model.ErrInvalidValue)
	assert.ErrorIs(t, c.SetSetting(ctx, "fan", true), model.ErrUnknownSetting)
	assert.ErrorIs(t, c.Arm(ctx), model.ErrUnsupported)
}

func TestDriverFailureFaultsDevice(t *testing.T) {
	ctx := context.Background()
	c, mem := newBench(t)

	mem.Fail(errors.New("gpiomem unavailable"))
	assert.ErrorIs(t, c.SetSetting(ctx, "lamp", false), model.ErrCommunicationError)

	status, err := c.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, trigger.StateFaulted, status.State)

	mem.Fail(nil)
	require.NoError(t, c.Reset(ctx))
	require.NoError(t, c.SetSetting(ctx, "lamp", false))
}

func TestShutdownClosesDriver(t *testing.T) {
	c, mem := newBench(t)
	require.NoError(t, c.Detach(context.Background()))
	assert.True(t, mem.Closed())
}
