package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIO records writes and can be told to reject them.
type fakeIO struct {
	values   map[string]any
	writes   []string
	writeErr error
	readErr  error
}

func newFakeIO() *fakeIO {
	return &fakeIO{values: make(map[string]any)}
}

func (f *fakeIO) ReadSetting(_ context.Context, name string) (any, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.values[name], nil
}

func (f *fakeIO) WriteSetting(_ context.Context, name string, value any) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, name)
	f.values[name] = value
	return nil
}

func testSettings() []SettingMetadata {
	gainMin, gainMax := Range(0, 100)
	expMin, expMax := Range(0.001, 10)
	return []SettingMetadata{
		{Name: "gain", Type: DataTypeInt, Min: gainMin, Max: gainMax, Default: int64(10)},
		{Name: "exposure time", Type: DataTypeFloat, Min: expMin, Max: expMax, Default: 0.1, Unit: "s"},
		{Name: "cooler", Type: DataTypeBool, Default: false},
		{Name: "trigger type", Type: DataTypeEnum, Values: []string{"software", "rising edge"}, Default: "software"},
		{Name: "sensor temperature", Type: DataTypeFloat, ReadOnly: true},
	}
}

func TestRegistrySetGetRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"gain", 50, int64(50)},
		{"gain", uint64(0), int64(0)},
		{"gain", 100.0, int64(100)},
		{"exposure time", 2.5, 2.5},
		{"exposure time", 1, 1.0},
		{"cooler", true, true},
		{"trigger type", "rising edge", "rising edge"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s=%v", tt.name, tt.value), func(t *testing.T) {
			io := newFakeIO()
			r := NewRegistry(io, testSettings())

			got, err := r.Set(context.Background(), tt.name, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			cached, err := r.Get(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cached)
			assert.Equal(t, tt.want, io.values[tt.name])
		})
	}
}

func TestRegistryRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"gain", 200},
		{"gain", -1},
		{"gain", 1.5},
		{"gain", "ten"},
		{"exposure time", 0.0},
		{"exposure time", 11},
		{"cooler", 1},
		{"trigger type", "bulb"},
		{"trigger type", 3},
		{"gain", 1e19},
		{"gain", -1e19},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s=%v", tt.name, tt.value), func(t *testing.T) {
			io := newFakeIO()
			r := NewRegistry(io, testSettings())
			before, _ := r.Get(tt.name)

			_, err := r.Set(context.Background(), tt.name, tt.value)
			assert.ErrorIs(t, err, ErrInvalidValue)

			after, _ := r.Get(tt.name)
			assert.Equal(t, before, after, "cached value changed on rejected write")
			assert.Empty(t, io.writes, "adapter called for invalid value")
		})
	}
}

func TestIntegerOverflowIsRejected(t *testing.T) {
	io := newFakeIO()
	r := NewRegistry(io, []SettingMetadata{{Name: "count", Type: DataTypeInt, Default: int64(0)}})

	for _, v := range []any{1e19, -1e19, float64(1 << 63), uint64(1 << 63)} {
		_, err := r.Set(context.Background(), "count", v)
		assert.ErrorIs(t, err, ErrInvalidValue, "%v", v)
	}
	assert.Empty(t, io.writes)

	got, err := r.Set(context.Background(), "count", float64(-(1 << 63)))
	require.NoError(t, err)
	assert.Equal(t, int64(-1<<63), got)
}

// gatedIO blocks the write of one setting until released.
type gatedIO struct {
	*fakeIO
	gate    string
	reached chan struct{}
	release chan struct{}
}

func (g *gatedIO) WriteSetting(ctx context.Context, name string, value any) error {
	if name == g.gate {
		close(g.reached)
		<-g.release
	}
	return g.fakeIO.WriteSetting(ctx, name, value)
}

func TestRegistryUpdateIsNotVisibleHalfway(t *testing.T) {
	io := &gatedIO{fakeIO: newFakeIO(), gate: "b", reached: make(chan struct{}), release: make(chan struct{})}
	r := NewRegistry(io, []SettingMetadata{
		{Name: "a", Type: DataTypeInt, Default: int64(0)},
		{Name: "b", Type: DataTypeInt, Default: int64(0)},
	})

	done := make(chan error, 1)
	go func() {
		_, err := r.Update(context.Background(), map[string]any{"a": 1, "b": 1})
		done <- err
	}()

	<-io.reached
	list := r.List()
	assert.Equal(t, int64(0), list[0].Value, "a written but not yet published")
	assert.Equal(t, int64(0), list[1].Value)
	v, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	close(io.release)
	require.NoError(t, <-done)
	assert.Equal(t, map[string]any{"a": int64(1), "b": int64(1)}, r.Snapshot())
}

func TestRegistryPartialUpdatePublishesApplied(t *testing.T) {
	io := &rejectingIO{fakeIO: newFakeIO(), reject: "gain"}
	r := NewRegistry(io, testSettings())

	applied, err := r.Update(context.Background(), map[string]any{"cooler": true, "gain": 20})
	require.Error(t, err)
	assert.Equal(t, map[string]any{"cooler": true}, applied)

	snap := r.Snapshot()
	assert.Equal(t, true, snap["cooler"])
	assert.Equal(t, int64(10), snap["gain"])
}

// rejectingIO fails writes of one setting.
type rejectingIO struct {
	*fakeIO
	reject string
}

func (r *rejectingIO) WriteSetting(ctx context.Context, name string, value any) error {
	if name == r.reject {
		return errors.New("controller refused")
	}
	return r.fakeIO.WriteSetting(ctx, name, value)
}

func TestRegistryUnknownAndReadOnly(t *testing.T) {
	r := NewRegistry(newFakeIO(), testSettings())

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownSetting)

	_, err = r.Set(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, ErrUnknownSetting)

	_, err = r.Set(context.Background(), "sensor temperature", 20.0)
	assert.ErrorIs(t, err, ErrReadOnlySetting)
}

func TestRegistryAdapterRejectionKeepsCache(t *testing.T) {
	io := newFakeIO()
	r := NewRegistry(io, testSettings())
	io.writeErr = errors.New("serial port gone")

	_, err := r.Set(context.Background(), "gain", 42)
	require.Error(t, err)

	v, _ := r.Get("gain")
	assert.Equal(t, int64(10), v)
}

func TestRegistryUpdateAllOrNothingValidation(t *testing.T) {
	io := newFakeIO()
	r := NewRegistry(io, testSettings())

	_, err := r.Update(context.Background(), map[string]any{"gain": 20, "exposure time": 99.0})
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Empty(t, io.writes)

	applied, err := r.Update(context.Background(), map[string]any{"gain": 20, "exposure time": 1.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"gain": int64(20), "exposure time": 1.0}, applied)
	assert.Equal(t, []string{"exposure time", "gain"}, io.writes)
}

func TestRegistryRefresh(t *testing.T) {
	io := newFakeIO()
	io.values["gain"] = int64(33)
	io.values["exposure time"] = 500.0 // out of range, must not be cached
	io.values["sensor temperature"] = -20.0
	r := NewRegistry(io, testSettings())

	require.NoError(t, r.Refresh(context.Background()))

	snap := r.Snapshot()
	assert.Equal(t, int64(33), snap["gain"])
	assert.Equal(t, 0.1, snap["exposure time"])
	assert.Equal(t, -20.0, snap["sensor temperature"])
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry(newFakeIO(), testSettings())
	list := r.List()
	require.Len(t, list, 5)
	assert.Equal(t, "gain", list[0].Name)
	assert.Equal(t, int64(10), list[0].Value)
	assert.Equal(t, "sensor temperature", list[4].Name)
}

func TestErrorKindMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError(KindDeviceBusy, "acquiring"))
	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.NotErrorIs(t, err, ErrNotArmed)
	assert.Equal(t, KindDeviceBusy, KindOf(err))

	cause := errors.New("cable unplugged")
	comm := WrapError(KindCommunicationError, cause, "write gain")
	assert.ErrorIs(t, comm, cause)
	assert.True(t, IsFault(comm))
	assert.True(t, IsFault(cause))
	assert.False(t, IsFault(ErrInvalidValue))
	assert.False(t, IsFault(nil))
}

func TestCapabilityNames(t *testing.T) {
	c := CapCamera | CapMovableAxis
	assert.Equal(t, "settings,trigger,acquisition,movable-axis", c.String())
	assert.True(t, c.Has(CapTrigger))
	assert.False(t, c.Has(CapDigitalIO))

	parsed, ok := ParseCapability("digital-io")
	assert.True(t, ok)
	assert.Equal(t, CapDigitalIO, parsed)
}
