package proxy

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/labrig/labrig-go/pkg/acquisition"
	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/trigger"
	"github.com/labrig/labrig-go/pkg/wire"
)

// Shadow is the locally cached view of a remote device: its description
// and the setting values last seen on the wire.
type Shadow struct {
	Description model.Description
	Values      map[string]any
	UpdatedAt   time.Time
}

// Device is a remote device. It implements device.Device; every call
// except Shadow is a round trip to the server.
type Device struct {
	id     string
	client *Client

	mu     sync.RWMutex
	shadow Shadow
}

var _ device.Device = (*Device)(nil)

func newDevice(c *Client, desc model.Description) *Device {
	d := &Device{id: desc.DeviceID, client: c}
	d.setDescription(desc)
	return d
}

func (d *Device) setDescription(desc model.Description) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shadow.Description = desc
	if d.shadow.Values == nil {
		d.shadow.Values = make(map[string]any, len(desc.Settings))
	}
	d.shadow.UpdatedAt = time.Now()
}

func (d *Device) remember(name string, value any) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	if meta, ok := d.shadow.Description.Setting(name); ok {
		if v, err := model.Coerce(meta.Type, value); err == nil {
			value = v
		}
	}
	d.shadow.Values[name] = value
	d.shadow.UpdatedAt = time.Now()
	return value
}

// ID returns the device handle.
func (d *Device) ID() string {
	return d.id
}

// Shadow returns the cached view without contacting the server.
func (d *Device) Shadow() Shadow {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := d.shadow
	s.Values = maps.Clone(d.shadow.Values)
	return s
}

// DescribeCapabilities fetches the description and refreshes the shadow.
func (d *Device) DescribeCapabilities(ctx context.Context) (model.Description, error) {
	var desc model.Description
	if err := d.call(ctx, wire.OpDescribe, nil, &desc); err != nil {
		return model.Description{}, err
	}
	d.setDescription(desc)
	return desc, nil
}

// ListSettings returns all settings with their current values.
func (d *Device) ListSettings(ctx context.Context) ([]model.SettingInfo, error) {
	var list wire.SettingListPayload
	if err := d.call(ctx, wire.OpListSettings, nil, &list); err != nil {
		return nil, err
	}
	for i := range list.Settings {
		s := &list.Settings[i]
		if s.Value != nil {
			s.Value = d.remember(s.Name, s.Value)
		}
	}
	return list.Settings, nil
}

// GetSetting returns one setting value as cached by the server.
func (d *Device) GetSetting(ctx context.Context, name string) (any, error) {
	var p wire.SettingPayload
	if err := d.call(ctx, wire.OpGetSetting, wire.SettingPayload{Name: name}, &p); err != nil {
		return nil, err
	}
	if p.Value == nil {
		return nil, nil
	}
	return d.remember(name, p.Value), nil
}

// SetSetting writes one setting.
func (d *Device) SetSetting(ctx context.Context, name string, value any) error {
	if err := d.call(ctx, wire.OpSetSetting, wire.SettingPayload{Name: name, Value: value}, nil); err != nil {
		return err
	}
	d.remember(name, value)
	return nil
}

// UpdateSettings writes several settings. The server validates all of
// them before writing any.
func (d *Device) UpdateSettings(ctx context.Context, values map[string]any) error {
	if err := d.call(ctx, wire.OpUpdateSettings, wire.SettingsPayload{Values: values}, nil); err != nil {
		return err
	}
	for name, v := range values {
		d.remember(name, v)
	}
	return nil
}

// Arm prepares an acquisition.
func (d *Device) Arm(ctx context.Context) error {
	return d.call(ctx, wire.OpArm, nil, nil)
}

// Trigger starts the armed acquisition.
func (d *Device) Trigger(ctx context.Context) error {
	return d.call(ctx, wire.OpTrigger, nil, nil)
}

// Abort stops any acquisition.
func (d *Device) Abort(ctx context.Context) error {
	return d.call(ctx, wire.OpAbort, nil, nil)
}

// Reset reinitializes a faulted device.
func (d *Device) Reset(ctx context.Context) error {
	return d.call(ctx, wire.OpReset, nil, nil)
}

// FetchFrame pops the oldest buffered frame on the server.
func (d *Device) FetchFrame(ctx context.Context, timeout time.Duration) (*acquisition.Frame, error) {
	var p wire.FramePayload
	if err := d.client.call(ctx, wire.OpFetchFrame, d.id, wire.NewFetchPayload(timeout), &p, max(timeout, 0)); err != nil {
		return nil, err
	}
	return p.Frame, nil
}

// State returns the trigger state.
func (d *Device) State(ctx context.Context) (trigger.Status, error) {
	var st trigger.Status
	err := d.call(ctx, wire.OpState, nil, &st)
	return st, err
}

// BufferStats returns the acquisition buffer counters.
func (d *Device) BufferStats(ctx context.Context) (acquisition.Stats, error) {
	var st acquisition.Stats
	err := d.call(ctx, wire.OpBufferStats, nil, &st)
	return st, err
}

// MoveTo moves axes to absolute positions.
func (d *Device) MoveTo(ctx context.Context, targets map[string]float64) error {
	return d.call(ctx, wire.OpMoveTo, wire.AxesPayload{Axes: targets}, nil)
}

// MoveBy moves axes by relative offsets.
func (d *Device) MoveBy(ctx context.Context, deltas map[string]float64) error {
	return d.call(ctx, wire.OpMoveBy, wire.AxesPayload{Axes: deltas}, nil)
}

// Positions returns the current axis positions.
func (d *Device) Positions(ctx context.Context) (map[string]float64, error) {
	var p wire.AxesPayload
	if err := d.call(ctx, wire.OpPositions, nil, &p); err != nil {
		return nil, err
	}
	return p.Axes, nil
}

func (d *Device) call(ctx context.Context, op wire.Operation, payload, out any) error {
	return d.client.call(ctx, op, d.id, payload, out, 0)
}
