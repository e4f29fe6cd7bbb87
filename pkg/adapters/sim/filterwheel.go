package sim

import (
	"context"
	"sync"
	"time"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
)

// Filter wheel setting names.
const (
	SettingPosition      = "position"
	SettingPositionCount = "position count"
)

// FilterWheelConfig configures a simulated filter wheel.
type FilterWheelConfig struct {
	// Positions defaults to 6.
	Positions int

	// SlotTime is the time to rotate by one slot. The wheel takes the
	// shorter way round. Zero switches instantly.
	SlotTime time.Duration
}

// FilterWheel is a simulated filter wheel with numbered positions
// starting at 0.
type FilterWheel struct {
	device.NoAcquisition

	cfg FilterWheelConfig

	mu       sync.Mutex
	online   bool
	position int
}

var _ device.Adapter = (*FilterWheel)(nil)

func NewFilterWheel(cfg FilterWheelConfig) *FilterWheel {
	if cfg.Positions <= 0 {
		cfg.Positions = 6
	}
	return &FilterWheel{cfg: cfg, online: true}
}

func (w *FilterWheel) Describe() model.Description {
	lo, hi := model.Range(0, float64(w.cfg.Positions-1))
	return model.Description{
		Kind:         "sim-filterwheel",
		Vendor:       "labrig",
		Model:        "SimWheel",
		Capabilities: model.CapSettings,
		Settings: []model.SettingMetadata{
			{Name: SettingPosition, Type: model.DataTypeInt, Min: lo, Max: hi, Default: int64(0)},
			{Name: SettingPositionCount, Type: model.DataTypeInt, ReadOnly: true},
		},
	}
}

func (w *FilterWheel) Initialize(context.Context, device.Sink) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.online {
		return ErrOffline
	}
	return nil
}

func (w *FilterWheel) Shutdown(context.Context) error { return nil }

func (w *FilterWheel) ReadSetting(_ context.Context, name string) (any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.online {
		return nil, ErrOffline
	}
	switch name {
	case SettingPosition:
		return int64(w.position), nil
	case SettingPositionCount:
		return int64(w.cfg.Positions), nil
	}
	return nil, model.NewError(model.KindUnknownSetting, "unknown setting %q", name)
}

// WriteSetting rotates the wheel. A canceled rotation leaves the wheel at
// its previous position.
func (w *FilterWheel) WriteSetting(ctx context.Context, name string, value any) error {
	if name != SettingPosition {
		return model.NewError(model.KindUnknownSetting, "unknown setting %q", name)
	}
	target := int(value.(int64))

	w.mu.Lock()
	if !w.online {
		w.mu.Unlock()
		return ErrOffline
	}
	wait := time.Duration(w.slots(w.position, target)) * w.cfg.SlotTime
	w.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return model.FromContext(ctx.Err(), "rotate to %d", target)
		}
	}

	w.mu.Lock()
	w.position = target
	w.mu.Unlock()
	return nil
}

// slots is the number of slots between from and to going the short way.
func (w *FilterWheel) slots(from, to int) int {
	d := (to - from + w.cfg.Positions) % w.cfg.Positions
	return min(d, w.cfg.Positions-d)
}

// SetOnline simulates losing and regaining the connection to the wheel.
func (w *FilterWheel) SetOnline(online bool) {
	w.mu.Lock()
	w.online = online
	w.mu.Unlock()
}
