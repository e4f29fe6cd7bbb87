package sim

import (
	"context"
	"sync"
	"time"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
)

// Laser setting names.
const (
	SettingEnabled       = "enabled"
	SettingPower         = "power"
	SettingMeasuredPower = "measured power"
	SettingOperatingTime = "operating time"
)

// LaserConfig configures a simulated laser.
type LaserConfig struct {
	// MaxPower in mW defaults to 100.
	MaxPower float64

	// Now defaults to time.Now.
	Now func() time.Time
}

// Laser is a simulated continuous-wave laser. The emitted power equals the
// set power while enabled and is zero otherwise.
type Laser struct {
	device.NoAcquisition

	cfg LaserConfig

	mu       sync.Mutex
	online   bool
	enabled  bool
	power    float64
	since    time.Time
	operated time.Duration
}

var _ device.Adapter = (*Laser)(nil)

func NewLaser(cfg LaserConfig) *Laser {
	if cfg.MaxPower <= 0 {
		cfg.MaxPower = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Laser{cfg: cfg, online: true}
}

func (l *Laser) Describe() model.Description {
	lo, hi := model.Range(0, l.cfg.MaxPower)
	return model.Description{
		Kind:         "sim-laser",
		Vendor:       "labrig",
		Model:        "SimLaser",
		Capabilities: model.CapSettings,
		Settings: []model.SettingMetadata{
			{Name: SettingEnabled, Type: model.DataTypeBool, Default: false},
			{Name: SettingPower, Type: model.DataTypeFloat, Min: lo, Max: hi, Unit: "mW", Default: 0.0},
			{Name: SettingMeasuredPower, Type: model.DataTypeFloat, ReadOnly: true, Unit: "mW"},
			{Name: SettingOperatingTime, Type: model.DataTypeFloat, ReadOnly: true, Unit: "s"},
		},
	}
}

func (l *Laser) Initialize(context.Context, device.Sink) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.online {
		return ErrOffline
	}
	return nil
}

// Shutdown switches the emission off.
func (l *Laser) Shutdown(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setEnabled(false)
	return nil
}

func (l *Laser) ReadSetting(_ context.Context, name string) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.online {
		return nil, ErrOffline
	}
	switch name {
	case SettingEnabled:
		return l.enabled, nil
	case SettingPower:
		return l.power, nil
	case SettingMeasuredPower:
		if !l.enabled {
			return 0.0, nil
		}
		return l.power, nil
	case SettingOperatingTime:
		total := l.operated
		if l.enabled {
			total += l.cfg.Now().Sub(l.since)
		}
		return total.Seconds(), nil
	}
	return nil, model.NewError(model.KindUnknownSetting, "unknown setting %q", name)
}

func (l *Laser) WriteSetting(_ context.Context, name string, value any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.online {
		return ErrOffline
	}
	switch name {
	case SettingEnabled:
		l.setEnabled(value.(bool))
	case SettingPower:
		l.power = value.(float64)
	default:
		return model.NewError(model.KindUnknownSetting, "unknown setting %q", name)
	}
	return nil
}

func (l *Laser) setEnabled(on bool) {
	switch {
	case on && !l.enabled:
		l.since = l.cfg.Now()
	case !on && l.enabled:
		l.operated += l.cfg.Now().Sub(l.since)
	}
	l.enabled = on
}

// SetOnline simulates losing and regaining the connection to the laser.
func (l *Laser) SetOnline(online bool) {
	l.mu.Lock()
	l.online = online
	l.mu.Unlock()
}
