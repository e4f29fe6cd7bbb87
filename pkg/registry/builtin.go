package registry

import (
	"fmt"
	"time"

	"github.com/labrig/labrig-go/pkg/adapters/digitalio"
	"github.com/labrig/labrig-go/pkg/adapters/sim"
	"github.com/labrig/labrig-go/pkg/config"
	"github.com/labrig/labrig-go/pkg/device"
)

// Built-in adapter kinds.
const (
	KindSimCamera      = "sim-camera"
	KindSimStage       = "sim-stage"
	KindSimFilterWheel = "sim-filterwheel"
	KindSimLaser       = "sim-laser"
	KindSimValueLogger = "sim-valuelogger"
	KindGPIO           = "gpio"
)

// Builtin returns a registry with every adapter shipped in this module.
func Builtin() *Registry {
	r := New()
	_ = r.Register(KindSimCamera, newSimCamera)
	_ = r.Register(KindSimStage, newSimStage)
	_ = r.Register(KindSimFilterWheel, newSimFilterWheel)
	_ = r.Register(KindSimLaser, newSimLaser)
	_ = r.Register(KindSimValueLogger, newSimValueLogger)
	_ = r.Register(KindGPIO, newGPIO)
	return r
}

// newSimCamera reads width, height, frame_interval and serial.
func newSimCamera(id string, p config.Params) (device.Adapter, error) {
	var (
		cfg sim.CameraConfig
		err error
	)
	if cfg.Width, err = p.Int("width", 64); err != nil {
		return nil, err
	}
	if cfg.Height, err = p.Int("height", 48); err != nil {
		return nil, err
	}
	if cfg.FrameInterval, err = p.Duration("frame_interval", 0); err != nil {
		return nil, err
	}
	if cfg.SerialNumber, err = p.String("serial", id); err != nil {
		return nil, err
	}
	return sim.NewCamera(cfg), nil
}

// newSimStage reads travel.
func newSimStage(_ string, p config.Params) (device.Adapter, error) {
	travel, err := p.Bool("travel", false)
	if err != nil {
		return nil, err
	}
	return sim.NewStage(sim.StageConfig{Travel: travel}), nil
}

// newSimFilterWheel reads positions and slot_time.
func newSimFilterWheel(_ string, p config.Params) (device.Adapter, error) {
	var (
		cfg sim.FilterWheelConfig
		err error
	)
	if cfg.Positions, err = p.Int("positions", 6); err != nil {
		return nil, err
	}
	if cfg.SlotTime, err = p.Duration("slot_time", 0); err != nil {
		return nil, err
	}
	return sim.NewFilterWheel(cfg), nil
}

// newSimLaser reads max_power in mW.
func newSimLaser(_ string, p config.Params) (device.Adapter, error) {
	maxPower, err := p.Float("max_power", 100)
	if err != nil {
		return nil, err
	}
	return sim.NewLaser(sim.LaserConfig{MaxPower: maxPower}), nil
}

// newSimValueLogger reads sensors and period.
func newSimValueLogger(_ string, p config.Params) (device.Adapter, error) {
	var (
		cfg sim.ValueLoggerConfig
		err error
	)
	if cfg.Sensors, err = p.Int("sensors", 1); err != nil {
		return nil, err
	}
	if cfg.UpdatePeriod, err = p.Duration("period", time.Second); err != nil {
		return nil, err
	}
	return sim.NewValueLogger(cfg), nil
}

// newGPIO reads pins and names as parallel lists, outputs as the names of
// the output lines, and driver ("rpi" or "memory").
func newGPIO(_ string, p config.Params) (device.Adapter, error) {
	pins, err := p.Ints("pins")
	if err != nil {
		return nil, err
	}
	names, err := p.Strings("names")
	if err != nil {
		return nil, err
	}
	if len(pins) != len(names) {
		return nil, fmt.Errorf("gpio: %d pins but %d names", len(pins), len(names))
	}
	outputs, err := p.Strings("outputs")
	if err != nil {
		return nil, err
	}
	isOutput := make(map[string]bool, len(outputs))
	for _, name := range outputs {
		isOutput[name] = true
	}

	lines := make([]digitalio.Line, len(pins))
	for i, pin := range pins {
		lines[i] = digitalio.Line{Name: names[i], Pin: pin, Output: isOutput[names[i]]}
		delete(isOutput, names[i])
	}
	for name := range isOutput {
		return nil, fmt.Errorf("gpio: output %q is not a configured line", name)
	}

	driver, err := p.String("driver", "rpi")
	if err != nil {
		return nil, err
	}
	cfg := digitalio.Config{Lines: lines}
	switch driver {
	case "rpi":
		cfg.Open = digitalio.OpenRPi
	case "memory":
		cfg.Open = digitalio.NewMemoryDriver().Open
	default:
		return nil, fmt.Errorf("gpio: unknown driver %q", driver)
	}
	return digitalio.New(cfg)
}
