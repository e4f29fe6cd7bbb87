package digitalio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
)

// Line maps a named setting to a GPIO pin.
type Line struct {
	Name   string
	Pin    int
	Output bool

	// Initial is the level an output is driven to on Initialize.
	Initial bool
}

// Config configures an Adapter.
type Config struct {
	Lines []Line

	// Open returns the driver. Defaults to OpenRPi.
	Open func() (Driver, error)

	// Logger for debug output (optional).
	Logger *slog.Logger
}

// Adapter exposes digital lines as boolean settings. Input lines are
// read-only.
type Adapter struct {
	device.NoAcquisition

	lines  map[string]Line
	order  []Line
	open   func() (Driver, error)
	logger *slog.Logger

	mu     sync.Mutex
	driver Driver
}

var _ device.Adapter = (*Adapter)(nil)

// New validates the line table and creates an adapter.
func New(cfg Config) (*Adapter, error) {
	if len(cfg.Lines) == 0 {
		return nil, errors.New("digitalio: at least one line is required")
	}
	a := &Adapter{
		lines:  make(map[string]Line, len(cfg.Lines)),
		order:  cfg.Lines,
		open:   cfg.Open,
		logger: cfg.Logger,
	}
	if a.open == nil {
		a.open = OpenRPi
	}
	pins := make(map[int]string, len(cfg.Lines))
	for _, l := range cfg.Lines {
		if l.Name == "" {
			return nil, fmt.Errorf("digitalio: pin %d has no name", l.Pin)
		}
		if _, dup := a.lines[l.Name]; dup {
			return nil, fmt.Errorf("digitalio: duplicate line %q", l.Name)
		}
		if other, dup := pins[l.Pin]; dup {
			return nil, fmt.Errorf("digitalio: pin %d used by %q and %q", l.Pin, other, l.Name)
		}
		a.lines[l.Name] = l
		pins[l.Pin] = l.Name
	}
	return a, nil
}

// Describe reports one bool setting per line.
func (a *Adapter) Describe() model.Description {
	settings := make([]model.SettingMetadata, 0, len(a.order))
	for _, l := range a.order {
		settings = append(settings, model.SettingMetadata{
			Name:        l.Name,
			Type:        model.DataTypeBool,
			ReadOnly:    !l.Output,
			Default:     l.Initial,
			Description: fmt.Sprintf("GPIO %d", l.Pin),
		})
	}
	return model.Description{
		Kind:         "gpio",
		Capabilities: model.CapSettings | model.CapDigitalIO,
		Settings:     settings,
	}
}

// Initialize opens the driver and configures every pin.
func (a *Adapter) Initialize(context.Context, device.Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	driver, err := a.open()
	if err != nil {
		return err
	}
	for _, l := range a.order {
		mode := Input
		if l.Output {
			mode = Output
		}
		if err := driver.SetupPin(l.Pin, mode); err != nil {
			driver.Close()
			return fmt.Errorf("setup %s: %w", l.Name, err)
		}
		if l.Output {
			if err := driver.WritePin(l.Pin, Level(l.Initial)); err != nil {
				driver.Close()
				return fmt.Errorf("drive %s: %w", l.Name, err)
			}
		}
		a.debugLog("line ready", "line", l.Name, "pin", l.Pin, "mode", mode)
	}
	a.driver = driver
	return nil
}

func (a *Adapter) Shutdown(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.driver == nil {
		return nil
	}
	err := a.driver.Close()
	a.driver = nil
	return err
}

func (a *Adapter) ReadSetting(_ context.Context, name string) (any, error) {
	l, driver, err := a.line(name)
	if err != nil {
		return nil, err
	}
	level, err := driver.ReadPin(l.Pin)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return bool(level), nil
}

func (a *Adapter) WriteSetting(_ context.Context, name string, value any) error {
	l, driver, err := a.line(name)
	if err != nil {
		return err
	}
	if !l.Output {
		return model.NewError(model.KindReadOnlySetting, "line %q is an input", name)
	}
	if err := driver.WritePin(l.Pin, Level(value.(bool))); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	a.debugLog("line written", "line", name, "level", value)
	return nil
}

func (a *Adapter) line(name string) (Line, Driver, error) {
	l, ok := a.lines[name]
	if !ok {
		return Line{}, nil, model.NewError(model.KindUnknownSetting, "unknown line %q", name)
	}
	a.mu.Lock()
	driver := a.driver
	a.mu.Unlock()
	if driver == nil {
		return Line{}, nil, errors.New("digitalio: driver not open")
	}
	return l, driver, nil
}

func (a *Adapter) debugLog(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
