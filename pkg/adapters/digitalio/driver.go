package digitalio

import (
	"fmt"
	"sync"
)

// Level is the logical state of a line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode selects the direction of a pin.
type PinMode int

const (
	Input PinMode = iota
	Output
)

func (m PinMode) String() string {
	if m == Output {
		return "output"
	}
	return "input"
}

// Driver controls GPIO pins.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MemoryDriver keeps pin levels in memory. Tests and hosts without GPIO
// hardware use it.
type MemoryDriver struct {
	mu     sync.Mutex
	modes  map[int]PinMode
	levels map[int]Level
	err    error
	closed bool
}

var _ Driver = (*MemoryDriver)(nil)

// NewMemoryDriver creates a driver with every pin low.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		modes:  make(map[int]PinMode),
		levels: make(map[int]Level),
	}
}

func (m *MemoryDriver) SetupPin(pin int, mode PinMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.modes[pin] = mode
	return nil
}

func (m *MemoryDriver) WritePin(pin int, level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if mode, ok := m.modes[pin]; !ok || mode != Output {
		return fmt.Errorf("gpio: pin %d is not an output", pin)
	}
	m.levels[pin] = level
	return nil
}

func (m *MemoryDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return Low, err
	}
	return m.levels[pin], nil
}

func (m *MemoryDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Open reopens the driver. It has the signature of Config.Open.
func (m *MemoryDriver) Open() (Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.closed = false
	return m, nil
}

// Drive sets the level seen on an input pin.
func (m *MemoryDriver) Drive(pin int, level Level) {
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
}

// Mode returns the configured mode of pin.
func (m *MemoryDriver) Mode(pin int) (PinMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[pin]
	return mode, ok
}

// Fail makes every later call return err until Fail(nil).
func (m *MemoryDriver) Fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Closed reports whether Close was called.
func (m *MemoryDriver) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryDriver) check() error {
	if m.err != nil {
		return m.err
	}
	if m.closed {
		return fmt.Errorf("gpio: driver closed")
	}
	return nil
}
