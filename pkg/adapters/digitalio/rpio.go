package digitalio

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver drives the Raspberry Pi GPIO header through /dev/gpiomem.
type RPiDriver struct {
	mu   sync.Mutex
	pins map[int]rpio.Pin
}

var _ Driver = (*RPiDriver)(nil)

// OpenRPi maps the GPIO memory. It fails on anything but a Raspberry Pi.
func OpenRPi() (Driver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: open: %w", err)
	}
	return &RPiDriver{pins: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("gpio: unknown pin mode %d", mode)
	}
	r.pins[pin] = p
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pins[pin]
	if !ok {
		return fmt.Errorf("gpio: pin %d not set up", pin)
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pins[pin]
	if !ok {
		return Low, fmt.Errorf("gpio: pin %d not set up", pin)
	}
	return Level(p.Read() == rpio.High), nil
}

// Close returns every pin to input and unmaps the GPIO memory.
func (r *RPiDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pins {
		p.Input()
	}
	clear(r.pins)
	return rpio.Close()
}
