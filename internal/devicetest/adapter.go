// Package devicetest provides an instrumented adapter for tests that need
// a real device.Core without hardware.
package devicetest

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
)

// Adapter is a camera with one movable axis. Setting writes can be held
// open with Hold to observe how concurrent callers are ordered.
type Adapter struct {
	id   string
	caps model.Capability

	mu        sync.Mutex
	sink      device.Sink
	values    map[string]any
	positions map[string]float64
	gate      chan struct{}
	initErr   error

	entered chan string
}

var (
	_ device.Adapter   = (*Adapter)(nil)
	_ device.AxisMover = (*Adapter)(nil)
)

// NewAdapter creates an adapter reporting the given capabilities.
func NewAdapter(id string, caps model.Capability) *Adapter {
	return &Adapter{
		id:        id,
		caps:      caps,
		values:    map[string]any{"gain": int64(1), "temperature": 21.5},
		positions: map[string]float64{"x": 0},
		entered:   make(chan string, 64),
	}
}

// Describe reports a gain setting, a read-only temperature and axis x.
func (a *Adapter) Describe() model.Description {
	lo, hi := model.Range(0, 100)
	return model.Description{
		DeviceID:     a.id,
		Kind:         "test",
		Vendor:       "labrig",
		Capabilities: a.caps,
		Settings: []model.SettingMetadata{
			{Name: "gain", Type: model.DataTypeInt, Min: lo, Max: hi},
			{Name: "temperature", Type: model.DataTypeFloat, ReadOnly: true, Unit: "C"},
		},
		Axes: []model.AxisInfo{{Name: "x", Lower: -10, Upper: 10, Unit: "mm"}},
	}
}

func (a *Adapter) Initialize(_ context.Context, sink device.Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initErr != nil {
		return a.initErr
	}
	a.sink = sink
	return nil
}

func (a *Adapter) Shutdown(context.Context) error { return nil }

func (a *Adapter) ReadSetting(_ context.Context, name string) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.values[name], nil
}

// WriteSetting reports the name on Entered, then waits while a gate from
// Hold is open.
func (a *Adapter) WriteSetting(_ context.Context, name string, value any) error {
	a.entered <- name

	a.mu.Lock()
	gate := a.gate
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	a.values[name] = value
	a.mu.Unlock()
	return nil
}

func (a *Adapter) PrepareAcquisition(context.Context) error { return nil }
func (a *Adapter) StartAcquisition(context.Context) error   { return nil }
func (a *Adapter) StopAcquisition(context.Context) error    { return nil }

func (a *Adapter) MoveTo(_ context.Context, targets map[string]float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	maps.Copy(a.positions, targets)
	return nil
}

func (a *Adapter) Positions(context.Context) (map[string]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.positions), nil
}

// Hold makes every following setting write block until the returned
// channel is closed.
func (a *Adapter) Hold() chan struct{} {
	gate := make(chan struct{})
	a.mu.Lock()
	a.gate = gate
	a.mu.Unlock()
	return gate
}

// Entered receives the name of every setting write as it starts.
func (a *Adapter) Entered() <-chan string {
	return a.entered
}

// FailInit makes Initialize fail with err until cleared with nil.
func (a *Adapter) FailInit(err error) {
	a.mu.Lock()
	a.initErr = err
	a.mu.Unlock()
}

// Frame hands a frame to the device.
func (a *Adapter) Frame(payload string) {
	a.currentSink().OnFrameReady([]byte(payload), time.Now(), true)
}

// Fault reports an unrecoverable error to the device.
func (a *Adapter) Fault(cause error) {
	a.currentSink().OnFault(cause)
}

func (a *Adapter) currentSink() device.Sink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink
}
