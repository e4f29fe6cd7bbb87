package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labrig/labrig-go/pkg/acquisition"
	"github.com/labrig/labrig-go/pkg/log"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/trigger"
)

// Default queue sizes.
const (
	DefaultQueueSize      = 64
	DefaultFrameQueueSize = 64

	stopOnFaultTimeout = 2 * time.Second
)

// Config configures a Core.
type Config struct {
	// ID is the device handle. Defaults to the adapter's DeviceID.
	ID string

	// Adapter drives the hardware. Required.
	Adapter Adapter

	// BufferCapacity is the acquisition buffer capacity (default 8).
	BufferCapacity int

	// QueueSize bounds the request queue.
	QueueSize int

	// FrameQueueSize bounds frames waiting for the worker. Frames arriving
	// while it is full are counted as lost.
	FrameQueueSize int

	// Logger for debug output (optional).
	Logger *slog.Logger

	// ProtocolLogger receives trigger state changes (optional).
	ProtocolLogger log.Logger

	Observers []Observer
}

// Core is the local implementation of Device. All mutating operations run
// on one worker goroutine per device.
type Core struct {
	id       string
	adapter  Adapter
	mover    AxisMover
	desc     model.Description
	registry *model.Registry
	machine  *trigger.Machine
	buffer   *acquisition.Buffer

	logger         *slog.Logger
	protocolLogger log.Logger

	obsMu     sync.RWMutex
	observers []Observer

	reqCh   chan *request
	abortCh chan *request
	frameCh chan frameMsg
	faultCh chan error

	submitted atomic.Uint64
	dropped   atomic.Uint64
	started   atomic.Bool
	done      chan struct{}

	// Owned by the worker.
	current      uint64
	cancelBefore uint64
	frameSeq     uint64
	detached     bool
}

// New creates a Core. Call Start to initialize the adapter.
func New(cfg Config) (*Core, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("device: adapter is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.FrameQueueSize <= 0 {
		cfg.FrameQueueSize = DefaultFrameQueueSize
	}

	desc := cfg.Adapter.Describe()
	if cfg.ID != "" {
		desc.DeviceID = cfg.ID
	}
	if desc.DeviceID == "" {
		return nil, errors.New("device: ID is required")
	}

	buffer := acquisition.NewBuffer(cfg.BufferCapacity)
	desc.BufferCapacity = buffer.Capacity()

	c := &Core{
		id:             desc.DeviceID,
		adapter:        cfg.Adapter,
		desc:           desc,
		registry:       model.NewRegistry(cfg.Adapter, desc.Settings),
		machine:        trigger.New(),
		buffer:         buffer,
		logger:         cfg.Logger,
		protocolLogger: cfg.ProtocolLogger,
		observers:      append([]Observer(nil), cfg.Observers...),
		reqCh:          make(chan *request, cfg.QueueSize),
		abortCh:        make(chan *request, cfg.QueueSize),
		frameCh:        make(chan frameMsg, cfg.FrameQueueSize),
		faultCh:        make(chan error, 1),
		done:           make(chan struct{}),
	}
	if mover, ok := cfg.Adapter.(AxisMover); ok && desc.Capabilities.Has(model.CapMovableAxis) {
		c.mover = mover
	}
	c.machine.OnStateChange(c.onTransition)
	return c, nil
}

// AddObserver registers an observer.
func (c *Core) AddObserver(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, o)
}

// Start launches the worker and initializes the adapter. If initialization
// fails the device is left Faulted and can be recovered with Reset.
func (c *Core) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("device %q already started", c.id)
	}
	go c.run()

	_, err := c.do(ctx, "initialize", func(ctx context.Context) (any, error) {
		if err := c.bringUp(ctx); err != nil {
			c.machine.Fault(err)
			return nil, model.WrapError(model.KindCommunicationError, err, "initialize %s", c.id)
		}
		return nil, nil
	})
	return err
}

func (c *Core) bringUp(ctx context.Context) error {
	if err := c.adapter.Initialize(ctx, sink{c}); err != nil {
		return err
	}
	return c.registry.Refresh(ctx)
}

// Detach stops any acquisition, shuts the adapter down and stops the
// worker. Requests still queued fail with UnknownDevice.
func (c *Core) Detach(ctx context.Context) error {
	if !c.started.Load() {
		return nil
	}
	_, err := c.do(ctx, "detach", func(ctx context.Context) (any, error) {
		c.detached = true
		switch c.machine.State() {
		case trigger.StateArmed, trigger.StateAcquiring:
			_ = c.adapter.StopAcquisition(ctx)
		}
		err := c.adapter.Shutdown(ctx)
		c.buffer.Drain()
		return nil, err
	})
	if model.KindOf(err) == model.KindUnknownDevice {
		return nil
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Done is closed once the device is detached.
func (c *Core) Done() <-chan struct{} {
	return c.done
}

// ID returns the device handle.
func (c *Core) ID() string {
	return c.id
}

// DescribeCapabilities returns the static description. It works in every
// state, including Faulted.
func (c *Core) DescribeCapabilities(context.Context) (model.Description, error) {
	return c.desc, nil
}

// State returns the trigger state, arm cycle and fault cause.
func (c *Core) State(context.Context) (trigger.Status, error) {
	return c.machine.Status(), nil
}

// BufferStats returns the acquisition buffer counters.
func (c *Core) BufferStats(context.Context) (acquisition.Stats, error) {
	return c.buffer.Stats(), nil
}

// ListSettings returns descriptors with cached values.
func (c *Core) ListSettings(context.Context) ([]model.SettingInfo, error) {
	if err := c.notFaulted(); err != nil {
		return nil, err
	}
	return c.registry.List(), nil
}

// GetSetting returns the cached value of a setting.
func (c *Core) GetSetting(_ context.Context, name string) (any, error) {
	if err := c.notFaulted(); err != nil {
		return nil, err
	}
	return c.registry.Get(name)
}

// SetSetting validates value, writes it to the adapter and caches it.
func (c *Core) SetSetting(ctx context.Context, name string, value any) error {
	if err := c.notFaulted(); err != nil {
		return err
	}
	_, err := c.do(ctx, "set-setting", func(ctx context.Context) (any, error) {
		if err := c.settingsWritable(); err != nil {
			return nil, err
		}
		v, err := c.registry.Set(ctx, name, value)
		if err != nil {
			return nil, c.classify(err)
		}
		c.notifySetting(name, v)
		return nil, nil
	})
	return err
}

// UpdateSettings writes several settings in one worker step.
func (c *Core) UpdateSettings(ctx context.Context, values map[string]any) error {
	if err := c.notFaulted(); err != nil {
		return err
	}
	_, err := c.do(ctx, "update-settings", func(ctx context.Context) (any, error) {
		if err := c.settingsWritable(); err != nil {
			return nil, err
		}
		applied, err := c.registry.Update(ctx, values)
		names := make([]string, 0, len(applied))
		for name := range applied {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c.notifySetting(name, applied[name])
		}
		return nil, c.classify(err)
	})
	return err
}

// Arm prepares the adapter and starts a new arm cycle.
func (c *Core) Arm(ctx context.Context) error {
	if err := c.preflight(model.CapTrigger, trigger.OpArm); err != nil {
		return err
	}
	_, err := c.do(ctx, "arm", func(ctx context.Context) (any, error) {
		_, err := c.machine.Arm(func() error { return c.adapter.PrepareAcquisition(ctx) })
		if err == nil {
			c.frameSeq = 0
			c.dropped.Store(0)
			c.buffer.Drain()
		}
		return nil, err
	})
	return err
}

// Trigger starts the acquisition of an armed device.
func (c *Core) Trigger(ctx context.Context) error {
	if err := c.preflight(model.CapTrigger, trigger.OpTrigger); err != nil {
		return err
	}
	_, err := c.do(ctx, "trigger", func(ctx context.Context) (any, error) {
		return nil, c.machine.Trigger(func() error { return c.adapter.StartAcquisition(ctx) })
	})
	return err
}

// Abort stops the acquisition and returns to Idle. It overtakes queued
// requests; those submitted before it are answered with Aborted.
func (c *Core) Abort(ctx context.Context) error {
	if err := c.preflight(model.CapTrigger, trigger.OpAbort); err != nil {
		return err
	}
	_, err := c.submit(ctx, c.abortCh, "abort", func(ctx context.Context) (any, error) {
		err := c.machine.Abort(func() error { return c.adapter.StopAcquisition(ctx) })
		if c.machine.State() == trigger.StateIdle {
			c.buffer.Drain()
			c.cancelBefore = c.current
		}
		return nil, err
	})
	return err
}

// Reset reinitializes the adapter of a faulted device.
func (c *Core) Reset(ctx context.Context) error {
	_, err := c.do(ctx, "reset", func(ctx context.Context) (any, error) {
		err := c.machine.Reset(func() error {
			stopErr := c.adapter.Shutdown(ctx)
			if err := c.bringUp(ctx); err != nil {
				if stopErr != nil {
					return errors.Join(err, fmt.Errorf("shutdown: %w", stopErr))
				}
				return err
			}
			if stopErr != nil {
				c.debugLog("shutdown before reset failed", "device", c.id, "error", stopErr)
			}
			return nil
		})
		if err == nil {
			c.buffer.Drain()
		}
		return nil, err
	})
	return err
}

// FetchFrame pops the oldest frame. Waiting only blocks the caller.
func (c *Core) FetchFrame(ctx context.Context, timeout time.Duration) (*acquisition.Frame, error) {
	if err := c.require(model.CapAcquisition); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		f, ok := c.buffer.Pop()
		if !ok {
			return nil, nil
		}
		return &f, nil
	}
	f, err := c.buffer.PopWait(ctx, timeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError("fetch-frame", ctxErr)
		}
		return nil, err
	}
	return &f, nil
}

// MoveTo moves axes to absolute positions.
func (c *Core) MoveTo(ctx context.Context, targets map[string]float64) error {
	if err := c.movable(); err != nil {
		return err
	}
	if err := c.checkTargets(targets); err != nil {
		return err
	}
	_, err := c.do(ctx, "move-to", func(ctx context.Context) (any, error) {
		return nil, c.classify(c.mover.MoveTo(ctx, targets))
	})
	return err
}

// MoveBy moves axes relative to their current positions.
func (c *Core) MoveBy(ctx context.Context, deltas map[string]float64) error {
	if err := c.movable(); err != nil {
		return err
	}
	for name := range deltas {
		if _, ok := c.desc.Axis(name); !ok {
			return model.NewError(model.KindInvalidValue, "unknown axis %q", name)
		}
	}
	_, err := c.do(ctx, "move-by", func(ctx context.Context) (any, error) {
		pos, err := c.mover.Positions(ctx)
		if err != nil {
			return nil, c.classify(err)
		}
		targets := make(map[string]float64, len(deltas))
		for name, d := range deltas {
			targets[name] = pos[name] + d
		}
		if err := c.checkTargets(targets); err != nil {
			return nil, err
		}
		return nil, c.classify(c.mover.MoveTo(ctx, targets))
	})
	return err
}

// Positions reads the current axis positions from the adapter.
func (c *Core) Positions(ctx context.Context) (map[string]float64, error) {
	if err := c.movable(); err != nil {
		return nil, err
	}
	v, err := c.do(ctx, "positions", func(ctx context.Context) (any, error) {
		pos, err := c.mover.Positions(ctx)
		if err != nil {
			return nil, c.classify(err)
		}
		return pos, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]float64), nil
}

func (c *Core) checkTargets(targets map[string]float64) error {
	for name, pos := range targets {
		axis, ok := c.desc.Axis(name)
		if !ok {
			return model.NewError(model.KindInvalidValue, "unknown axis %q", name)
		}
		if !axis.Contains(pos) {
			return model.NewError(model.KindInvalidValue, "axis %s: %g outside [%g, %g]", name, pos, axis.Lower, axis.Upper)
		}
	}
	return nil
}

func (c *Core) movable() error {
	if c.mover == nil {
		return model.NewError(model.KindUnsupported, "device %q has no movable axes", c.id)
	}
	return c.notFaulted()
}

// preflight rejects trigger operations the device cannot serve without
// queueing them.
func (c *Core) preflight(capability model.Capability, op trigger.Op) error {
	if !c.desc.Capabilities.Has(capability) {
		return model.NewError(model.KindUnsupported, "device %q lacks %s", c.id, capability)
	}
	return c.machine.Check(op)
}

func (c *Core) require(capability model.Capability) error {
	if !c.desc.Capabilities.Has(capability) {
		return model.NewError(model.KindUnsupported, "device %q lacks %s", c.id, capability)
	}
	return c.notFaulted()
}

func (c *Core) notFaulted() error {
	if c.machine.State() == trigger.StateFaulted {
		return c.machine.Check(trigger.OpArm)
	}
	return nil
}

// settingsWritable runs on the worker, where transient states are never
// observed.
func (c *Core) settingsWritable() error {
	switch s := c.machine.State(); s {
	case trigger.StateFaulted:
		return c.machine.Check(trigger.OpArm)
	case trigger.StateAcquiring, trigger.StateTriggering, trigger.StateAborting:
		return model.NewError(model.KindDeviceBusy, "cannot change settings while %s", s)
	}
	return nil
}

func (c *Core) detachedError() error {
	return model.NewError(model.KindUnknownDevice, "device %q is detached", c.id)
}

func (c *Core) onTransition(t trigger.Transition) {
	c.debugLog("trigger state changed", "device", c.id, "transition", t.String())

	if t.To == trigger.StateFaulted {
		c.buffer.Drain()
		switch t.From {
		case trigger.StateArmed, trigger.StateTriggering, trigger.StateAcquiring:
			ctx, cancel := context.WithTimeout(context.Background(), stopOnFaultTimeout)
			_ = c.adapter.StopAcquisition(ctx)
			cancel()
		}
	}

	if c.protocolLogger != nil {
		ev := log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionOut,
			Layer:     log.LayerService,
			Category:  log.CategoryState,
			DeviceID:  c.id,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityTrigger,
				OldState: t.From.String(),
				NewState: t.To.String(),
			},
		}
		if t.Cause != nil {
			ev.StateChange.Reason = t.Cause.Error()
		}
		c.protocolLogger.Log(ev)
	}

	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, o := range c.observers {
		o.StateChanged(c.id, t)
	}
}

func (c *Core) notifySetting(name string, value any) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, o := range c.observers {
		o.SettingChanged(c.id, name, value)
	}
}

func (c *Core) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
