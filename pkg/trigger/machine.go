package trigger

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/labrig/labrig-go/pkg/model"
)

// State represents the trigger state of a device.
type State uint8

const (
	// StateIdle is the initial state. Only arm() succeeds here.
	StateIdle State = iota

	// StateArmed means the adapter is prepared and waits for trigger().
	StateArmed

	// StateTriggering means trigger() is in flight and the adapter has not
	// yet confirmed the capture start.
	StateTriggering

	// StateAcquiring means the adapter produces frames.
	StateAcquiring

	// StateAborting means abort() is stopping the adapter.
	StateAborting

	// StateFaulted is terminal until reset().
	StateFaulted
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArmed:
		return "ARMED"
	case StateTriggering:
		return "TRIGGERING"
	case StateAcquiring:
		return "ACQUIRING"
	case StateAborting:
		return "ABORTING"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transient returns true for states that only exist while an operation
// is executing.
func (s State) Transient() bool {
	return s == StateTriggering || s == StateAborting
}

// Op identifies a state machine operation.
type Op uint8

const (
	OpArm Op = iota
	OpTrigger
	OpAbort
	OpReset
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpArm:
		return "arm"
	case OpTrigger:
		return "trigger"
	case OpAbort:
		return "abort"
	case OpReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Transition describes one state change.
type Transition struct {
	From  State
	To    State
	Cycle uint64
	Cause error
}

// Status is a consistent view of the machine.
type Status struct {
	State State  `cbor:"1,keyasint" json:"state"`
	Cycle uint64 `cbor:"2,keyasint" json:"cycle"`
	Cause string `cbor:"3,keyasint,omitempty" json:"cause,omitempty"`
}

// Machine is the arm/trigger/abort lifecycle of one device.
//
// Transitions are driven by a single goroutine (the device worker). State,
// Cycle, Status and Check are safe to call from any goroutine.
type Machine struct {
	state atomic.Uint32
	cycle atomic.Uint64

	mu    sync.Mutex
	cause error

	onStateChange func(Transition)
}

// New creates a machine in StateIdle.
func New() *Machine {
	return &Machine{}
}

// OnStateChange registers a callback invoked after every transition, on
// the goroutine that caused it.
func (m *Machine) OnStateChange(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// State returns the current state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Cycle returns the current arm cycle. It increments on every successful arm.
func (m *Machine) Cycle() uint64 {
	return m.cycle.Load()
}

// Cause returns the recorded fault cause, or nil if not faulted.
func (m *Machine) Cause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

// Status returns the current state, cycle and fault cause.
func (m *Machine) Status() Status {
	s := Status{State: m.State(), Cycle: m.Cycle()}
	if cause := m.Cause(); cause != nil {
		s.Cause = cause.Error()
	}
	return s
}

// Check reports whether op would be refused right now without waiting for
// the worker. It only catches the conditions that must fail fast: faulted
// devices and arm/trigger racing an in-flight transition.
func (m *Machine) Check(op Op) error {
	switch s := m.State(); {
	case s == StateFaulted && op != OpReset:
		return m.faultedError()
	case s.Transient() && (op == OpArm || op == OpTrigger):
		return model.NewError(model.KindDeviceBusy, "%s while %s", op, s)
	}
	return nil
}

// Arm moves Idle to Armed after prepare succeeds and allocates a new arm
// cycle. It returns the new cycle.
func (m *Machine) Arm(prepare func() error) (uint64, error) {
	switch s := m.State(); s {
	case StateIdle:
	case StateFaulted:
		return 0, m.faultedError()
	case StateTriggering, StateAborting:
		return 0, model.NewError(model.KindDeviceBusy, "arm while %s", s)
	default:
		return 0, model.NewError(model.KindAlreadyArmed, "device is %s", s)
	}

	if err := m.call(prepare); err != nil {
		return 0, err
	}

	cycle := m.cycle.Add(1)
	m.set(StateArmed, nil)
	return cycle, nil
}

// Trigger moves Armed through Triggering to Acquiring once start confirms
// the capture. If start fails without a fault the device stays Armed.
func (m *Machine) Trigger(start func() error) error {
	switch s := m.State(); s {
	case StateArmed:
	case StateFaulted:
		return m.faultedError()
	case StateTriggering, StateAborting:
		return model.NewError(model.KindDeviceBusy, "trigger while %s", s)
	default:
		return model.NewError(model.KindNotArmed, "device is %s", s)
	}

	m.set(StateTriggering, nil)
	if err := m.call(start); err != nil {
		if m.State() != StateFaulted {
			m.set(StateArmed, nil)
		}
		return err
	}
	m.set(StateAcquiring, nil)
	return nil
}

// Abort moves any active state back to Idle after stop returns. A stop
// error that is not a fault is returned but the machine still ends Idle.
// Abort from Idle succeeds without calling stop.
func (m *Machine) Abort(stop func() error) error {
	switch m.State() {
	case StateIdle:
		return nil
	case StateFaulted:
		return m.faultedError()
	}

	m.set(StateAborting, nil)
	err := m.call(stop)
	if m.State() != StateFaulted {
		m.set(StateIdle, nil)
	}
	return err
}

// Reset moves Faulted to Idle after reinit succeeds. On failure the
// machine stays Faulted and the error is of kind ResetFailed.
func (m *Machine) Reset(reinit func() error) error {
	switch s := m.State(); s {
	case StateFaulted:
	case StateIdle:
		return model.NewError(model.KindInvalidRequest, "device is not faulted")
	default:
		return model.NewError(model.KindDeviceBusy, "reset while %s, abort first", s)
	}

	if reinit != nil {
		if err := reinit(); err != nil {
			return model.WrapError(model.KindResetFailed, err, "reinitialize")
		}
	}
	m.set(StateIdle, nil)
	return nil
}

// Fault moves the machine to Faulted and records cause. It returns false
// if the machine was already faulted, in which case the first cause is kept.
func (m *Machine) Fault(cause error) bool {
	if m.State() == StateFaulted {
		return false
	}
	if cause == nil {
		cause = model.NewError(model.KindCommunicationError, "unspecified adapter fault")
	}
	m.set(StateFaulted, cause)
	return true
}

// call runs an adapter hook. Errors classified as faults move the machine
// to Faulted and surface as CommunicationError; other errors pass through.
func (m *Machine) call(fn func() error) error {
	if fn == nil {
		return nil
	}
	err := fn()
	if err == nil {
		return nil
	}
	if !model.IsFault(err) {
		return err
	}
	m.Fault(err)
	if model.KindOf(err) == model.KindCommunicationError {
		return err
	}
	return model.WrapError(model.KindCommunicationError, err, "adapter")
}

func (m *Machine) faultedError() error {
	cause := m.Cause()
	if cause == nil {
		return model.NewError(model.KindDeviceFaulted, "device faulted")
	}
	return model.NewError(model.KindDeviceFaulted, "device faulted: %v", cause)
}

func (m *Machine) set(to State, cause error) {
	from := State(m.state.Swap(uint32(to)))

	m.mu.Lock()
	if to == StateFaulted {
		m.cause = cause
	} else {
		m.cause = nil
	}
	fn := m.onStateChange
	m.mu.Unlock()

	if fn != nil && from != to {
		fn(Transition{From: from, To: to, Cycle: m.Cycle(), Cause: cause})
	}
}

// String implements fmt.Stringer for log output.
func (t Transition) String() string {
	if t.Cause != nil {
		return fmt.Sprintf("%s -> %s (cycle %d): %v", t.From, t.To, t.Cycle, t.Cause)
	}
	return fmt.Sprintf("%s -> %s (cycle %d)", t.From, t.To, t.Cycle)
}
