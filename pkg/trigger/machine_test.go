package trigger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labrig/labrig-go/pkg/model"
)

// force puts the machine into s without running any hook.
func force(m *Machine, s State) {
	m.state.Store(uint32(s))
	if s == StateFaulted {
		m.mu.Lock()
		m.cause = errors.New("injected")
		m.mu.Unlock()
	}
}

func run(m *Machine, op Op) error {
	ok := func() error { return nil }
	switch op {
	case OpArm:
		_, err := m.Arm(ok)
		return err
	case OpTrigger:
		return m.Trigger(ok)
	case OpAbort:
		return m.Abort(ok)
	default:
		return m.Reset(ok)
	}
}

func TestTransitionTable(t *testing.T) {
	type result struct {
		err  error
		next State
	}

	// Every (state, operation) pair. A nil err means success.
	table := map[State]map[Op]result{
		StateIdle: {
			OpArm:     {nil, StateArmed},
			OpTrigger: {model.ErrNotArmed, StateIdle},
			OpAbort:   {nil, StateIdle},
			OpReset:   {model.ErrInvalidRequest, StateIdle},
		},
		StateArmed: {
			OpArm:     {model.ErrAlreadyArmed, StateArmed},
			OpTrigger: {nil, StateAcquiring},
			OpAbort:   {nil, StateIdle},
			OpReset:   {model.ErrDeviceBusy, StateArmed},
		},
		StateTriggering: {
			OpArm:     {model.ErrDeviceBusy, StateTriggering},
			OpTrigger: {model.ErrDeviceBusy, StateTriggering},
			OpAbort:   {nil, StateIdle},
			OpReset:   {model.ErrDeviceBusy, StateTriggering},
		},
		StateAcquiring: {
			OpArm:     {model.ErrAlreadyArmed, StateAcquiring},
			OpTrigger: {model.ErrNotArmed, StateAcquiring},
			OpAbort:   {nil, StateIdle},
			OpReset:   {model.ErrDeviceBusy, StateAcquiring},
		},
		StateAborting: {
			OpArm:     {model.ErrDeviceBusy, StateAborting},
			OpTrigger: {model.ErrDeviceBusy, StateAborting},
			OpAbort:   {nil, StateIdle},
			OpReset:   {model.ErrDeviceBusy, StateAborting},
		},
		StateFaulted: {
			OpArm:     {model.ErrDeviceFaulted, StateFaulted},
			OpTrigger: {model.ErrDeviceFaulted, StateFaulted},
			OpAbort:   {model.ErrDeviceFaulted, StateFaulted},
			OpReset:   {nil, StateIdle},
		},
	}

	for state := StateIdle; state <= StateFaulted; state++ {
		for op := OpArm; op <= OpReset; op++ {
			want, ok := table[state][op]
			require.True(t, ok, "missing table entry %s/%s", state, op)

			t.Run(fmt.Sprintf("%s/%s", state, op), func(t *testing.T) {
				m := New()
				force(m, state)

				err := run(m, op)
				if want.err == nil {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, want.err)
				}
				assert.Equal(t, want.next, m.State())
			})
		}
	}
}

func TestArmAllocatesCycle(t *testing.T) {
	m := New()
	assert.Equal(t, uint64(0), m.Cycle())

	cycle, err := m.Arm(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cycle)

	require.NoError(t, m.Abort(nil))
	cycle, err = m.Arm(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cycle)
}

func TestAbortFromIdleSkipsAdapter(t *testing.T) {
	m := New()
	var changes int
	m.OnStateChange(func(Transition) { changes++ })

	require.NoError(t, m.Abort(func() error {
		t.Fatal("stop called while idle")
		return nil
	}))
	assert.Equal(t, StateIdle, m.State())
	assert.Zero(t, changes)
}

func TestArmPrepareRejected(t *testing.T) {
	m := New()
	_, err := m.Arm(func() error { return model.NewError(model.KindInvalidValue, "bad roi") })
	assert.ErrorIs(t, err, model.ErrInvalidValue)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, uint64(0), m.Cycle())
}

func TestHookFaults(t *testing.T) {
	cause := errors.New("usb disconnected")

	m := New()
	_, err := m.Arm(nil)
	require.NoError(t, err)

	err = m.Trigger(func() error { return cause })
	assert.ErrorIs(t, err, model.ErrCommunicationError)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StateFaulted, m.State())
	assert.Equal(t, cause, m.Cause())

	_, err = m.Arm(nil)
	assert.ErrorIs(t, err, model.ErrDeviceFaulted)

	require.NoError(t, m.Reset(nil))
	assert.Equal(t, StateIdle, m.State())
	assert.Nil(t, m.Cause())
}

func TestTriggerStartRejectedStaysArmed(t *testing.T) {
	m := New()
	_, err := m.Arm(nil)
	require.NoError(t, err)

	err = m.Trigger(func() error { return model.NewError(model.KindDeviceBusy, "sensor warming up") })
	assert.ErrorIs(t, err, model.ErrDeviceBusy)
	assert.Equal(t, StateArmed, m.State())
}

func TestResetFailedStaysFaulted(t *testing.T) {
	m := New()
	m.Fault(errors.New("overtemperature"))

	err := m.Reset(func() error { return errors.New("still hot") })
	assert.ErrorIs(t, err, model.ErrResetFailed)
	assert.Equal(t, StateFaulted, m.State())
}

func TestFaultKeepsFirstCause(t *testing.T) {
	m := New()
	first := errors.New("first")

	assert.True(t, m.Fault(first))
	assert.False(t, m.Fault(errors.New("second")))
	assert.Equal(t, first, m.Cause())
	assert.Equal(t, "first", m.Status().Cause)
}

func TestCheckFastFail(t *testing.T) {
	m := New()
	force(m, StateTriggering)
	assert.ErrorIs(t, m.Check(OpTrigger), model.ErrDeviceBusy)
	assert.ErrorIs(t, m.Check(OpArm), model.ErrDeviceBusy)
	assert.NoError(t, m.Check(OpAbort))

	force(m, StateFaulted)
	assert.ErrorIs(t, m.Check(OpAbort), model.ErrDeviceFaulted)
	assert.NoError(t, m.Check(OpReset))
}

func TestStateChangeCallback(t *testing.T) {
	m := New()
	var got []Transition
	m.OnStateChange(func(tr Transition) { got = append(got, tr) })

	_, err := m.Arm(nil)
	require.NoError(t, err)
	require.NoError(t, m.Trigger(nil))
	require.NoError(t, m.Abort(nil))

	var path []State
	for _, tr := range got {
		path = append(path, tr.To)
	}
	assert.Equal(t, []State{StateArmed, StateTriggering, StateAcquiring, StateAborting, StateIdle}, path)
	assert.Equal(t, uint64(1), got[len(got)-1].Cycle)
}
