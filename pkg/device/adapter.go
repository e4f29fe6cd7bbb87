package device

import (
	"context"
	"time"

	"github.com/labrig/labrig-go/pkg/model"
)

// Sink receives asynchronous notifications from an adapter. Both methods
// may be called from any goroutine and never block.
type Sink interface {
	// OnFrameReady hands over one captured data unit. valid is false for
	// corrupt or partial captures. The adapter must not modify payload
	// afterwards.
	OnFrameReady(payload []byte, timestamp time.Time, valid bool)

	// OnFault reports an unrecoverable hardware error.
	OnFault(cause error)
}

// Adapter is the contract a vendor driver implements.
//
// All methods except Describe are called from the device worker only, so
// an adapter never sees two calls at once. Errors carrying a model.ErrorKind
// other than CommunicationError are treated as rejections that leave the
// device usable; any other error faults the device.
type Adapter interface {
	// Describe returns the static description: capabilities, setting
	// descriptors and axes. DeviceID and BufferCapacity are filled in by
	// the core.
	Describe() model.Description

	// Initialize opens the hardware. sink stays valid until Shutdown.
	Initialize(ctx context.Context, sink Sink) error

	// Shutdown releases the hardware.
	Shutdown(ctx context.Context) error

	model.SettingIO

	PrepareAcquisition(ctx context.Context) error
	StartAcquisition(ctx context.Context) error
	StopAcquisition(ctx context.Context) error
}

// AxisMover is implemented by adapters of movable-axis devices.
type AxisMover interface {
	// MoveTo moves the named axes to absolute positions and returns once
	// the move completed.
	MoveTo(ctx context.Context, targets map[string]float64) error

	// Positions returns the current position of every axis.
	Positions(ctx context.Context) (map[string]float64, error)
}

// NoAcquisition can be embedded by adapters without a trigger capability.
type NoAcquisition struct{}

func (NoAcquisition) PrepareAcquisition(context.Context) error { return errNoAcquisition }
func (NoAcquisition) StartAcquisition(context.Context) error   { return errNoAcquisition }
func (NoAcquisition) StopAcquisition(context.Context) error    { return nil }

var errNoAcquisition = model.NewError(model.KindUnsupported, "device does not acquire")
