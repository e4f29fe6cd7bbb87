package device

import (
	"context"
	"time"

	"github.com/labrig/labrig-go/pkg/acquisition"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/trigger"
)

// Device is the interface shared by a local Core and a remote proxy.
type Device interface {
	// ID returns the stable device handle.
	ID() string

	DescribeCapabilities(ctx context.Context) (model.Description, error)

	ListSettings(ctx context.Context) ([]model.SettingInfo, error)
	GetSetting(ctx context.Context, name string) (any, error)
	SetSetting(ctx context.Context, name string, value any) error

	// UpdateSettings validates all values before writing any of them.
	UpdateSettings(ctx context.Context, values map[string]any) error

	Arm(ctx context.Context) error
	Trigger(ctx context.Context) error
	Abort(ctx context.Context) error
	Reset(ctx context.Context) error

	// FetchFrame pops the oldest buffered frame. With timeout <= 0 it does
	// not wait and returns (nil, nil) when the buffer is empty; otherwise
	// it waits up to timeout and fails with Timeout.
	FetchFrame(ctx context.Context, timeout time.Duration) (*acquisition.Frame, error)

	State(ctx context.Context) (trigger.Status, error)
	BufferStats(ctx context.Context) (acquisition.Stats, error)

	MoveTo(ctx context.Context, targets map[string]float64) error
	MoveBy(ctx context.Context, deltas map[string]float64) error
	Positions(ctx context.Context) (map[string]float64, error)
}

// Observer is notified of state and setting changes. Calls are made from
// the device worker and must return quickly.
type Observer interface {
	StateChanged(deviceID string, t trigger.Transition)
	SettingChanged(deviceID string, name string, value any)
}

var _ Device = (*Core)(nil)
