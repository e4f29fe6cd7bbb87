package wire

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/labrig/labrig-go/pkg/acquisition"
	"github.com/labrig/labrig-go/pkg/model"
)

// ProtocolVersion is exchanged in Hello.
const ProtocolVersion = 1

// HelloRequest opens a connection.
type HelloRequest struct {
	Client  string `cbor:"1,keyasint,omitempty"`
	Version uint16 `cbor:"2,keyasint"`
}

// HelloResponse carries the server identity and every hosted device.
type HelloResponse struct {
	ServerID string              `cbor:"1,keyasint"`
	Version  uint16              `cbor:"2,keyasint"`
	Devices  []model.Description `cbor:"3,keyasint"`
}

// SettingPayload names a setting and optionally carries a value.
// GetSetting requests carry the name only; SetSetting requests and
// GetSetting/SetSetting responses carry both.
type SettingPayload struct {
	Name  string `cbor:"1,keyasint,omitempty"`
	Value any    `cbor:"2,keyasint"`
}

// SettingsPayload carries several setting values by name.
type SettingsPayload struct {
	Values map[string]any `cbor:"1,keyasint"`
}

// SettingListPayload is the ListSettings result.
type SettingListPayload struct {
	Settings []model.SettingInfo `cbor:"1,keyasint"`
}

// FetchPayload is the FetchFrame request. A zero timeout does not wait.
type FetchPayload struct {
	TimeoutMillis int64 `cbor:"1,keyasint,omitempty"`
}

// Timeout returns the requested wait.
func (p FetchPayload) Timeout() time.Duration {
	return time.Duration(p.TimeoutMillis) * time.Millisecond
}

// NewFetchPayload builds a FetchFrame request for timeout. Positive
// timeouts are rounded up to whole milliseconds so a short wait never
// turns into a non-blocking fetch.
func NewFetchPayload(timeout time.Duration) FetchPayload {
	if timeout <= 0 {
		return FetchPayload{}
	}
	return FetchPayload{TimeoutMillis: int64((timeout + time.Millisecond - 1) / time.Millisecond)}
}

// FramePayload is the FetchFrame result. Frame is nil if the buffer was
// empty and the request did not wait.
type FramePayload struct {
	Frame *acquisition.Frame `cbor:"1,keyasint,omitempty"`
}

// AxesPayload carries one value per axis: targets for MoveTo, offsets for
// MoveBy, positions for the Positions result.
type AxesPayload struct {
	Axes map[string]float64 `cbor:"1,keyasint"`
}

// EncodePayload encodes a typed payload for a request or response.
func EncodePayload(v any) (cbor.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes a raw payload into v. A missing payload leaves v
// untouched. Decoding failures are InvalidRequest errors.
func DecodePayload(raw cbor.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := Unmarshal(raw, v); err != nil {
		return model.WrapError(model.KindInvalidRequest, err, "malformed payload")
	}
	return nil
}
