package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/labrig/labrig-go/pkg/model"
)

// ControlMessageID is the message ID reserved for control messages.
const ControlMessageID uint32 = 0

// Request is a call from a proxy to the server.
//
// CBOR encoding:
//
//	{
//	  1: messageId,   // uint32, never 0
//	  2: operation,   // uint8
//	  3: device,      // string, empty for Hello
//	  4: payload      // operation-specific, optional
//	}
type Request struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Operation Operation       `cbor:"2,keyasint"`
	Device    string          `cbor:"3,keyasint,omitempty"`
	Payload   cbor.RawMessage `cbor:"4,keyasint,omitempty"`
}

// Validate checks if the request is well formed.
func (r *Request) Validate() error {
	if r.MessageID == ControlMessageID {
		return fmt.Errorf("messageId 0 is reserved for control messages")
	}
	if !r.Operation.IsValid() {
		return fmt.Errorf("invalid operation: %d", r.Operation)
	}
	if r.Operation.TargetsDevice() && r.Device == "" {
		return fmt.Errorf("%s requires a device", r.Operation)
	}
	return nil
}

// Response is the server's answer to one request.
//
// CBOR encoding:
//
//	{
//	  1: messageId,   // uint32, matches the request
//	  2: status,      // uint8: 0 = success, otherwise the error kind
//	  3: payload      // result on success, ErrorPayload on failure
//	}
type Response struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Status    Status          `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// Err reconstructs the error carried by a failed response, keeping the
// error kind. It returns nil for successful responses.
func (r *Response) Err() error {
	if r.IsSuccess() {
		return nil
	}
	var ep ErrorPayload
	if len(r.Payload) > 0 {
		_ = Unmarshal(r.Payload, &ep)
	}
	return &model.Error{Kind: r.Status.Kind(), Message: ep.Message}
}

// NewResponse builds a success response carrying result.
func NewResponse(messageID uint32, result any) (*Response, error) {
	resp := &Response{MessageID: messageID}
	if result == nil {
		return resp, nil
	}
	data, err := Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	resp.Payload = data
	return resp, nil
}

// NewErrorResponse builds a failure response for err.
func NewErrorResponse(messageID uint32, err error) *Response {
	resp := &Response{MessageID: messageID, Status: StatusOf(err)}
	if data, mErr := Marshal(ErrorPayload{Message: err.Error()}); mErr == nil {
		resp.Payload = data
	}
	return resp
}

// ErrorPayload carries the human-readable message of a failed response.
//
// CBOR encoding:
//
//	{
//	  1: message  // string
//	}
type ErrorPayload struct {
	Message string `cbor:"1,keyasint,omitempty"`
}

// ControlMessage represents a transport-level control message.
// It always carries message ID 0 so it can never be mistaken for a
// request or response.
type ControlMessage struct {
	MessageID uint32             `cbor:"1,keyasint"`
	Type      ControlMessageType `cbor:"2,keyasint"`
	Sequence  uint32             `cbor:"3,keyasint,omitempty"`
}

// ControlMessageType represents the type of control message.
type ControlMessageType uint8

const (
	// ControlPing is sent to check connection liveness.
	ControlPing ControlMessageType = 1

	// ControlPong is the response to a ping.
	ControlPong ControlMessageType = 2

	// ControlClose initiates graceful connection close.
	ControlClose ControlMessageType = 3
)

// String returns the control message type name.
func (t ControlMessageType) String() string {
	switch t {
	case ControlPing:
		return "ping"
	case ControlPong:
		return "pong"
	case ControlClose:
		return "close"
	default:
		return "unknown"
	}
}
