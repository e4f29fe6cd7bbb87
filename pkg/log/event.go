package log

import (
	"time"

	"github.com/labrig/labrig-go/pkg/wire"
)

// Event is one captured protocol event. Exactly one of the detail pointers
// is set. Integer CBOR keys keep capture files small.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID is the session UUID. Device events carry none.
	ConnectionID string    `cbor:"2,keyasint,omitempty"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`
	LocalRole    Role      `cbor:"6,keyasint,omitempty"`
	RemoteAddr   string    `cbor:"7,keyasint,omitempty"`
	DeviceID     string    `cbor:"8,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// name returns names[i], or "UNKNOWN" when i is out of range.
func name[T ~uint8](names []string, i T) string {
	if int(i) < len(names) {
		return names[i]
	}
	return "UNKNOWN"
}

// Direction is the message flow relative to the local endpoint.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string { return name([]string{"IN", "OUT"}, d) }

// Layer is where an event was captured: framing, message decoding, or
// session and device logic.
type Layer uint8

const (
	LayerTransport Layer = iota
	LayerWire
	LayerService
)

func (l Layer) String() string { return name([]string{"TRANSPORT", "WIRE", "SERVICE"}, l) }

// Category classifies an event.
type Category uint8

const (
	CategoryMessage Category = iota
	CategoryControl
	CategoryState
	CategoryError
)

func (c Category) String() string {
	return name([]string{"MESSAGE", "CONTROL", "STATE", "ERROR"}, c)
}

// Role tells whether the capturing process hosts devices or proxies them.
type Role uint8

const (
	RoleServer Role = iota
	RoleProxy
)

func (r Role) String() string { return name([]string{"SERVER", "PROXY"}, r) }

// FrameEvent records one frame at the transport layer. Size includes the
// length prefix; Data holds at most the first bytes of large frames.
type FrameEvent struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MessageEvent records a decoded request or response.
type MessageEvent struct {
	Type      MessageType `cbor:"1,keyasint"`
	MessageID uint32      `cbor:"2,keyasint"`

	// Operation and Device are set on requests, Status on responses.
	Operation *wire.Operation `cbor:"3,keyasint,omitempty"`
	Device    string          `cbor:"4,keyasint,omitempty"`
	Status    *wire.Status    `cbor:"6,keyasint,omitempty"`

	Payload any `cbor:"8,keyasint,omitempty"`

	// ProcessingTime runs from request receipt to response send.
	ProcessingTime *time.Duration `cbor:"9,keyasint,omitempty"`
}

type MessageType uint8

const (
	MessageTypeRequest MessageType = iota
	MessageTypeResponse
)

func (m MessageType) String() string { return name([]string{"REQUEST", "RESPONSE"}, m) }

// StateChangeEvent records a connection, session or trigger transition.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

type StateEntity uint8

const (
	StateEntityConnection StateEntity = iota
	StateEntitySession
	StateEntityTrigger
)

func (s StateEntity) String() string {
	return name([]string{"CONNECTION", "SESSION", "TRIGGER"}, s)
}

// ControlMsgEvent records a ping, pong or close.
type ControlMsgEvent struct {
	Type        ControlMsgType `cbor:"1,keyasint"`
	CloseReason *uint8         `cbor:"2,keyasint,omitempty"`
}

type ControlMsgType uint8

const (
	ControlMsgPing ControlMsgType = iota
	ControlMsgPong
	ControlMsgClose
)

func (c ControlMsgType) String() string { return name([]string{"PING", "PONG", "CLOSE"}, c) }

// ErrorEventData records a failure. Context names the operation that was
// running when it happened.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Code    *int   `cbor:"3,keyasint,omitempty"`
	Context string `cbor:"4,keyasint,omitempty"`
}
