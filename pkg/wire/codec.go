package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	// Canonical key order makes equal messages encode to equal bytes.
	// Frame timestamps keep microseconds.
	encMode = must(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnixMicro,
	}.EncMode())

	// Unknown keys are ignored so newer peers can add fields.
	decMode = must(cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode())
)

func must[T any](v T, err error) T {
	if err != nil {
		panic("wire: cbor mode: " + err.Error())
	}
	return v
}

// Marshal encodes v with the wire encoding options.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes data into v with the wire decoding options.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

func decode[T any](data []byte, what string) (*T, error) {
	v := new(T)
	if err := decMode.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	return v, nil
}

// EncodeRequest validates and encodes a request.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return Marshal(req)
}

// DecodeRequest decodes a request. A request that decodes but fails
// validation is returned together with the error so the caller can still
// answer its message ID.
func DecodeRequest(data []byte) (*Request, error) {
	req, err := decode[Request](data, "request")
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return req, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

func EncodeResponse(resp *Response) ([]byte, error) { return Marshal(resp) }

func DecodeResponse(data []byte) (*Response, error) {
	return decode[Response](data, "response")
}

// EncodeControlMessage encodes a ping, pong or close, forcing the reserved
// message ID.
func EncodeControlMessage(msg *ControlMessage) ([]byte, error) {
	msg.MessageID = ControlMessageID
	return Marshal(msg)
}

func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	msg, err := decode[ControlMessage](data, "control message")
	if err != nil {
		return nil, err
	}
	if msg.MessageID != ControlMessageID {
		return nil, fmt.Errorf("not a control message: messageId=%d", msg.MessageID)
	}
	return msg, nil
}

// IsControl reports whether data carries the reserved control message ID.
// Whether any other message is a request or a response follows from the
// direction it travels.
func IsControl(data []byte) (bool, error) {
	var head struct {
		MessageID uint32 `cbor:"1,keyasint"`
	}
	if err := decMode.Unmarshal(data, &head); err != nil {
		return false, fmt.Errorf("peek message: %w", err)
	}
	return head.MessageID == ControlMessageID, nil
}
