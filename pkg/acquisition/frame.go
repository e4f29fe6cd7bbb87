package acquisition

import "time"

// Frame is one captured data unit.
type Frame struct {
	// Seq starts at 1 on every arm cycle and strictly increases within it.
	Seq uint64 `cbor:"1,keyasint" json:"seq"`

	// Cycle is the arm cycle the frame was captured in.
	Cycle uint64 `cbor:"2,keyasint" json:"cycle"`

	// Timestamp is the capture time reported by the adapter.
	Timestamp time.Time `cbor:"3,keyasint" json:"timestamp"`

	// Valid is false for corrupt or partial captures.
	Valid bool `cbor:"4,keyasint" json:"valid"`

	// Payload is the opaque frame data.
	Payload []byte `cbor:"5,keyasint,omitempty" json:"-"`
}
