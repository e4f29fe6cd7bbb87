package wire

// Operation identifies a device operation on the wire. The set mirrors the
// device interface one to one, plus Hello for the connection handshake.
type Operation uint8

const (
	// OpHello exchanges identities and all device descriptions. It is the
	// first request on every connection and names no device.
	OpHello Operation = 1

	// OpDescribe returns the capabilities and setting descriptors of a device.
	OpDescribe Operation = 2

	// OpListSettings returns all settings with their cached values.
	OpListSettings Operation = 3

	// OpGetSetting returns one cached setting value.
	OpGetSetting Operation = 4

	// OpSetSetting writes one setting.
	OpSetSetting Operation = 5

	// OpUpdateSettings writes several settings after validating all of them.
	OpUpdateSettings Operation = 6

	// OpArm prepares an acquisition.
	OpArm Operation = 7

	// OpTrigger starts the armed acquisition.
	OpTrigger Operation = 8

	// OpAbort stops any acquisition and discards buffered frames.
	OpAbort Operation = 9

	// OpReset re-initializes a faulted device.
	OpReset Operation = 10

	// OpFetchFrame pops the oldest buffered frame, optionally waiting.
	OpFetchFrame Operation = 11

	// OpState returns the trigger state.
	OpState Operation = 12

	// OpBufferStats returns the acquisition buffer counters.
	OpBufferStats Operation = 13

	// OpMoveTo moves axes to absolute positions.
	OpMoveTo Operation = 14

	// OpMoveBy moves axes by relative offsets.
	OpMoveBy Operation = 15

	// OpPositions returns the current axis positions.
	OpPositions Operation = 16
)

var operationNames = [...]string{
	OpHello:          "Hello",
	OpDescribe:       "Describe",
	OpListSettings:   "ListSettings",
	OpGetSetting:     "GetSetting",
	OpSetSetting:     "SetSetting",
	OpUpdateSettings: "UpdateSettings",
	OpArm:            "Arm",
	OpTrigger:        "Trigger",
	OpAbort:          "Abort",
	OpReset:          "Reset",
	OpFetchFrame:     "FetchFrame",
	OpState:          "State",
	OpBufferStats:    "BufferStats",
	OpMoveTo:         "MoveTo",
	OpMoveBy:         "MoveBy",
	OpPositions:      "Positions",
}

// String returns the operation name.
func (o Operation) String() string {
	if o.IsValid() {
		return operationNames[o]
	}
	return "Unknown"
}

// IsValid returns true if the operation is defined.
func (o Operation) IsValid() bool {
	return o >= OpHello && o <= OpPositions
}

// TargetsDevice returns true if the operation names a device.
func (o Operation) TargetsDevice() bool {
	return o.IsValid() && o != OpHello
}
