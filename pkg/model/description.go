package model

// AxisInfo describes one axis of a movable-axis device.
type AxisInfo struct {
	Name  string  `cbor:"1,keyasint" json:"name"`
	Lower float64 `cbor:"2,keyasint" json:"lower"`
	Upper float64 `cbor:"3,keyasint" json:"upper"`
	Unit  string  `cbor:"4,keyasint,omitempty" json:"unit,omitempty"`
}

// Contains returns true if pos lies within the axis limits.
func (a AxisInfo) Contains(pos float64) bool {
	return pos >= a.Lower && pos <= a.Upper
}

// Description summarizes a device for clients. It is what a proxy caches
// as its shadow at attach time.
type Description struct {
	DeviceID       string            `cbor:"1,keyasint" json:"deviceId"`
	Kind           string            `cbor:"2,keyasint,omitempty" json:"kind,omitempty"`
	Vendor         string            `cbor:"3,keyasint,omitempty" json:"vendor,omitempty"`
	Model          string            `cbor:"4,keyasint,omitempty" json:"model,omitempty"`
	SerialNumber   string            `cbor:"5,keyasint,omitempty" json:"serialNumber,omitempty"`
	Capabilities   Capability        `cbor:"6,keyasint" json:"capabilities"`
	Settings       []SettingMetadata `cbor:"7,keyasint,omitempty" json:"settings,omitempty"`
	Axes           []AxisInfo        `cbor:"8,keyasint,omitempty" json:"axes,omitempty"`
	BufferCapacity int               `cbor:"9,keyasint,omitempty" json:"bufferCapacity,omitempty"`
}

// Setting returns the metadata of the named setting.
func (d *Description) Setting(name string) (SettingMetadata, bool) {
	for _, s := range d.Settings {
		if s.Name == name {
			return s, true
		}
	}
	return SettingMetadata{}, false
}

// Axis returns the named axis.
func (d *Description) Axis(name string) (AxisInfo, bool) {
	for _, a := range d.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return AxisInfo{}, false
}
