package model

import (
	"fmt"
	"math"
	"slices"
)

// DataType represents the type of a setting value.
type DataType uint8

const (
	DataTypeUnknown DataType = iota
	DataTypeBool
	DataTypeInt
	DataTypeFloat
	DataTypeEnum
)

// String returns the data type name.
func (d DataType) String() string {
	names := []string{"unknown", "bool", "int", "float", "enum"}
	if int(d) < len(names) {
		return names[d]
	}
	return "unknown"
}

// SettingMetadata describes a setting's properties.
//
// Values are carried as bool, int64, float64 or string depending on Type.
type SettingMetadata struct {
	// Name is the setting name, unique per device.
	Name string `cbor:"1,keyasint" json:"name"`

	// Type is the data type of the setting value.
	Type DataType `cbor:"2,keyasint" json:"type"`

	// ReadOnly settings are reported by the device but cannot be written.
	ReadOnly bool `cbor:"3,keyasint,omitempty" json:"readOnly,omitempty"`

	// Min is the minimum allowed value (int and float types).
	Min *float64 `cbor:"4,keyasint,omitempty" json:"min,omitempty"`

	// Max is the maximum allowed value (int and float types).
	Max *float64 `cbor:"5,keyasint,omitempty" json:"max,omitempty"`

	// Values is the allowed value set for enum settings.
	Values []string `cbor:"6,keyasint,omitempty" json:"values,omitempty"`

	// Default is the value used until the adapter reports one.
	Default any `cbor:"7,keyasint,omitempty" json:"default,omitempty"`

	// Unit is the unit of measurement (e.g., "s", "mW").
	Unit string `cbor:"8,keyasint,omitempty" json:"unit,omitempty"`

	// Description is a human-readable description.
	Description string `cbor:"9,keyasint,omitempty" json:"description,omitempty"`
}

// Range returns a pointer pair suitable for Min and Max.
func Range(min, max float64) (*float64, *float64) {
	return &min, &max
}

// Validate checks value against the metadata and returns the coerced value.
func (m *SettingMetadata) Validate(value any) (any, error) {
	v, err := Coerce(m.Type, value)
	if err != nil {
		return nil, WrapError(KindInvalidValue, err, "setting %q", m.Name)
	}

	switch m.Type {
	case DataTypeInt, DataTypeFloat:
		f, _ := toFloat64(v)
		if m.Min != nil && f < *m.Min {
			return nil, NewError(KindInvalidValue, "setting %q: %v < %v", m.Name, v, *m.Min)
		}
		if m.Max != nil && f > *m.Max {
			return nil, NewError(KindInvalidValue, "setting %q: %v > %v", m.Name, v, *m.Max)
		}
	case DataTypeEnum:
		if len(m.Values) > 0 && !slices.Contains(m.Values, v.(string)) {
			return nil, NewError(KindInvalidValue, "setting %q: %q not in %v", m.Name, v, m.Values)
		}
	}
	return v, nil
}

// Coerce converts value into the canonical Go type for t: bool, int64,
// float64 or string. Numbers decoded from the wire arrive as uint64, int64
// or float64; this accepts any Go numeric type where no precision is lost.
func Coerce(t DataType, value any) (any, error) {
	if value == nil {
		return nil, fmt.Errorf("value is nil")
	}

	switch t {
	case DataTypeBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
		return b, nil

	case DataTypeInt:
		if f, ok := value.(float64); ok {
			if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
				return nil, fmt.Errorf("expected integer, got %v", f)
			}
			if f < -(1<<63) || f >= 1<<63 {
				return nil, fmt.Errorf("integer %v overflows int64", f)
			}
			return int64(f), nil
		}
		if f, ok := value.(float32); ok {
			return Coerce(t, float64(f))
		}
		return toInt64(value)

	case DataTypeFloat:
		f, ok := toFloat64(value)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", value)
		}
		if math.IsNaN(f) {
			return nil, fmt.Errorf("NaN is not a valid value")
		}
		return f, nil

	case DataTypeEnum:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported data type %s", t)
	}
}

// Helper functions for type checking.

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return toInt64(uint64(n))
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows int64", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
