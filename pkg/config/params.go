package config

import (
	"fmt"
	"time"
)

// Params holds the adapter-specific parameters of a device entry.
// Accessors return def when the key is absent and an error when it is
// present with the wrong type.
type Params map[string]any

// String returns a string parameter.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", p.typeError(key, "string")
	}
	return s, nil
}

// Int returns an integer parameter.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, p.typeError(key, "integer")
}

// Float returns a numeric parameter.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, p.typeError(key, "number")
}

// Bool returns a boolean parameter.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, p.typeError(key, "bool")
	}
	return b, nil
}

// Duration returns a duration given as "250ms" or as seconds.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	d, ok := durationParam(v)
	if !ok {
		return 0, p.typeError(key, "duration")
	}
	return d, nil
}

// Ints returns a list of integers.
func (p Params) Ints(key string) ([]int, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, p.typeError(key, "list of integers")
	}
	out := make([]int, 0, len(list))
	for _, item := range list {
		n, ok := item.(int)
		if !ok {
			return nil, p.typeError(key, "list of integers")
		}
		out = append(out, n)
	}
	return out, nil
}

// Strings returns a list of strings.
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, p.typeError(key, "list of strings")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, p.typeError(key, "list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

func (p Params) typeError(key, want string) error {
	return fmt.Errorf("param %q: expected %s, got %T", key, want, p[key])
}
