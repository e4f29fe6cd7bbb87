package model

import (
	"context"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
)

// SettingIO is the adapter side of a registry: it reads and writes setting
// values on the hardware.
type SettingIO interface {
	ReadSetting(ctx context.Context, name string) (any, error)
	WriteSetting(ctx context.Context, name string, value any) error
}

// SettingInfo is a setting descriptor with its cached value.
type SettingInfo struct {
	SettingMetadata
	Value any `cbor:"20,keyasint,omitempty" json:"value,omitempty"`
}

// Registry is the typed, validated settings store of one device.
//
// Cached values live in an immutable map that is replaced as a whole once
// per Set, Update or Refresh, so readers never see part of a multi-setting
// write.
type Registry struct {
	io    SettingIO
	metas map[string]*SettingMetadata
	order []string

	wmu    sync.Mutex
	values atomic.Pointer[map[string]any]
}

// NewRegistry creates a registry for the given settings. A setting starts
// at its coerced default, or without a value if the default is absent or
// invalid.
func NewRegistry(io SettingIO, metas []SettingMetadata) *Registry {
	r := &Registry{io: io, metas: make(map[string]*SettingMetadata, len(metas))}
	initial := make(map[string]any, len(metas))
	for i := range metas {
		meta := metas[i]
		if _, dup := r.metas[meta.Name]; dup {
			continue
		}
		r.metas[meta.Name] = &meta
		r.order = append(r.order, meta.Name)
		if meta.Default != nil {
			if v, err := meta.Validate(meta.Default); err == nil {
				initial[meta.Name] = v
			}
		}
	}
	r.values.Store(&initial)
	return r
}

// Snapshot returns the current cached values. The map is shared and must
// not be modified.
func (r *Registry) Snapshot() map[string]any {
	return *r.values.Load()
}

// List returns all settings in declaration order.
func (r *Registry) List() []SettingInfo {
	values := r.Snapshot()
	result := make([]SettingInfo, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, SettingInfo{SettingMetadata: *r.metas[name], Value: values[name]})
	}
	return result
}

func (r *Registry) lookup(name string) (*SettingMetadata, error) {
	m, ok := r.metas[name]
	if !ok {
		return nil, NewError(KindUnknownSetting, "unknown setting %q", name)
	}
	return m, nil
}

// Get returns the cached value of a setting.
func (r *Registry) Get(name string) (any, error) {
	if _, err := r.lookup(name); err != nil {
		return nil, err
	}
	return r.Snapshot()[name], nil
}

// Check validates a write without applying it and returns the coerced value.
func (r *Registry) Check(name string, value any) (any, error) {
	m, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if m.ReadOnly {
		return nil, NewError(KindReadOnlySetting, "setting %q is read-only", name)
	}
	return m.Validate(value)
}

// publish replaces the cached values with a copy of the current ones
// updated by changes.
func (r *Registry) publish(changes map[string]any) {
	if len(changes) == 0 {
		return
	}
	next := maps.Clone(r.Snapshot())
	maps.Copy(next, changes)
	r.values.Store(&next)
}

// Set validates value, hands it to the adapter and caches it once the
// adapter acknowledges. The returned value is the one cached.
func (r *Registry) Set(ctx context.Context, name string, value any) (any, error) {
	v, err := r.Check(name, value)
	if err != nil {
		return nil, err
	}

	r.wmu.Lock()
	defer r.wmu.Unlock()
	if err := r.io.WriteSetting(ctx, name, v); err != nil {
		return nil, err
	}
	r.publish(map[string]any{name: v})
	return v, nil
}

// Update validates every entry before writing any of them, then writes
// them in name order. Writing stops at the first adapter error; entries
// written before it stay applied. The applied values are returned and
// become visible together.
func (r *Registry) Update(ctx context.Context, values map[string]any) (map[string]any, error) {
	checked := make(map[string]any, len(values))
	for name, value := range values {
		v, err := r.Check(name, value)
		if err != nil {
			return nil, err
		}
		checked[name] = v
	}

	names := make([]string, 0, len(checked))
	for name := range checked {
		names = append(names, name)
	}
	sort.Strings(names)

	r.wmu.Lock()
	defer r.wmu.Unlock()

	applied := make(map[string]any, len(names))
	defer func() { r.publish(applied) }()
	for _, name := range names {
		if err := r.io.WriteSetting(ctx, name, checked[name]); err != nil {
			return applied, err
		}
		applied[name] = checked[name]
	}
	return applied, nil
}

// Refresh reads every setting from the adapter and caches values that
// satisfy their constraint. Values that do not are skipped so the cache
// never holds an invalid value. The first adapter error aborts the refresh;
// values read before it are still cached.
func (r *Registry) Refresh(ctx context.Context) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	read := make(map[string]any, len(r.order))
	defer func() { r.publish(read) }()
	for _, name := range r.order {
		raw, err := r.io.ReadSetting(ctx, name)
		if err != nil {
			return err
		}
		if v, err := r.metas[name].Validate(raw); err == nil {
			read[name] = v
		}
	}
	return nil
}
