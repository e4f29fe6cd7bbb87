package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/labrig/labrig-go/pkg/config"
	"github.com/labrig/labrig-go/pkg/device"
)

// Factory creates the adapter for one configured device.
type Factory func(id string, params config.Params) (device.Adapter, error)

// Registry maps adapter kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for kind.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" || f == nil {
		return fmt.Errorf("registry: kind and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("registry: kind %q already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build creates the adapter for dc and wraps it in a Core. base supplies
// the settings shared by every device, such as loggers and queue sizes.
// The Core is not started.
func (r *Registry) Build(dc config.DeviceConfig, base device.Config) (*device.Core, error) {
	r.mu.RLock()
	f, ok := r.factories[dc.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("device %q: unknown kind %q (known: %v)", dc.ID, dc.Kind, r.Kinds())
	}

	adapter, err := f(dc.ID, dc.Params)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", dc.ID, err)
	}

	cfg := base
	cfg.ID = dc.ID
	cfg.Adapter = adapter
	if dc.BufferCapacity > 0 {
		cfg.BufferCapacity = dc.BufferCapacity
	}
	return device.New(cfg)
}
