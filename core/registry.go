package core

import (
	"fmt"
	"sort"
	"sync"
)

type ProviderAdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[ProviderKind]ProviderAdapter
}

func NewAdapterRegistry(adapters ...ProviderAdapter) (*ProviderAdapterRegistry, error) {
	registry := &ProviderAdapterRegistry{adapters: make(map[ProviderKind]ProviderAdapter)}
	for _, adapter := range adapters {
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *ProviderAdapterRegistry) Register(adapter ProviderAdapter) error {
	if adapter == nil {
		return fmt.Errorf("core: provider adapter is nil")
	}
	kind, err := ParseProviderKind(string(adapter.Kind()))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[kind]; exists {
		return fmt.Errorf("core: provider adapter already registered: %s", kind)
	}
	r.adapters[kind] = adapter
	return nil
}

func (r *ProviderAdapterRegistry) Get(kind ProviderKind) (ProviderAdapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	adapter, ok := r.adapters[kind]
	r.mu.RUnlock()
	return adapter, ok
}

func (r *ProviderAdapterRegistry) List() []ProviderAdapter {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	adapters := make([]ProviderAdapter, 0, len(kinds))
	for _, kind := range kinds {
		adapters = append(adapters, r.adapters[ProviderKind(kind)])
	}
	return adapters
}

var _ AdapterRegistry = (*ProviderAdapterRegistry)(nil)
