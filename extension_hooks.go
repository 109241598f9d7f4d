package integrations

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-integrations/core"
)

// AdapterPack replaces built-in adapters with host-supplied ones, matched by
// provider kind.
type AdapterPack struct {
	Name     string
	Adapters []core.ProviderAdapter
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	adapterPacks map[string]AdapterPack
	bundles      map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		adapterPacks: map[string]AdapterPack{},
		bundles:      map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterAdapterPack(pack AdapterPack) error {
	if h == nil {
		return fmt.Errorf("integrations: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("integrations: adapter pack name is required")
	}
	if len(pack.Adapters) == 0 {
		return fmt.Errorf("integrations: adapter pack %q has no adapters", name)
	}
	for _, adapter := range pack.Adapters {
		if adapter == nil {
			return fmt.Errorf("integrations: adapter pack %q contains nil adapter", name)
		}
		if !adapter.Kind().Valid() {
			return fmt.Errorf("integrations: adapter pack %q contains unknown provider %q", name, adapter.Kind())
		}
	}

	normalized := AdapterPack{
		Name:     name,
		Adapters: append([]core.ProviderAdapter(nil), pack.Adapters...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.adapterPacks[name]; exists {
		return fmt.Errorf("integrations: adapter pack %q already registered", name)
	}
	h.adapterPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("integrations: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("integrations: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("integrations: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("integrations: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyAdapterPacks returns adapters with every kind supplied by a pack
// replaced. Packs apply in name order, so a later pack wins a shared kind.
func (h *ExtensionHooks) ApplyAdapterPacks(adapters []core.ProviderAdapter) ([]core.ProviderAdapter, error) {
	out := append([]core.ProviderAdapter(nil), adapters...)
	if h == nil {
		return out, nil
	}

	index := make(map[core.ProviderKind]int, len(out))
	for i, adapter := range out {
		if adapter == nil {
			return nil, fmt.Errorf("integrations: nil adapter at position %d", i)
		}
		index[adapter.Kind()] = i
	}
	for _, pack := range h.AdapterPacks() {
		for _, adapter := range pack.Adapters {
			if i, ok := index[adapter.Kind()]; ok {
				out[i] = adapter
				continue
			}
			index[adapter.Kind()] = len(out)
			out = append(out, adapter)
		}
	}
	return out, nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("integrations: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) AdapterPacks() []AdapterPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.adapterPacks))
	for name := range h.adapterPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]AdapterPack, 0, len(names))
	for _, name := range names {
		pack := h.adapterPacks[name]
		out = append(out, AdapterPack{
			Name:     pack.Name,
			Adapters: append([]core.ProviderAdapter(nil), pack.Adapters...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
