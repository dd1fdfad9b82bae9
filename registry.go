package providergateway

import (
	"sort"
	"sync"
)

// Registry is the keyed store of provider configurations. It is read-mostly and has no
// network or time-based behavior.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*ProviderConfig
}

func NewRegistry() *Registry {
	return &Registry{configs: make(map[string]*ProviderConfig)}
}

// Register stores cfg under cfg.ID, replacing any previous entry.
func (r *Registry) Register(cfg ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.ID] = &cfg
}

// Lookup returns a copy of the provider's configuration.
func (r *Registry) Lookup(id string) (ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return ProviderConfig{}, ErrProviderNotFound
	}
	return *cfg, nil
}

// UpdateAPIKey rotates the provider's key in place.
func (r *Registry) UpdateAPIKey(id, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok {
		return ErrProviderNotFound
	}
	cfg.APIKey = key
	return nil
}

// ListByCategory returns the sorted ids of every provider in category.
func (r *Registry) ListByCategory(category Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := []string{}
	for id, cfg := range r.configs {
		if cfg.Category == category {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// All returns copies of every registered configuration, sorted by id.
func (r *Registry) All() []ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, *cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
