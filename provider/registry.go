package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quotaguard/quotaguard/core"
)

// Config carries the provider-specific settings a factory may need when
// building an adapter instance.
type Config struct {
	APIKey  string
	BaseURL string
	Options map[string]string
}

// Factory builds an adapter instance for one provider.
type Factory func(cfg Config) (Adapter, error)

// Registry maps provider identifiers to adapter factories. It is an
// explicit instance passed to consumers rather than package-level state,
// so registration is visible at wire-up. The zero value is ready to use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates id with a factory. Registration is atomic; the
// last registration for an id wins.
func (r *Registry) Register(id string, factory Factory) error {
	id = strings.TrimSpace(strings.ToLower(id))
	if id == "" {
		return fmt.Errorf("provider id is required")
	}
	if factory == nil {
		return fmt.Errorf("provider %q: factory is required", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories == nil {
		r.factories = make(map[string]Factory)
	}
	r.factories[id] = factory
	return nil
}

// Create builds an adapter for id. An unregistered id fails with
// UnknownProviderError; there is no silent default adapter, because a
// fallback would mask the absence of correct cost accounting.
func (r *Registry) Create(id string, cfg Config) (Adapter, error) {
	id = strings.TrimSpace(strings.ToLower(id))

	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &core.UnknownProviderError{ID: id}
	}
	return factory(cfg)
}

// IsRegistered reports whether id has a factory.
func (r *Registry) IsRegistered(id string) bool {
	id = strings.TrimSpace(strings.ToLower(id))

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// List returns the registered provider ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
