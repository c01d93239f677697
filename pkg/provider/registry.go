package provider

import (
	"sort"
	"sync"

	"github.com/devflow-ai/devflow/pkg/models"
)

// Registry holds named providers. Mode configs reference providers by name;
// the orchestrator resolves them here at execution time.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its own name. Registering a second provider
// with the same name is a conflict.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return models.E(models.ErrorValidation, "provider must not be nil")
	}
	name := p.Name()
	if name == "" {
		return models.E(models.ErrorValidation, "provider name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		return models.Ef(models.ErrorConflict, "provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Unregister removes a provider by name and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return false
	}
	delete(r.providers, name)
	return true
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, models.Ef(models.ErrorNotFound, "provider %q not registered", name)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
