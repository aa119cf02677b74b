package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Factory creates a fresh Engine for one script run.
type Factory func() (Engine, error)

// Registry maps engine names to their factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Get returns the factory registered under name.
func (r *Registry) Get(name string) (Factory, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unsupported engine: %q (supported: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f, nil
}

// Names returns all registered engine names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
