package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory opens a backend. Configuration is captured by the closure.
type Factory func(ctx context.Context) (Store, error)

// Registry maps engine names to factories. The zero value is not usable;
// call NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("%w: empty name or nil factory", ErrUnknownEngine)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEngine, name)
	}
	r.factories[name] = f
	return nil
}

// Open builds the backend registered under name.
func (r *Registry) Open(ctx context.Context, name string) (Store, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownEngine, name, r.Engines())
	}
	return f(ctx)
}

// Engines lists registered names in sorted order.
func (r *Registry) Engines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
