package executor

import (
	"fmt"
	"sync"
)

// Factory builds an executor from its config options.
type Factory func(opts map[string]string) (Executor, error)

// Registry maps executor names to factories so the daemon can build
// the configured environment without linking site-specific code.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
// Returns an error if the name is already taken.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("executor %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// New builds an executor by name.
func (r *Registry) New(name string, opts map[string]string) (Executor, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("executor %q not registered", name)
	}
	return f(opts)
}

// Names returns the registered executor names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
