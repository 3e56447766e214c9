package adapter

import (
	"sort"
	"sync"
)

// Registry holds the local adapter modules a Platform function slot can name.
// A module is any value implementing some subset of the capability
// interfaces; the executor discovers capabilities by type assertion.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]any
}

func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]any)}
}

// Register adds or replaces module under name.
func (r *Registry) Register(name string, module any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = module
}

func (r *Registry) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Names lists registered modules, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
