package pricing

import (
	"fmt"
	"sort"
	"sync"
)

// Registry resolves pricing policies by their configured name. It is safe for
// concurrent use.
type Registry struct {
	policies map[string]Policy
	mu       sync.RWMutex
}

// NewRegistry returns a registry holding the built-in policies.
func NewRegistry(bounds Bounds) *Registry {
	r := &Registry{policies: make(map[string]Policy)}
	r.Register(NewPercentStep(bounds.Min))
	r.Register(NewTiered(DefaultTiers, bounds.Min))
	return r
}

// Register adds p under p.Name(), replacing any previous entry.
func (r *Registry) Register(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Name()] = p
}

// Get retrieves a policy by name.
func (r *Registry) Get(name string) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("pricing policy %q: not registered", name)
	}
	return p, nil
}

// List returns registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.policies))
	for n := range r.policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
