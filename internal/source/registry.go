package source

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownSource is returned when looking up an id with no registered adapter.
var ErrUnknownSource = errors.New("source: no adapter registered for id")

// Registry holds the adapters constructed at startup, keyed by ID.
// Lookups happen on every query; registration happens during wiring and
// again whenever a settings change rebuilds the credentialed adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ID]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[ID]Adapter)}
}

// Register adds an adapter. Registering the same id twice is a wiring bug.
func (r *Registry) Register(a Adapter) error {
	id := a.ID()
	if !Valid(id) {
		return fmt.Errorf("source: adapter reports invalid id %q", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("source: adapter already registered for %q", id)
	}
	r.adapters[id] = a
	return nil
}

// Replace installs a, overwriting any adapter already registered for its
// id. Used when a settings change rebuilds credentialed adapters.
func (r *Registry) Replace(a Adapter) error {
	id := a.ID()
	if !Valid(id) {
		return fmt.Errorf("source: adapter reports invalid id %q", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[id] = a
	return nil
}

// Remove drops the adapter for id. Removing an absent id is a no-op.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, id)
}

// Get returns the adapter for id, or ErrUnknownSource.
func (r *Registry) Get(id ID) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return a, nil
}

// IDs returns the registered ids sorted lexically.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
