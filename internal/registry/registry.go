// Package registry holds the descriptors of monitored interfaces.
package registry

import (
	"sort"
	"sync"

	"firestige.xyz/netsensor/internal/core"
)

// Registry maps interface names to descriptors. Descriptors are stored and
// returned by value; an update replaces the whole descriptor.
type Registry struct {
	mu    sync.RWMutex
	ifces map[string]core.InterfaceDescriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{ifces: make(map[string]core.InterfaceDescriptor)}
}

// Put installs or replaces the descriptor for d.Name.
func (r *Registry) Put(d core.InterfaceDescriptor) {
	d = d.Clone()
	r.mu.Lock()
	r.ifces[d.Name] = d
	r.mu.Unlock()
}

// Get returns a copy of the named descriptor.
func (r *Registry) Get(name string) (core.InterfaceDescriptor, bool) {
	r.mu.RLock()
	d, ok := r.ifces[name]
	r.mu.RUnlock()
	if !ok {
		return core.InterfaceDescriptor{}, false
	}
	return d.Clone(), true
}

// Remove deletes the named descriptor.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.ifces, name)
	r.mu.Unlock()
}

// Names returns the registered interface names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.ifces))
	for n := range r.ifces {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered interfaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ifces)
}
