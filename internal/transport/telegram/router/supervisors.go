package router

import (
	"maps"
	"slices"
	"sync"
)

// SupervisorRegistry names the long-lived subsystems (adapter, notifier,
// http, per-plugin command loops) so /health can list them.
type SupervisorRegistry struct {
	mu   sync.RWMutex
	sups map[string]*Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{sups: make(map[string]*Supervisor)}
}

// Set replaces the entry for name; a nil sup removes it.
func (r *SupervisorRegistry) Set(name string, sup *Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if sup != nil {
		r.sups[name] = sup
	} else {
		delete(r.sups, name)
	}
	r.mu.Unlock()
}

func (r *SupervisorRegistry) Delete(name string) { r.Set(name, nil) }

// Each calls fn in name order on a copy, so fn may touch the registry.
func (r *SupervisorRegistry) Each(fn func(name string, sup *Supervisor)) {
	if r == nil {
		return
	}
	r.mu.RLock()
	cp := maps.Clone(r.sups)
	r.mu.RUnlock()
	for _, name := range slices.Sorted(maps.Keys(cp)) {
		fn(name, cp[name])
	}
}
