// internal/core/manager/registry.go
package manager

import (
	"sort"
	"strings"
	"sync"
)

// registry is the set of policy types the engine accepts.
type registry struct {
	mu    sync.RWMutex
	types map[string]struct{}
}

func newRegistry() *registry {
	return &registry{types: map[string]struct{}{}}
}

func canonicalType(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// add registers t and reports whether it was new.
func (r *registry) add(t string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[t]; ok {
		return false
	}
	r.types[t] = struct{}{}
	return true
}

// remove unregisters t and reports whether it was registered.
func (r *registry) remove(t string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[t]; !ok {
		return false
	}
	delete(r.types, t)
	return true
}

func (r *registry) has(t string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[t]
	return ok
}

func (r *registry) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
