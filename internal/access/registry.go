package access

import (
	"sync"

	"github.com/ruslano69/xzaccess/internal/directory"
)

// Resource maps a protected resource name to the DN of the role or group
// entry that controls who may use it. The DN is stored in normalized
// lower-case form so membership comparisons are plain string equality.
type Resource struct {
	Name string `json:"name" yaml:"name"`
	DN   string `json:"dn" yaml:"dn"`
}

// Registry is the ordered set of protected resources. Insertion order is
// preserved for display; it has no effect on resolution.
type Registry struct {
	mu        sync.RWMutex
	resources []Resource
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds the resource or, when the name is already present, replaces
// its DN in place. The last registration for a name wins.
func (r *Registry) Register(name, dn string) {
	norm := directory.NormalizeDN(dn)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.resources {
		if r.resources[i].Name == name {
			r.resources[i].DN = norm
			return
		}
	}
	r.resources = append(r.resources, Resource{Name: name, DN: norm})
}

// Deregister removes the named resource and reports whether it was present.
func (r *Registry) Deregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.resources {
		if r.resources[i].Name == name {
			r.resources = append(r.resources[:i], r.resources[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current resource list.
func (r *Registry) Snapshot() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Resource(nil), r.resources...)
}

// Len reports the number of registered resources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources)
}
