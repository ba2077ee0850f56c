// Package provider implements the provider registry: a fixed, named catalog
// of provider handles, each owning one credential pool and a shared
// outbound HTTP client. Grounded on the original internal/provider.go
// Registry, generalized from a bare name->Provider map to name->Handle so
// that each entry also carries its pool.
package provider

import (
	"fmt"
	"net/http"
	"slices"
	"sync"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/pool"
)

// Handle is everything the registry owns for one provider: its adapter, its
// credential pool, the HTTP client the adapter should use for outbound
// calls (keyed by forward-proxy URL at construction time), and the dialect
// the adapter natively speaks -- used by internal/classify to disambiguate
// a path shape (like a bare "models" list) that more than one dialect's API
// uses verbatim.
type Handle struct {
	Provider gateway.Provider
	Pool     *pool.Pool
	Client   *http.Client
	Dialect  gateway.Dialect
}

// Registry maps provider names to Handles. Safe for concurrent use; fixed
// after construction except for per-provider pool swaps via ApplyPools.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register adds a provider handle under the given name, overwriting any
// previous registration with the same name.
func (r *Registry) Register(name string, h *Handle) {
	r.mu.Lock()
	r.handles[name] = h
	r.mu.Unlock()
}

// Get returns the handle registered under name, or ErrProviderNotFound.
func (r *Registry) Get(name string) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", gateway.ErrProviderNotFound, name)
	}
	return h, nil
}

// List returns a sorted slice of all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.handles {
			if !yield(name) {
				return
			}
		}
	})
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// ApplyPools replaces pool contents for every named provider present in
// snapshots, leaving providers absent from the map untouched.
func (r *Registry) ApplyPools(snapshots map[string]gateway.PoolSnapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, snap := range snapshots {
		if h, ok := r.handles[name]; ok {
			h.Pool.Replace(snap)
		}
	}
}
