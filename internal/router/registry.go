package router

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// Registry maps each VenueKind to exactly one adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.VenueKind]domain.VenueAdapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.VenueKind]domain.VenueAdapter)}
}

// Register adds an adapter. Kinds outside the supported set and duplicate
// registrations are rejected.
func (r *Registry) Register(a domain.VenueAdapter) error {
	kind, err := domain.ParseVenueKind(string(a.Kind()))
	if err != nil {
		return fmt.Errorf("router: register: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.adapters[kind]; dup {
		return fmt.Errorf("router: register %s: %w", kind, domain.ErrAlreadyExists)
	}
	r.adapters[kind] = a
	return nil
}

// Resolve returns the adapter for kind or ErrUnknownVenue.
func (r *Registry) Resolve(kind domain.VenueKind) (domain.VenueAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %q", domain.ErrUnknownVenue, kind)
	}
	return a, nil
}

// Kinds lists the registered kinds, sorted.
func (r *Registry) Kinds() []domain.VenueKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.VenueKind, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
