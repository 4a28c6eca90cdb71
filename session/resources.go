package session

import (
	"sync"

	"github.com/growhaus/premium-client-go/wire"
)

// ResourceSet is the ordered collection of managed resources visible to this
// session, keyed by id. It is mutated optimistically by the client's mutation
// path and authoritatively replaced on every successful list fetch.
type ResourceSet struct {
	mu    sync.RWMutex
	order []string
	items map[string]wire.Resource
}

// NewResourceSet creates an empty set.
func NewResourceSet() *ResourceSet {
	return &ResourceSet{items: make(map[string]wire.Resource)}
}

// Replace swaps the entire set for the authoritative list, preserving the
// backend's ordering. Duplicate ids keep the last occurrence.
func (s *ResourceSet) Replace(list []wire.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	s.items = make(map[string]wire.Resource, len(list))
	for _, r := range list {
		if _, seen := s.items[r.ID]; !seen {
			s.order = append(s.order, r.ID)
		}
		s.items[r.ID] = r
	}
}

// Get returns the resource with the given id.
func (s *ResourceSet) Get(id string) (wire.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[id]
	return r, ok
}

// Remove deletes the resource with the given id, returning it if present.
func (s *ResourceSet) Remove(id string) (wire.Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return wire.Resource{}, false
	}
	delete(s.items, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return r, true
}

// SetStatus flags a resource with a new status in place, for optimistic
// non-destructive mutations. A no-op for unknown ids.
func (s *ResourceSet) SetStatus(id string, status wire.ResourceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.items[id]; ok {
		r.Status = status
		s.items[id] = r
	}
}

// All returns every resource in backend order.
func (s *ResourceSet) All() []wire.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.Resource, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// Owned returns the resources owned by the given user, in backend order.
func (s *ResourceSet) Owned(userID string) []wire.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []wire.Resource
	for _, id := range s.order {
		if r := s.items[id]; userID != "" && r.OwnerID == userID {
			out = append(out, r)
		}
	}
	return out
}

// Visible returns the public resources not owned by the given user, in
// backend order.
func (s *ResourceSet) Visible(userID string) []wire.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []wire.Resource
	for _, id := range s.order {
		if r := s.items[id]; r.Public && r.OwnerID != userID {
			out = append(out, r)
		}
	}
	return out
}

// Len reports how many resources are held.
func (s *ResourceSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
