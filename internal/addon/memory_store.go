package addon

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	addOns map[string]*AddOn
}

// NewMemoryStore creates a new in-memory add-on store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{addOns: make(map[string]*AddOn)}
}

func (s *MemoryStore) Create(_ context.Context, a *AddOn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.addOns[a.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*AddOn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.addOns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListByAgency(_ context.Context, agencyID string) ([]*AddOn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*AddOn
	for _, a := range s.addOns {
		if a.AgencyID == agencyID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.addOns[id]; !ok {
		return ErrNotFound
	}
	delete(s.addOns, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
