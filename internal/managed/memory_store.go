package managed

import (
	"context"
	"sort"
	"sync"

	"github.com/rankpilot/rankpilot/internal/agency"
)

// MemoryStore is an in-memory Store for tests and local development. The
// client snapshot is written through the agency store; in-memory there is no
// real transaction, which is acceptable for this mode.
type MemoryStore struct {
	mu          sync.RWMutex
	engagements map[string]*Engagement
	requests    []*RequestRecord
	clients     agency.Store
}

// NewMemoryStore creates a new in-memory engagement store.
func NewMemoryStore(clients agency.Store) *MemoryStore {
	return &MemoryStore{
		engagements: make(map[string]*Engagement),
		clients:     clients,
	}
}

func (s *MemoryStore) CreateEngagement(ctx context.Context, e *Engagement, audit *RequestRecord, c *agency.Client) error {
	s.mu.Lock()
	for _, existing := range s.engagements {
		if existing.AgencyID == e.AgencyID && existing.ClientID == e.ClientID && !existing.Status.Terminal() {
			s.mu.Unlock()
			return ErrEngagementExists
		}
	}
	cp := *e
	s.engagements[e.ID] = &cp
	ap := *audit
	s.requests = append(s.requests, &ap)
	s.mu.Unlock()

	return s.clients.UpdateClient(ctx, c)
}

func (s *MemoryStore) UpdateEngagement(ctx context.Context, e *Engagement, c *agency.Client) error {
	s.mu.Lock()
	if _, ok := s.engagements[e.ID]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	cp := *e
	s.engagements[e.ID] = &cp
	s.mu.Unlock()

	return s.clients.UpdateClient(ctx, c)
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engagements[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListByAgency(_ context.Context, agencyID string) ([]*Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Engagement
	for _, e := range s.engagements {
		if e.AgencyID == agencyID {
			cp := *e
			out = append(out, &cp)
		}
	}
	// Same ordering as the SQL store so cursors stay stable.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListRequests(_ context.Context, agencyID string) ([]*RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RequestRecord
	for _, r := range s.requests {
		if r.AgencyID == agencyID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CountActiveClients(_ context.Context, agencyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, e := range s.engagements {
		if e.AgencyID == agencyID && e.Status == StatusActive {
			seen[e.ClientID] = true
		}
	}
	return len(seen), nil
}

var _ Store = (*MemoryStore)(nil)
