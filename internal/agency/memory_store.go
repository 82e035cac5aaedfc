package agency

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory agency store for demo/development.
type MemoryStore struct {
	mu       sync.RWMutex
	agencies map[string]*Agency // by ID
	slugs    map[string]string  // slug → ID
	users    map[string]*User   // by ID
	clients  map[string]*Client // by ID
}

// NewMemoryStore creates a new in-memory agency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agencies: make(map[string]*Agency),
		slugs:    make(map[string]string),
		users:    make(map[string]*User),
		clients:  make(map[string]*Client),
	}
}

func (m *MemoryStore) Create(_ context.Context, a *Agency) error {
	if err := a.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slugs[a.Slug]; exists {
		return ErrSlugTaken
	}
	cp := *a
	m.agencies[a.ID] = &cp
	m.slugs[a.Slug] = a.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Agency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agencies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetBySlug(_ context.Context, slug string) (*Agency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.slugs[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.agencies[id]
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, a *Agency) error {
	if err := a.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agencies[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	m.agencies[a.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agencies[u.AgencyID]; !ok {
		return ErrNotFound
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) CreateClient(_ context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[c.UserID]; !ok {
		return ErrUserNotFound
	}
	cp := *c
	m.clients[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetClient(_ context.Context, id string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) UpdateClient(_ context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[c.ID]; !ok {
		return ErrClientNotFound
	}
	cp := *c
	m.clients[c.ID] = &cp
	return nil
}

func (m *MemoryStore) ListClients(_ context.Context, agencyID string) ([]*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Client
	for _, c := range m.clients {
		if u, ok := m.users[c.UserID]; ok && u.AgencyID == agencyID {
			cp := *c
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

func (m *MemoryStore) CountClients(_ context.Context, agencyID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, c := range m.clients {
		if u, ok := m.users[c.UserID]; ok && u.AgencyID == agencyID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ClientAgency(_ context.Context, clientID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[clientID]
	if !ok {
		return "", ErrClientNotFound
	}
	u, ok := m.users[c.UserID]
	if !ok {
		return "", ErrUserNotFound
	}
	return u.AgencyID, nil
}

var _ Store = (*MemoryStore)(nil)
