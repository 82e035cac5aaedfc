package agency

import "context"

// Store persists agencies, users, and clients.
type Store interface {
	Create(ctx context.Context, a *Agency) error
	Get(ctx context.Context, id string) (*Agency, error)
	GetBySlug(ctx context.Context, slug string) (*Agency, error)
	Update(ctx context.Context, a *Agency) error

	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id string) (*Client, error)
	UpdateClient(ctx context.Context, c *Client) error
	ListClients(ctx context.Context, agencyID string) ([]*Client, error)

	// CountClients counts clients owned by any user belonging to the agency.
	// Re-read at plan-change execution time, never cached.
	CountClients(ctx context.Context, agencyID string) (int, error)
	// ClientAgency resolves the agency owning a client, via the owning user.
	ClientAgency(ctx context.Context, clientID string) (string, error)
}
