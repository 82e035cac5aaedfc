package addon

import "context"

// Store persists the add-on ledger.
type Store interface {
	Create(ctx context.Context, a *AddOn) error
	Get(ctx context.Context, id string) (*AddOn, error)
	ListByAgency(ctx context.Context, agencyID string) ([]*AddOn, error)
	Delete(ctx context.Context, id string) error
}
