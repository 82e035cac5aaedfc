package managed

import (
	"context"

	"github.com/rankpilot/rankpilot/internal/agency"
)

// Store persists engagements and their audit trail.
//
// Writes that touch both the engagement and the client snapshot are atomic:
// either both rows move or neither does. Uniqueness of one PENDING and one
// ACTIVE engagement per (agency, client) pair is enforced here, so a lost
// race surfaces as ErrEngagementExists rather than a duplicate row.
type Store interface {
	// CreateEngagement inserts the engagement, its audit record, and the
	// client snapshot in one transaction.
	CreateEngagement(ctx context.Context, e *Engagement, audit *RequestRecord, c *agency.Client) error
	// UpdateEngagement applies a state transition and the matching client
	// snapshot in one transaction.
	UpdateEngagement(ctx context.Context, e *Engagement, c *agency.Client) error
	Get(ctx context.Context, id string) (*Engagement, error)
	ListByAgency(ctx context.Context, agencyID string) ([]*Engagement, error)
	ListRequests(ctx context.Context, agencyID string) ([]*RequestRecord, error)
	// CountActiveClients counts distinct clients with an ACTIVE engagement
	// under the agency. Feeds plan-change validation; always read fresh.
	CountActiveClients(ctx context.Context, agencyID string) (int, error)
}
