// Package managed implements the managed-service engagement workflow: an
// agency requests hands-on SEO work for one of its client dashboards, an
// operator reviews the request, and billing follows the human decision.
//
// The state machine is PENDING -> ACTIVE (approve), PENDING -> CANCELED
// (reject or cancel), ACTIVE -> CANCELED (cancel). CANCELED is terminal; a
// new engagement for the same pair starts a fresh record.
package managed

import (
	"errors"
	"time"

	"github.com/rankpilot/rankpilot/internal/catalog"
)

// Errors
var (
	ErrNotFound = errors.New("managed: engagement not found")
	// ErrEngagementExists reports a PENDING or ACTIVE engagement already in
	// place for the (agency, client) pair. Returned by the storage layer,
	// where the uniqueness constraint resolves concurrent requests.
	ErrEngagementExists = errors.New("managed: engagement already pending or active")
)

// Status is an engagement's lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusCanceled Status = "CANCELED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusCanceled }

// Engagement is one managed-service arrangement between an agency and one of
// its client dashboards.
type Engagement struct {
	ID       string            `json:"id"`
	AgencyID string            `json:"agencyId"`
	ClientID string            `json:"clientId"`
	Package  catalog.PackageID `json:"package"`
	Status   Status            `json:"status"`
	// Pricing is snapshotted from the catalogue at request time so later
	// catalogue edits never rewrite what an existing engagement pays out.
	PackageName            string `json:"packageName"`
	MonthlyPriceCents      int64  `json:"monthlyPriceCents"`
	CommissionPercent      int    `json:"commissionPercent"`
	MonthlyCommissionCents int64  `json:"monthlyCommissionCents"`
	// StripeItemID references the commission-bearing subscription line item.
	// Empty when billing was degraded at approval time; reconciled by hand.
	StripeItemID string     `json:"stripeItemId,omitempty"`
	RequestedAt  time.Time  `json:"requestedAt"`
	ActivatedAt  *time.Time `json:"activatedAt,omitempty"`
	CanceledAt   *time.Time `json:"canceledAt,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// RequestRecord is the immutable audit row written alongside each request.
type RequestRecord struct {
	ID           string            `json:"id"`
	EngagementID string            `json:"engagementId"`
	AgencyID     string            `json:"agencyId"`
	ClientID     string            `json:"clientId"`
	Package      catalog.PackageID `json:"package"`
	Notes        string            `json:"notes,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}
