// Package addon keeps the ledger of purchasable extras an agency has
// attached on top of its base plan: extra dashboards, extra tracked
// keywords, extra keyword lookups.
//
// Attach follows the local-first commit order: the grant row is written even
// when the billing line item could not be created, because the tenant just
// paid to enable the extra in the surrounding flow. Degraded syncs are
// logged and counted for manual reconciliation.
package addon

import (
	"errors"
	"time"

	"github.com/rankpilot/rankpilot/internal/catalog"
)

// ErrNotFound is returned for a missing or foreign-owned add-on row.
var ErrNotFound = errors.New("addon: not found")

// AddOn is one attached extra on an agency's subscription.
type AddOn struct {
	ID       string            `json:"id"`
	AgencyID string            `json:"agencyId"`
	Type     catalog.AddOnType `json:"type"`
	Option   string            `json:"option"`
	// Label, PriceCents and Interval are snapshotted from the catalogue at
	// attach time.
	Label      string `json:"label"`
	PriceCents int64  `json:"priceCents"`
	Interval   string `json:"interval"`
	// StripeItemID references the subscription line item. Empty when billing
	// was degraded at attach time; reconciled by hand.
	StripeItemID string    `json:"stripeItemId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
