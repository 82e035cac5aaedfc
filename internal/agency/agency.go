// Package agency provides the tenant root: agencies, their users, and the
// client dashboards those users own. It also implements the account
// activation gate that blocks paid features until an agency has a funded
// payer account and is out of its reporting-only trial.
package agency

import (
	"errors"
	"time"

	"github.com/rankpilot/rankpilot/internal/catalog"
)

// Errors
var (
	ErrNotFound       = errors.New("agency: not found")
	ErrSlugTaken      = errors.New("agency: slug already taken")
	ErrUserNotFound   = errors.New("agency: user not found")
	ErrClientNotFound = errors.New("agency: client not found")
	ErrInconsistent   = errors.New("agency: subscription reference without payer account")
)

// BillingType classifies how an agency is billed.
type BillingType string

const (
	BillingPaid   BillingType = "paid"   // self-serve recurring subscription
	BillingFree   BillingType = "free"   // no subscription
	BillingCustom BillingType = "custom" // invoiced manually
)

// ClientStatus is a client dashboard's lifecycle state.
type ClientStatus string

const (
	ClientActive        ClientStatus = "ACTIVE"
	ClientPending       ClientStatus = "PENDING"
	ClientDashboardOnly ClientStatus = "DASHBOARD_ONLY"
	ClientCanceled      ClientStatus = "CANCELED"
	ClientRejected      ClientStatus = "REJECTED"
)

// ManagedStatus mirrors the client's managed-service engagement state.
type ManagedStatus string

const (
	ManagedNone     ManagedStatus = "none"
	ManagedPending  ManagedStatus = "pending"
	ManagedActive   ManagedStatus = "active"
	ManagedCanceled ManagedStatus = "canceled"
)

// Agency is the tenant root.
type Agency struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Slug                 string       `json:"slug"`
	BillingEmail         string       `json:"billingEmail"`
	Tier                 catalog.Tier `json:"tier,omitempty"` // "" = no plan assigned
	BillingType          BillingType  `json:"billingType"`
	StripeCustomerID     string       `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string       `json:"stripeSubscriptionId,omitempty"`
	TrialEndsAt          *time.Time   `json:"trialEndsAt,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

// Activated reports whether the agency has a payer account with the billing
// processor. Paid features (managed services, add-ons) are gated on this.
func (a *Agency) Activated() bool { return a.StripeCustomerID != "" }

// InFreeTrial reports whether the agency is inside its no-charge trial
// window. The trial is strictly reporting-only: paid commitments are never
// started against a trialing payment method.
func (a *Agency) InFreeTrial(now time.Time) bool {
	return a.TrialEndsAt != nil && now.Before(*a.TrialEndsAt)
}

// HasBaseSubscription reports whether a base subscription exists remotely.
func (a *Agency) HasBaseSubscription() bool { return a.StripeSubscriptionID != "" }

// validate enforces record invariants before a write.
func (a *Agency) validate() error {
	if a.StripeSubscriptionID != "" && a.StripeCustomerID == "" {
		return ErrInconsistent
	}
	return nil
}

// User belongs to an agency and owns client dashboards.
type User struct {
	ID        string    `json:"id"`
	AgencyID  string    `json:"agencyId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Client is a managed dashboard, owned by a user (and through them, an agency).
type Client struct {
	ID                string            `json:"id"`
	UserID            string            `json:"userId"`
	Name              string            `json:"name"`
	Domain            string            `json:"domain"`
	Status            ClientStatus      `json:"status"`
	ManagedStatus     ManagedStatus     `json:"managedServiceStatus"`
	ManagedPackage    catalog.PackageID `json:"managedServicePackage,omitempty"`
	ManagedPriceCents int64             `json:"managedServicePriceCents,omitempty"`
	RequestedAt       *time.Time        `json:"requestedAt,omitempty"`
	ActivatedAt       *time.Time        `json:"activatedAt,omitempty"`
	CanceledAt        *time.Time        `json:"canceledAt,omitempty"`
	EndDate           *time.Time        `json:"endDate,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// ClearManagedFields reverts the client's managed-service snapshot (reject,
// or cancel of a still-pending request).
func (c *Client) ClearManagedFields() {
	c.ManagedStatus = ManagedNone
	c.ManagedPackage = ""
	c.ManagedPriceCents = 0
	c.RequestedAt = nil
}
