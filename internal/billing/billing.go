// Package billing abstracts the external subscription processor (Stripe).
//
// The Gateway interface is the only path to the processor. It is treated as
// an untrusted, partially-available remote dependency: every call carries a
// bounded timeout, failures surface as fault.KindRemoteGateway, and a
// circuit breaker fails fast when the processor is degraded. Whether a
// gateway failure aborts the caller or degrades to a logged follow-up is the
// caller's decision, not this package's.
package billing

import (
	"context"
	"errors"
)

// Operation names used in metrics labels and logs.
const (
	OpCreateCustomer     = "create_customer"
	OpAttachInstrument   = "attach_instrument"
	OpSetDefault         = "set_default_instrument"
	OpCreateSubscription = "create_subscription"
	OpGetSubscription    = "get_subscription"
	OpCreateItem         = "create_item"
	OpUpdateItemPrice    = "update_item_price"
	OpDeleteItem         = "delete_item"
	OpCreateSetupIntent  = "create_setup_intent"
	OpGetSetupIntent     = "get_setup_intent"
)

// ErrNotFound is returned when the remote object does not exist.
var ErrNotFound = errors.New("billing: object not found")

// Item is one line item on a subscription.
type Item struct {
	ID       string `json:"id"`
	PriceRef string `json:"priceRef"`
}

// Subscription is the processor's view of a subscription with its line items.
type Subscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Items  []Item `json:"items"`
}

// SetupIntent is a payment-setup handshake. ClientSecret is handed to the
// frontend; PaymentMethodID is populated once the handshake succeeds.
type SetupIntent struct {
	ID              string `json:"id"`
	ClientSecret    string `json:"clientSecret"`
	Status          string `json:"status"`
	PaymentMethodID string `json:"paymentMethodId,omitempty"`
}

// Gateway is the consumed billing capability.
type Gateway interface {
	// CreateCustomer creates a payer account and returns its reference.
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	// AttachPaymentMethod attaches a payment instrument to a payer account.
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	// SetDefaultPaymentMethod makes an attached instrument the default.
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	// CreateSubscription creates the base subscription. trialDays of 0 means
	// no trial.
	CreateSubscription(ctx context.Context, customerID, priceRef, paymentMethodID string, trialDays int64) (*Subscription, error)
	// GetSubscription retrieves a subscription with line items and their
	// prices expanded.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	// CreateItem adds a line item for priceRef and returns the item reference.
	CreateItem(ctx context.Context, subscriptionID, priceRef string) (string, error)
	// UpdateItemPrice swaps an existing line item to a new price in place,
	// preserving proration on the item.
	UpdateItemPrice(ctx context.Context, itemID, priceRef string) error
	// DeleteItem removes a line item.
	DeleteItem(ctx context.Context, itemID string) error
	// CreateSetupIntent starts a payment-setup handshake for a payer account.
	CreateSetupIntent(ctx context.Context, customerID string) (*SetupIntent, error)
	// GetSetupIntent retrieves a previously-started handshake.
	GetSetupIntent(ctx context.Context, id string) (*SetupIntent, error)
}
