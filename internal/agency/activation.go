package agency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rankpilot/rankpilot/internal/billing"
	"github.com/rankpilot/rankpilot/internal/catalog"
	"github.com/rankpilot/rankpilot/internal/fault"
	"github.com/rankpilot/rankpilot/internal/traces"
)

// Activation drives the payment-setup flow that satisfies the activation
// gate: lazily create the payer account, run the payment-setup handshake,
// and start the base subscription.
//
// Commit order is remote-first throughout: nothing is written locally until
// the corresponding remote object exists, so a remote failure leaves no
// half-activated agency.
type Activation struct {
	store   Store
	gateway billing.Gateway
	catalog *catalog.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewActivation creates the activation flow service.
func NewActivation(store Store, gateway billing.Gateway, cat *catalog.Catalog, logger *slog.Logger) *Activation {
	return &Activation{
		store:   store,
		gateway: gateway,
		catalog: cat,
		logger:  logger,
		now:     time.Now,
	}
}

// StartSetup lazily creates the payer account and starts a payment-setup
// handshake. The returned SetupIntent's client secret is handed to the
// frontend to collect an instrument.
func (s *Activation) StartSetup(ctx context.Context, agencyID string) (*billing.SetupIntent, error) {
	ctx, span := traces.StartSpan(ctx, "activation.start_setup", traces.AgencyID(agencyID))
	defer span.End()

	a, err := s.store.Get(ctx, agencyID)
	if err != nil {
		return nil, err
	}

	if !a.Activated() {
		customerID, err := s.gateway.CreateCustomer(ctx, a.BillingEmail, a.Name)
		if err != nil {
			return nil, fmt.Errorf("create payer account: %w", err)
		}
		a.StripeCustomerID = customerID
		a.UpdatedAt = s.now()
		if err := s.store.Update(ctx, a); err != nil {
			// The remote account exists but the reference was lost; the next
			// StartSetup creates a fresh one. Harmless beyond a dangling
			// empty customer, but worth a trace.
			s.logger.Error("persist payer account reference failed",
				"agency", a.ID, "customer", customerID, "error", err)
			return nil, err
		}
		s.logger.Info("payer account created", "agency", a.ID, "customer", customerID)
	}

	si, err := s.gateway.CreateSetupIntent(ctx, a.StripeCustomerID)
	if err != nil {
		return nil, fmt.Errorf("create payment setup handshake: %w", err)
	}
	return si, nil
}

// CompleteSetup finishes the handshake: attaches the collected instrument,
// makes it the default, and creates the base subscription when the agency is
// self-serve and has a plan assigned. Remaining trial days carry over onto
// the subscription so the agency is not charged early.
func (s *Activation) CompleteSetup(ctx context.Context, agencyID, setupIntentID string) (*Agency, error) {
	ctx, span := traces.StartSpan(ctx, "activation.complete_setup", traces.AgencyID(agencyID))
	defer span.End()

	a, err := s.store.Get(ctx, agencyID)
	if err != nil {
		return nil, err
	}
	if !a.Activated() {
		return nil, fault.Precondition("not_activated", "payment setup was never started for this agency")
	}

	si, err := s.gateway.GetSetupIntent(ctx, setupIntentID)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment setup handshake: %w", err)
	}
	if si.Status != "succeeded" || si.PaymentMethodID == "" {
		return nil, fault.Precondition("setup_incomplete", "payment setup has not completed")
	}

	if err := s.gateway.AttachPaymentMethod(ctx, a.StripeCustomerID, si.PaymentMethodID); err != nil {
		return nil, fmt.Errorf("attach payment instrument: %w", err)
	}
	if err := s.gateway.SetDefaultPaymentMethod(ctx, a.StripeCustomerID, si.PaymentMethodID); err != nil {
		return nil, fmt.Errorf("set default payment instrument: %w", err)
	}

	if a.BillingType == BillingPaid && !a.HasBaseSubscription() && a.Tier != "" {
		cfg, ok := s.catalog.Tier(a.Tier)
		if !ok {
			return nil, fault.Configuration("unknown_tier", "agency tier is not in the catalogue")
		}
		if cfg.PriceRef == "" {
			return nil, fault.Configuration("tier_price_unmapped", "tier has no billing price configured")
		}
		sub, err := s.gateway.CreateSubscription(ctx, a.StripeCustomerID, cfg.PriceRef, si.PaymentMethodID, s.remainingTrialDays(a))
		if err != nil {
			return nil, fmt.Errorf("create base subscription: %w", err)
		}
		a.StripeSubscriptionID = sub.ID
		s.logger.Info("base subscription created",
			"agency", a.ID, "subscription", sub.ID, "tier", string(a.Tier))
	}

	a.UpdatedAt = s.now()
	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// remainingTrialDays converts the rest of the trial window into whole days,
// rounding up so the trial never silently shortens.
func (s *Activation) remainingTrialDays(a *Agency) int64 {
	if a.TrialEndsAt == nil {
		return 0
	}
	left := a.TrialEndsAt.Sub(s.now())
	if left <= 0 {
		return 0
	}
	days := int64(left / (24 * time.Hour))
	if left%(24*time.Hour) != 0 {
		days++
	}
	return days
}
