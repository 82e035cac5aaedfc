package addon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rankpilot/rankpilot/internal/agency"
	"github.com/rankpilot/rankpilot/internal/billing"
	"github.com/rankpilot/rankpilot/internal/catalog"
	"github.com/rankpilot/rankpilot/internal/fault"
	"github.com/rankpilot/rankpilot/internal/idgen"
	"github.com/rankpilot/rankpilot/internal/metrics"
	"github.com/rankpilot/rankpilot/internal/notify"
	"github.com/rankpilot/rankpilot/internal/traces"
)

// Service attaches and detaches add-ons.
type Service struct {
	store    Store
	agencies agency.Store
	gateway  billing.Gateway
	catalog  *catalog.Catalog
	emitter  *notify.Emitter
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the add-on service.
func NewService(store Store, agencies agency.Store, gateway billing.Gateway, cat *catalog.Catalog, emitter *notify.Emitter, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		agencies: agencies,
		gateway:  gateway,
		catalog:  cat,
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
	}
}

// Attach grants an add-on. The local row is written even when the billing
// line item could not be created; the degraded sync is logged for follow-up.
func (s *Service) Attach(ctx context.Context, agencyID string, typ catalog.AddOnType, option string) (*AddOn, error) {
	ctx, span := traces.StartSpan(ctx, "addon.attach", traces.AgencyID(agencyID))
	defer span.End()

	a, err := s.agencies.Get(ctx, agencyID)
	if err != nil {
		return nil, err
	}
	if !a.Activated() {
		metrics.AddOnOpsTotal.WithLabelValues("attach", "denied").Inc()
		return nil, fault.Precondition("not_activated",
			"complete billing setup before purchasing add-ons")
	}
	if a.InFreeTrial(s.now()) {
		metrics.AddOnOpsTotal.WithLabelValues("attach", "denied").Inc()
		return nil, fault.Precondition("in_trial",
			"add-ons are not available during the free trial")
	}

	opt, ok := s.catalog.AddOn(typ, option)
	if !ok {
		metrics.AddOnOpsTotal.WithLabelValues("attach", "denied").Inc()
		return nil, fault.Validation("unknown_add_on", "unknown add-on type or option")
	}
	if !s.catalog.AddOnAllowed(typ, a.Tier) {
		metrics.AddOnOpsTotal.WithLabelValues("attach", "denied").Inc()
		return nil, fault.Validation("add_on_not_allowed",
			"this add-on is not available on the agency's current plan")
	}
	if opt.PriceRef == "" {
		metrics.AddOnOpsTotal.WithLabelValues("attach", "error").Inc()
		return nil, fault.Configuration("add_on_price_unmapped", "add-on has no billing price configured")
	}

	row := &AddOn{
		ID:         idgen.WithPrefix("ao_"),
		AgencyID:   agencyID,
		Type:       typ,
		Option:     option,
		Label:      opt.Label,
		PriceCents: opt.PriceCents,
		Interval:   opt.Interval,
		CreatedAt:  s.now(),
	}

	// Best-effort billing: the grant stands either way.
	if a.HasBaseSubscription() {
		itemID, err := s.gateway.CreateItem(ctx, a.StripeSubscriptionID, opt.PriceRef)
		if err != nil {
			s.emitter.BillingSyncFailed(billing.OpCreateItem, agencyID, row.ID, err)
		} else {
			row.StripeItemID = itemID
		}
	}

	if err := s.store.Create(ctx, row); err != nil {
		return nil, err
	}

	metrics.AddOnOpsTotal.WithLabelValues("attach", "success").Inc()
	s.logger.Info("add-on attached",
		"addOn", row.ID, "agency", agencyID, "type", string(typ), "option", option,
		"billed", row.StripeItemID != "")
	s.emitter.AddOnAttached(agencyID, row.ID, string(typ), option)
	return row, nil
}

// Detach removes an add-on: best-effort remote line-item deletion, then
// unconditional local row deletion.
func (s *Service) Detach(ctx context.Context, agencyID, id string) error {
	ctx, span := traces.StartSpan(ctx, "addon.detach", traces.AgencyID(agencyID))
	defer span.End()

	row, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if row.AgencyID != agencyID {
		return ErrNotFound
	}

	if row.StripeItemID != "" {
		if err := s.gateway.DeleteItem(ctx, row.StripeItemID); err != nil && !errors.Is(err, billing.ErrNotFound) {
			s.emitter.BillingSyncFailed(billing.OpDeleteItem, agencyID, row.ID, err)
		}
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	metrics.AddOnOpsTotal.WithLabelValues("detach", "success").Inc()
	s.logger.Info("add-on detached", "addOn", row.ID, "agency", agencyID)
	s.emitter.AddOnDetached(agencyID, row.ID)
	return nil
}

// ListByAgency returns an agency's attached add-ons.
func (s *Service) ListByAgency(ctx context.Context, agencyID string) ([]*AddOn, error) {
	return s.store.ListByAgency(ctx, agencyID)
}
