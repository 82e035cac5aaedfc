package plan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rankpilot/rankpilot/internal/agency"
	"github.com/rankpilot/rankpilot/internal/billing"
	"github.com/rankpilot/rankpilot/internal/catalog"
	"github.com/rankpilot/rankpilot/internal/fault"
	"github.com/rankpilot/rankpilot/internal/metrics"
	"github.com/rankpilot/rankpilot/internal/notify"
	"github.com/rankpilot/rankpilot/internal/retry"
	"github.com/rankpilot/rankpilot/internal/syncutil"
	"github.com/rankpilot/rankpilot/internal/traces"
)

// Service executes tier changes against the billing gateway.
type Service struct {
	agencies agency.Store
	usage    UsageCounter
	gateway  billing.Gateway
	catalog  *catalog.Catalog
	emitter  *notify.Emitter
	logger   *slog.Logger
	locks    *syncutil.ContextShardedMutex
	now      func() time.Time
}

// NewService creates the plan-change service.
func NewService(agencies agency.Store, usage UsageCounter, gateway billing.Gateway, cat *catalog.Catalog, emitter *notify.Emitter, logger *slog.Logger) *Service {
	return &Service{
		agencies: agencies,
		usage:    usage,
		gateway:  gateway,
		catalog:  cat,
		emitter:  emitter,
		logger:   logger,
		locks:    syncutil.NewContextShardedMutex(),
		now:      time.Now,
	}
}

// Preview runs validation only. Usage counts are read fresh; nothing is
// mutated.
func (s *Service) Preview(ctx context.Context, agencyID string, target catalog.Tier) (Result, error) {
	ctx, span := traces.StartSpan(ctx, "plan.preview", traces.AgencyID(agencyID), traces.TierID(string(target)))
	defer span.End()

	cfg, ok := s.catalog.Tier(target)
	if !ok {
		return Result{Allowed: false, Tier: target, Reason: "unknown_tier", Message: "unknown subscription tier"}, nil
	}

	u, err := s.readUsage(ctx, agencyID)
	if err != nil {
		return Result{}, err
	}
	return Validate(cfg, u), nil
}

// Change executes a tier change. The remote price swap in the middle is the
// single point of commitment: any failure before or during it leaves the
// agency on its previous tier with no local mutation, and the local write
// afterwards reconciles from the remote subscription rather than blindly
// assigning the target.
func (s *Service) Change(ctx context.Context, agencyID string, target catalog.Tier) (*agency.Agency, error) {
	ctx, span := traces.StartSpan(ctx, "plan.change", traces.AgencyID(agencyID), traces.TierID(string(target)))
	defer span.End()

	// Two concurrent changes for one agency would race the price swap and
	// the reconcile re-read, so they are serialized per agency. The lock
	// spans remote calls and must give up if the request is abandoned.
	unlock, err := s.locks.LockContext(ctx, agencyID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := s.agencies.Get(ctx, agencyID)
	if err != nil {
		return nil, err
	}

	if a.BillingType != agency.BillingPaid {
		metrics.PlanChangesTotal.WithLabelValues("denied").Inc()
		return nil, fault.Precondition("manual_billing",
			"this agency is billed manually; contact support to change plans")
	}
	if !a.HasBaseSubscription() {
		metrics.PlanChangesTotal.WithLabelValues("denied").Inc()
		return nil, fault.Precondition("no_subscription",
			"complete billing setup before changing plans")
	}

	cfg, ok := s.catalog.Tier(target)
	if !ok {
		metrics.PlanChangesTotal.WithLabelValues("denied").Inc()
		return nil, fault.Validation("unknown_tier", "unknown subscription tier")
	}

	u, err := s.readUsage(ctx, agencyID)
	if err != nil {
		return nil, err
	}
	if res := Validate(cfg, u); !res.Allowed {
		metrics.PlanChangesTotal.WithLabelValues("denied").Inc()
		return nil, fault.Validation(res.Reason, res.Message)
	}

	if cfg.PriceRef == "" {
		metrics.PlanChangesTotal.WithLabelValues("error").Inc()
		return nil, fault.Configuration("tier_price_unmapped", "tier has no billing price configured")
	}

	sub, err := s.gateway.GetSubscription(ctx, a.StripeSubscriptionID)
	if err != nil {
		metrics.PlanChangesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch subscription: %w", err)
	}
	base, err := s.baseItem(sub)
	if err != nil {
		metrics.PlanChangesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if base.PriceRef == cfg.PriceRef {
		metrics.PlanChangesTotal.WithLabelValues("denied").Inc()
		return nil, fault.Validation("plan_unchanged", "agency is already on this plan")
	}

	// Single point of commitment: swap the base item's price in place so the
	// processor prorates the existing item instead of opening a new one.
	if err := s.gateway.UpdateItemPrice(ctx, base.ID, cfg.PriceRef); err != nil {
		metrics.PlanChangesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("swap base plan price: %w", err)
	}

	// Reconcile: re-read the subscription and resolve the tier from what the
	// processor actually holds. The re-read is retried; the swap above has
	// already committed, so giving up here only delays the local record.
	var resolved catalog.TierConfig
	err = retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		fresh, err := s.gateway.GetSubscription(ctx, a.StripeSubscriptionID)
		if err != nil {
			return err
		}
		item, err := s.baseItem(fresh)
		if err != nil {
			return retry.Permanent(err)
		}
		cfg, ok := s.catalog.TierByPriceRef(item.PriceRef)
		if !ok {
			return retry.Permanent(fault.Configuration("unknown_base_price",
				"subscription base price does not map to any tier"))
		}
		resolved = cfg
		return nil
	})
	if err != nil {
		metrics.PlanChangesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reconcile after price swap: %w", err)
	}

	a.Tier = resolved.Tier
	a.UpdatedAt = s.now()
	if err := s.agencies.Update(ctx, a); err != nil {
		metrics.PlanChangesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.PlanChangesTotal.WithLabelValues("success").Inc()
	s.logger.Info("plan changed",
		"agency", a.ID, "tier", string(resolved.Tier), "subscription", a.StripeSubscriptionID)
	s.emitter.PlanChanged(a.ID, string(resolved.Tier))
	return a, nil
}

// baseItem identifies the one line item carrying the base plan, telling it
// apart from add-on and managed-service items by its price reference.
func (s *Service) baseItem(sub *billing.Subscription) (billing.Item, error) {
	var found []billing.Item
	for _, it := range sub.Items {
		if s.catalog.IsBasePlanPrice(it.PriceRef) {
			found = append(found, it)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return billing.Item{}, fault.Configuration("no_base_item",
			"subscription has no base plan line item")
	default:
		return billing.Item{}, fault.Configuration("ambiguous_base_item",
			"subscription has multiple base plan line items")
	}
}

func (s *Service) readUsage(ctx context.Context, agencyID string) (Usage, error) {
	total, err := s.usage.CountClients(ctx, agencyID)
	if err != nil {
		return Usage{}, fmt.Errorf("count clients: %w", err)
	}
	managed, err := s.usage.CountActiveManagedClients(ctx, agencyID)
	if err != nil {
		return Usage{}, fmt.Errorf("count managed clients: %w", err)
	}
	return Usage{TotalClients: total, ActiveManagedClients: managed}, nil
}
