package managed

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
	"github.com/rankpilot/rankpilot/internal/syncutil"
	"github.com/rankpilot/rankpilot/internal/traces"
)

// Service drives the engagement workflow.
//
// Commit order is asymmetric on purpose. Requesting makes no billing call at
// all: billing starts only on approval, so unreviewed requests never commit
// spend. Approve and cancel treat the local transition as the durable
// decision and the billing call as best effort: a human already approved (or
// the tenant demanded a stop), and blocking that on a flaky processor is
// worse than a temporarily unbilled line item. Degraded syncs are logged and
// counted for manual reconciliation.
type Service struct {
	store    Store
	agencies agency.Store
	gateway  billing.Gateway
	catalog  *catalog.Catalog
	emitter  *notify.Emitter
	logger   *slog.Logger
	now      func() time.Time
	locks    syncutil.ShardedMutex // per (agency, client) pair, prevents racing transitions
}

// NewService creates the engagement workflow service.
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

// pairLock locks the (agency, client) pair and returns the unlock function.
// The storage-layer uniqueness constraint is the real guard against duplicate
// engagements; the lock just keeps a request and a transition on the same
// pair from interleaving within this process.
func (s *Service) pairLock(agencyID, clientID string) func() {
	return s.locks.Lock(agencyID + "/" + clientID)
}

// Request creates a PENDING engagement. No billing call is made here.
func (s *Service) Request(ctx context.Context, agencyID, clientID string, pkg catalog.PackageID, notes string) (*Engagement, error) {
	ctx, span := traces.StartSpan(ctx, "managed.request",
		traces.AgencyID(agencyID), traces.ClientID(clientID))
	defer span.End()

	unlock := s.pairLock(agencyID, clientID)
	defer unlock()

	a, err := s.agencies.Get(ctx, agencyID)
	if err != nil {
		return nil, err
	}
	if !a.Activated() {
		metrics.ManagedServiceTransitions.WithLabelValues("request", "denied").Inc()
		return nil, fault.Precondition("not_activated",
			"complete billing setup before requesting managed services")
	}
	if a.InFreeTrial(s.now()) {
		metrics.ManagedServiceTransitions.WithLabelValues("request", "denied").Inc()
		return nil, fault.Precondition("in_trial",
			"managed services are not available during the free trial")
	}

	owner, err := s.agencies.ClientAgency(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if owner != agencyID {
		metrics.ManagedServiceTransitions.WithLabelValues("request", "denied").Inc()
		return nil, fault.NotFound("client_not_found", "client does not belong to this agency")
	}

	pkgCfg, ok := s.catalog.Package(pkg)
	if !ok {
		metrics.ManagedServiceTransitions.WithLabelValues("request", "denied").Inc()
		return nil, fault.Validation("unknown_package", "unknown managed-service package")
	}

	c, err := s.agencies.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	e := &Engagement{
		ID:                     idgen.WithPrefix("ms_"),
		AgencyID:               agencyID,
		ClientID:               clientID,
		Package:                pkg,
		Status:                 StatusPending,
		PackageName:            pkgCfg.Name,
		MonthlyPriceCents:      pkgCfg.MonthlyPriceCents,
		CommissionPercent:      pkgCfg.CommissionPercent,
		MonthlyCommissionCents: pkgCfg.MonthlyCommissionCents(),
		RequestedAt:            now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	audit := &RequestRecord{
		ID:           idgen.WithPrefix("msr_"),
		EngagementID: e.ID,
		AgencyID:     agencyID,
		ClientID:     clientID,
		Package:      pkg,
		Notes:        notes,
		CreatedAt:    now,
	}

	c.Status = agency.ClientPending
	c.ManagedStatus = agency.ManagedPending
	c.ManagedPackage = pkg
	c.ManagedPriceCents = pkgCfg.MonthlyPriceCents
	c.RequestedAt = &now
	// A repurposed client may carry cancellation marks from a prior
	// engagement round; the new request starts clean.
	c.CanceledAt = nil
	c.EndDate = nil
	c.UpdatedAt = now

	if err := s.store.CreateEngagement(ctx, e, audit, c); err != nil {
		if errors.Is(err, ErrEngagementExists) {
			metrics.ManagedServiceTransitions.WithLabelValues("request", "conflict").Inc()
			return nil, fault.Conflict("engagement_exists",
				"a managed-service engagement is already pending or active for this client")
		}
		return nil, err
	}

	metrics.ManagedServiceTransitions.WithLabelValues("request", "success").Inc()
	s.logger.Info("managed service requested",
		"engagement", e.ID, "agency", agencyID, "client", clientID, "package", string(pkg))
	s.emitter.ManagedServiceRequested(agencyID, clientID, e.ID, string(pkg))
	return e, nil
}

// Approve activates a PENDING engagement. The local transition commits even
// if the billing line item could not be created.
func (s *Service) Approve(ctx context.Context, id string) (*Engagement, error) {
	ctx, span := traces.StartSpan(ctx, "managed.approve", traces.EngagementID(id))
	defer span.End()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.pairLock(e.AgencyID, e.ClientID)
	defer unlock()

	// Re-read under the lock; a concurrent cancel may have won.
	e, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusPending {
		metrics.ManagedServiceTransitions.WithLabelValues("approve", "denied").Inc()
		return nil, fault.Precondition("not_pending",
			"only a pending engagement can be approved")
	}

	pkgCfg, ok := s.catalog.Package(e.Package)
	if !ok {
		return nil, fault.Configuration("unknown_package", "engagement package is not in the catalogue")
	}
	if pkgCfg.PriceRef == "" {
		return nil, fault.Configuration("package_price_unmapped", "package has no billing price configured")
	}

	a, err := s.agencies.Get(ctx, e.AgencyID)
	if err != nil {
		return nil, err
	}

	// Best-effort billing: a failure here degrades to a logged follow-up.
	if a.Activated() && a.HasBaseSubscription() {
		itemID, err := s.gateway.CreateItem(ctx, a.StripeSubscriptionID, pkgCfg.PriceRef)
		if err != nil {
			s.emitter.BillingSyncFailed(billing.OpCreateItem, a.ID, e.ID, err)
		} else {
			e.StripeItemID = itemID
		}
	}

	c, err := s.agencies.GetClient(ctx, e.ClientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	e.Status = StatusActive
	e.ActivatedAt = &now
	e.UpdatedAt = now

	c.Status = agency.ClientActive
	c.ManagedStatus = agency.ManagedActive
	c.ActivatedAt = &now
	c.UpdatedAt = now

	if err := s.store.UpdateEngagement(ctx, e, c); err != nil {
		return nil, err
	}

	metrics.ManagedServiceTransitions.WithLabelValues("approve", "success").Inc()
	s.logger.Info("managed service approved",
		"engagement", e.ID, "agency", e.AgencyID, "client", e.ClientID,
		"billed", e.StripeItemID != "")
	s.emitter.ManagedServiceApproved(e.AgencyID, e.ClientID, e.ID)
	return e, nil
}

// Reject cancels a PENDING engagement. Purely local: no billing object was
// ever created for a pending record.
func (s *Service) Reject(ctx context.Context, id string) (*Engagement, error) {
	ctx, span := traces.StartSpan(ctx, "managed.reject", traces.EngagementID(id))
	defer span.End()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.pairLock(e.AgencyID, e.ClientID)
	defer unlock()

	e, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusPending {
		metrics.ManagedServiceTransitions.WithLabelValues("reject", "denied").Inc()
		return nil, fault.Precondition("not_pending",
			"only a pending engagement can be rejected")
	}

	c, err := s.agencies.GetClient(ctx, e.ClientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	e.Status = StatusCanceled
	e.CanceledAt = &now
	e.UpdatedAt = now

	c.Status = agency.ClientDashboardOnly
	c.ClearManagedFields()
	c.UpdatedAt = now

	if err := s.store.UpdateEngagement(ctx, e, c); err != nil {
		return nil, err
	}

	metrics.ManagedServiceTransitions.WithLabelValues("reject", "success").Inc()
	s.logger.Info("managed service rejected",
		"engagement", e.ID, "agency", e.AgencyID, "client", e.ClientID)
	s.emitter.ManagedServiceRejected(e.AgencyID, e.ClientID, e.ID)
	return e, nil
}

// Cancel terminates an engagement from either PENDING or ACTIVE. The tenant
// must always be able to stop an engagement, so a billing failure is logged
// and the local cancellation proceeds.
//
// From ACTIVE the client keeps CANCELED status with an end date (explicit,
// or the end of the current month) for downstream deactivation; from PENDING
// the client reverts to DASHBOARD_ONLY immediately.
func (s *Service) Cancel(ctx context.Context, id string, endDate *time.Time) (*Engagement, error) {
	ctx, span := traces.StartSpan(ctx, "managed.cancel", traces.EngagementID(id))
	defer span.End()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.pairLock(e.AgencyID, e.ClientID)
	defer unlock()

	e, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status.Terminal() {
		metrics.ManagedServiceTransitions.WithLabelValues("cancel", "denied").Inc()
		return nil, fault.Precondition("already_canceled", "engagement is already canceled")
	}

	wasActive := e.Status == StatusActive

	if wasActive && e.StripeItemID != "" {
		if err := s.gateway.DeleteItem(ctx, e.StripeItemID); err != nil {
			s.emitter.BillingSyncFailed(billing.OpDeleteItem, e.AgencyID, e.ID, err)
		}
	}

	c, err := s.agencies.GetClient(ctx, e.ClientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	e.Status = StatusCanceled
	e.CanceledAt = &now
	e.UpdatedAt = now

	c.UpdatedAt = now
	if wasActive {
		end := endOfMonth(now)
		if endDate != nil {
			end = *endDate
		}
		e.EndDate = &end

		c.Status = agency.ClientCanceled
		c.ManagedStatus = agency.ManagedCanceled
		c.CanceledAt = &now
		c.EndDate = &end
	} else {
		c.Status = agency.ClientDashboardOnly
		c.ClearManagedFields()
	}

	if err := s.store.UpdateEngagement(ctx, e, c); err != nil {
		return nil, err
	}

	metrics.ManagedServiceTransitions.WithLabelValues("cancel", "success").Inc()
	s.logger.Info("managed service canceled",
		"engagement", e.ID, "agency", e.AgencyID, "client", e.ClientID,
		"wasActive", wasActive)
	s.emitter.ManagedServiceCanceled(e.AgencyID, e.ClientID, e.ID, e.EndDate)
	return e, nil
}

// Get returns one engagement.
func (s *Service) Get(ctx context.Context, id string) (*Engagement, error) {
	return s.store.Get(ctx, id)
}

// ListByAgency returns an agency's engagements.
func (s *Service) ListByAgency(ctx context.Context, agencyID string) ([]*Engagement, error) {
	return s.store.ListByAgency(ctx, agencyID)
}

// ListRequests returns an agency's request audit trail.
func (s *Service) ListRequests(ctx context.Context, agencyID string) ([]*RequestRecord, error) {
	return s.store.ListRequests(ctx, agencyID)
}

// endOfMonth returns the first instant of the next month in UTC, the default
// deactivation point for a canceled engagement.
func endOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
