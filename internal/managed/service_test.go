package managed

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankpilot/rankpilot/internal/agency"
	"github.com/rankpilot/rankpilot/internal/billing"
	"github.com/rankpilot/rankpilot/internal/catalog"
	"github.com/rankpilot/rankpilot/internal/fault"
)

type fixture struct {
	service  *Service
	store    *MemoryStore
	agencies *agency.MemoryStore
	gateway  *billing.MemoryGateway
	agency   *agency.Agency
	client   *agency.Client
}

// newFixture seeds an activated, out-of-trial paid agency with one client
// dashboard and a live base subscription.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	agencies := agency.NewMemoryStore()
	gw := billing.NewMemoryGateway()
	store := NewMemoryStore(agencies)

	custID, err := gw.CreateCustomer(ctx, "billing@acme.example", "Acme SEO")
	require.NoError(t, err)
	sub, err := gw.CreateSubscription(ctx, custID, "price_tier_growth_monthly", "pm_1", 0)
	require.NoError(t, err)

	now := time.Now()
	a := &agency.Agency{
		ID:                   "ag_1",
		Name:                 "Acme SEO",
		Slug:                 "acme-seo",
		BillingEmail:         "billing@acme.example",
		Tier:                 catalog.TierGrowth,
		BillingType:          agency.BillingPaid,
		StripeCustomerID:     custID,
		StripeSubscriptionID: sub.ID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, agencies.Create(ctx, a))

	u := &agency.User{ID: "usr_1", AgencyID: "ag_1", Email: "owner@acme.example", CreatedAt: now}
	require.NoError(t, agencies.CreateUser(ctx, u))

	c := &agency.Client{
		ID: "cl_1", UserID: "usr_1", Name: "Corner Bakery", Domain: "bakery.example",
		Status: agency.ClientActive, ManagedStatus: agency.ManagedNone,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, agencies.CreateClient(ctx, c))

	return &fixture{
		service:  NewService(store, agencies, gw, catalog.Default(), nil, slog.Default()),
		store:    store,
		agencies: agencies,
		gateway:  gw,
		agency:   a,
		client:   c,
	}
}

func (f *fixture) reloadClient(t *testing.T) *agency.Client {
	t.Helper()
	c, err := f.agencies.GetClient(context.Background(), "cl_1")
	require.NoError(t, err)
	return c
}

func TestRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "wants off-page work")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, int64(59900), e.MonthlyPriceCents)
	assert.Empty(t, e.StripeItemID, "no billing call on request")

	c := f.reloadClient(t)
	assert.Equal(t, agency.ClientPending, c.Status)
	assert.Equal(t, agency.ManagedPending, c.ManagedStatus)
	assert.Equal(t, catalog.PackageSEOGrowth, c.ManagedPackage)
	require.NotNil(t, c.RequestedAt)

	reqs, err := f.store.ListRequests(ctx, "ag_1")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, e.ID, reqs[0].EngagementID)
	assert.Equal(t, "wants off-page work", reqs[0].Notes)
}

func TestRequest_NoPayerAccountCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.agency.StripeCustomerID = ""
	f.agency.StripeSubscriptionID = ""
	require.NoError(t, f.agencies.Update(ctx, f.agency))

	_, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindPrecondition))

	list, _ := f.store.ListByAgency(ctx, "ag_1")
	assert.Empty(t, list, "denial must not create an engagement")

	c := f.reloadClient(t)
	assert.Equal(t, agency.ClientActive, c.Status, "denial must not touch the client")
	assert.Equal(t, agency.ManagedNone, c.ManagedStatus)
}

func TestRequest_DeniedDuringTrial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	end := time.Now().Add(7 * 24 * time.Hour)
	f.agency.TrialEndsAt = &end
	require.NoError(t, f.agencies.Update(ctx, f.agency))

	_, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.Error(t, err)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "in_trial", fe.Reason)
}

func TestRequest_ForeignClient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.Request(ctx, "ag_2", "cl_1", catalog.PackageSEOGrowth, "")
	require.Error(t, err)
}

func TestRequest_UnknownPackage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.Request(ctx, "ag_1", "cl_1", "seo_platinum", "")
	require.Error(t, err)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "unknown_package", fe.Reason)
}

func TestRequest_DuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)

	_, err = f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOStarter, "")
	require.Error(t, err)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "engagement_exists", fe.Reason)
	assert.Equal(t, 409, fe.Status())
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)

	e, err = f.service.Approve(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, e.Status)
	assert.NotEmpty(t, e.StripeItemID, "approval bills the subscription")
	require.NotNil(t, e.ActivatedAt)

	c := f.reloadClient(t)
	assert.Equal(t, agency.ClientActive, c.Status)
	assert.Equal(t, agency.ManagedActive, c.ManagedStatus)

	// The remote subscription carries the package line item now.
	sub, err := f.gateway.GetSubscription(ctx, f.agency.StripeSubscriptionID)
	require.NoError(t, err)
	assert.Len(t, sub.Items, 2)
}

func TestApprove_BillingFailureStillActivates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)

	f.gateway.FailWith(billing.OpCreateItem, errors.New("processor down"))

	e, err = f.service.Approve(ctx, e.ID)
	require.NoError(t, err, "a human-approved engagement must activate even when billing is degraded")
	assert.Equal(t, StatusActive, e.Status)
	assert.Empty(t, e.StripeItemID)

	c := f.reloadClient(t)
	assert.Equal(t, agency.ClientActive, c.Status)
}

func TestApprove_NonPendingRejectedWithoutMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)
	_, err = f.service.Approve(ctx, e.ID)
	require.NoError(t, err)

	// Double approval.
	_, err = f.service.Approve(ctx, e.ID)
	require.Error(t, err)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "not_pending", fe.Reason)

	got, _ := f.store.Get(ctx, e.ID)
	assert.Equal(t, StatusActive, got.Status)

	sub, _ := f.gateway.GetSubscription(ctx, f.agency.StripeSubscriptionID)
	assert.Len(t, sub.Items, 2, "double approval must not bill twice")
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)

	e, err = f.service.Reject(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, e.Status)

	c := f.reloadClient(t)
	assert.Equal(t, agency.ClientDashboardOnly, c.Status)
	assert.Equal(t, agency.ManagedNone, c.ManagedStatus)
	assert.Empty(t, c.ManagedPackage)
	assert.Nil(t, c.RequestedAt)

	// Reject never touched billing.
	sub, _ := f.gateway.GetSubscription(ctx, f.agency.StripeSubscriptionID)
	assert.Len(t, sub.Items, 1)
}

func TestReject_ActiveEngagement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)
	_, err = f.service.Approve(ctx, e.ID)
	require.NoError(t, err)

	_, err = f.service.Reject(ctx, e.ID)
	require.Error(t, err, "reject is only valid from PENDING")
}

func TestCancel_FromActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)
	e, err = f.service.Approve(ctx, e.ID)
	require.NoError(t, err)

	e, err = f.service.Cancel(ctx, e.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, e.Status)
	require.NotNil(t, e.EndDate, "active cancellation records an end date")
	assert.True(t, e.EndDate.After(time.Now()), "default end date is end of current month")

	c := f.reloadClient(t)
	assert.Equal(t, agency.ClientCanceled, c.Status)
	assert.Equal(t, agency.ManagedCanceled, c.ManagedStatus)
	require.NotNil(t, c.EndDate)

	// The package line item was removed remotely.
	sub, _ := f.gateway.GetSubscription(ctx, f.agency.StripeSubscriptionID)
	assert.Len(t, sub.Items, 1)
}

func TestCancel_FromActiveWithExplicitEndDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)
	e, err = f.service.Approve(ctx, e.ID)
	require.NoError(t, err)

	want := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	e, err = f.service.Cancel(ctx, e.ID, &want)
	require.NoError(t, err)
	require.NotNil(t, e.EndDate)
	assert.True(t, e.EndDate.Equal(want))
}

func TestCancel_FromPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)

	e, err = f.service.Cancel(ctx, e.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, e.Status)
	assert.Nil(t, e.EndDate, "pending cancellation has no end date")

	c := f.reloadClient(t)
	assert.Equal(t, agency.ClientDashboardOnly, c.Status)
	assert.Equal(t, agency.ManagedNone, c.ManagedStatus)
}

func TestCancel_BillingFailureStillCancels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)
	e, err = f.service.Approve(ctx, e.ID)
	require.NoError(t, err)

	f.gateway.FailWith(billing.OpDeleteItem, errors.New("processor down"))

	e, err = f.service.Cancel(ctx, e.ID, nil)
	require.NoError(t, err, "the tenant must be able to stop an engagement regardless of billing")
	assert.Equal(t, StatusCanceled, e.Status)
}

func TestCanceledIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)
	_, err = f.service.Cancel(ctx, e.ID, nil)
	require.NoError(t, err)

	_, err = f.service.Cancel(ctx, e.ID, nil)
	require.Error(t, err)
	_, err = f.service.Approve(ctx, e.ID)
	require.Error(t, err)
	_, err = f.service.Reject(ctx, e.ID)
	require.Error(t, err)

	got, _ := f.store.Get(ctx, e.ID)
	assert.Equal(t, StatusCanceled, got.Status)
}

// Full lifecycle: request -> approve -> cancel ends terminal, and a fresh
// request for the same pair succeeds because the prior record no longer
// blocks.
func TestLifecycle_TerminalRecordDoesNotBlockNewRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)
	_, err = f.service.Approve(ctx, e.ID)
	require.NoError(t, err)
	done, err := f.service.Cancel(ctx, e.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCanceled, done.Status)
	require.NotNil(t, done.EndDate)
	c := f.reloadClient(t)
	assert.Equal(t, agency.ClientCanceled, c.Status)

	fresh, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOPremium, "")
	require.NoError(t, err)
	assert.NotEqual(t, e.ID, fresh.ID)
	assert.Equal(t, StatusPending, fresh.Status)
}

func TestCountActiveClients(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	n, err := f.store.CountActiveClients(ctx, "ag_1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)
	n, _ = f.store.CountActiveClients(ctx, "ag_1")
	assert.Equal(t, 0, n, "pending engagements do not count")

	_, err = f.service.Approve(ctx, e.ID)
	require.NoError(t, err)
	n, _ = f.store.CountActiveClients(ctx, "ag_1")
	assert.Equal(t, 1, n)
}

func TestEndOfMonth(t *testing.T) {
	in := time.Date(2026, 8, 26, 15, 4, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), endOfMonth(in))

	// December rolls over the year.
	dec := time.Date(2026, 12, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), endOfMonth(dec))
}

func TestRequest_SnapshotsPackagePricing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)
	assert.Equal(t, "Managed SEO Growth", e.PackageName)
	assert.EqualValues(t, 59900, e.MonthlyPriceCents)
	assert.Equal(t, 20, e.CommissionPercent)
	assert.EqualValues(t, 11980, e.MonthlyCommissionCents)

	// A later catalogue repricing must not reach engagements already
	// written; the row carries its own copy of the terms.
	f.service.catalog = catalog.New(nil, nil, nil, []catalog.PackageConfig{
		{ID: catalog.PackageSEOGrowth, Name: "Managed SEO Growth Plus",
			MonthlyPriceCents: 79900, CommissionPercent: 30, PriceRef: "price_pkg_seo_growth"},
	})

	stored, err := f.store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Managed SEO Growth", stored.PackageName)
	assert.EqualValues(t, 59900, stored.MonthlyPriceCents)
	assert.Equal(t, 20, stored.CommissionPercent)
	assert.EqualValues(t, 11980, stored.MonthlyCommissionCents)
}

func TestRequest_RepurposedClientStartsClean(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOGrowth, "")
	require.NoError(t, err)
	_, err = f.service.Approve(ctx, e.ID)
	require.NoError(t, err)
	_, err = f.service.Cancel(ctx, e.ID, nil)
	require.NoError(t, err)

	c := f.reloadClient(t)
	require.NotNil(t, c.CanceledAt)
	require.NotNil(t, c.EndDate)

	fresh, err := f.service.Request(ctx, "ag_1", "cl_1", catalog.PackageSEOPremium, "")
	require.NoError(t, err)

	c = f.reloadClient(t)
	assert.Equal(t, agency.ClientPending, c.Status)
	assert.Nil(t, c.CanceledAt, "prior round's cancellation must not survive the new request")
	assert.Nil(t, c.EndDate)

	_, err = f.service.Approve(ctx, fresh.ID)
	require.NoError(t, err)
	c = f.reloadClient(t)
	assert.Equal(t, agency.ClientActive, c.Status)
	assert.Nil(t, c.CanceledAt)
	assert.Nil(t, c.EndDate)
}
