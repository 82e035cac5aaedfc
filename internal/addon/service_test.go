package addon

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
}

func newFixture(t *testing.T, tier catalog.Tier) *fixture {
	t.Helper()
	ctx := context.Background()

	agencies := agency.NewMemoryStore()
	gw := billing.NewMemoryGateway()
	store := NewMemoryStore()

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
		Tier:                 tier,
		BillingType:          agency.BillingPaid,
		StripeCustomerID:     custID,
		StripeSubscriptionID: sub.ID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, agencies.Create(ctx, a))

	return &fixture{
		service:  NewService(store, agencies, gw, catalog.Default(), nil, slog.Default()),
		store:    store,
		agencies: agencies,
		gateway:  gw,
		agency:   a,
	}
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog.TierGrowth)

	row, err := f.service.Attach(ctx, "ag_1", catalog.AddOnExtraDashboards, "10")
	require.NoError(t, err)
	assert.Equal(t, int64(2900), row.PriceCents)
	assert.Equal(t, "10 extra dashboards", row.Label)
	assert.Equal(t, "month", row.Interval)
	assert.NotEmpty(t, row.StripeItemID)

	sub, err := f.gateway.GetSubscription(ctx, f.agency.StripeSubscriptionID)
	require.NoError(t, err)
	assert.Len(t, sub.Items, 2)
}

func TestAttach_DisallowedOnFlatCapacityTier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog.TierEnterprise)

	_, err := f.service.Attach(ctx, "ag_1", catalog.AddOnExtraDashboards, "10")
	require.Error(t, err)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "add_on_not_allowed", fe.Reason)

	list, _ := f.store.ListByAgency(ctx, "ag_1")
	assert.Empty(t, list, "denial must not create a ledger row")
}

func TestAttach_AllowListOnlyCoversItsType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog.TierEnterprise)

	// Keyword add-ons have no allow-list, so every tier may buy them.
	row, err := f.service.Attach(ctx, "ag_1", catalog.AddOnExtraKeywordsTracked, "500")
	require.NoError(t, err)
	assert.Equal(t, "500", row.Option)
}

func TestAttach_UnknownOption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog.TierGrowth)

	_, err := f.service.Attach(ctx, "ag_1", catalog.AddOnExtraDashboards, "999")
	require.Error(t, err)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "unknown_add_on", fe.Reason)
}

func TestAttach_GateChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog.TierGrowth)

	end := time.Now().Add(48 * time.Hour)
	f.agency.TrialEndsAt = &end
	require.NoError(t, f.agencies.Update(ctx, f.agency))

	_, err := f.service.Attach(ctx, "ag_1", catalog.AddOnExtraDashboards, "10")
	require.Error(t, err)
	fe, _ := fault.As(err)
	assert.Equal(t, "in_trial", fe.Reason)

	f.agency.TrialEndsAt = nil
	f.agency.StripeCustomerID = ""
	f.agency.StripeSubscriptionID = ""
	require.NoError(t, f.agencies.Update(ctx, f.agency))

	_, err = f.service.Attach(ctx, "ag_1", catalog.AddOnExtraDashboards, "10")
	require.Error(t, err)
	fe, _ = fault.As(err)
	assert.Equal(t, "not_activated", fe.Reason)
}

func TestAttach_BillingFailureStillGrants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog.TierGrowth)

	f.gateway.FailWith(billing.OpCreateItem, errors.New("processor down"))

	row, err := f.service.Attach(ctx, "ag_1", catalog.AddOnExtraDashboards, "10")
	require.NoError(t, err, "the grant was paid for; billing degrades to a follow-up")
	assert.Empty(t, row.StripeItemID)

	got, err := f.store.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, row.ID, got.ID)
}

func TestDetach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog.TierGrowth)

	row, err := f.service.Attach(ctx, "ag_1", catalog.AddOnExtraDashboards, "10")
	require.NoError(t, err)

	require.NoError(t, f.service.Detach(ctx, "ag_1", row.ID))

	_, err = f.store.Get(ctx, row.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	sub, _ := f.gateway.GetSubscription(ctx, f.agency.StripeSubscriptionID)
	assert.Len(t, sub.Items, 1, "remote line item removed")
}

func TestDetach_BillingFailureStillDeletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog.TierGrowth)

	row, err := f.service.Attach(ctx, "ag_1", catalog.AddOnExtraDashboards, "10")
	require.NoError(t, err)

	f.gateway.FailWith(billing.OpDeleteItem, errors.New("processor down"))
	require.NoError(t, f.service.Detach(ctx, "ag_1", row.ID))

	_, err = f.store.Get(ctx, row.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDetach_ForeignRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog.TierGrowth)

	row, err := f.service.Attach(ctx, "ag_1", catalog.AddOnExtraDashboards, "10")
	require.NoError(t, err)

	err = f.service.Detach(ctx, "ag_2", row.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
