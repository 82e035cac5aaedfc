package addon_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rankpilot/rankpilot/internal/addon"
	"github.com/rankpilot/rankpilot/internal/agency"
	"github.com/rankpilot/rankpilot/internal/catalog"
	"github.com/rankpilot/rankpilot/internal/idgen"
	"github.com/rankpilot/rankpilot/internal/testutil"
)

func TestPostgresStoreAddOns(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	agencies := agency.NewPostgresStore(db)
	owner := &agency.Agency{
		ID:           idgen.WithPrefix("ag_"),
		Name:         "Add-On Agency",
		Slug:         "addon-test",
		BillingEmail: "billing@addon.test",
		Tier:         catalog.TierGrowth,
		BillingType:  agency.BillingPaid,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, agencies.Create(ctx, owner))

	store := addon.NewPostgresStore(db)

	a := &addon.AddOn{
		ID:           idgen.WithPrefix("ao_"),
		AgencyID:     owner.ID,
		Type:         catalog.AddOnExtraDashboards,
		Option:       "10",
		Label:        "10 extra dashboards",
		PriceCents:   2900,
		Interval:     "month",
		StripeItemID: "si_dash_10",
		CreatedAt:    now,
	}
	require.NoError(t, store.Create(ctx, a))

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.AddOnExtraDashboards, got.Type)
	require.Equal(t, "10", got.Option)
	require.Equal(t, "10 extra dashboards", got.Label)
	require.EqualValues(t, 2900, got.PriceCents)
	require.Equal(t, "month", got.Interval)
	require.Equal(t, "si_dash_10", got.StripeItemID)

	// Degraded attach stores no line item reference.
	b := &addon.AddOn{
		ID:         idgen.WithPrefix("ao_"),
		AgencyID:   owner.ID,
		Type:       catalog.AddOnExtraKeywordsTracked,
		Option:     "500",
		PriceCents: 1900,
		CreatedAt:  now,
	}
	require.NoError(t, store.Create(ctx, b))

	gotB, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Empty(t, gotB.StripeItemID)

	list, err := store.ListByAgency(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, store.Delete(ctx, a.ID))
	_, err = store.Get(ctx, a.ID)
	require.ErrorIs(t, err, addon.ErrNotFound)

	err = store.Delete(ctx, a.ID)
	require.ErrorIs(t, err, addon.ErrNotFound)

	list, err = store.ListByAgency(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
