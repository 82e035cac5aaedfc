package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rankpilot/rankpilot/internal/agency"
	"github.com/rankpilot/rankpilot/internal/auth"
	"github.com/rankpilot/rankpilot/internal/catalog"
	"github.com/rankpilot/rankpilot/internal/idgen"
	"github.com/rankpilot/rankpilot/internal/testutil"
)

func TestPostgresStoreAPIKeys(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	agencies := agency.NewPostgresStore(db)
	owner := &agency.Agency{
		ID:           idgen.WithPrefix("ag_"),
		Name:         "Key Agency",
		Slug:         "key-test",
		BillingEmail: "billing@key.test",
		Tier:         catalog.TierStarter,
		BillingType:  agency.BillingPaid,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, agencies.Create(ctx, owner))

	store := auth.NewPostgresStore(db)

	key := &auth.APIKey{
		ID:        idgen.WithPrefix("key_"),
		Hash:      "deadbeef01",
		AgencyID:  owner.ID,
		Name:      "ci",
		CreatedAt: now,
	}
	require.NoError(t, store.Create(ctx, key))

	got, err := store.GetByHash(ctx, "deadbeef01")
	require.NoError(t, err)
	require.Equal(t, key.ID, got.ID)
	require.Equal(t, owner.ID, got.AgencyID)
	require.False(t, got.Revoked)
	require.Nil(t, got.ExpiresAt)

	_, err = store.GetByHash(ctx, "nope")
	require.ErrorIs(t, err, auth.ErrKeyNotFound)

	// Revoke and stamp usage through Update.
	got.Revoked = true
	got.LastUsed = now
	expires := now.Add(24 * time.Hour)
	got.ExpiresAt = &expires
	require.NoError(t, store.Update(ctx, got))

	updated, err := store.GetByHash(ctx, "deadbeef01")
	require.NoError(t, err)
	require.True(t, updated.Revoked)
	require.WithinDuration(t, now, updated.LastUsed, time.Second)
	require.NotNil(t, updated.ExpiresAt)
	require.WithinDuration(t, expires, *updated.ExpiresAt, time.Second)

	second := &auth.APIKey{
		ID:        idgen.WithPrefix("key_"),
		Hash:      "deadbeef02",
		AgencyID:  owner.ID,
		Name:      "dashboard",
		CreatedAt: now,
	}
	require.NoError(t, store.Create(ctx, second))

	keys, err := store.GetByAgency(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	require.NoError(t, store.Delete(ctx, second.ID))
	err = store.Delete(ctx, second.ID)
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}
