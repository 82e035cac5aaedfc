package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTiers(t *testing.T) {
	c := Default()

	starter, ok := c.Tier(TierStarter)
	require.True(t, ok)
	assert.Equal(t, 10, starter.MaxDashboards)
	assert.False(t, starter.Unlimited())

	growth, ok := c.Tier(TierGrowth)
	require.True(t, ok)
	assert.Equal(t, 25, growth.MaxDashboards)

	ent, ok := c.Tier(TierEnterprise)
	require.True(t, ok)
	assert.True(t, ent.Unlimited())

	_, ok = c.Tier("platinum")
	assert.False(t, ok)
}

func TestTierByPriceRef(t *testing.T) {
	c := Default()

	growth, _ := c.Tier(TierGrowth)
	resolved, ok := c.TierByPriceRef(growth.PriceRef)
	require.True(t, ok)
	assert.Equal(t, TierGrowth, resolved.Tier)

	assert.True(t, c.IsBasePlanPrice(growth.PriceRef))
	assert.False(t, c.IsBasePlanPrice("price_addon_dash_10"))
	assert.False(t, c.IsBasePlanPrice("price_pkg_seo_starter"))
}

func TestAddOnAllowList(t *testing.T) {
	c := Default()

	// Extra dashboards are never sold on the unlimited tier.
	assert.True(t, c.AddOnAllowed(AddOnExtraDashboards, TierStarter))
	assert.True(t, c.AddOnAllowed(AddOnExtraDashboards, TierScale))
	assert.False(t, c.AddOnAllowed(AddOnExtraDashboards, TierEnterprise))

	// Keyword add-ons have no allow-list, so every tier may buy them.
	assert.True(t, c.AddOnAllowed(AddOnExtraKeywordsTracked, TierEnterprise))
	assert.True(t, c.AddOnAllowed(AddOnExtraKeywordLookups, TierStarter))
}

func TestAddOnLookup(t *testing.T) {
	c := Default()

	opt, ok := c.AddOn(AddOnExtraDashboards, "10")
	require.True(t, ok)
	assert.Equal(t, int64(2900), opt.PriceCents)
	assert.NotEmpty(t, opt.PriceRef)

	_, ok = c.AddOn(AddOnExtraDashboards, "999")
	assert.False(t, ok)
}

func TestPackageCommission(t *testing.T) {
	c := Default()

	pkg, ok := c.Package(PackageSEOPremium)
	require.True(t, ok)
	assert.Equal(t, 25, pkg.CommissionPercent)
	assert.Equal(t, int64(24975), pkg.MonthlyCommissionCents())

	_, ok = c.Package("seo_platinum")
	assert.False(t, ok)
}
