// Package catalog is the static pricing catalogue: subscription tiers,
// add-on options, and managed-service packages, each mapped to a Stripe
// price reference. The catalogue is injected wherever pricing is consulted
// so tests can supply fixtures.
package catalog

import "sort"

// Tier identifies a subscription plan.
type Tier string

const (
	TierStarter    Tier = "starter"
	TierGrowth     Tier = "growth"
	TierScale      Tier = "scale"
	TierEnterprise Tier = "enterprise"
)

// TierConfig defines a tier's capacity and pricing.
type TierConfig struct {
	Tier              Tier   `json:"tier"`
	Name              string `json:"name"`
	MaxDashboards     int    `json:"maxDashboards"` // 0 = unlimited
	MonthlyPriceCents int64  `json:"monthlyPriceCents"`
	PriceRef          string `json:"-"` // Stripe price ID
}

// Unlimited reports whether the tier has no dashboard cap.
func (t TierConfig) Unlimited() bool { return t.MaxDashboards == 0 }

// AddOnType identifies an add-on category.
type AddOnType string

const (
	AddOnExtraDashboards      AddOnType = "extra_dashboards"
	AddOnExtraKeywordsTracked AddOnType = "extra_keywords_tracked"
	AddOnExtraKeywordLookups  AddOnType = "extra_keyword_lookups"
)

// AddOnOption is one purchasable (type, option) combination.
type AddOnOption struct {
	Type       AddOnType `json:"type"`
	Option     string    `json:"option"` // e.g. "10", "500"
	Label      string    `json:"label"`
	PriceCents int64     `json:"priceCents"`
	Interval   string    `json:"interval"` // "month"
	PriceRef   string    `json:"-"`
}

// PackageID identifies a managed-service package.
type PackageID string

const (
	PackageSEOStarter PackageID = "seo_starter"
	PackageSEOGrowth  PackageID = "seo_growth"
	PackageSEOPremium PackageID = "seo_premium"
)

// PackageConfig defines a managed-service package.
type PackageConfig struct {
	ID                PackageID `json:"id"`
	Name              string    `json:"name"`
	MonthlyPriceCents int64     `json:"monthlyPriceCents"`
	CommissionPercent int       `json:"commissionPercent"`
	PriceRef          string    `json:"-"`
}

// MonthlyCommissionCents is the agency's monthly cut of the package price.
func (p PackageConfig) MonthlyCommissionCents() int64 {
	return p.MonthlyPriceCents * int64(p.CommissionPercent) / 100
}

type addOnKey struct {
	typ    AddOnType
	option string
}

// Catalog is a read-only pricing lookup.
type Catalog struct {
	tiers        map[Tier]TierConfig
	tierByPrice  map[string]TierConfig
	basePrices   map[string]bool
	addOns       map[addOnKey]AddOnOption
	addOnAllowed map[AddOnType]map[Tier]bool
	packages     map[PackageID]PackageConfig
}

// New builds a catalogue from explicit tables. allowed lists, per add-on
// type, the tiers that may purchase it; types absent from the map are
// allowed on every tier.
func New(tiers []TierConfig, addOns []AddOnOption, allowed map[AddOnType][]Tier, packages []PackageConfig) *Catalog {
	c := &Catalog{
		tiers:        make(map[Tier]TierConfig, len(tiers)),
		tierByPrice:  make(map[string]TierConfig, len(tiers)),
		basePrices:   make(map[string]bool, len(tiers)),
		addOns:       make(map[addOnKey]AddOnOption, len(addOns)),
		addOnAllowed: make(map[AddOnType]map[Tier]bool, len(allowed)),
		packages:     make(map[PackageID]PackageConfig, len(packages)),
	}
	for _, t := range tiers {
		c.tiers[t.Tier] = t
		if t.PriceRef != "" {
			c.tierByPrice[t.PriceRef] = t
			c.basePrices[t.PriceRef] = true
		}
	}
	for _, a := range addOns {
		c.addOns[addOnKey{a.Type, a.Option}] = a
	}
	for typ, ts := range allowed {
		set := make(map[Tier]bool, len(ts))
		for _, t := range ts {
			set[t] = true
		}
		c.addOnAllowed[typ] = set
	}
	for _, p := range packages {
		c.packages[p.ID] = p
	}
	return c
}

// Tier looks up a tier by identifier.
func (c *Catalog) Tier(id Tier) (TierConfig, bool) {
	t, ok := c.tiers[id]
	return t, ok
}

// TierByPriceRef resolves a tier from its Stripe price ID. Used when the
// remote subscription is the source of truth after a plan change.
func (c *Catalog) TierByPriceRef(ref string) (TierConfig, bool) {
	t, ok := c.tierByPrice[ref]
	return t, ok
}

// IsBasePlanPrice reports whether a price ID belongs to a base plan, as
// opposed to an add-on or managed-service line item.
func (c *Catalog) IsBasePlanPrice(ref string) bool { return c.basePrices[ref] }

// AddOn looks up a purchasable (type, option) combination.
func (c *Catalog) AddOn(typ AddOnType, option string) (AddOnOption, bool) {
	a, ok := c.addOns[addOnKey{typ, option}]
	return a, ok
}

// AddOnAllowed reports whether a tier may purchase an add-on type.
func (c *Catalog) AddOnAllowed(typ AddOnType, tier Tier) bool {
	set, ok := c.addOnAllowed[typ]
	if !ok {
		return true
	}
	return set[tier]
}

// Package looks up a managed-service package.
func (c *Catalog) Package(id PackageID) (PackageConfig, bool) {
	p, ok := c.packages[id]
	return p, ok
}

// Tiers lists all tiers sorted by monthly price ascending.
func (c *Catalog) Tiers() []TierConfig {
	out := make([]TierConfig, 0, len(c.tiers))
	for _, t := range c.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonthlyPriceCents < out[j].MonthlyPriceCents })
	return out
}

// AddOns lists all purchasable add-on options.
func (c *Catalog) AddOns() []AddOnOption {
	out := make([]AddOnOption, 0, len(c.addOns))
	for _, a := range c.addOns {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].PriceCents < out[j].PriceCents
	})
	return out
}

// Packages lists all managed-service packages sorted by price ascending.
func (c *Catalog) Packages() []PackageConfig {
	out := make([]PackageConfig, 0, len(c.packages))
	for _, p := range c.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonthlyPriceCents < out[j].MonthlyPriceCents })
	return out
}

// Default returns the production catalogue.
func Default() *Catalog {
	return New(
		[]TierConfig{
			{Tier: TierStarter, Name: "Starter", MaxDashboards: 10, MonthlyPriceCents: 4900, PriceRef: "price_tier_starter_monthly"},
			{Tier: TierGrowth, Name: "Growth", MaxDashboards: 25, MonthlyPriceCents: 9900, PriceRef: "price_tier_growth_monthly"},
			{Tier: TierScale, Name: "Scale", MaxDashboards: 50, MonthlyPriceCents: 19900, PriceRef: "price_tier_scale_monthly"},
			{Tier: TierEnterprise, Name: "Enterprise", MaxDashboards: 0, MonthlyPriceCents: 49900, PriceRef: "price_tier_enterprise_monthly"},
		},
		[]AddOnOption{
			{Type: AddOnExtraDashboards, Option: "10", Label: "10 extra dashboards", PriceCents: 2900, Interval: "month", PriceRef: "price_addon_dash_10"},
			{Type: AddOnExtraDashboards, Option: "25", Label: "25 extra dashboards", PriceCents: 5900, Interval: "month", PriceRef: "price_addon_dash_25"},
			{Type: AddOnExtraKeywordsTracked, Option: "500", Label: "500 extra tracked keywords", PriceCents: 1900, Interval: "month", PriceRef: "price_addon_kw_500"},
			{Type: AddOnExtraKeywordsTracked, Option: "2000", Label: "2000 extra tracked keywords", PriceCents: 4900, Interval: "month", PriceRef: "price_addon_kw_2000"},
			{Type: AddOnExtraKeywordLookups, Option: "1000", Label: "1000 extra keyword lookups", PriceCents: 900, Interval: "month", PriceRef: "price_addon_lookup_1000"},
		},
		map[AddOnType][]Tier{
			// Enterprise is flat-capacity; extra dashboards make no sense there.
			AddOnExtraDashboards: {TierStarter, TierGrowth, TierScale},
		},
		[]PackageConfig{
			{ID: PackageSEOStarter, Name: "Managed SEO Starter", MonthlyPriceCents: 29900, CommissionPercent: 20, PriceRef: "price_pkg_seo_starter"},
			{ID: PackageSEOGrowth, Name: "Managed SEO Growth", MonthlyPriceCents: 59900, CommissionPercent: 20, PriceRef: "price_pkg_seo_growth"},
			{ID: PackageSEOPremium, Name: "Managed SEO Premium", MonthlyPriceCents: 99900, CommissionPercent: 25, PriceRef: "price_pkg_seo_premium"},
		},
	)
}
