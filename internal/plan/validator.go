// Package plan validates and executes subscription tier changes.
//
// Validation is a pure read-side check usable standalone (preview endpoint)
// and as a precondition of execution. Execution is remote-first: the single
// mutating billing call commits the change, and the local tier record is
// reconciled from the remote subscription afterwards.
package plan

import (
	"context"
	"fmt"

	"github.com/rankpilot/rankpilot/internal/catalog"
)

// Usage is the point-in-time load counted against a tier's limit.
type Usage struct {
	TotalClients         int `json:"totalClients"`
	ActiveManagedClients int `json:"activeManagedClients"`
}

// UsageCounter re-reads an agency's usage at validation time. Counts are
// never cached across the validate/execute boundary.
type UsageCounter interface {
	// CountClients counts clients owned by any user of the agency.
	CountClients(ctx context.Context, agencyID string) (int, error)
	// CountActiveManagedClients counts distinct clients with an ACTIVE
	// managed-service engagement under the agency.
	CountActiveManagedClients(ctx context.Context, agencyID string) (int, error)
}

// Result is a validation verdict.
type Result struct {
	Allowed bool         `json:"allowed"`
	Reason  string       `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
	Tier    catalog.Tier `json:"tier"`
	Usage   Usage        `json:"usage"`
}

func allowed(tier catalog.Tier, u Usage) Result {
	return Result{Allowed: true, Tier: tier, Usage: u}
}

func denied(tier catalog.Tier, u Usage, reason, message string) Result {
	return Result{Allowed: false, Tier: tier, Usage: u, Reason: reason, Message: message}
}

// Validate checks whether the agency's current usage fits the target tier.
// Client count is checked before managed-service count, so when both are
// over the limit the denial reason is too_many_clients.
func Validate(target catalog.TierConfig, u Usage) Result {
	if target.Unlimited() {
		return allowed(target.Tier, u)
	}

	limit := target.MaxDashboards
	if u.TotalClients > limit {
		return denied(target.Tier, u, "too_many_clients",
			fmt.Sprintf("the %s plan allows %d client dashboards; remove %d to switch",
				target.Name, limit, u.TotalClients-limit))
	}
	if u.ActiveManagedClients > limit {
		return denied(target.Tier, u, "managed_services_over_limit",
			fmt.Sprintf("the %s plan allows %d client dashboards; cancel %d managed services to switch",
				target.Name, limit, u.ActiveManagedClients-limit))
	}
	return allowed(target.Tier, u)
}
