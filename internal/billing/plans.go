// Package billing provides the plan catalog and subscription domain logic.
package billing

import (
	"gaiya/internal/types"
)

// Plan IDs accepted by order creation. The catalog is static; prices
// change by deployment, not at runtime.
const (
	PlanProMonthly  = "pro_monthly"
	PlanProYearly   = "pro_yearly"
	PlanTeamPartner = "team_partner"
)

// plans is the purchasable plan catalog. DurationDays 0 marks a
// lifetime grant.
var plans = map[string]types.Plan{
	PlanProMonthly: {
		ID:           PlanProMonthly,
		Tier:         types.TierPro,
		DurationDays: 30,
		Currency:     "CNY",
		Price:        "29.00",
	},
	PlanProYearly: {
		ID:           PlanProYearly,
		Tier:         types.TierPro,
		DurationDays: 365,
		Currency:     "CNY",
		Price:        "168.00",
	},
	PlanTeamPartner: {
		ID:           PlanTeamPartner,
		Tier:         types.TierLifetime,
		DurationDays: 0,
		Currency:     "CNY",
		Price:        "399.00",
	},
}

// PlanByID looks up a plan from the catalog.
func PlanByID(id string) (types.Plan, bool) {
	p, ok := plans[id]
	return p, ok
}

// AllPlans returns the catalog in a stable order.
func AllPlans() []types.Plan {
	return []types.Plan{
		plans[PlanProMonthly],
		plans[PlanProYearly],
		plans[PlanTeamPartner],
	}
}
