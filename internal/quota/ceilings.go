package quota

import (
	"gaiya/internal/types"
)

// Unbounded marks a ceiling with no limit. The store treats 0 as "no
// ceiling check" in its conditional update.
const Unbounded = 0

// ceilings is the static per-tier quota catalog. Windows are daily at
// local midnight except weekly_report, which rolls over Monday 00:00.
var ceilings = map[types.PlanTier]map[types.Feature]int{
	types.TierFree: {
		types.FeatureDailyPlan:      3,
		types.FeatureWeeklyReport:   1,
		types.FeatureChat:           10,
		types.FeatureThemeRecommend: 5,
		types.FeatureThemeGenerate:  3,
	},
	types.TierPro: {
		types.FeatureDailyPlan:      50,
		types.FeatureWeeklyReport:   10,
		types.FeatureChat:           100,
		types.FeatureThemeRecommend: 50,
		types.FeatureThemeGenerate:  50,
	},
	types.TierLifetime: {
		types.FeatureDailyPlan:      Unbounded,
		types.FeatureWeeklyReport:   Unbounded,
		types.FeatureChat:           Unbounded,
		types.FeatureThemeRecommend: Unbounded,
		types.FeatureThemeGenerate:  Unbounded,
	},
}

// CeilingFor returns the per-window ceiling for a tier and feature.
// Unknown tiers fall back to the free catalog.
func CeilingFor(tier types.PlanTier, feature types.Feature) int {
	tierCeilings, ok := ceilings[tier]
	if !ok {
		tierCeilings = ceilings[types.TierFree]
	}
	return tierCeilings[feature]
}
