package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaiya/internal/types"
)

func TestPlanByID(t *testing.T) {
	plan, ok := PlanByID(PlanProMonthly)
	require.True(t, ok)
	assert.Equal(t, types.TierPro, plan.Tier)
	assert.Equal(t, 30, plan.DurationDays)
	assert.Equal(t, "29.00", plan.Price)
	assert.False(t, plan.Lifetime())

	plan, ok = PlanByID(PlanTeamPartner)
	require.True(t, ok)
	assert.Equal(t, types.TierLifetime, plan.Tier)
	assert.True(t, plan.Lifetime())

	_, ok = PlanByID("gold_plated")
	assert.False(t, ok)
}

func TestAllPlans_StableOrder(t *testing.T) {
	got := AllPlans()
	require.Len(t, got, 3)
	assert.Equal(t, PlanProMonthly, got[0].ID)
	assert.Equal(t, PlanProYearly, got[1].ID)
	assert.Equal(t, PlanTeamPartner, got[2].ID)
}

func TestStylesFor_LocksAboveTier(t *testing.T) {
	for _, style := range StylesFor(types.TierFree) {
		assert.Equal(t, style.MinTier.Rank() > types.TierFree.Rank(), style.Locked,
			"style %s", style.ID)
	}

	locked := 0
	for _, style := range StylesFor(types.TierPro) {
		if style.Locked {
			locked++
			assert.Equal(t, types.TierLifetime, style.MinTier)
		}
	}
	assert.Equal(t, 2, locked)

	for _, style := range StylesFor(types.TierLifetime) {
		assert.False(t, style.Locked, "style %s", style.ID)
	}
}

func TestStylesFor_DoesNotMutateCatalog(t *testing.T) {
	_ = StylesFor(types.TierFree)
	for _, style := range styleCatalog {
		assert.False(t, style.Locked)
	}
}
