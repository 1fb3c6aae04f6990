package billing

import (
	"gaiya/internal/types"
)

// styleCatalog is the static progress-bar theme catalog. Entries above
// the caller's tier are still listed, annotated as locked, so clients
// can render an upsell instead of a gap.
var styleCatalog = []types.Style{
	{ID: "classic", Name: "Classic", Category: "minimal", MinTier: types.TierFree, Featured: true},
	{ID: "segments", Name: "Segments", Category: "minimal", MinTier: types.TierFree},
	{ID: "dots", Name: "Dots", Category: "minimal", MinTier: types.TierFree},
	{ID: "ocean-wave", Name: "Ocean Wave", Category: "nature", MinTier: types.TierFree},
	{ID: "sunrise", Name: "Sunrise", Category: "nature", MinTier: types.TierPro, Featured: true},
	{ID: "forest", Name: "Forest", Category: "nature", MinTier: types.TierPro},
	{ID: "neon-pulse", Name: "Neon Pulse", Category: "vivid", MinTier: types.TierPro},
	{ID: "aurora", Name: "Aurora", Category: "vivid", MinTier: types.TierPro},
	{ID: "ink-brush", Name: "Ink Brush", Category: "artistic", MinTier: types.TierPro},
	{ID: "constellation", Name: "Constellation", Category: "artistic", MinTier: types.TierLifetime, Featured: true},
	{ID: "goldleaf", Name: "Gold Leaf", Category: "artistic", MinTier: types.TierLifetime},
}

// StylesFor returns the catalog annotated against the caller's tier.
func StylesFor(tier types.PlanTier) []types.Style {
	out := make([]types.Style, len(styleCatalog))
	for i, style := range styleCatalog {
		style.Locked = style.MinTier.Rank() > tier.Rank()
		out[i] = style
	}
	return out
}
