package quota

import (
	"context"
	"log/slog"
	"time"

	"gaiya/internal/types"
)

// QuotaRepo defines the data access methods needed by the quota service.
type QuotaRepo interface {
	Get(ctx context.Context, userID string, feature types.Feature) (*types.QuotaCounter, error)
	List(ctx context.Context, userID string) ([]*types.QuotaCounter, error)
	Materialize(ctx context.Context, userID string, feature types.Feature, resetAt time.Time) error
	Rollover(ctx context.Context, userID string, feature types.Feature, now time.Time, nextResetAt time.Time) error
	AtomicIncrement(ctx context.Context, userID string, feature types.Feature, n int, ceiling int, now time.Time) (*types.QuotaCounter, error)
}

// TierOracle reports the effective entitlement tier for a user at a
// point in time. Implemented by the subscription service; defined here
// so quota does not depend on the billing package.
type TierOracle interface {
	EffectiveTier(ctx context.Context, userID string) (types.PlanTier, error)
}

// UserTimezones resolves a user's IANA time zone for window math.
type UserTimezones interface {
	GetByID(ctx context.Context, userID string) (*types.User, error)
}

// Service enforces per-user, per-feature usage quotas with lazy window
// rollover. Counters are materialized on first touch; rollovers happen
// in-band when a read or consume finds a closed window, so no scheduled
// job is needed.
type Service struct {
	repo      QuotaRepo
	tiers     TierOracle
	users     UserTimezones
	defaultTZ string
	clock     types.Clock
	logger    *slog.Logger
}

// NewService creates a new quota service. defaultTZ is the zone used
// for users without one; empty falls back to DefaultTimezone.
func NewService(repo QuotaRepo, tiers TierOracle, users UserTimezones, defaultTZ string, clock types.Clock, logger *slog.Logger) *Service {
	if defaultTZ == "" {
		defaultTZ = DefaultTimezone
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		tiers:     tiers,
		users:     users,
		defaultTZ: defaultTZ,
		clock:     clock,
		logger:    logger,
	}
}

// timezoneFor resolves the user's zone, defaulting when unset or when
// the lookup fails. Quota math degrades to the default zone rather than
// failing the request.
func (s *Service) timezoneFor(ctx context.Context, userID string) string {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user.Timezone == "" {
		return s.defaultTZ
	}
	return user.Timezone
}

// ensure materializes the counter row and rolls a closed window forward,
// returning the current counter. Both writes are conditional, so
// concurrent callers converge on one row and one rollover.
func (s *Service) ensure(ctx context.Context, userID string, feature types.Feature, timezone string, now time.Time) (*types.QuotaCounter, error) {
	counter, err := s.repo.Get(ctx, userID, feature)
	if err != nil {
		return nil, err
	}

	freq := types.ResetFrequencyFor(feature)
	if counter == nil {
		resetAt := NextReset(now, timezone, freq)
		if err := s.repo.Materialize(ctx, userID, feature, resetAt); err != nil {
			return nil, err
		}
	} else if !counter.ResetAt.After(now) {
		nextResetAt := NextReset(now, timezone, freq)
		if err := s.repo.Rollover(ctx, userID, feature, now, nextResetAt); err != nil {
			return nil, err
		}
	} else {
		return counter, nil
	}

	counter, err = s.repo.Get(ctx, userID, feature)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "quota counter missing after materialization", nil)
	}
	return counter, nil
}

// snapshot converts a counter plus its ceiling into the wire shape.
// Remaining is -1 for unbounded ceilings.
func snapshot(counter *types.QuotaCounter, ceiling int) types.FeatureQuota {
	remaining := -1
	if ceiling != Unbounded {
		remaining = ceiling - counter.Used
		if remaining < 0 {
			remaining = 0
		}
	}
	return types.FeatureQuota{
		Used:      counter.Used,
		Remaining: remaining,
		Total:     ceiling,
		ResetAt:   counter.ResetAt,
	}
}

// StatusReport bundles the caller's effective tier with every metered
// feature's window, since ceilings only make sense relative to the tier.
type StatusReport struct {
	Tier   types.PlanTier                       `json:"user_tier"`
	Quotas map[types.Feature]types.FeatureQuota `json:"quotas"`
}

// Status reports the full quota snapshot for every metered feature,
// rolling over any closed windows it encounters.
func (s *Service) Status(ctx context.Context, userID string) (*StatusReport, error) {
	tier, err := s.tiers.EffectiveTier(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	timezone := s.timezoneFor(ctx, userID)

	quotas := make(map[types.Feature]types.FeatureQuota, len(types.AllFeatures))
	for _, feature := range types.AllFeatures {
		counter, err := s.ensure(ctx, userID, feature, timezone, now)
		if err != nil {
			return nil, err
		}
		quotas[feature] = snapshot(counter, CeilingFor(tier, feature))
	}
	return &StatusReport{Tier: tier, Quotas: quotas}, nil
}

// Use consumes n units of a feature's quota. Returns the updated
// snapshot, or quota_exceeded (mapped to 402) when the window's ceiling
// would be crossed. n defaults to 1 when not positive.
func (s *Service) Use(ctx context.Context, userID string, feature types.Feature, n int) (*types.FeatureQuota, error) {
	if !feature.IsValid() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidFeature, "unknown feature", nil)
	}
	if n <= 0 {
		n = 1
	}

	tier, err := s.tiers.EffectiveTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	ceiling := CeilingFor(tier, feature)

	now := s.clock.Now()
	timezone := s.timezoneFor(ctx, userID)

	if _, err := s.ensure(ctx, userID, feature, timezone, now); err != nil {
		return nil, err
	}

	counter, err := s.repo.AtomicIncrement(ctx, userID, feature, n, ceiling, now)
	if err != nil {
		return nil, err
	}

	s.logger.Info("quota consumed",
		"user_id", userID,
		"feature", feature,
		"units", n,
		"used", counter.Used,
	)
	result := snapshot(counter, ceiling)
	return &result, nil
}
