package billing

import (
	"context"
	"log/slog"
	"time"

	"gaiya/internal/types"
)

// SubscriptionRepo defines the data access methods needed by the
// subscription service.
type SubscriptionRepo interface {
	Get(ctx context.Context, userID string) (*types.Subscription, error)
	Materialize(ctx context.Context, userID string) error
	ApplyEntitlement(ctx context.Context, userID string, tier types.PlanTier, expiresAt *time.Time, source types.PaymentGateway, eventAt time.Time) (stale bool, err error)
	PersistDowngrade(ctx context.Context, userID string, now time.Time) error
	SetNonRenewing(ctx context.Context, userID string) error
}

// SubscriptionService owns the entitlement state machine. Tiers move
// monotonically upward (free -> pro -> lifetime) except by expiry, which
// is evaluated lazily at read time rather than by a scheduled job.
type SubscriptionService struct {
	repo   SubscriptionRepo
	clock  types.Clock
	logger *slog.Logger
}

// NewSubscriptionService creates a new subscription service.
func NewSubscriptionService(repo SubscriptionRepo, clock types.Clock, logger *slog.Logger) *SubscriptionService {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionService{repo: repo, clock: clock, logger: logger}
}

// Status returns the user's current subscription, synthesizing the free
// downgrade when a pro entitlement has expired. The downgrade is also
// persisted opportunistically so later reads see the settled row.
func (s *SubscriptionService) Status(ctx context.Context, userID string) (*types.Subscription, error) {
	sub, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()

	if sub == nil {
		if err := s.repo.Materialize(ctx, userID); err != nil {
			return nil, err
		}
		return &types.Subscription{UserID: userID, Tier: types.TierFree, UpdatedAt: now}, nil
	}

	if sub.Tier == types.TierPro && sub.ExpiresAt != nil && !sub.ExpiresAt.After(now) {
		if err := s.repo.PersistDowngrade(ctx, userID, now); err != nil {
			s.logger.Error("failed to persist expiry downgrade", "user_id", userID, "error", err)
		}
		sub.Tier = types.TierFree
		sub.ExpiresAt = nil
		sub.NonRenewing = false
	}

	return sub, nil
}

// EffectiveTier implements the tier oracle consulted by quota checks.
func (s *SubscriptionService) EffectiveTier(ctx context.Context, userID string) (types.PlanTier, error) {
	sub, err := s.Status(ctx, userID)
	if err != nil {
		return types.TierFree, err
	}
	return sub.Tier, nil
}

// Apply grants the entitlement of a paid plan.
//
// Rules:
//   - a pro purchase on a lifetime account is rejected as
//     conflict_redundant_purchase (the payment layer refunds or credits
//     out of band)
//   - pro extends from max(now, current expiry), so stacking purchases
//     accumulates time instead of overwriting it
//   - lifetime clears the expiry permanently
//   - eventAt older than the stored last event is a stale no-op
func (s *SubscriptionService) Apply(ctx context.Context, userID string, plan types.Plan, source types.PaymentGateway, eventAt time.Time) error {
	sub, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if sub == nil {
		if err := s.repo.Materialize(ctx, userID); err != nil {
			return err
		}
		sub = &types.Subscription{UserID: userID, Tier: types.TierFree}
	}

	if sub.Tier == types.TierLifetime && plan.Tier == types.TierPro {
		return types.NewAppError(types.ErrCodeConflictRedundantPurchase,
			"account already holds a lifetime entitlement", nil)
	}

	var expiresAt *time.Time
	if !plan.Lifetime() {
		base := s.clock.Now()
		if sub.Tier == types.TierPro && sub.ExpiresAt != nil && sub.ExpiresAt.After(base) {
			base = *sub.ExpiresAt
		}
		t := base.AddDate(0, 0, plan.DurationDays)
		expiresAt = &t
	}

	stale, err := s.repo.ApplyEntitlement(ctx, userID, plan.Tier, expiresAt, source, eventAt)
	if err != nil {
		return err
	}
	if stale {
		s.logger.Warn("stale entitlement event ignored",
			"user_id", userID,
			"plan_id", plan.ID,
			"event_at", eventAt,
		)
		return nil
	}

	s.logger.Info("entitlement applied",
		"user_id", userID,
		"plan_id", plan.ID,
		"tier", plan.Tier,
		"source", source,
	)
	return nil
}

// Cancel marks a renewing subscription non-renewing. The paid window
// runs out naturally; no entitlement is revoked here.
func (s *SubscriptionService) Cancel(ctx context.Context, userID string) error {
	sub, err := s.Status(ctx, userID)
	if err != nil {
		return err
	}
	if sub.Tier != types.TierPro {
		return types.NewAppError(types.ErrCodeConflictOrderState, "no renewing subscription to cancel", nil)
	}
	return s.repo.SetNonRenewing(ctx, userID)
}
