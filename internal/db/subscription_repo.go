package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"gaiya/internal/types"
)

// SubscriptionRepository provides data access for the subscriptions table.
// Entitlement writes carry a last_event_at guard so gateway events that
// arrive out of order degrade to idempotent no-ops instead of clobbering
// a newer entitlement.
type SubscriptionRepository struct {
	db DBTX
}

// NewSubscriptionRepository creates a new SubscriptionRepository backed by
// the given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// subscriptionColumns defines the standard set of columns selected for
// subscription queries.
const subscriptionColumns = `user_id, tier, expires_at, source, non_renewing,
	last_upgraded_at, last_event_at, updated_at`

// scanSubscription scans a single subscription row into a types.Subscription.
func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var s types.Subscription
	var source *string
	err := row.Scan(
		&s.UserID,
		&s.Tier,
		&s.ExpiresAt,
		&source,
		&s.NonRenewing,
		&s.UpgradedAt,
		&s.LastEventAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if source != nil {
		s.Source = types.PaymentGateway(*source)
	}
	return &s, nil
}

// Get retrieves the subscription row for a user. Returns (nil, nil) when
// the row has not been materialized yet; callers treat that as free tier.
func (r *SubscriptionRepository) Get(ctx context.Context, userID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = $1`,
		userID,
	)

	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve subscription", err)
	}
	return s, nil
}

// Materialize lazily creates a free-tier row for the user.
// ON CONFLICT DO NOTHING makes concurrent first reads converge.
func (r *SubscriptionRepository) Materialize(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (user_id, tier, updated_at)
		 VALUES ($1, 'free', NOW())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to materialize subscription", err)
	}
	return nil
}

// ApplyEntitlement writes a new tier and expiry for the user, guarded by
// last_event_at: an event older than the recorded one affects zero rows.
// A zero-row result is returned as stale=true with no error, because a
// stale gateway event is an expected no-op, not a failure.
func (r *SubscriptionRepository) ApplyEntitlement(ctx context.Context, userID string, tier types.PlanTier, expiresAt *time.Time, source types.PaymentGateway, eventAt time.Time) (stale bool, err error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET tier = $2, expires_at = $3, source = $4, non_renewing = FALSE,
		     last_upgraded_at = $5, last_event_at = $5, updated_at = NOW()
		 WHERE user_id = $1
		   AND (last_event_at IS NULL OR last_event_at < $5)`,
		userID,
		tier,
		expiresAt,
		string(source),
		eventAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to apply entitlement", err)
	}
	return tag.RowsAffected() == 0, nil
}

// PersistDowngrade writes the synthesized free downgrade for a pro row
// whose expiry has crossed. The expires_at guard keeps a concurrent
// upgrade from being downgraded: the row only transitions while the
// stored expiry is actually in the past.
func (r *SubscriptionRepository) PersistDowngrade(ctx context.Context, userID string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET tier = 'free', expires_at = NULL, non_renewing = FALSE, updated_at = NOW()
		 WHERE user_id = $1 AND tier = 'pro' AND expires_at IS NOT NULL AND expires_at <= $2`,
		userID,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to persist downgrade", err)
	}
	return nil
}

// SetNonRenewing marks the subscription as non-renewing without touching
// the unexpired entitlement.
func (r *SubscriptionRepository) SetNonRenewing(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions SET non_renewing = TRUE, updated_at = NOW()
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark subscription non-renewing", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}
