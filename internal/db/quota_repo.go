package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"gaiya/internal/types"
)

// QuotaRepository provides data access for the quota_counters table.
// It owns the single atomic primitive that makes concurrent quota
// decrements safe: a conditional UPDATE that only fires while the usage
// stays at or under the ceiling and the window is still open.
type QuotaRepository struct {
	db DBTX
}

// NewQuotaRepository creates a new QuotaRepository backed by the given
// database connection (pool or transaction).
func NewQuotaRepository(db DBTX) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// quotaColumns defines the standard set of columns selected for quota queries.
const quotaColumns = `user_id, feature, used, reset_at, updated_at`

// scanQuota scans a single quota row into a types.QuotaCounter struct.
func scanQuota(row pgx.Row) (*types.QuotaCounter, error) {
	var q types.QuotaCounter
	err := row.Scan(
		&q.UserID,
		&q.Feature,
		&q.Used,
		&q.ResetAt,
		&q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Get retrieves the counter for one (user, feature) pair.
// Returns pgx.ErrNoRows wrapped as a nil counter with nil error when the
// row has not been materialized yet; callers materialize lazily.
func (r *QuotaRepository) Get(ctx context.Context, userID string, feature types.Feature) (*types.QuotaCounter, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+quotaColumns+`
		 FROM quota_counters
		 WHERE user_id = $1 AND feature = $2`,
		userID,
		feature,
	)

	q, err := scanQuota(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve quota counter", err)
	}
	return q, nil
}

// List retrieves every counter for a user.
func (r *QuotaRepository) List(ctx context.Context, userID string) ([]*types.QuotaCounter, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+quotaColumns+`
		 FROM quota_counters
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query quota counters", err)
	}
	defer rows.Close()

	var results []*types.QuotaCounter
	for rows.Next() {
		q, scanErr := scanQuota(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan quota row", scanErr)
		}
		results = append(results, q)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating quota rows", err)
	}
	return results, nil
}

// Materialize lazily creates the counter row for (user, feature) with
// zero usage and the given window end. ON CONFLICT DO NOTHING makes
// concurrent first-use calls converge on a single row.
func (r *QuotaRepository) Materialize(ctx context.Context, userID string, feature types.Feature, resetAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO quota_counters (user_id, feature, used, reset_at, updated_at)
		 VALUES ($1, $2, 0, $3, NOW())
		 ON CONFLICT (user_id, feature) DO NOTHING`,
		userID,
		feature,
		resetAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to materialize quota counter", err)
	}
	return nil
}

// Rollover zeroes the counter and advances the window end, but only if
// the stored window has actually closed. The reset_at guard makes the
// rollover race-safe: concurrent calls land on one winner and the rest
// no-op against the already-advanced row.
func (r *QuotaRepository) Rollover(ctx context.Context, userID string, feature types.Feature, now time.Time, nextResetAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE quota_counters SET used = 0, reset_at = $4, updated_at = NOW()
		 WHERE user_id = $1 AND feature = $2 AND reset_at <= $3`,
		userID,
		feature,
		now,
		nextResetAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to roll over quota window", err)
	}
	return nil
}

// AtomicIncrement attempts to consume n units within the open window.
// ceiling == 0 means unbounded. The conditional UPDATE serializes
// concurrent consumers: each unit of remaining quota is granted at most
// once. The caller must have materialized and rolled over the row first,
// so an empty result means the ceiling would be exceeded.
//
// Returns the updated counter on success, or an AppError with code
// quota_exceeded carrying the window's reset_at.
func (r *QuotaRepository) AtomicIncrement(ctx context.Context, userID string, feature types.Feature, n int, ceiling int, now time.Time) (*types.QuotaCounter, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE quota_counters SET used = used + $3, updated_at = NOW()
		 WHERE user_id = $1 AND feature = $2 AND reset_at > $4
		   AND ($5 = 0 OR used + $3 <= $5)
		 RETURNING `+quotaColumns,
		userID,
		feature,
		n,
		now,
		ceiling,
	)

	q, err := scanQuota(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The row exists and its window is open (caller ensured both),
			// so the condition that failed is the ceiling.
			current, getErr := r.Get(ctx, userID, feature)
			details := map[string]any{"feature": string(feature)}
			if getErr == nil && current != nil {
				details["reset_at"] = current.ResetAt
			}
			return nil, types.NewAppErrorWithDetails(types.ErrCodeQuotaExceeded, "quota exceeded for feature", nil, details)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to increment quota usage", err)
	}
	return q, nil
}
