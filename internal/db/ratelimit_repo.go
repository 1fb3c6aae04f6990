package db

import (
	"context"
	"time"

	"gaiya/internal/types"
)

// RateLimitRepository implements a sliding-window rate limit store over
// the rate_limit_events table. Each request records a timestamp row; the
// check counts rows inside [now - window, now]. Rows older than the
// window are pruned opportunistically on each check.
type RateLimitRepository struct {
	db DBTX
}

// NewRateLimitRepository creates a new RateLimitRepository backed by the
// given database connection (pool or transaction).
func NewRateLimitRepository(db DBTX) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// RateLimitSnapshot is the raw window state returned by IncrementAndCount.
type RateLimitSnapshot struct {
	Count    int
	OldestAt time.Time
}

// IncrementAndCount records one request for the key and returns the
// number of requests inside the window plus the oldest in-window
// timestamp (which anchors the window reset). The count includes the
// request just recorded.
//
// MIN(requested_at) is scanned through a normalizing helper because the
// aggregate is NULL when the window is empty and store timestamps can
// surface in more than one representation.
func (r *RateLimitRepository) IncrementAndCount(ctx context.Context, key string, now time.Time, window time.Duration) (*RateLimitSnapshot, error) {
	windowStart := now.Add(-window)

	_, err := r.db.Exec(ctx,
		`INSERT INTO rate_limit_events (key, requested_at) VALUES ($1, $2)`,
		key,
		now,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to record rate limit event", err)
	}

	var count int
	var oldestRaw any
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*), MIN(requested_at)
		 FROM rate_limit_events
		 WHERE key = $1 AND requested_at > $2`,
		key,
		windowStart,
	).Scan(&count, &oldestRaw)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count rate limit events", err)
	}

	oldest, err := asTime(oldestRaw)
	if err != nil {
		return nil, err
	}
	if oldest.IsZero() {
		oldest = now
	}

	// Opportunistic eviction of rows outside the window. Failure is
	// non-fatal; stale rows only cost storage, not correctness.
	_, _ = r.db.Exec(ctx,
		`DELETE FROM rate_limit_events WHERE key = $1 AND requested_at <= $2`,
		key,
		windowStart,
	)

	return &RateLimitSnapshot{Count: count, OldestAt: oldest}, nil
}
