package db

import (
	"context"
	"time"

	"gaiya/internal/core"
	"gaiya/internal/types"
)

// RateLimitStore adapts RateLimitRepository to the chassis' sliding-window
// contract. The window resets when the oldest in-window event falls out,
// so ResetAt anchors on that event rather than on the current request.
type RateLimitStore struct {
	repo  *RateLimitRepository
	clock types.Clock
}

// NewRateLimitStore creates a RateLimitStore over the given repository.
func NewRateLimitStore(repo *RateLimitRepository, clock types.Clock) *RateLimitStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RateLimitStore{repo: repo, clock: clock}
}

// IncrementAndCheck records one request for the key and reports whether
// the caller is still inside the limit. The request just recorded counts
// toward the window, so the first call over the limit is the one denied.
func (s *RateLimitStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	now := s.clock.Now()

	snap, err := s.repo.IncrementAndCount(ctx, key, now, window)
	if err != nil {
		return core.RateLimitResult{}, err
	}

	remaining := limit - snap.Count
	if remaining < 0 {
		remaining = 0
	}

	return core.RateLimitResult{
		Allowed:   snap.Count <= limit,
		Remaining: remaining,
		ResetAt:   snap.OldestAt.Add(window),
	}, nil
}
