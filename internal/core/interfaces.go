package core

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"gaiya/internal/types"
)

// Authenticator decouples the HTTP layer from the session store, allowing
// for easy mocking in tests.
type Authenticator interface {
	// Authenticate resolves a bearer access token to an Actor.
	//
	// Distinct error codes:
	//   - auth_token_invalid: malformed, unknown, or revoked token, or a
	//     deactivated user.
	//   - auth_session_expired: the session exists but has lapsed.
	Authenticate(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitStore abstracts the backing store for rate limiting.
// Production uses PostgreSQL counters; tests use in-memory fakes.
type RateLimitStore interface {
	// IncrementAndCheck atomically records one request for the key and
	// checks whether the sliding window limit has been exceeded.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates whether the request is within the rate limit.
	Allowed bool
	// Remaining is the number of requests remaining in the current window.
	Remaining int
	// ResetAt is the time when the current rate limit window resets.
	ResetAt time.Time
}

// RouteRegistrar mounts a group of domain handler routes onto the router.
// The application entry point collects registrars from each handler
// package; the indirection avoids import cycles between core and handlers.
type RouteRegistrar func(r chi.Router)
