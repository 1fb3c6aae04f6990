package core

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gaiya/internal/types"
)

// Fallbacks when the config does not specify rate limit settings.
const (
	defaultRateLimitWindow = time.Minute
	defaultRateLimitMax    = 60
)

// RatePolicy is one endpoint's declared request allowance.
type RatePolicy struct {
	Limit  int
	Window time.Duration
}

// endpointRatePolicies declares per-endpoint allowances. Credential and
// mail-sending endpoints get tighter limits than the configured global
// ceiling; paths not listed here fall back to the config values.
var endpointRatePolicies = map[string]RatePolicy{
	"/auth-signup":          {Limit: 10, Window: time.Minute},
	"/auth-signin":          {Limit: 10, Window: time.Minute},
	"/auth-send-otp":        {Limit: 5, Window: time.Minute},
	"/auth-verify-otp":      {Limit: 10, Window: time.Minute},
	"/auth-reset-password":  {Limit: 5, Window: time.Minute},
	"/payment-create-order": {Limit: 10, Window: time.Minute},
}

// RateLimit enforces a sliding-window limit per caller and endpoint.
//
// The counter key is the request path joined with the caller identity:
// the authenticated user ID when an Actor is in context, the client IP
// otherwise. Unauthenticated endpoints (signup, OTP issue) are therefore
// limited per IP.
//
// If no RateLimitStore is configured (e.g., during tests), the middleware
// passes through without rate limiting. Store errors fail open so a
// counter outage cannot block all API traffic.
//
// On every counted request (allowed or not), the middleware sets standard
// rate limit response headers:
//   - X-RateLimit-Limit: The maximum number of requests in the window.
//   - X-RateLimit-Remaining: The number of requests remaining.
//   - X-RateLimit-Reset: Unix timestamp when the window resets.
//
// When rate limited, the middleware also sets:
//   - Retry-After: Seconds until the rate limit window resets.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil {
			next.ServeHTTP(w, r)
			return
		}

		// Preflight responses are terminated by the CORS middleware before
		// reaching here; skip counting for any OPTIONS that slip through.
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		subject := ""
		if actor, ok := types.GetActor(r.Context()); ok {
			subject = actor.ID
		} else {
			subject = extractClientIP(r)
		}
		key := r.URL.Path + ":" + subject

		limit, window := s.rateLimitPolicy(r.URL.Path)
		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), key, limit, window)
		if err != nil {
			// Fail open on store errors.
			s.Logger.Error("rate limit store error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		// Set rate limit headers on every response (allowed or denied).
		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("subject", subject),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			writeJSON(w, r, http.StatusTooManyRequests, APIResponse{
				Success:   false,
				Error:     "Rate limit exceeded. Please retry after the reset time.",
				ErrorCode: string(types.ErrCodeRateLimit),
				RequestID: types.GetRequestID(r.Context()),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitPolicy resolves the limit and window for a request path: the
// endpoint's declared policy when one exists, otherwise the configured
// global values, otherwise the defaults.
func (s *Server) rateLimitPolicy(path string) (int, time.Duration) {
	if policy, ok := endpointRatePolicies[path]; ok {
		return policy.Limit, policy.Window
	}

	limit := defaultRateLimitMax
	window := defaultRateLimitWindow
	if s.Config != nil {
		if s.Config.Security.RateLimitMax > 0 {
			limit = s.Config.Security.RateLimitMax
		}
		if s.Config.Security.RateLimitWindow > 0 {
			window = s.Config.Security.RateLimitWindow
		}
	}
	return limit, window
}

// setRateLimitHeaders writes the standard X-RateLimit-* headers to the response.
func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
