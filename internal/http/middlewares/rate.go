package middlewares

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/inboxly/mailvault/internal/http/errors"
	"github.com/inboxly/mailvault/internal/observability/logger"
	"github.com/inboxly/mailvault/internal/rate"
)

// RateLimiter is the minimal limiter interface the middleware needs.
// Satisfied by rate.RedisLimiter and rate.MemoryLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (rate.Result, error)
}

// RateKeyFunc derives the rate limiting key from a request.
type RateKeyFunc func(r *http.Request) string

// DefaultRateKey keys on client IP plus path, so one principal hammering
// the consent flow does not starve the status endpoints.
func DefaultRateKey(r *http.Request) string {
	return clientIP(r) + "|" + r.URL.Path
}

// IPOnlyRateKey keys on client IP alone.
func IPOnlyRateKey(r *http.Request) string {
	return clientIP(r)
}

// RateLimitConfig configures the rate limiting middleware.
type RateLimitConfig struct {
	Limiter   RateLimiter
	KeyFunc   RateKeyFunc
	Whitelist []string // paths excluded from limiting (ex: /healthz)
}

// WithRateLimit creates a rate limiting middleware. A nil limiter makes it
// a no-op, and limiter errors fail open.
func WithRateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultRateKey
	}

	whitelistSet := make(map[string]struct{})
	for _, p := range cfg.Whitelist {
		whitelistSet[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := whitelistSet[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			key := cfg.KeyFunc(r)
			res, err := cfg.Limiter.Allow(r.Context(), key)
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter error, failing open", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			if !res.Allowed {
				if res.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
				}
				if res.WindowTTL > 0 {
					resetAt := time.Now().Add(res.WindowTTL).Unix()
					w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
				}
				errors.WriteError(w, errors.ErrRateLimitExceeded)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if res.WindowTTL > 0 {
				resetAt := time.Now().Add(res.WindowTTL).Unix()
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
			}

			next.ServeHTTP(w, r)
		})
	}
}
