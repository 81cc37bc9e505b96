package api

import (
	"splitsync/internal/config"

	"golang.org/x/time/rate"
)

// newLimiter paces fallback requests. A non-positive rate disables pacing.
func newLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RPS <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return rate.NewLimiter(rate.Limit(cfg.RPS), burst)
}
