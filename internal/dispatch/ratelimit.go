package dispatch

import (
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiter gates dispatch admission. The limiter is swappable at
// runtime so configuration reloads take effect without a restart.
type RateLimiter struct {
	logger  *slog.Logger
	limiter atomic.Pointer[rate.Limiter]
}

// NewRateLimiter creates a limiter admitting rps requests per second with
// the given burst.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{logger: logger.With(slog.String("component", "rate_limiter"))}
	rl.Update(rps, burst)
	return rl
}

// Update atomically replaces the limits.
func (rl *RateLimiter) Update(rps float64, burst int) {
	rl.limiter.Store(rate.NewLimiter(rate.Limit(rps), burst))
}

// Allow reports whether one more request may be dispatched now.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Load().Allow()
}
