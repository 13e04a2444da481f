package collector

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls to the Mixpanel API
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// mixpanelRateLimiter implements RateLimiter with a token bucket
type mixpanelRateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing perSecond requests with the
// given burst. perSecond <= 0 disables pacing.
func NewRateLimiter(perSecond float64, burst int) RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &mixpanelRateLimiter{
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Wait blocks until the next request may be sent
func (r *mixpanelRateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
