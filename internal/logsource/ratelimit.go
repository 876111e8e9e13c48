package logsource

import (
	"context"

	"golang.org/x/time/rate"
)

// newPageLimiter builds a token bucket allowing requestsPerMin page fetches
// per minute. A nil limiter means unthrottled.
func newPageLimiter(enabled bool, requestsPerMin int) *rate.Limiter {
	if !enabled || requestsPerMin <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(requestsPerMin)/60, requestsPerMin)
}

// waitForToken blocks until a fetch token is available. This is a cooperative
// wait, not a cancellation: ctx expiry is the only way out early.
func waitForToken(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
