package ratelimit

import "context"

// RateLimiter checks and consumes rate limit budget.
//
// Implementations use GCRA (Generic Cell Rate Algorithm), which spreads
// requests evenly over time instead of resetting at window boundaries.
type RateLimiter interface {
	// Allow atomically consumes one event for key under config.
	// When not allowed, RetryAfter in the result says when to try again.
	Allow(ctx context.Context, key string, config RateLimitConfig) (RateLimitResult, error)
}
