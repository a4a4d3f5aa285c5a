// Package ratelimit provides rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// Rate is the number of allowed events in the period.
	Rate int
	// Burst is the maximum number of events that can occur at once.
	Burst int
	// Period is the time window for the rate limit.
	Period time.Duration
}

// PerMinute returns a config allowing n events per minute with a burst of n.
func PerMinute(n int) RateLimitConfig {
	return RateLimitConfig{Rate: n, Burst: n, Period: time.Minute}
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// RetryAfter is only meaningful when Allowed is false.
	RetryAfter time.Duration
	ResetAfter time.Duration
}

// KeyType identifies what a rate limit key is scoped to.
type KeyType string

const (
	// KeyTypeIP scopes a limit to a client address.
	KeyTypeIP KeyType = "ip"
)

const keyPrefix = "ratelimit"

// FormatKey returns "ratelimit:{type}:{scope}:{value}", so the same client
// gets independent budgets per scope (e.g. "sessions" and "scans").
func FormatKey(keyType KeyType, scope, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, keyType, scope, value)
}
