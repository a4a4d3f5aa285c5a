package ratelimit

import "time"

// Normalize fills in defaults: a non-positive Rate becomes 1 and a
// non-positive Burst becomes Rate.
func (c RateLimitConfig) Normalize() RateLimitConfig {
	if c.Rate <= 0 {
		c.Rate = 1
	}
	if c.Burst <= 0 {
		c.Burst = c.Rate
	}
	return c
}

// Step applies one GCRA decision. tat is the key's theoretical arrival time
// (zero for a new key). At most Burst events pass back to back; after that
// one event passes per Period/Rate. It returns the TAT to store, which is
// unchanged when the event is refused.
func Step(tat, now time.Time, cfg RateLimitConfig) (time.Time, RateLimitResult) {
	cfg = cfg.Normalize()
	emission := cfg.Period / time.Duration(cfg.Rate)
	window := time.Duration(cfg.Burst) * emission

	if tat.Before(now) {
		tat = now
	}

	next := tat.Add(emission)
	if allowAt := next.Add(-window); now.Before(allowAt) {
		return tat, RateLimitResult{
			RetryAfter: allowAt.Sub(now),
			ResetAfter: tat.Sub(now),
		}
	}

	remaining := 0
	if emission > 0 {
		remaining = min(max(int((window-next.Sub(now))/emission), 0), cfg.Burst)
	}
	return next, RateLimitResult{
		Allowed:    true,
		Remaining:  remaining,
		ResetAfter: next.Sub(now),
	}
}
