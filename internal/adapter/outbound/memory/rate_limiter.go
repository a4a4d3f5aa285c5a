package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/cardrelay/internal/domain/ratelimit"
)

// Sweep defaults used by NewRateLimiter.
const (
	DefaultRateLimitCleanupInterval = 5 * time.Minute
	DefaultRateLimitMaxTTL          = time.Hour
)

// MemoryRateLimiter keeps one GCRA arrival time per key. Keys are created
// by the first request from an address, so a sweep forgets keys whose
// arrival time is more than maxTTL in the past.
type MemoryRateLimiter struct {
	mu    sync.Mutex
	cells map[string]time.Time

	cleanupInterval time.Duration
	maxTTL          time.Duration
	now             func() time.Time

	stopChan chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewRateLimiter creates a limiter with the default sweep settings.
func NewRateLimiter() *MemoryRateLimiter {
	return NewRateLimiterWithConfig(DefaultRateLimitCleanupInterval, DefaultRateLimitMaxTTL)
}

// NewRateLimiterWithConfig creates a limiter with custom sweep settings.
// A non-positive cleanupInterval disables the sweep.
func NewRateLimiterWithConfig(cleanupInterval, maxTTL time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		cells:           make(map[string]time.Time),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
		now:             time.Now,
		stopChan:        make(chan struct{}),
	}
}

// Allow consumes one event for key. The decision and the stored arrival
// time change under the same lock.
func (r *MemoryRateLimiter) Allow(ctx context.Context, key string, cfg ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tat, res := ratelimit.Step(r.cells[key], r.now(), cfg)
	if res.Allowed {
		r.cells[key] = tat
	}
	return res, nil
}

// StartCleanup runs the sweep until ctx is done or Stop is called.
func (r *MemoryRateLimiter) StartCleanup(ctx context.Context) {
	if r.cleanupInterval <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				if n := r.sweep(); n > 0 {
					slog.Debug("rate limiter swept idle keys", "count", n, "remaining", r.Size())
				}
			}
		}
	}()
}

// sweep drops idle keys and returns how many were removed.
func (r *MemoryRateLimiter) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxTTL)
	n := 0
	for key, tat := range r.cells {
		if tat.Before(cutoff) {
			delete(r.cells, key)
			n++
		}
	}
	return n
}

// Stop ends the sweep and waits for it. Safe to call more than once.
func (r *MemoryRateLimiter) Stop() {
	r.once.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

// Size returns the number of tracked keys.
func (r *MemoryRateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}

var _ ratelimit.RateLimiter = (*MemoryRateLimiter)(nil)
