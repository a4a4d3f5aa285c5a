package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Sentinel-Gate/cardrelay/internal/domain/ratelimit"
)

// rateLimitedRoutes maps the state-creating POST routes to their limiter
// scope. Anything else passes through unlimited and creates no limiter key,
// so unrouted paths cannot grow the limiter.
var rateLimitedRoutes = map[string]string{
	"/sessions": "sessions",
	"/scans":    "scans",
}

// RateLimitMiddleware applies a per-client-IP limit to state-creating
// requests (POST /sessions, POST /scans). Reads are never limited so
// polling keeps working. Each route gets its own budget.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, cfg ratelimit.RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, limited := rateLimitedRoutes[r.URL.Path]
			if r.Method != http.MethodPost || !limited {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIPFromContext(r.Context())
			result, err := limiter.Allow(r.Context(), ratelimit.FormatKey(ratelimit.KeyTypeIP, scope, ip), cfg)
			if err != nil {
				// Fail open: a limiter fault must not block card readers.
				LoggerFromContext(r.Context()).Error("rate limiter failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter)))
				LoggerFromContext(r.Context()).Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds up to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}
