// Package http is the inbound HTTP/JSON adapter for the scan-handoff broker.
//
// # Endpoints
//
//	POST /sessions        - open a 60 second handoff session
//	GET  /sessions/{id}   - read a live session (404 once expired)
//	POST /scans           - report a card scan (device key required when configured)
//	GET  /latest          - read the most recent scan, with or without a session
//	GET  /audit/recent    - recent scan audit records (device key required when configured)
//	GET  /health          - component health
//	GET  /metrics         - Prometheus exposition
//
// # Request Headers
//
//	X-Device-Key: <key>            - device key for POST /scans
//	Authorization: Bearer <key>    - accepted instead of X-Device-Key
//	X-Request-ID: <id>             - propagated, or generated when absent
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - request count and duration
//  2. RequestIDMiddleware - request ID and request-scoped logger
//  3. RealIPMiddleware - client IP, from proxy headers only when trusted
//  4. OriginPolicy - CORS for allowed origins, 403 for others
//  5. DeviceKeyMiddleware - extracts the presented device key
//  6. RateLimitMiddleware - per-IP GCRA limit on POST routes
//  7. APIHandler routes
package http
