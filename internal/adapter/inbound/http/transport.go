package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sentinel-Gate/cardrelay/internal/domain/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// readTimeout bounds reading a whole request, body included. It is shorter
// than shutdownTimeout so a slow body cannot keep a handler alive past the
// drain.
const readTimeout = 5 * time.Second

// HTTPTransport serves the API, /health and /metrics over HTTP.
type HTTPTransport struct {
	api            *APIHandler
	server         *http.Server
	addr           string
	allowedOrigins []string
	trustProxy     bool
	limiter        ratelimit.RateLimiter
	limitCfg       ratelimit.RateLimitConfig
	logger         *slog.Logger
	registry       *prometheus.Registry
	metrics        *Metrics
	healthChecker  *HealthChecker
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithAllowedOrigins sets the origins that receive CORS headers.
// Requests from any other origin are rejected with 403.
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithTrustProxyHeaders makes X-Forwarded-For and X-Real-IP authoritative
// for the client IP. Only enable behind a proxy that overwrites them.
func WithTrustProxyHeaders(trust bool) Option {
	return func(t *HTTPTransport) {
		t.trustProxy = trust
	}
}

// WithRateLimit limits POST requests per client IP.
func WithRateLimit(limiter ratelimit.RateLimiter, cfg ratelimit.RateLimitConfig) Option {
	return func(t *HTTPTransport) {
		t.limiter = limiter
		t.limitCfg = cfg
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithMetrics serves reg on /metrics and records request metrics into m.
// Without it the transport creates its own registry.
func WithMetrics(reg *prometheus.Registry, m *Metrics) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
		t.metrics = m
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// NewHTTPTransport creates a transport serving api.
func NewHTTPTransport(api *APIHandler, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		api:            api,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.registry == nil {
		t.registry = NewRegistry()
		t.metrics = NewMetrics(t.registry)
	}

	return t
}

// NewRegistry returns a Prometheus registry with the Go and process
// collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler builds the routed handler with the full middleware chain.
//
// Order, outermost first: Metrics, RequestID, RealIP, OriginPolicy,
// DeviceKey, RateLimit. Metrics must be outermost to time the whole request.
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	t.api.Routes(mux)

	if t.healthChecker != nil {
		mux.Handle("GET /health", t.healthChecker.Handler())
	} else {
		mux.Handle("GET /health", NewHealthChecker(nil, nil, nil, "", "").Handler())
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))

	var handler http.Handler = mux
	if t.limiter != nil {
		handler = RateLimitMiddleware(t.limiter, t.limitCfg)(handler)
	}
	handler = DeviceKeyMiddleware(handler)
	handler = OriginPolicy(t.allowedOrigins)(handler)
	handler = RealIPMiddleware(t.trustProxy)(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	if t.metrics != nil {
		handler = MetricsMiddleware(t.metrics)(handler)
	}
	return handler
}

// Start serves until ctx is cancelled or the listener fails.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		err := t.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close shuts the server down if it was started.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
