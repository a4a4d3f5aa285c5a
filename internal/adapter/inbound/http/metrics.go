package http

import (
	"github.com/Sentinel-Gate/cardrelay/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "cardrelay"

// Metrics holds the broker's Prometheus metrics.
type Metrics struct {
	reg prometheus.Registerer

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SessionsCreated prometheus.Counter
	ScansTotal      *prometheus.CounterVec
	SessionUpdates  *prometheus.CounterVec
	AuditDropsTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		reg: reg,
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		SessionsCreated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_created_total",
				Help:      "Total handoff sessions created",
			},
		),
		ScansTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "scans_total",
				Help:      "Total scan reports by result",
			},
			[]string{"result"}, // accepted, unauthorized, invalid_card_id
		),
		SessionUpdates: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "session_updates_total",
				Help:      "Accepted scans by whether a live session received the card",
			},
			[]string{"outcome"}, // updated, skipped
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
		),
	}
}

// TrackActiveSessions exports fn as the active_sessions gauge.
func (m *Metrics) TrackActiveSessions(fn func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "active_sessions",
		Help:      "Number of live handoff sessions",
	}, fn)
}

// TrackRateLimitKeys exports fn as the rate_limit_keys gauge.
func (m *Metrics) TrackRateLimitKeys(fn func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "rate_limit_keys",
		Help:      "Number of tracked rate limit keys",
	}, fn)
}

// ScanAccepted implements service.ScanObserver.
func (m *Metrics) ScanAccepted(sessionUpdated bool) {
	m.ScansTotal.WithLabelValues("accepted").Inc()
	outcome := "skipped"
	if sessionUpdated {
		outcome = "updated"
	}
	m.SessionUpdates.WithLabelValues(outcome).Inc()
}

// ScanRejected implements service.ScanObserver.
func (m *Metrics) ScanRejected(reason string) {
	m.ScansTotal.WithLabelValues(reason).Inc()
}

// AuditDropped is passed to service.WithDropHook.
func (m *Metrics) AuditDropped() {
	m.AuditDropsTotal.Inc()
}

var _ service.ScanObserver = (*Metrics)(nil)
