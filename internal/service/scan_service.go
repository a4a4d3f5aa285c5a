package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Sentinel-Gate/cardrelay/internal/ctxkey"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/audit"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/scan"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/session"
)

// Scan report errors. Both leave all state unchanged.
var (
	// ErrUnauthorized is returned when the device key does not match.
	ErrUnauthorized = errors.New("invalid device key")
	// ErrInvalidScan is returned when the card identifier is missing or blank.
	ErrInvalidScan = errors.New("rfid_card_id is required")
)

// Authorizer decides whether a presented device key is acceptable.
type Authorizer interface {
	Authorize(presented string) bool
}

// AuditRecorder accepts scan records without blocking on I/O.
type AuditRecorder interface {
	Record(record audit.ScanRecord)
}

// ScanObserver is notified of every scan outcome.
type ScanObserver interface {
	ScanAccepted(sessionUpdated bool)
	ScanRejected(reason string)
}

// ScanReport is one inbound report from a card reader.
type ScanReport struct {
	SessionID string
	CardID    string
	DeviceKey string
	RemoteIP  string
	RequestID string
}

// ScanResult describes what an accepted report changed.
type ScanResult struct {
	Latest         scan.LatestScan
	SessionUpdated bool
}

// ScanService ingests scan reports: it updates the latest-scan cache on
// every accepted report and, when a live session is named, the session too.
type ScanService struct {
	gate     Authorizer
	latest   scan.LatestStore
	sessions *session.Registry
	logger   *slog.Logger
	audit    AuditRecorder
	observer ScanObserver
}

// ScanOption configures ScanService.
type ScanOption func(*ScanService)

// WithAuditRecorder sends a record for every accepted or rejected report.
func WithAuditRecorder(r AuditRecorder) ScanOption {
	return func(s *ScanService) { s.audit = r }
}

// WithScanObserver reports outcomes to o.
func WithScanObserver(o ScanObserver) ScanOption {
	return func(s *ScanService) { s.observer = o }
}

// NewScanService creates a ScanService. Time comes from the session
// registry's clock so that scans and session expiry agree.
func NewScanService(gate Authorizer, latest scan.LatestStore, sessions *session.Registry, logger *slog.Logger, opts ...ScanOption) *ScanService {
	s := &ScanService{
		gate:     gate,
		latest:   latest,
		sessions: sessions,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report authorizes, validates and records a scan.
//
// The latest-scan cache is updated unconditionally. A session that is
// unknown or expired is skipped without error; the reader is never told
// whether its session reference was used.
func (s *ScanService) Report(ctx context.Context, r ScanReport) (ScanResult, error) {
	now := s.sessions.Now()
	logger := s.loggerFor(ctx)

	if !s.gate.Authorize(r.DeviceKey) {
		s.reject(logger, r, audit.ReasonUnauthorized)
		return ScanResult{}, ErrUnauthorized
	}

	cardID := strings.TrimSpace(r.CardID)
	if cardID == "" {
		s.reject(logger, r, audit.ReasonInvalidCardID)
		return ScanResult{}, ErrInvalidScan
	}

	latest, err := s.latest.Record(ctx, cardID, now)
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to record latest scan: %w", err)
	}

	updated := false
	if r.SessionID != "" {
		updated, err = s.sessions.UpdateIfLive(ctx, r.SessionID, cardID)
		if err != nil {
			// The cache already holds the scan; a failed session write
			// must not turn an accepted report into an error.
			logger.Error("failed to attach scan to session",
				"session", audit.SessionRef(r.SessionID),
				"error", err,
			)
			updated = false
		} else if !updated {
			logger.Debug("scan session not live, skipped",
				"session", audit.SessionRef(r.SessionID),
			)
		}
	}

	fingerprint := audit.Fingerprint(cardID)
	logger.Info("scan recorded",
		"card", fingerprint,
		"session_updated", updated,
	)

	if s.audit != nil {
		s.audit.Record(audit.ScanRecord{
			Timestamp:       now,
			RequestID:       r.RequestID,
			Decision:        audit.DecisionAccepted,
			SessionRef:      audit.SessionRef(r.SessionID),
			SessionUpdated:  updated,
			CardFingerprint: fingerprint,
			RemoteIP:        r.RemoteIP,
		})
	}
	if s.observer != nil {
		s.observer.ScanAccepted(updated)
	}

	return ScanResult{Latest: latest, SessionUpdated: updated}, nil
}

// loggerFor prefers the request-scoped logger, which already carries the
// request ID.
func (s *ScanService) loggerFor(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

func (s *ScanService) reject(logger *slog.Logger, r ScanReport, reason string) {
	logger.Warn("scan rejected",
		"reason", reason,
		"remote_ip", r.RemoteIP,
	)

	if s.audit != nil {
		s.audit.Record(audit.ScanRecord{
			Timestamp:       s.sessions.Now(),
			RequestID:       r.RequestID,
			Decision:        audit.DecisionRejected,
			Reason:          reason,
			SessionRef:      audit.SessionRef(r.SessionID),
			CardFingerprint: audit.Fingerprint(strings.TrimSpace(r.CardID)),
			RemoteIP:        r.RemoteIP,
		})
	}
	if s.observer != nil {
		s.observer.ScanRejected(reason)
	}
}
