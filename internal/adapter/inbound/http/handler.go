package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sentinel-Gate/cardrelay/internal/domain/audit"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/scan"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/session"
	"github.com/Sentinel-Gate/cardrelay/internal/service"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// APIHandler serves the broker's JSON API.
type APIHandler struct {
	sessions *session.Registry
	scans    *service.ScanService
	latest   scan.LatestStore
	gate     service.Authorizer
	recent   audit.RecentReader
	metrics  *Metrics
	logger   *slog.Logger
}

// APIOption configures APIHandler.
type APIOption func(*APIHandler)

// WithRecentAudit enables GET /audit/recent backed by r.
func WithRecentAudit(r audit.RecentReader) APIOption {
	return func(h *APIHandler) { h.recent = r }
}

// WithAPIMetrics counts created sessions in m.
func WithAPIMetrics(m *Metrics) APIOption {
	return func(h *APIHandler) { h.metrics = m }
}

// WithAPILogger sets the fallback logger for requests without a scoped one.
func WithAPILogger(l *slog.Logger) APIOption {
	return func(h *APIHandler) { h.logger = l }
}

// NewAPIHandler creates the API handler. gate guards the audit endpoint; the
// scan service applies its own gate to scan reports.
func NewAPIHandler(sessions *session.Registry, scans *service.ScanService, latest scan.LatestStore, gate service.Authorizer, opts ...APIOption) *APIHandler {
	h := &APIHandler{
		sessions: sessions,
		scans:    scans,
		latest:   latest,
		gate:     gate,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the API routes on mux.
func (h *APIHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", h.handleGetSession)
	mux.HandleFunc("POST /scans", h.handleReportScan)
	mux.HandleFunc("GET /latest", h.handleLatest)
	mux.HandleFunc("GET /audit/recent", h.handleRecentAudit)
}

type createSessionResponse struct {
	SessionID string    `json:"session_id"`
	TTLSec    int       `json:"ttl_sec"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionResponse struct {
	CardID    *string   `json:"rfid_card_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type scanRequest struct {
	SessionID string `json:"session_id"`
	CardID    string `json:"rfid_card_id"`
}

type latestResponse struct {
	CardID    *string    `json:"rfid_card_id"`
	ScannedAt *time.Time `json:"scanned_at"`
}

type recentAuditResponse struct {
	Records []audit.ScanRecord `json:"records"`
}

func (h *APIHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Create(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SessionsCreated.Inc()
	}

	h.loggerFor(r).Info("session created",
		"session", audit.SessionRef(sess.ID),
		"expires_at", sess.ExpiresAt,
	)

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		TTLSec:    sess.TTLSeconds(),
		ExpiresAt: sess.ExpiresAt,
	})
}

func (h *APIHandler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{
		CardID:    sess.CardID,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (h *APIHandler) handleReportScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := readJSON(w, r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	_, err := h.scans.Report(r.Context(), service.ScanReport{
		SessionID: req.SessionID,
		CardID:    req.CardID,
		DeviceKey: DeviceKeyFromContext(r.Context()),
		RemoteIP:  ClientIPFromContext(r.Context()),
		RequestID: RequestIDFromContext(r.Context()),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *APIHandler) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.latest.Peek(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, latestResponse{
		CardID:    latest.CardID,
		ScannedAt: latest.ScannedAt,
	})
}

func (h *APIHandler) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	if h.recent == nil {
		respondError(w, http.StatusNotFound, "audit log not enabled")
		return
	}
	if !h.gate.Authorize(DeviceKeyFromContext(r.Context())) {
		h.writeServiceError(w, r, service.ErrUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Decision: strings.ToLower(q.Get("decision"))}
	switch filter.Decision {
	case "", audit.DecisionAccepted, audit.DecisionRejected:
	default:
		respondError(w, http.StatusBadRequest, "decision must be accepted or rejected")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	respondJSON(w, http.StatusOK, recentAuditResponse{Records: h.recent.Query(filter)})
}

// writeServiceError maps domain and service errors to HTTP responses.
// Anything unrecognized is a 500 and is logged.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidScan):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.loggerFor(r).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *APIHandler) loggerFor(r *http.Request) *slog.Logger {
	if RequestIDFromContext(r.Context()) != "" {
		return LoggerFromContext(r.Context())
	}
	return h.logger
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes a single JSON object from the body, capped at
// maxBodyBytes. Unknown fields are ignored.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	// Trailing data after the object is malformed, except whitespace.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return errors.New("unexpected data after JSON object")
	}
	return nil
}
