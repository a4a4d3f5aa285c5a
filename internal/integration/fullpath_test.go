// Package integration runs the relay end to end: a real HTTP listener, the
// in-memory stores, the audit worker writing to a file and the device gate.
package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	cardhttp "github.com/Sentinel-Gate/cardrelay/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/cardrelay/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/audit"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/auth"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/session"
	"github.com/Sentinel-Gate/cardrelay/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"
)

const deviceKey = "reader-key-7f3a"

// testLogger keeps tests quiet.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type relay struct {
	server    *httptest.Server
	audit     *service.AuditService
	auditPath string
	limiter   *memory.MemoryRateLimiter
	sessions  *memory.MemorySessionStore
}

// startRelay wires the same components the start command does and serves
// them from an httptest server. A zero postsPerMinute disables rate limiting.
func startRelay(t *testing.T, postsPerMinute int) *relay {
	t.Helper()
	logger := testLogger()

	gate, err := auth.NewKeyGate(deviceKey)
	if err != nil {
		t.Fatalf("NewKeyGate: %v", err)
	}

	sessionStore := memory.NewSessionStoreWithConfig(0)
	registry := session.NewRegistry(sessionStore, session.Config{})
	latest := memory.NewLatestStore()

	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	f, err := os.OpenFile(auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	auditStore := memory.NewAuditStoreWithWriter(f)
	t.Cleanup(func() { _ = auditStore.Close() })

	reg := prometheus.NewRegistry()
	metrics := cardhttp.NewMetrics(reg)

	auditService := service.NewAuditService(auditStore, logger,
		service.WithFlushInterval(10*time.Millisecond),
		service.WithDropHook(metrics.AuditDropped),
	)
	auditService.Start(context.Background())

	scans := service.NewScanService(gate, latest, registry, logger,
		service.WithAuditRecorder(auditService),
		service.WithScanObserver(metrics),
	)
	api := cardhttp.NewAPIHandler(registry, scans, latest, gate,
		cardhttp.WithRecentAudit(auditStore),
		cardhttp.WithAPIMetrics(metrics),
		cardhttp.WithAPILogger(logger),
	)

	var limiter *memory.MemoryRateLimiter
	opts := []cardhttp.Option{
		cardhttp.WithLogger(logger),
		cardhttp.WithMetrics(reg, metrics),
	}
	if postsPerMinute > 0 {
		limiter = memory.NewRateLimiterWithConfig(0, 0)
		opts = append(opts, cardhttp.WithRateLimit(limiter, ratelimit.PerMinute(postsPerMinute)))
	}
	opts = append(opts, cardhttp.WithHealthChecker(
		cardhttp.NewHealthChecker(sessionStore, limiter, auditService, gate.Mode(), "test"),
	))

	transport := cardhttp.NewHTTPTransport(api, opts...)
	server := httptest.NewServer(transport.Handler())

	r := &relay{
		server:    server,
		audit:     auditService,
		auditPath: auditPath,
		limiter:   limiter,
		sessions:  sessionStore,
	}
	t.Cleanup(r.close)
	return r
}

func (r *relay) close() {
	r.server.Close()
	if r.audit != nil {
		r.audit.Stop()
		r.audit = nil
	}
}

// stopAudit drains the audit worker so the file holds every record.
func (r *relay) stopAudit(t *testing.T) []audit.ScanRecord {
	t.Helper()
	r.audit.Stop()
	r.audit = nil

	f, err := os.Open(r.auditPath)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var records []audit.ScanRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec audit.ScanRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("audit line %q: %v", sc.Text(), err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan audit file: %v", err)
	}
	return records
}

func (r *relay) request(t *testing.T, method, path, body string, key string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, r.server.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(cardhttp.DeviceKeyHeader, key)
	}
	resp, err := r.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func (r *relay) newSession(t *testing.T) string {
	t.Helper()
	code, body := r.request(t, http.MethodPost, "/sessions", "", "")
	if code != http.StatusCreated {
		t.Fatalf("POST /sessions = %d, want 201", code)
	}
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatalf("POST /sessions returned no session_id: %v", body)
	}
	return id
}

func TestFullPath_SessionHandoff(t *testing.T) {
	r := startRelay(t, 0)

	id := r.newSession(t)

	code, body := r.request(t, http.MethodGet, "/sessions/"+id, "", "")
	if code != http.StatusOK {
		t.Fatalf("GET session = %d, want 200", code)
	}
	if body["rfid_card_id"] != nil {
		t.Errorf("fresh session rfid_card_id = %v, want null", body["rfid_card_id"])
	}

	code, _ = r.request(t, http.MethodPost, "/scans",
		fmt.Sprintf(`{"session_id":%q,"rfid_card_id":"04A2B3C4"}`, id), "wrong-key")
	if code != http.StatusUnauthorized {
		t.Errorf("scan with wrong key = %d, want 401", code)
	}

	code, body = r.request(t, http.MethodPost, "/scans",
		fmt.Sprintf(`{"session_id":%q,"rfid_card_id":"04A2B3C4"}`, id), deviceKey)
	if code != http.StatusOK {
		t.Fatalf("scan = %d, want 200: %v", code, body)
	}

	_, body = r.request(t, http.MethodGet, "/sessions/"+id, "", "")
	if body["rfid_card_id"] != "04A2B3C4" {
		t.Errorf("session rfid_card_id = %v, want 04A2B3C4", body["rfid_card_id"])
	}

	_, body = r.request(t, http.MethodGet, "/latest", "", "")
	if body["rfid_card_id"] != "04A2B3C4" {
		t.Errorf("latest rfid_card_id = %v, want 04A2B3C4", body["rfid_card_id"])
	}

	// A scan without a session only moves the latest slot.
	code, _ = r.request(t, http.MethodPost, "/scans", `{"rfid_card_id":"99FF"}`, deviceKey)
	if code != http.StatusOK {
		t.Fatalf("sessionless scan = %d, want 200", code)
	}
	_, body = r.request(t, http.MethodGet, "/sessions/"+id, "", "")
	if body["rfid_card_id"] != "04A2B3C4" {
		t.Errorf("session changed by sessionless scan: %v", body["rfid_card_id"])
	}
	_, body = r.request(t, http.MethodGet, "/latest", "", "")
	if body["rfid_card_id"] != "99FF" {
		t.Errorf("latest rfid_card_id = %v, want 99FF", body["rfid_card_id"])
	}

	records := r.stopAudit(t)
	if len(records) != 3 {
		t.Fatalf("audit records = %d, want 3", len(records))
	}
	raw, err := os.ReadFile(r.auditPath)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	for _, card := range []string{"04A2B3C4", "99FF"} {
		if strings.Contains(string(raw), card) {
			t.Errorf("audit file contains raw card %q", card)
		}
	}
	if records[0].Decision != audit.DecisionRejected || records[0].Reason != audit.ReasonUnauthorized {
		t.Errorf("first record = %s/%s, want rejected/unauthorized", records[0].Decision, records[0].Reason)
	}
	if !records[1].SessionUpdated {
		t.Error("second record SessionUpdated = false, want true")
	}
	if records[2].SessionRef != "" {
		t.Errorf("sessionless record SessionRef = %q, want empty", records[2].SessionRef)
	}
}

func TestFullPath_ConcurrentReports(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := startRelay(t, 0)
	id := r.newSession(t)

	cards := make(map[string]bool, concurrentReporters)
	var wg sync.WaitGroup
	errs := make(chan error, concurrentReporters)
	for i := range concurrentReporters {
		card := fmt.Sprintf("CARD%04d", i)
		cards[card] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := fmt.Sprintf(`{"session_id":%q,"rfid_card_id":%q}`, id, card)
			req, err := http.NewRequest(http.MethodPost, r.server.URL+"/scans", strings.NewReader(body))
			if err != nil {
				errs <- err
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(cardhttp.DeviceKeyHeader, deviceKey)
			resp, err := r.server.Client().Do(req)
			if err != nil {
				errs <- err
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs <- fmt.Errorf("card %s: status %d", card, resp.StatusCode)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	_, session := r.request(t, http.MethodGet, "/sessions/"+id, "", "")
	got, _ := session["rfid_card_id"].(string)
	if !cards[got] {
		t.Errorf("session card = %q, want one of the reported cards", got)
	}
	_, latest := r.request(t, http.MethodGet, "/latest", "", "")
	if c, _ := latest["rfid_card_id"].(string); !cards[c] {
		t.Errorf("latest card = %q, want one of the reported cards", c)
	}

	records := r.stopAudit(t)
	if len(records) != concurrentReporters {
		t.Errorf("audit records = %d, want %d", len(records), concurrentReporters)
	}
	r.close()
	r.server.Client().CloseIdleConnections()
}

func TestFullPath_RateLimitedPosts(t *testing.T) {
	r := startRelay(t, 3)

	for i := range 3 {
		if code, _ := r.request(t, http.MethodPost, "/sessions", "", ""); code != http.StatusCreated {
			t.Fatalf("POST /sessions #%d = %d, want 201", i+1, code)
		}
	}
	code, body := r.request(t, http.MethodPost, "/sessions", "", "")
	if code != http.StatusTooManyRequests {
		t.Fatalf("fourth POST /sessions = %d, want 429", code)
	}
	if body["error"] != "rate limit exceeded" {
		t.Errorf("error = %v, want rate limit exceeded", body["error"])
	}

	// Scans have their own bucket and reads are never limited.
	if code, _ := r.request(t, http.MethodPost, "/scans", `{"rfid_card_id":"AB12"}`, deviceKey); code != http.StatusOK {
		t.Errorf("POST /scans = %d, want 200", code)
	}
	for range 5 {
		if code, _ := r.request(t, http.MethodGet, "/latest", "", ""); code != http.StatusOK {
			t.Fatalf("GET /latest = %d, want 200", code)
		}
	}
	if r.limiter.Size() != 2 {
		t.Errorf("limiter keys = %d, want 2", r.limiter.Size())
	}
}

func TestFullPath_HealthAndRecentAudit(t *testing.T) {
	r := startRelay(t, 0)

	code, body := r.request(t, http.MethodGet, "/health", "", "")
	if code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200: %v", code, body)
	}
	if body["status"] != "healthy" {
		t.Errorf("health status = %v, want healthy", body["status"])
	}

	r.request(t, http.MethodPost, "/scans", `{"rfid_card_id":"   "}`, deviceKey)

	// The audit worker flushes on a short interval; wait for it by stopping.
	_ = r.stopAudit(t)

	code, body = r.request(t, http.MethodGet, "/audit/recent?decision=rejected", "", deviceKey)
	if code != http.StatusOK {
		t.Fatalf("GET /audit/recent = %d, want 200", code)
	}
	recs, _ := body["records"].([]any)
	if len(recs) != 1 {
		t.Fatalf("recent records = %d, want 1", len(recs))
	}
	rec, _ := recs[0].(map[string]any)
	if rec["reason"] != audit.ReasonInvalidCardID {
		t.Errorf("reason = %v, want %s", rec["reason"], audit.ReasonInvalidCardID)
	}
}
