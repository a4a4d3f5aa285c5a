package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/cardrelay/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/cardrelay/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/cardrelay/internal/config"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/auth"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/cardrelay/internal/domain/session"
	"github.com/Sentinel-Gate/cardrelay/internal/service"
)

// allowDevModeEnv set to a false value makes "start --dev" refuse to run.
const allowDevModeEnv = "CARDRELAY_ALLOW_DEVMODE"

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the broker",
	Long: `Start the cardrelay HTTP broker.

Without device.key or device.key_hash configured, any caller can report
scans. Set one before exposing the broker beyond localhost.

Examples:
  # Start with config file settings
  cardrelay start

  # Start with relaxed local defaults (any origin, no rate limit, debug logs)
  cardrelay start --dev

  # Start with a specific config file
  cardrelay --config /path/to/cardrelay.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, any origin, no rate limit)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	if cfg.DevMode && !devModeAllowed(os.Getenv(allowDevModeEnv)) {
		return fmt.Errorf("dev mode is disabled on this host (%s)", allowDevModeEnv)
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C kills.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("cardrelay stopped")
	return nil
}

// run wires the stores, services and HTTP transport, and blocks until ctx
// is cancelled. Shutdown order: HTTP server, then audit, then sweepers.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	gate, err := newDeviceGate(cfg.Device)
	if err != nil {
		return fmt.Errorf("failed to configure device key: %w", err)
	}
	warnPermissive(logger, cfg, gate.Mode())

	reg := http.NewRegistry()
	metrics := http.NewMetrics(reg)

	sessionStore := memory.NewSessionStoreWithConfig(
		config.DurationOr(cfg.Session.CleanupInterval, memory.DefaultCleanupInterval))
	sessionStore.StartCleanup(ctx)
	defer sessionStore.Stop()
	metrics.TrackActiveSessions(func() float64 {
		return float64(sessionStore.LiveCount(time.Now().UTC()))
	})

	registry := session.NewRegistry(sessionStore, session.Config{})
	latest := memory.NewLatestStore()

	scanOpts := []service.ScanOption{service.WithScanObserver(metrics)}
	apiOpts := []http.APIOption{http.WithAPIMetrics(metrics), http.WithAPILogger(logger)}

	var auditService *service.AuditService
	if cfg.Audit.Enabled() {
		auditStore, err := createAuditStore(cfg, logger)
		if err != nil {
			return err
		}
		defer auditStore.Close()

		auditService = service.NewAuditService(auditStore, logger,
			service.WithChannelSize(cfg.Audit.ChannelSize),
			service.WithBatchSize(cfg.Audit.BatchSize),
			service.WithFlushInterval(config.DurationOr(cfg.Audit.FlushInterval, time.Second)),
			service.WithSendTimeout(config.DurationOr(cfg.Audit.SendTimeout, 100*time.Millisecond)),
			service.WithWarningThreshold(cfg.Audit.WarningThreshold),
			service.WithDropHook(metrics.AuditDropped),
		)
		auditService.Start(ctx)

		scanOpts = append(scanOpts, service.WithAuditRecorder(auditService))
		apiOpts = append(apiOpts, http.WithRecentAudit(auditStore))
	} else {
		logger.Info("audit output disabled")
	}

	scans := service.NewScanService(gate, latest, registry, logger, scanOpts...)
	api := http.NewAPIHandler(registry, scans, latest, gate, apiOpts...)

	transportOpts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithTrustProxyHeaders(cfg.Server.TrustProxyHeaders),
		http.WithMetrics(reg, metrics),
	}

	var rateLimiter *memory.MemoryRateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = memory.NewRateLimiterWithConfig(
			config.DurationOr(cfg.RateLimit.CleanupInterval, memory.DefaultRateLimitCleanupInterval),
			config.DurationOr(cfg.RateLimit.MaxTTL, memory.DefaultRateLimitMaxTTL),
		)
		rateLimiter.StartCleanup(ctx)
		defer rateLimiter.Stop()
		metrics.TrackRateLimitKeys(func() float64 { return float64(rateLimiter.Size()) })

		transportOpts = append(transportOpts, http.WithRateLimit(rateLimiter, ratelimit.PerMinute(cfg.RateLimit.IPRate)))
		logger.Debug("rate limiting enabled", "ip_rate_per_minute", cfg.RateLimit.IPRate)
	}

	transportOpts = append(transportOpts, http.WithHealthChecker(
		http.NewHealthChecker(sessionStore, rateLimiter, auditService, gate.Mode(), Version)))

	transport := http.NewHTTPTransport(api, transportOpts...)

	printBanner(os.Stderr, Version, cfg.Server.HTTPAddr, cfg.DevMode, gate.Mode(), cfg.RateLimit.Enabled)

	serveErr := transport.Start(ctx)

	// If the drain timed out, late handlers may still call Record; the
	// stopped service drops and counts those records.
	if auditService != nil {
		auditService.Stop()
		if drops := auditService.DroppedRecords(); drops > 0 {
			logger.Warn("audit records were dropped during this run", "count", drops)
		}
	}

	if serveErr != nil {
		return fmt.Errorf("http server failed: %w", serveErr)
	}
	return nil
}

// newDeviceGate builds the scan gate from config. A present-but-empty key
// is an error, never open mode.
func newDeviceGate(d config.DeviceConfig) (*auth.DeviceGate, error) {
	switch {
	case d.KeyHash != "":
		return auth.NewHashGate(d.KeyHash)
	case d.Configured():
		return auth.NewKeyGate(d.Key)
	default:
		return auth.NewOpenGate(), nil
	}
}

// devModeAllowed reports whether the allow-devmode variable permits dev
// mode. Unset or unparsable values allow it.
func devModeAllowed(value string) bool {
	if value == "" {
		return true
	}
	allowed, err := strconv.ParseBool(value)
	if err != nil {
		return true
	}
	return allowed
}

func warnPermissive(logger *slog.Logger, cfg *config.Config, mode auth.Mode) {
	if cfg.DevMode {
		logger.Warn("DEV MODE: any browser origin is allowed and rate limiting is off; do not expose this instance")
	}
	if mode.Permissive() {
		logger.Warn("no device key configured: anyone who can reach the broker can report scans",
			"hint", "set device.key or device.key_hash (see 'cardrelay hash-key')")
	}
}

// createAuditStore opens the configured audit output.
func createAuditStore(cfg *config.Config, logger *slog.Logger) (*memory.MemoryAuditStore, error) {
	switch {
	case cfg.Audit.Output == "stdout":
		logger.Debug("audit output: stdout", "buffer_size", cfg.Audit.BufferSize)
		return memory.NewAuditStore(cfg.Audit.BufferSize), nil

	case strings.HasPrefix(cfg.Audit.Output, "file://"):
		path := parseFileURI(cfg.Audit.Output)
		if path == "" {
			return nil, fmt.Errorf("invalid audit file URI: %s", cfg.Audit.Output)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
		}
		logger.Debug("audit output: file", "path", path, "buffer_size", cfg.Audit.BufferSize)
		return memory.NewAuditStoreWithWriter(f, cfg.Audit.BufferSize), nil

	default:
		return nil, errors.New("invalid audit output: " + cfg.Audit.Output)
	}
}

// parseFileURI returns the path of a file:// URI, or "".
func parseFileURI(uri string) string {
	path, ok := strings.CutPrefix(uri, "file://")
	if !ok || path == "" {
		return ""
	}
	// file:///C:/path leaves /C:/path on Windows.
	if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return path
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printBanner(w io.Writer, version, httpAddr string, devMode bool, mode auth.Mode, rateLimited bool) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	baseURL := "http://" + httpAddr
	if strings.HasPrefix(httpAddr, ":") {
		baseURL = "http://localhost" + httpAddr
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset
	}

	gateStr := green + string(mode) + reset
	if mode.Permissive() {
		gateStr = yellow + "open" + reset + dim + " (no device key)" + reset
	}

	limitStr := "off"
	if rateLimited {
		limitStr = "per IP"
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %s%s cardrelay %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "  %-14s %s/sessions\n", "API:", baseURL)
	fmt.Fprintf(w, "  %-14s %s/metrics\n", "Metrics:", baseURL)
	fmt.Fprintf(w, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(w, "  %-14s %s\n", "Device gate:", gateStr)
	fmt.Fprintf(w, "  %-14s %s\n", "Rate limit:", limitStr)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "\n")
}
