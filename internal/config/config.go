// Package config provides configuration types for cardrelay.
//
// Configuration is file-based (cardrelay.yaml) with CARDRELAY_* environment
// overrides. Durations are Go duration strings ("1m", "500ms").
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for cardrelay.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Session configures handoff session housekeeping. The TTL itself is fixed.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Device configures the pre-shared key card readers present.
	// With neither key nor key_hash set, scan reports are accepted from anyone.
	Device DeviceConfig `yaml:"device" mapstructure:"device"`

	// RateLimit configures per-IP limiting of POST requests.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Audit configures the scan audit trail.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// DevMode relaxes defaults for local development.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel is one of debug, info, warn, error. DevMode forces debug.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AllowedOrigins lists browser origins that may call the API. "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,required"`

	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Only enable behind a reverse proxy that sets them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" mapstructure:"trust_proxy_headers"`
}

// SessionConfig configures session housekeeping.
type SessionConfig struct {
	// CleanupInterval is how often expired sessions are swept. "0" disables
	// the sweep; expired sessions are still never served.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`
}

// DeviceConfig configures card reader authentication. Key and KeyHash are
// mutually exclusive.
type DeviceConfig struct {
	// Key is the plaintext pre-shared key.
	Key string `yaml:"key" mapstructure:"key"`

	// KeyHash is an Argon2id PHC string or "sha256:<hex>" (see hash-key).
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"omitempty,key_hash"`

	// keySet records that device.key was present in the file or environment,
	// even if empty.
	keySet bool
}

// Configured reports whether scan reports require a key.
func (d DeviceConfig) Configured() bool {
	return d.Key != "" || d.KeyHash != "" || d.keySet
}

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// IPRate is the number of POST requests per minute per client IP.
	IPRate int `yaml:"ip_rate" mapstructure:"ip_rate" validate:"omitempty,min=1"`

	// CleanupInterval is how often idle limiter entries are removed.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// MaxTTL is how long an idle limiter entry is kept.
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty,duration"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Output is "stdout", "file:///absolute/path" or "none".
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer between request handlers and the writer.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records written together.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval bounds how long a partial batch waits.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long a handler waits on a full channel before the
	// record is dropped. "0" drops immediately.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the channel fill percentage that triggers warnings.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// BufferSize is the number of recent records kept for /audit/recent.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`
}

// Enabled reports whether audit records are written at all.
func (a AuditConfig) Enabled() bool {
	return a.Output != "none"
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	// Localhost only unless the operator opts in to a wider bind.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Session.CleanupInterval == "" {
		c.Session.CleanupInterval = "1m"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}

	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.IPRate == 0 {
		c.RateLimit.IPRate = 120
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}
}

// SetDevDefaults relaxes settings for local development: any browser origin,
// no rate limiting, debug logging. It never invents a device key.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	c.Server.LogLevel = "debug"
	c.RateLimit.Enabled = false
}

// Redacted returns a copy safe to print, with the plaintext key masked.
func (c Config) Redacted() Config {
	if c.Device.Key != "" {
		c.Device.Key = "[redacted]"
	}
	c.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return c
}

// DurationOr parses s, returning fallback when s is empty or invalid.
// Validate rejects invalid strings, so fallback only covers unset fields.
func DurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
