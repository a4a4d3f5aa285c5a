package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName = "cardrelay"
	envPrefix  = "CARDRELAY"
)

// InitViper points viper at the config file and environment.
// If configFile is empty, cardrelay.yaml/.yml is searched in standard
// locations. An explicit extension is required so the binary itself is
// never picked up as config.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then reports ConfigFileNotFoundError, which callers
		// treat as env-only configuration.
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	// CARDRELAY_SERVER_HTTP_ADDR overrides server.http_addr.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	// Empty env vars stay unset so they cannot switch defaults off.
	// CARDRELAY_DEVICE_KEY is the exception, see deviceKeySet.
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".cardrelay"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "cardrelay"))
		}
	} else {
		paths = append(paths, "/etc/cardrelay")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first cardrelay.yaml or cardrelay.yml
// found in paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys makes nested keys visible to Unmarshal when they only
// come from the environment.
func bindNestedEnvKeys() {
	for _, key := range []string{
		"server.http_addr",
		"server.log_level",
		"server.allowed_origins",
		"server.trust_proxy_headers",
		"session.cleanup_interval",
		"device.key",
		"device.key_hash",
		"rate_limit.enabled",
		"rate_limit.ip_rate",
		"rate_limit.cleanup_interval",
		"rate_limit.max_ttl",
		"audit.output",
		"audit.channel_size",
		"audit.batch_size",
		"audit.flush_interval",
		"audit.send_timeout",
		"audit.warning_threshold",
		"audit.buffer_size",
		"dev_mode",
	} {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads, defaults and validates the configuration.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration and applies defaults, but does not
// apply dev defaults or validate. Use it when CLI flags may still change
// DevMode.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if envSet, envEmpty := deviceKeyEnv(); envEmpty {
		cfg.Device.Key = ""
		cfg.Device.keySet = true
	} else {
		cfg.Device.keySet = envSet || viper.IsSet("device.key")
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// deviceKeyEnv reports whether CARDRELAY_DEVICE_KEY is present and whether
// it is present but empty. An empty value overrides the file so Validate can
// reject it instead of falling back to open mode.
func deviceKeyEnv() (set, empty bool) {
	v, ok := os.LookupEnv(envPrefix + "_DEVICE_KEY")
	return ok, ok && v == ""
}

// ConfigFileUsed returns the loaded config file path, or "" in env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
