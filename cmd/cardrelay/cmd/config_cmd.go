package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/cardrelay/internal/config"
)

var configDev bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration cardrelay would start with, after merging the
config file, CARDRELAY_* environment variables and defaults.

The plaintext device key is redacted. Validation problems are reported
after the output.`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configDev, "dev", false, "show the configuration as 'start --dev' would use it")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if configDev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if used := config.ConfigFileUsed(); used != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
