package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/cardrelay/internal/domain/auth"
)

var hashKeySHA256 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [device-key]",
	Short: "Hash a device key for device.key_hash",
	Long: `Hash a device key so the plaintext key never has to sit in config.

The default output is an Argon2id PHC string. --sha256 prints the faster
"sha256:<hex>" form instead.

Example:
  cardrelay hash-key "reader-secret"
  # Output: $argon2id$v=19$m=47104,t=1,p=1$...

Security note: the key will appear in shell history.
Consider passing it through an environment variable:
  cardrelay hash-key "$READER_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := hashDeviceKey(args[0], hashKeySHA256)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeySHA256, "sha256", false, "print sha256:<hex> instead of Argon2id")
	rootCmd.AddCommand(hashKeyCmd)
}

func hashDeviceKey(key string, sha bool) (string, error) {
	if key == "" {
		return "", auth.ErrEmptySecret
	}
	if sha {
		return "sha256:" + auth.HashKey(key), nil
	}
	hash, err := auth.HashKeyArgon2id(key)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return hash, nil
}
