// Package cmd provides the CLI commands for cardrelay.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/cardrelay/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cardrelay",
	Short: "cardrelay - RFID scan handoff broker",
	Long: `cardrelay hands RFID card scans from a reader to whoever is waiting for one.

A client opens a short-lived session, a card reader reports the scan
against it, and the client reads the card back. The most recent scan is
always available without a session.

Quick start:
  1. Run: cardrelay start
  2. POST /sessions, then have the reader POST /scans

Configuration:
  Config is loaded from cardrelay.yaml in the current directory,
  $HOME/.cardrelay/, or /etc/cardrelay/.

  Environment variables override config values with the CARDRELAY_ prefix.
  Example: CARDRELAY_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the broker
  stop        Stop the running broker
  config      Print the effective configuration
  hash-key    Hash a device key for device.key_hash
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./cardrelay.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
