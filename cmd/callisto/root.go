package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "callisto",
	Short: "Callisto - Messages gateway over pooled Google accounts",
	Long: `Callisto is a protocol-translating gateway that serves the Anthropic-style
Messages API from a pool of Google accounts.

It accepts Messages requests, translates them to the upstream generate
protocol, and streams translated responses back, providing:
  - Pooled account selection with per-model rate-limit cooldowns
  - Retry and failover across accounts and upstream endpoints
  - Bidirectional protocol and stream translation
  - Cross-family thinking-signature tracking
  - Optional per-request usage accounting`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
