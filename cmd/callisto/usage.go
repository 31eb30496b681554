package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"orbital-hq/callisto/pkg/cli"
	"orbital-hq/callisto/pkg/config"
	"orbital-hq/callisto/pkg/usage"
)

var usageFlags struct {
	since  time.Duration
	format string
}

var usageCleanupFlags struct {
	olderThan time.Duration
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize recorded usage",
	Long: `Summarize successful requests and token counts per model from the usage
ledger. The ledger must be enabled in the configuration for the gateway to
record anything.

Examples:
  # Last 24 hours (default)
  callisto usage

  # Last week, as JSON
  callisto usage --since 168h --format json`,
	RunE: summarizeUsage,
}

var usageCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old usage records",
	Long: `Delete usage records older than the given age from the ledger.

Examples:
  # Drop records older than 30 days
  callisto usage cleanup --older-than 720h`,
	RunE: cleanupUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageCleanupCmd)

	usageCmd.Flags().DurationVar(&usageFlags.since, "since", 24*time.Hour, "window to summarize")
	usageCmd.Flags().StringVar(&usageFlags.format, "format", "text", "output format: text, json")

	usageCleanupCmd.Flags().DurationVar(&usageCleanupFlags.olderThan, "older-than", 720*time.Hour, "minimum age of records to delete")
}

func openLedger() (*usage.Ledger, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	ledger, err := usage.Open(cfg.Usage)
	if err != nil {
		return nil, cli.NewCommandError("usage", fmt.Errorf("failed to open usage ledger: %w", err))
	}
	return ledger, nil
}

func summarizeUsage(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	since := time.Now().Add(-usageFlags.since)
	totals, err := ledger.Totals(cmd.Context(), since)
	if err != nil {
		return cli.NewCommandError("usage", err)
	}

	if cli.OutputFormat(usageFlags.format) == cli.FormatJSON {
		formatter := cli.NewFormatter(cli.FormatJSON)
		return formatter.FormatTo(os.Stdout, totals)
	}

	if len(totals) == 0 {
		fmt.Printf("No usage recorded in the last %s.\n", usageFlags.since)
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tREQUESTS\tINPUT TOKENS\tOUTPUT TOKENS")
	for _, row := range totals {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", row.Model, row.Requests, row.InputTokens, row.OutputTokens)
	}
	return tw.Flush()
}

func cleanupUsage(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	cutoff := time.Now().Add(-usageCleanupFlags.olderThan)
	deleted, err := ledger.Cleanup(cmd.Context(), cutoff)
	if err != nil {
		return cli.NewCommandError("usage cleanup", err)
	}

	fmt.Printf("✓ Deleted %d records older than %s\n", deleted, usageCleanupFlags.olderThan)
	return nil
}
