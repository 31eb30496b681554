package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"orbital-hq/callisto/pkg/accounts"
	"orbital-hq/callisto/pkg/cli"
	"orbital-hq/callisto/pkg/config"
	"orbital-hq/callisto/pkg/upstream"
)

// verifyTimeout bounds the credential check for a single account.
const verifyTimeout = 30 * time.Second

var accountsFlags struct {
	format string
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect and verify the account pool",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts",
	Long: `List every account from the store file and the environment, with its
enabled state, project binding, and last observed quota.

Examples:
  # Table output
  callisto accounts list

  # JSON output
  callisto accounts list --format json`,
	RunE: listAccounts,
}

var accountsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every account can authenticate",
	Long: `Refresh each account's OAuth credential against the upstream and report
which accounts can still mint access tokens.

Accounts that fail verification are reported but not modified; the store
file is never written by this command.`,
	RunE: verifyAccounts,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsVerifyCmd)

	accountsListCmd.Flags().StringVar(&accountsFlags.format, "format", "text", "output format: text, json")
}

// accountRow is the operator-facing view of one account.
type accountRow struct {
	Email     string  `json:"email"`
	Label     string  `json:"label,omitempty"`
	ProjectID string  `json:"project_id,omitempty"`
	Source    string  `json:"source"`
	Enabled   bool    `json:"enabled"`
	Invalid   bool    `json:"invalid,omitempty"`
	Reason    string  `json:"invalid_reason,omitempty"`
	Models    int     `json:"quota_models"`
	MinQuota  float64 `json:"min_quota_fraction"`
}

func listAccounts(cmd *cobra.Command, args []string) error {
	loaded, err := loadAllAccounts()
	if err != nil {
		return cli.NewCommandError("accounts list", err)
	}

	rows := make([]accountRow, 0, len(loaded))
	for _, account := range loaded {
		row := accountRow{
			Email:     account.Email,
			Label:     account.Label,
			ProjectID: account.ProjectID,
			Source:    string(account.Source),
			Enabled:   account.Enabled,
			Invalid:   account.Invalid,
			Reason:    account.InvalidReason,
			Models:    len(account.Quota),
			MinQuota:  1.0,
		}
		for _, quota := range account.Quota {
			if quota.RemainingFraction != nil && *quota.RemainingFraction < row.MinQuota {
				row.MinQuota = *quota.RemainingFraction
			}
		}
		rows = append(rows, row)
	}

	if cli.OutputFormat(accountsFlags.format) == cli.FormatJSON {
		formatter := cli.NewFormatter(cli.FormatJSON)
		return formatter.FormatTo(os.Stdout, rows)
	}

	if len(rows) == 0 {
		fmt.Println("No accounts configured.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tSOURCE\tPROJECT\tSTATE\tQUOTA")
	for _, row := range rows {
		state := "enabled"
		if !row.Enabled {
			state = "disabled"
		}
		if row.Invalid {
			state = "invalid"
		}
		quota := "-"
		if row.Models > 0 {
			quota = fmt.Sprintf("%.0f%% (%d models)", row.MinQuota*100, row.Models)
		}
		project := row.ProjectID
		if project == "" {
			project = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row.Email, row.Source, project, state, quota)
	}
	return tw.Flush()
}

func verifyAccounts(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	loaded, err := loadAllAccounts()
	if err != nil {
		return cli.NewCommandError("accounts verify", err)
	}
	if len(loaded) == 0 {
		fmt.Println("No accounts configured.")
		return nil
	}

	client := upstream.NewClient(cfg.Upstream)
	progress := cli.NewProgressReporter(os.Stdout)
	progress.Start(int64(len(loaded)))

	type failure struct {
		email string
		err   error
	}
	var failures []failure

	for i, account := range loaded {
		err := verifyAccount(cmd.Context(), client, account)
		if err != nil {
			failures = append(failures, failure{email: account.Email, err: err})
		}
		progress.Update(int64(i + 1))
	}
	progress.Finish()
	fmt.Println()

	for _, f := range failures {
		fmt.Printf("✗ %s: %v\n", f.email, f.err)
	}
	fmt.Printf("%d/%d accounts verified\n", len(loaded)-len(failures), len(loaded))

	if len(failures) > 0 {
		return fmt.Errorf("%d accounts failed verification", len(failures))
	}
	return nil
}

// verifyAccount refreshes the account's credential and, when no project is
// bound, confirms one can be discovered.
func verifyAccount(ctx context.Context, client *upstream.Client, account *accounts.Account) error {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	if account.RefreshToken == "" {
		return fmt.Errorf("missing refresh_token")
	}

	cred, err := client.RefreshCredential(ctx, account.RefreshToken)
	if err != nil {
		return fmt.Errorf("credential refresh failed: %w", err)
	}

	if account.ProjectID == "" {
		var lastErr error
		for _, endpoint := range client.Endpoints() {
			if _, lastErr = client.LoadProject(ctx, endpoint, cred.AccessToken); lastErr == nil {
				return nil
			}
		}
		return fmt.Errorf("project discovery failed: %w", lastErr)
	}
	return nil
}

// loadAllAccounts loads the store behind the configured path plus any
// environment-supplied accounts.
func loadAllAccounts() ([]*accounts.Account, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, err
	}
	return loadAccounts(accounts.NewFileStore(cfg.Accounts.File))
}
