package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"orbital-hq/callisto/pkg/accounts"
	"orbital-hq/callisto/pkg/catalog"
	"orbital-hq/callisto/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and account store",
	Long: `Validate the configuration file, environment overrides, and the account
store without starting the gateway.

The validate command checks:
  - Configuration file syntax and field values
  - Environment variable overrides
  - Account store syntax and per-account required fields
  - Fallback model mappings against the served model catalog

Examples:
  # Validate the default config
  callisto validate

  # Validate a specific config file
  callisto validate --config /etc/callisto/config.yaml`,
	RunE: validateSetup,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateSetup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			fmt.Printf("✗ Configuration invalid (%d errors)\n", len(verr.Errors))
			for _, fieldErr := range verr.Errors {
				fmt.Printf("  - %s\n", fieldErr.Error())
			}
			return fmt.Errorf("configuration validation failed")
		}
		return err
	}
	fmt.Println("✓ Configuration valid")

	// Fallback mappings must name served models on both sides.
	cat := catalog.New()
	badMappings := 0
	for from, to := range cfg.Fallback.Models {
		if _, ok := cat.Resolve(from); !ok {
			fmt.Printf("  - fallback.models: unknown source model %q\n", from)
			badMappings++
		}
		if _, ok := cat.Resolve(to); !ok {
			fmt.Printf("  - fallback.models: unknown target model %q\n", to)
			badMappings++
		}
	}
	if badMappings > 0 {
		return fmt.Errorf("fallback mapping validation failed")
	}
	if len(cfg.Fallback.Models) > 0 {
		fmt.Printf("✓ Fallback mappings valid (%d models)\n", len(cfg.Fallback.Models))
	}

	store := accounts.NewFileStore(cfg.Accounts.File)
	loaded, err := store.Load()
	if err != nil {
		fmt.Printf("✗ Account store invalid: %v\n", err)
		return fmt.Errorf("account store validation failed")
	}

	missingTokens := 0
	for _, account := range loaded {
		if account.RefreshToken == "" {
			fmt.Printf("  - account %q is missing refresh_token\n", account.Email)
			missingTokens++
		}
	}
	if missingTokens > 0 {
		return fmt.Errorf("account store validation failed")
	}

	fromEnv, err := accounts.FromEnv()
	if err != nil {
		fmt.Printf("✗ Environment accounts invalid: %v\n", err)
		return fmt.Errorf("account validation failed")
	}

	fmt.Printf("✓ Accounts valid (%d from store, %d from environment)\n", len(loaded), len(fromEnv))
	return nil
}
