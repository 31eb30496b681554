package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"orbital-hq/callisto/pkg/accounts"
	"orbital-hq/callisto/pkg/catalog"
	"orbital-hq/callisto/pkg/cli"
	"orbital-hq/callisto/pkg/config"
	"orbital-hq/callisto/pkg/gateway"
	"orbital-hq/callisto/pkg/pool"
	"orbital-hq/callisto/pkg/server"
	"orbital-hq/callisto/pkg/signature"
	"orbital-hq/callisto/pkg/telemetry/logging"
	"orbital-hq/callisto/pkg/telemetry/metrics"
	"orbital-hq/callisto/pkg/translate"
	"orbital-hq/callisto/pkg/upstream"
	"orbital-hq/callisto/pkg/usage"
)

// poolGaugeInterval is how often the pool size gauges are refreshed.
const poolGaugeInterval = 15 * time.Second

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Callisto gateway",
	Long: `Start the Callisto gateway with the specified configuration.

The gateway listens on the configured address, translates Messages API
requests to the upstream generate protocol, and serves responses from the
pooled accounts.

Examples:
  # Start with default config
  callisto run

  # Start with custom config
  callisto run --config /etc/callisto/config.yaml

  # Override listen address
  callisto run --listen 0.0.0.0:8085

  # Validate config without starting the gateway
  callisto run --dry-run`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	log, err := logging.New(logging.Config{
		Level:         cfg.Telemetry.Logging.Level,
		Format:        cfg.Telemetry.Logging.Format,
		AddSource:     cfg.Telemetry.Logging.AddSource,
		RedactSecrets: true,
	})
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Callisto v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	// Cancelled on SIGINT/SIGTERM; stops the background workers.
	ctx := cli.SetupSignalHandler()

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	signatures := signature.NewCache(0, 0)
	translator := translate.NewTranslator(signatures)
	cat := catalog.New()
	client := upstream.NewClient(cfg.Upstream)

	// Account pool bootstrap: file store first, environment second.
	store := accounts.NewFileStore(cfg.Accounts.File)
	loaded, err := loadAccounts(store)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	p := pool.New(cfg.Pool, client, log)
	p.ApplyStore(loaded)

	total, usable := p.Size()
	if total == 0 {
		log.Warn("no accounts configured",
			"store", store.Path(),
			"env", accounts.EnvAccounts,
		)
	}
	collector.UpdatePoolSize(total, usable)
	fmt.Printf("✓ Account pool initialized (%d accounts, %d usable)\n", total, usable)

	// Persist credential rotations and state changes back to the store.
	saver := accounts.NewSaver(store, cfg.Accounts.SaveDebounce)
	defer saver.Close()
	p.SetOnChange(func() {
		saver.Schedule(p.Snapshot)
	})

	// Reload the pool when an operator edits the store file.
	if cfg.Accounts.Watch {
		watcher, err := accounts.NewWatcher(store.Path(), log.Component("watcher").Slog())
		if err != nil {
			log.Warn("account store watcher unavailable", "error", err)
		} else {
			defer watcher.Close()
			go func() {
				if err := watcher.Watch(ctx, func() error {
					reloaded, err := loadAccounts(store)
					if err != nil {
						return err
					}
					p.ApplyStore(reloaded)
					return nil
				}); err != nil {
					log.Error("account store watcher stopped", "error", err)
				}
			}()
		}
	}

	// Periodic quota sweep.
	refresher, err := pool.NewRefresher(cfg.QuotaRefresh, p, log)
	if err != nil {
		return cli.NewConfigError("quota_refresh.schedule", err.Error())
	}
	refresher.SetOnModels(cat.MergeUpstream)
	if err := refresher.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	// Usage ledger (optional).
	var ledger *usage.Ledger
	if cfg.Usage.Enabled {
		ledger, err = usage.Open(cfg.Usage)
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to open usage ledger: %w", err))
		}
		defer ledger.Close()
		fmt.Println("✓ Usage ledger initialized")
	}

	go refreshPoolGauges(ctx, p, collector)

	orch := gateway.NewOrchestrator(
		cfg.Retry,
		cfg.Fallback,
		p,
		client,
		translator,
		signatures,
		cat,
		collector,
		ledger,
		log,
	)
	handler := gateway.NewHandler(orch, cat, cfg.Auth, log)
	srv := server.NewServer(&cfg.Server, handler, collector, log)

	fmt.Println()
	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Messages endpoint: http://%s/v1/messages\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/health\n", cfg.Server.ListenAddress)
	fmt.Println("\nPress Ctrl+C to stop")

	// Blocks until a shutdown signal or listener failure.
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Println("✓ Server stopped")
	return nil
}

// loadAccounts reads the store file and merges environment-supplied
// accounts after it, so the environment wins on email collision.
func loadAccounts(store *accounts.FileStore) ([]*accounts.Account, error) {
	fromFile, err := store.Load()
	if err != nil {
		return nil, err
	}
	fromEnv, err := accounts.FromEnv()
	if err != nil {
		return nil, err
	}
	return append(fromFile, fromEnv...), nil
}

// refreshPoolGauges keeps the pool size gauges current while the gateway
// runs. Selection outcomes change usability without going through the
// metrics collector, so the gauges are sampled rather than event-driven.
func refreshPoolGauges(ctx context.Context, p *pool.Pool, collector *metrics.Collector) {
	ticker := time.NewTicker(poolGaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.UpdatePoolSize(p.Size())
		}
	}
}
