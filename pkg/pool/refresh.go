package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"orbital-hq/callisto/pkg/config"
	"orbital-hq/callisto/pkg/telemetry/logging"
)

const refreshTimeout = 30 * time.Second

// Refresher periodically sweeps the pool and refreshes each account's
// per-model quota snapshot from the upstream model listing.
type Refresher struct {
	cfg  config.QuotaRefreshConfig
	pool *Pool
	log  *logging.Logger
	cron *cron.Cron

	// onModels receives the model identifiers reported by each
	// successful listing. Optional.
	onModels func(ids []string)
}

// NewRefresher validates the schedule and prepares the cron runner.
func NewRefresher(cfg config.QuotaRefreshConfig, pool *Pool, log *logging.Logger) (*Refresher, error) {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid quota refresh schedule %q: %w", cfg.Schedule, err)
	}
	return &Refresher{
		cfg:  cfg,
		pool: pool,
		log:  log.Component("quota-refresh"),
		cron: cron.New(),
	}, nil
}

// SetOnModels registers a callback invoked with the model IDs from each
// successful upstream listing. Set before Start.
func (r *Refresher) SetOnModels(fn func(ids []string)) {
	r.onModels = fn
}

// Start registers the sweep and begins scheduling. The refresher stops
// when ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.log.Info("quota refresh disabled")
		return nil
	}
	if _, err := r.cron.AddFunc(r.cfg.Schedule, func() { r.sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule quota refresh: %w", err)
	}
	r.cron.Start()
	r.log.Info("quota refresh scheduled", "schedule", r.cfg.Schedule)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

// sweep refreshes quota for every usable account. Per-account failures
// are logged and skipped; a stale snapshot self-penalizes in the
// selection score.
func (r *Refresher) sweep(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	refreshed := 0
	for _, snap := range r.pool.Snapshot() {
		if !snap.Usable() {
			continue
		}
		if err := r.refreshAccount(ctx, snap.Email); err != nil {
			r.log.WarnContext(ctx, "quota refresh failed",
				"account", snap.DisplayName(), "error", err)
			continue
		}
		refreshed++
	}
	r.log.DebugContext(ctx, "quota sweep complete", "refreshed", refreshed)
}

func (r *Refresher) refreshAccount(ctx context.Context, email string) error {
	token, err := r.pool.Credential(ctx, email)
	if err != nil {
		return err
	}
	var lastErr error
	for _, endpoint := range r.pool.client.Endpoints() {
		list, err := r.pool.client.FetchModels(ctx, endpoint, token)
		if err != nil {
			lastErr = err
			continue
		}
		r.pool.ApplyQuota(email, list)
		if r.onModels != nil {
			r.onModels(list.IDs)
		}
		return nil
	}
	return lastErr
}
