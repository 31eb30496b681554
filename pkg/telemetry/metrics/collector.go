package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"orbital-hq/callisto/pkg/config"
)

// Collector manages all Prometheus metrics for the gateway. It owns the
// registry, pre-allocates every metric vector at startup, and provides a
// unified recording interface for the orchestrator, pool, and upstream
// layers. All recording methods are no-ops when metrics are disabled.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	// Gateway request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec

	// Retry loop metrics
	attemptsTotal     *prometheus.CounterVec
	fallbacksTotal    *prometheus.CounterVec
	emptyRetriesTotal *prometheus.CounterVec

	// Upstream metrics
	upstreamErrorsTotal    *prometheus.CounterVec
	credentialRefreshTotal *prometheus.CounterVec

	// Pool metrics
	accountsTotal      prometheus.Gauge
	accountsUsable     prometheus.Gauge
	selectionsTotal    *prometheus.CounterVec
	rateLimitedTotal   *prometheus.CounterVec
	poolExhaustedTotal *prometheus.CounterVec

	// Signature cache metrics
	signatureDropsTotal *prometheus.CounterVec
}

// NewCollector creates a new metrics collector with the specified
// configuration and Prometheus registry. If registry is nil, a fresh
// registry is created.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "orbital"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "callisto"
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = config.DefaultRequestDurationBuckets()
	}

	c := &Collector{
		config:   cfg,
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of gateway requests processed",
			},
			[]string{"model", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of gateway requests in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"model"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tokens_total",
				Help:      "Total number of tokens processed",
			},
			[]string{"model", "type"},
		),

		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "attempts_total",
				Help:      "Total number of upstream attempts by outcome",
			},
			[]string{"model", "outcome"},
		),

		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "model_fallbacks_total",
				Help:      "Total number of model fallback activations",
			},
			[]string{"from_model", "to_model"},
		),

		emptyRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "empty_retries_total",
				Help:      "Total number of retries triggered by contentless upstream responses",
			},
			[]string{"model"},
		),

		upstreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_errors_total",
				Help:      "Total number of upstream errors by class",
			},
			[]string{"endpoint", "class"},
		),

		credentialRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "credential_refresh_total",
				Help:      "Total number of access token refresh attempts",
			},
			[]string{"status"},
		),

		accountsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "accounts_total",
				Help:      "Number of accounts in the pool",
			},
		),

		accountsUsable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "accounts_usable",
				Help:      "Number of enabled, valid accounts in the pool",
			},
		),

		selectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "account_selections_total",
				Help:      "Total number of account selections by strategy",
			},
			[]string{"strategy"},
		),

		rateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "account_rate_limited_total",
				Help:      "Total number of account cooldowns recorded",
			},
			[]string{"model"},
		),

		poolExhaustedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pool_exhausted_total",
				Help:      "Total number of requests that found every account rate limited",
			},
			[]string{"model"},
		),

		signatureDropsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "signature_drops_total",
				Help:      "Total number of thinking signatures dropped during translation",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.tokensTotal,
		c.attemptsTotal,
		c.fallbacksTotal,
		c.emptyRetriesTotal,
		c.upstreamErrorsTotal,
		c.credentialRefreshTotal,
		c.accountsTotal,
		c.accountsUsable,
		c.selectionsTotal,
		c.rateLimitedTotal,
		c.poolExhaustedTotal,
		c.signatureDropsTotal,
	)

	return c
}

// RecordRequest records metrics for a completed gateway request.
// Status is one of "success", "error", or "synthetic".
func (c *Collector) RecordRequest(model, status string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}

	c.requestsTotal.WithLabelValues(model, status).Inc()
	c.requestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordTokens records token usage for a completed request.
func (c *Collector) RecordTokens(model string, inputTokens, outputTokens, cacheReadTokens int) {
	if !c.config.Enabled {
		return
	}

	if inputTokens > 0 {
		c.tokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.tokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
	if cacheReadTokens > 0 {
		c.tokensTotal.WithLabelValues(model, "cache_read").Add(float64(cacheReadTokens))
	}
}

// RecordAttempt records the outcome of a single upstream attempt.
// Outcome is one of "success", "rate_limited", "auth", "upstream",
// "network", or "empty".
func (c *Collector) RecordAttempt(model, outcome string) {
	if !c.config.Enabled {
		return
	}

	c.attemptsTotal.WithLabelValues(model, outcome).Inc()
}

// RecordFallback records a model fallback activation.
func (c *Collector) RecordFallback(fromModel, toModel string) {
	if !c.config.Enabled {
		return
	}

	c.fallbacksTotal.WithLabelValues(fromModel, toModel).Inc()
}

// RecordEmptyRetry records a retry triggered by a contentless response.
func (c *Collector) RecordEmptyRetry(model string) {
	if !c.config.Enabled {
		return
	}

	c.emptyRetriesTotal.WithLabelValues(model).Inc()
}

// RecordUpstreamError records a classified upstream error.
func (c *Collector) RecordUpstreamError(endpoint, class string) {
	if !c.config.Enabled {
		return
	}

	c.upstreamErrorsTotal.WithLabelValues(endpoint, class).Inc()
}

// RecordCredentialRefresh records an access token refresh attempt.
func (c *Collector) RecordCredentialRefresh(success bool) {
	if !c.config.Enabled {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	c.credentialRefreshTotal.WithLabelValues(status).Inc()
}

// UpdatePoolSize updates the account pool gauges.
func (c *Collector) UpdatePoolSize(total, usable int) {
	if !c.config.Enabled {
		return
	}

	c.accountsTotal.Set(float64(total))
	c.accountsUsable.Set(float64(usable))
}

// RecordSelection records one account pick by strategy.
func (c *Collector) RecordSelection(strategy string) {
	if !c.config.Enabled {
		return
	}

	c.selectionsTotal.WithLabelValues(strategy).Inc()
}

// RecordRateLimited records an account cooldown for a model.
func (c *Collector) RecordRateLimited(model string) {
	if !c.config.Enabled {
		return
	}

	c.rateLimitedTotal.WithLabelValues(model).Inc()
}

// RecordPoolExhausted records a request that found every account cooling down.
func (c *Collector) RecordPoolExhausted(model string) {
	if !c.config.Enabled {
		return
	}

	c.poolExhaustedTotal.WithLabelValues(model).Inc()
}

// RecordSignatureDrop records a thinking signature dropped during
// translation. Reason is one of "cross_family", "missing", or "invalid".
func (c *Collector) RecordSignatureDrop(reason string) {
	if !c.config.Enabled {
		return
	}

	c.signatureDropsTotal.WithLabelValues(reason).Inc()
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
