// Package pool owns the account set and its selection, cooldown, and
// credential state. All mutation goes through the pool's lock; selection
// reads several account fields together and must not observe torn
// updates.
package pool

import (
	"context"
	"sync"
	"time"

	"orbital-hq/callisto/pkg/accounts"
	"orbital-hq/callisto/pkg/config"
	"orbital-hq/callisto/pkg/telemetry/logging"
	"orbital-hq/callisto/pkg/upstream"
)

// UpstreamClient is the slice of the upstream API the pool needs for
// credential, project, and quota resolution.
type UpstreamClient interface {
	Endpoints() []string
	RefreshCredential(ctx context.Context, refreshToken string) (*upstream.Credential, error)
	LoadProject(ctx context.Context, endpoint, accessToken string) (string, error)
	FetchModels(ctx context.Context, endpoint, accessToken string) (*upstream.ModelList, error)
}

// Pool is the process-wide account container.
type Pool struct {
	mu sync.Mutex

	cfg    config.PoolConfig
	client UpstreamClient
	log    *logging.Logger

	accounts []*accounts.Account
	byEmail  map[string]*accounts.Account

	creds map[string]*upstream.Credential
	// discoveredProjects tracks project ids resolved in this process, so
	// credential invalidation can force rediscovery without touching
	// operator-supplied project ids.
	discoveredProjects map[string]bool

	sticky   *stickyTable
	rrCursor int

	// onChange is invoked after a persisted account field mutates; the
	// store saver hooks in here.
	onChange func()

	now func() time.Time
}

// New creates an empty pool. Accounts arrive via ApplyStore.
func New(cfg config.PoolConfig, client UpstreamClient, log *logging.Logger) *Pool {
	return &Pool{
		cfg:                cfg,
		client:             client,
		log:                log.Component("pool"),
		byEmail:            make(map[string]*accounts.Account),
		creds:              make(map[string]*upstream.Credential),
		discoveredProjects: make(map[string]bool),
		sticky:             newStickyTable(cfg.StickyTTL, cfg.StickyMaxEntries),
		now:                time.Now,
	}
}

// SetOnChange registers the callback fired after persisted account state
// changes. Must be called before the pool starts serving.
func (p *Pool) SetOnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

func (p *Pool) notifyLocked() {
	if p.onChange != nil {
		p.onChange()
	}
}

// ApplyStore installs or merges a loaded account list. Runtime state
// (cooldowns, health, pacing bucket, cached credentials) carries over for
// accounts that persist across the reload; accounts missing from the new
// list are dropped and their sticky bindings released.
func (p *Pool) ApplyStore(loaded []*accounts.Account) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make([]*accounts.Account, 0, len(loaded))
	nextByEmail := make(map[string]*accounts.Account, len(loaded))

	for _, incoming := range loaded {
		if incoming.Email == "" {
			continue
		}
		if staged, ok := nextByEmail[incoming.Email]; ok {
			// Duplicate within the load. Later entries win on credential
			// fields; the environment is appended after the file.
			if incoming.RefreshToken != "" {
				staged.RefreshToken = incoming.RefreshToken
			}
			if incoming.ProjectID != "" {
				staged.ProjectID = incoming.ProjectID
			}
			staged.Source = incoming.Source
			continue
		}
		if existing, ok := p.byEmail[incoming.Email]; ok {
			existing.Label = incoming.Label
			existing.Enabled = incoming.Enabled
			existing.QuotaThreshold = incoming.QuotaThreshold
			if incoming.RefreshToken != "" && incoming.RefreshToken != existing.RefreshToken {
				existing.RefreshToken = incoming.RefreshToken
				// New credential material clears the invalid flag and
				// any cached token minted from the old one.
				existing.Invalid = false
				existing.InvalidReason = ""
				delete(p.creds, existing.Email)
			}
			if incoming.ProjectID != "" {
				existing.ProjectID = incoming.ProjectID
				delete(p.discoveredProjects, existing.Email)
			}
			next = append(next, existing)
			nextByEmail[existing.Email] = existing
			continue
		}

		incoming.InitRuntime(p.cfg.BucketCapacity, p.cfg.BucketRefillPerMinute)
		next = append(next, incoming)
		nextByEmail[incoming.Email] = incoming
	}

	for email := range p.byEmail {
		if _, kept := nextByEmail[email]; !kept {
			delete(p.creds, email)
			delete(p.discoveredProjects, email)
			p.sticky.unbindAccount(email)
		}
	}

	p.accounts = next
	p.byEmail = nextByEmail
	p.log.Info("account pool updated", "accounts", len(next))
}

// Snapshot returns copies of the persisted view of every account, for the
// store saver.
func (p *Pool) Snapshot() []*accounts.Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*accounts.Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		c := *a
		c.Bucket = nil
		out = append(out, &c)
	}
	return out
}

// Size returns the total and usable account counts.
func (p *Pool) Size() (total, usable int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, a := range p.accounts {
		total++
		if a.Usable() {
			usable++
		}
	}
	return total, usable
}

// MarkRateLimited records a per-model cooldown for an account. Repeated
// reports never shorten an existing cooldown.
func (p *Pool) MarkRateLimited(email, model string, resetAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byEmail[email]
	if !ok {
		return
	}
	a.MarkRateLimited(model, resetAt)
	a.RecordFailure(p.now())
	p.log.Info("account rate limited",
		"account", a.DisplayName(), "model", model, "reset_at", resetAt)
}

// ClearExpiredLimits drops cooldowns whose reset time has passed, across
// the whole pool. Called before re-evaluating eligibility after a wait.
func (p *Pool) ClearExpiredLimits() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, a := range p.accounts {
		a.ClearExpiredCooldowns(now)
	}
}

// IsAllRateLimited reports whether every usable account is cooling down
// for the model.
func (p *Pool) IsAllRateLimited(model string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	usable := 0
	for _, a := range p.accounts {
		if !a.Usable() {
			continue
		}
		usable++
		if !a.IsRateLimited(model, now) {
			return false
		}
	}
	return usable > 0
}

// MinWaitTime returns the shortest time until any usable account's
// cooldown for the model lapses. Zero means an account is already free
// or no usable account exists.
func (p *Pool) MinWaitTime(model string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minWaitLocked(model)
}

func (p *Pool) minWaitLocked(model string) time.Duration {
	now := p.now()
	var min time.Duration
	for _, a := range p.accounts {
		if !a.Usable() {
			continue
		}
		resetAt, limited := a.RateLimitedUntil(model, now)
		if !limited {
			return 0
		}
		wait := resetAt.Sub(now)
		if min == 0 || wait < min {
			min = wait
		}
	}
	return min
}

// ResetAllRateLimits clears every cooldown for the model. Last-resort
// optimistic recovery when the computed wait elapsed but the upstream
// still reports exhaustion.
func (p *Pool) ResetAllRateLimits(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, a := range p.accounts {
		a.ClearCooldown(model)
	}
	p.log.Warn("cleared all rate limit cooldowns", "model", model)
}

// MarkInvalid flags an account whose credential was rejected and drops
// its cached token.
func (p *Pool) MarkInvalid(email, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byEmail[email]
	if !ok {
		return
	}
	a.Invalid = true
	a.InvalidReason = reason
	delete(p.creds, email)
	p.log.Warn("account marked invalid", "account", a.DisplayName(), "reason", reason)
	p.notifyLocked()
}

// RecordSuccess nudges an account's health up after a served request.
func (p *Pool) RecordSuccess(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.byEmail[email]; ok {
		a.RecordSuccess(p.now())
	}
}

// RecordFailure drops an account's health after a failed attempt.
func (p *Pool) RecordFailure(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.byEmail[email]; ok {
		a.RecordFailure(p.now())
	}
}

// ApplyQuota stores a fresh quota listing for an account.
func (p *Pool) ApplyQuota(email string, list *upstream.ModelList) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byEmail[email]
	if !ok {
		return
	}
	now := p.now()
	for model, quota := range list.Quota {
		a.SetQuota(model, quota.RemainingFraction, quota.ResetAt, now)
	}
	p.notifyLocked()
}
