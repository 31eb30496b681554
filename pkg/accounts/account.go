// Package accounts defines the pooled upstream account, its persisted YAML
// store, and the per-account request pacing bucket.
package accounts

import (
	"time"
)

// Source records where an account's credentials came from.
type Source string

const (
	// SourceFile means the account was loaded from the YAML store.
	SourceFile Source = "file"
	// SourceEnv means the account was bootstrapped from the environment.
	SourceEnv Source = "env"
)

// ModelQuota is the last observed remaining quota for one model on one
// account.
type ModelQuota struct {
	// RemainingFraction is the remaining quota as a fraction of the daily
	// allowance (0.0 to 1.0). Nil means the upstream did not report it.
	RemainingFraction *float64 `yaml:"remaining_fraction,omitempty"`

	// ResetTime is when the upstream said the allowance resets.
	ResetTime time.Time `yaml:"reset_time,omitempty"`
}

// Account is one pooled upstream identity. Persisted fields round-trip
// through the YAML store; runtime state (the pacing bucket, cooldowns, the
// health score) lives only in memory and is rebuilt on restart.
//
// Mutation is guarded by the owning pool's lock, not by per-account locks.
// The pacing bucket carries its own mutex because it is touched on every
// selection probe.
type Account struct {
	// Email uniquely identifies the account within the pool.
	Email string `yaml:"email"`

	// Label is an optional operator-facing display name.
	Label string `yaml:"label,omitempty"`

	// RefreshToken is the long-lived OAuth credential used to mint access
	// tokens.
	RefreshToken string `yaml:"refresh_token"`

	// ProjectID is the cloud project bound to this account. Discovered on
	// first use when empty, then persisted.
	ProjectID string `yaml:"project_id,omitempty"`

	// Enabled controls whether the pool may select this account.
	Enabled bool `yaml:"enabled"`

	// Invalid marks an account whose credentials were rejected upstream.
	// Invalid accounts are skipped until an operator re-enables them.
	Invalid bool `yaml:"invalid,omitempty"`

	// InvalidReason records why the account was marked invalid.
	InvalidReason string `yaml:"invalid_reason,omitempty"`

	// Source records where the account came from. Env-sourced accounts are
	// not written back to the store.
	Source Source `yaml:"-"`

	// QuotaThreshold overrides the pool's global remaining-fraction
	// threshold for this account when set.
	QuotaThreshold *float64 `yaml:"quota_threshold,omitempty"`

	// Quota holds the last observed per-model quota snapshots.
	Quota map[string]ModelQuota `yaml:"quota,omitempty"`

	// QuotaCheckedAt is when Quota was last refreshed.
	QuotaCheckedAt time.Time `yaml:"quota_checked_at,omitempty"`

	// cooldowns maps model identifiers to the time their rate-limit
	// cooldown expires. Runtime only.
	cooldowns map[string]time.Time

	// HealthScore reflects recent request outcomes (0 to 100).
	HealthScore float64 `yaml:"-"`

	// LastUsed is when the account last served a request.
	LastUsed time.Time `yaml:"-"`

	// Bucket paces requests per account.
	Bucket *TokenBucket `yaml:"-"`
}

// Health score bounds and adjustment steps.
const (
	HealthMax         = 100.0
	HealthMin         = 0.0
	HealthInitial     = 100.0
	healthSuccessGain = 5.0
	healthFailureCost = 20.0
)

// InitRuntime prepares in-memory state after loading from the store.
func (a *Account) InitRuntime(bucketCapacity, refillPerMinute float64) {
	if a.cooldowns == nil {
		a.cooldowns = make(map[string]time.Time)
	}
	if a.Quota == nil {
		a.Quota = make(map[string]ModelQuota)
	}
	if a.Bucket == nil {
		a.Bucket = NewTokenBucket(bucketCapacity, refillPerMinute)
	}
	if a.HealthScore == 0 {
		a.HealthScore = HealthInitial
	}
}

// Usable reports whether the account may serve requests at all.
func (a *Account) Usable() bool {
	return a.Enabled && !a.Invalid
}

// MarkRateLimited records a cooldown for a model. An existing later reset
// time is never shortened, so repeated reports are safe to apply in any
// order.
func (a *Account) MarkRateLimited(model string, resetAt time.Time) {
	if a.cooldowns == nil {
		a.cooldowns = make(map[string]time.Time)
	}
	if existing, ok := a.cooldowns[model]; ok && existing.After(resetAt) {
		return
	}
	a.cooldowns[model] = resetAt
}

// RateLimitedUntil returns the active cooldown expiry for a model, if any.
// Expired cooldowns are reported as absent but not removed; use
// ClearExpiredCooldowns for that.
func (a *Account) RateLimitedUntil(model string, now time.Time) (time.Time, bool) {
	resetAt, ok := a.cooldowns[model]
	if !ok || !resetAt.After(now) {
		return time.Time{}, false
	}
	return resetAt, true
}

// IsRateLimited reports whether a model is cooling down on this account.
func (a *Account) IsRateLimited(model string, now time.Time) bool {
	_, limited := a.RateLimitedUntil(model, now)
	return limited
}

// ClearExpiredCooldowns removes cooldowns whose reset time has passed.
func (a *Account) ClearExpiredCooldowns(now time.Time) {
	for model, resetAt := range a.cooldowns {
		if !resetAt.After(now) {
			delete(a.cooldowns, model)
		}
	}
}

// ClearCooldown removes the cooldown for one model regardless of expiry.
func (a *Account) ClearCooldown(model string) {
	delete(a.cooldowns, model)
}

// RecordSuccess nudges the health score up after a served request.
func (a *Account) RecordSuccess(now time.Time) {
	a.HealthScore += healthSuccessGain
	if a.HealthScore > HealthMax {
		a.HealthScore = HealthMax
	}
	a.LastUsed = now
}

// RecordFailure drops the health score after a failed attempt.
func (a *Account) RecordFailure(now time.Time) {
	a.HealthScore -= healthFailureCost
	if a.HealthScore < HealthMin {
		a.HealthScore = HealthMin
	}
	a.LastUsed = now
}

// SetQuota stores a fresh quota snapshot for a model.
func (a *Account) SetQuota(model string, remaining *float64, resetTime time.Time, now time.Time) {
	if a.Quota == nil {
		a.Quota = make(map[string]ModelQuota)
	}
	a.Quota[model] = ModelQuota{RemainingFraction: remaining, ResetTime: resetTime}
	a.QuotaCheckedAt = now
}

// QuotaFor returns the last quota snapshot for a model.
func (a *Account) QuotaFor(model string) (ModelQuota, bool) {
	q, ok := a.Quota[model]
	return q, ok
}

// DisplayName returns the label when set, otherwise the email.
func (a *Account) DisplayName() string {
	if a.Label != "" {
		return a.Label
	}
	return a.Email
}
