package pool

import (
	"time"

	"orbital-hq/callisto/pkg/accounts"
)

// quotaScoreUnknown is the neutral score for an account that has never
// reported quota for the model.
const quotaScoreUnknown = 50.0

// belowThresholdPenalty pushes quota-starved accounts behind healthy
// ones without excluding them outright; they still serve when nothing
// better remains.
const belowThresholdPenalty = 150.0

// Selection is the outcome of a pool pick: either an account to try or
// a bounded wait before re-selection. Selection never fails; an empty
// pool surfaces as a wait of zero with no account, which callers treat
// as terminal.
type Selection struct {
	Account *accounts.Account
	Wait    time.Duration
	Sticky  bool

	// Strategy names the path that produced the pick: "sticky",
	// "round-robin", or "hybrid". Empty when no account was selected.
	Strategy string
}

// Select picks an account for a model, or the shortest wait until one
// frees up. A non-empty sessionID first consults the sticky binding so
// multi-turn conversations land on the account that minted their
// thinking signatures; round-robin skips the binding so its rotation
// holds within a session too. exclude lists accounts already tried in
// the current logical request: they are passed over while an untried
// account remains, and become re-pickable only after every account has
// had its attempt.
func (p *Pool) Select(model, sessionID string, exclude ...string) Selection {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, a := range p.accounts {
		a.ClearExpiredCooldowns(now)
	}

	var excluded map[string]bool
	if len(exclude) > 0 {
		excluded = make(map[string]bool, len(exclude))
		for _, e := range exclude {
			excluded[e] = true
		}
	}

	if sessionID != "" && p.cfg.Strategy != "round-robin" {
		if email, ok := p.sticky.lookup(sessionID, now); ok && !excluded[email] {
			if a, live := p.byEmail[email]; live && a.Usable() && !a.IsRateLimited(model, now) && a.Bucket.Take() {
				a.LastUsed = now
				p.sticky.bind(sessionID, email, now)
				return Selection{Account: a, Sticky: true, Strategy: "sticky"}
			}
		}
	}

	eligible := p.eligibleLocked(model, now)
	if excluded != nil {
		untried := make([]*accounts.Account, 0, len(eligible))
		for _, a := range eligible {
			if !excluded[a.Email] {
				untried = append(untried, a)
			}
		}
		if len(untried) > 0 {
			eligible = untried
		}
	}
	if len(eligible) == 0 {
		return Selection{Wait: p.waitForAnyLocked(model, now)}
	}

	var picked *accounts.Account
	strategy := "hybrid"
	switch p.cfg.Strategy {
	case "round-robin":
		picked = eligible[p.rrCursor%len(eligible)]
		p.rrCursor++
		strategy = "round-robin"
	default:
		picked = p.bestHybridLocked(eligible, model, now)
	}

	picked.Bucket.Take()
	picked.LastUsed = now
	if sessionID != "" {
		p.sticky.bind(sessionID, picked.Email, now)
	}
	return Selection{Account: picked, Strategy: strategy}
}

// ReleaseSticky unbinds a session whose account turned out unusable, so
// the next turn re-selects freely.
func (p *Pool) ReleaseSticky(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sticky.unbind(sessionID)
}

// eligibleLocked returns usable accounts that are neither cooling down
// for the model nor out of pacing tokens.
func (p *Pool) eligibleLocked(model string, now time.Time) []*accounts.Account {
	out := make([]*accounts.Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		if !a.Usable() || a.IsRateLimited(model, now) {
			continue
		}
		if a.Bucket != nil && a.Bucket.Available() < 1 {
			continue
		}
		out = append(out, a)
	}
	return out
}

// waitForAnyLocked computes the shortest delay after which some usable
// account could become eligible, considering both cooldowns and pacing.
func (p *Pool) waitForAnyLocked(model string, now time.Time) time.Duration {
	var min time.Duration
	for _, a := range p.accounts {
		if !a.Usable() {
			continue
		}
		var wait time.Duration
		if resetAt, limited := a.RateLimitedUntil(model, now); limited {
			wait = resetAt.Sub(now)
		} else if a.Bucket != nil {
			wait = a.Bucket.TimeUntilAvailable()
		}
		if wait <= 0 {
			wait = time.Second
		}
		if min == 0 || wait < min {
			min = wait
		}
	}
	return min
}

func (p *Pool) bestHybridLocked(eligible []*accounts.Account, model string, now time.Time) *accounts.Account {
	var best *accounts.Account
	var bestScore float64
	for _, a := range eligible {
		score := p.hybridScoreLocked(a, model, now)
		if best == nil || score > bestScore ||
			(score == bestScore && a.LastUsed.Before(best.LastUsed)) {
			best = a
			bestScore = score
		}
	}
	return best
}

// hybridScoreLocked blends health, reported quota headroom, and pacing
// headroom. Stale quota readings decay toward neutral rather than being
// trusted at face value.
func (p *Pool) hybridScoreLocked(a *accounts.Account, model string, now time.Time) float64 {
	score := a.HealthScore

	quotaScore := quotaScoreUnknown
	remaining := -1.0
	if q, ok := a.QuotaFor(model); ok && q.RemainingFraction != nil {
		remaining = *q.RemainingFraction
		quotaScore = remaining * 100
		if p.cfg.QuotaStaleAfter > 0 && now.Sub(a.QuotaCheckedAt) > p.cfg.QuotaStaleAfter {
			quotaScore *= 0.9
		}
	}
	score += quotaScore

	if a.Bucket != nil {
		score += a.Bucket.Available()
	}

	if remaining >= 0 && remaining < p.thresholdFor(a, model) {
		score -= belowThresholdPenalty
	}
	return score
}

// thresholdFor resolves the quota floor for an account and model:
// per-model config wins, then the account override, then the global
// default.
func (p *Pool) thresholdFor(a *accounts.Account, model string) float64 {
	if t, ok := p.cfg.ModelQuotaThresholds[model]; ok {
		return t
	}
	if a.QuotaThreshold != nil {
		return *a.QuotaThreshold
	}
	return p.cfg.QuotaThreshold
}

// stickyTable binds session ids to account emails with a TTL and an
// entry cap. Eviction is LRU by touch time.
type stickyTable struct {
	ttl     time.Duration
	maxSize int
	entries map[string]*stickyEntry
}

type stickyEntry struct {
	email   string
	touched time.Time
}

func newStickyTable(ttl time.Duration, maxSize int) *stickyTable {
	return &stickyTable{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*stickyEntry),
	}
}

func (t *stickyTable) lookup(sessionID string, now time.Time) (string, bool) {
	e, ok := t.entries[sessionID]
	if !ok {
		return "", false
	}
	if t.ttl > 0 && now.Sub(e.touched) > t.ttl {
		delete(t.entries, sessionID)
		return "", false
	}
	return e.email, true
}

func (t *stickyTable) bind(sessionID, email string, now time.Time) {
	if e, ok := t.entries[sessionID]; ok {
		e.email = email
		e.touched = now
		return
	}
	if t.maxSize > 0 && len(t.entries) >= t.maxSize {
		t.evictOldest()
	}
	t.entries[sessionID] = &stickyEntry{email: email, touched: now}
}

func (t *stickyTable) unbind(sessionID string) {
	delete(t.entries, sessionID)
}

func (t *stickyTable) unbindAccount(email string) {
	for id, e := range t.entries {
		if e.email == email {
			delete(t.entries, id)
		}
	}
}

func (t *stickyTable) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, e := range t.entries {
		if oldestID == "" || e.touched.Before(oldest) {
			oldestID = id
			oldest = e.touched
		}
	}
	if oldestID != "" {
		delete(t.entries, oldestID)
	}
}
