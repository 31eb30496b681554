// Package signature tracks thinking signatures observed on model output so
// later conversation turns can tell whether a replayed signature is safe to
// send upstream. Signatures are opaque continuation tokens minted by a
// specific model family; replaying one across families is rejected upstream,
// so the cache records which family produced each signature.
package signature

import (
	"strings"
	"sync"
	"time"
)

// Family identifies the model family that minted a signature.
type Family string

const (
	// FamilyGemini covers the gemini model line.
	FamilyGemini Family = "gemini"
	// FamilyClaude covers the claude model line.
	FamilyClaude Family = "claude"
)

// FamilyOf returns the model family for a served model identifier.
func FamilyOf(model string) Family {
	if strings.Contains(strings.ToLower(model), "claude") {
		return FamilyClaude
	}
	return FamilyGemini
}

// MinLength is the shortest byte length a signature can have and still be
// considered well formed. Shorter values are truncated or corrupted tokens.
const MinLength = 50

// Valid reports whether a signature value looks structurally sound.
func Valid(sig string) bool {
	return len(sig) >= MinLength
}

// Entry is a cached signature observation.
type Entry struct {
	// Signature is the opaque token as received from the model.
	Signature string

	// Family is the model family that produced the signature.
	Family Family

	// ObservedAt is when the signature was last seen on model output.
	ObservedAt time.Time
}

// Cache stores the most recent signature observed per session. Entries
// expire after a TTL and the cache holds a bounded number of sessions,
// evicting the oldest observation when full.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int

	// now is replaceable for tests.
	now func() time.Time
}

// DefaultTTL is how long an observation stays valid without being refreshed.
const DefaultTTL = time.Hour

// DefaultMaxEntries bounds the number of tracked sessions.
const DefaultMaxEntries = 10000

// NewCache creates a signature cache. Zero values select DefaultTTL and
// DefaultMaxEntries.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    make(map[string]Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Record stores a signature observed on model output for a session.
// Malformed signatures are ignored.
func (c *Cache) Record(sessionID, sig string, family Family) {
	if sessionID == "" || !Valid(sig) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[sessionID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[sessionID] = Entry{
		Signature:  sig,
		Family:     family,
		ObservedAt: c.now(),
	}
}

// Lookup returns the cached observation for a session, if one exists and
// has not expired.
func (c *Cache) Lookup(sessionID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[sessionID]
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(entry.ObservedAt) > c.ttl {
		delete(c.entries, sessionID)
		return Entry{}, false
	}
	return entry, true
}

// Compatible reports whether a replayed signature may be forwarded to the
// target family for this session. A signature is forwardable only when the
// cache has seen it minted by the same family. Unknown signatures are not
// forwardable; the caller decides whether to drop or synthesize around them.
func (c *Cache) Compatible(sessionID, sig string, target Family) bool {
	if !Valid(sig) {
		return false
	}

	entry, ok := c.Lookup(sessionID)
	if !ok {
		return false
	}
	return entry.Signature == sig && entry.Family == target
}

// Forget removes a session's observation.
func (c *Cache) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

// Len returns the number of tracked sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldestLocked removes the entry with the oldest observation time.
// Caller must hold c.mu.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.ObservedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.ObservedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
