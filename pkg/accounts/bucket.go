package accounts

import (
	"sync"
	"time"
)

// TokenBucket paces requests on a single account. Tokens refill
// continuously at a fixed per-minute rate, so fractional capacity accrues
// between requests rather than arriving in whole-token steps.
type TokenBucket struct {
	mu sync.Mutex

	// capacity is the maximum number of tokens (burst size)
	capacity float64

	// tokens is the current number of available tokens
	tokens float64

	// refillPerMinute is the token refill rate per minute
	refillPerMinute float64

	// lastRefill is the last time tokens were refilled
	lastRefill time.Time

	// now is replaceable for tests
	now func() time.Time
}

// NewTokenBucket creates a token bucket with the given burst capacity and
// per-minute refill rate. The bucket starts full.
func NewTokenBucket(capacity, refillPerMinute float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerMinute <= 0 {
		refillPerMinute = 1
	}
	bucket := &TokenBucket{
		capacity:        capacity,
		tokens:          capacity,
		refillPerMinute: refillPerMinute,
		now:             time.Now,
	}
	bucket.lastRefill = bucket.now()
	return bucket
}

// Take attempts to consume one token.
// Returns true if the token was consumed, false if unavailable.
func (tb *TokenBucket) Take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}

	return false
}

// Available returns the current number of available tokens.
func (tb *TokenBucket) Available() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	return tb.tokens
}

// TimeUntilAvailable returns the duration until one token becomes
// available. Returns 0 if a token is available now.
func (tb *TokenBucket) TimeUntilAvailable() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.tokens >= 1 {
		return 0
	}

	deficit := 1 - tb.tokens
	minutes := deficit / tb.refillPerMinute
	return time.Duration(minutes * float64(time.Minute))
}

// refillLocked adds tokens based on elapsed time.
// Caller must hold tb.mu.
func (tb *TokenBucket) refillLocked() {
	current := tb.now()
	elapsed := current.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}

	tb.tokens += elapsed.Minutes() * tb.refillPerMinute
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = current
}
