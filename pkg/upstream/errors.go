package upstream

import (
	"fmt"
	"time"
)

// RateLimitError represents a quota exhaustion response (HTTP 429).
// It carries the reset time the upstream reported, when one was present,
// so the pool can schedule the account's cooldown precisely.
type RateLimitError struct {
	// Endpoint is the base URL that returned the error
	Endpoint string

	// ResetAt is when the upstream said the quota resets (zero if unknown)
	ResetAt time.Time

	// RetryAfter is the wait duration derived from the response (0 if unknown)
	RetryAfter time.Duration

	// Message is the error message from the upstream
	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream %q rate limit exceeded (retry after %s): %s",
			e.Endpoint, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("upstream %q rate limit exceeded: %s", e.Endpoint, e.Message)
}

// AuthError represents a credential rejection (HTTP 401 or 403, or a failed
// token refresh). The owning account's cached access token must be
// discarded before the next attempt.
type AuthError struct {
	// Endpoint is the base URL that rejected the credential ("" for the
	// token endpoint)
	Endpoint string

	// Message is the error message from the upstream
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("credential rejected: %s", e.Message)
	}
	return fmt.Sprintf("upstream %q rejected credential: %s", e.Endpoint, e.Message)
}

// UpstreamError represents a non-auth, non-quota upstream failure,
// typically a 5xx or an unexpected 4xx.
type UpstreamError struct {
	// Endpoint is the base URL that returned the error
	Endpoint string

	// StatusCode is the HTTP status code
	StatusCode int

	// Message is the error message from the upstream
	Message string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %q error (status %d): %s", e.Endpoint, e.StatusCode, e.Message)
}

// Retryable reports whether the next endpoint should be tried.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 404 || e.StatusCode == 408
}

// NetworkError represents a transport-level failure: connection refused,
// reset, DNS failure, a timeout before any response arrived, or a read
// error on an already-open response stream.
type NetworkError struct {
	// Endpoint is the base URL being contacted. Empty when the failure
	// surfaced mid-stream, after the endpoint was left behind.
	Endpoint string

	// Cause is the underlying transport error
	Cause error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("upstream unreachable: %v", e.Cause)
	}
	return fmt.Sprintf("upstream %q unreachable: %v", e.Endpoint, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *NetworkError) Unwrap() error {
	return e.Cause
}
