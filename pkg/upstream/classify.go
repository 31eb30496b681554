package upstream

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// classifyResponse converts a non-2xx upstream response into a typed error.
// The taxonomy is assigned here, at the detection point; callers branch on
// the error type with errors.As and never re-parse messages.
func classifyResponse(endpoint string, status int, header http.Header, body []byte) error {
	message := errorMessage(body)

	switch {
	case status == http.StatusTooManyRequests:
		resetAt, retryAfter := parseRateLimitReset(header, body, time.Now())
		return &RateLimitError{
			Endpoint:   endpoint,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
			Message:    message,
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Endpoint: endpoint, Message: message}
	default:
		return &UpstreamError{Endpoint: endpoint, StatusCode: status, Message: message}
	}
}

// errorMessage extracts the upstream error message from a JSON error body,
// falling back to a trimmed raw body.
func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	raw := strings.TrimSpace(string(body))
	if len(raw) > 512 {
		raw = raw[:512]
	}
	return raw
}

// parseRateLimitReset extracts the quota reset time from a 429 response.
// Precedence:
//  1. RetryInfo / quota metadata in the error details
//     (quotaResetTimeStamp as RFC3339, quotaResetDelay as "32s")
//  2. The Retry-After header, as delta seconds or an HTTP date
//
// Returns zero values when the response carries no usable reset hint.
func parseRateLimitReset(header http.Header, body []byte, now time.Time) (time.Time, time.Duration) {
	details := gjson.GetBytes(body, "error.details")
	if details.IsArray() {
		for _, detail := range details.Array() {
			if ts := detail.Get("metadata.quotaResetTimeStamp"); ts.Exists() {
				if resetAt, err := time.Parse(time.RFC3339, ts.String()); err == nil && resetAt.After(now) {
					return resetAt, resetAt.Sub(now)
				}
			}
			if delay := detail.Get("metadata.quotaResetDelay"); delay.Exists() {
				if d, err := time.ParseDuration(delay.String()); err == nil && d > 0 {
					return now.Add(d), d
				}
			}
			if delay := detail.Get("retryDelay"); delay.Exists() {
				if d, err := time.ParseDuration(delay.String()); err == nil && d > 0 {
					return now.Add(d), d
				}
			}
		}
	}

	if raw := header.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			d := time.Duration(secs) * time.Second
			return now.Add(d), d
		}
		if at, err := http.ParseTime(raw); err == nil && at.After(now) {
			return at, at.Sub(now)
		}
	}

	return time.Time{}, 0
}
