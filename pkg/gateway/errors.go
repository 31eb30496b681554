package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// ErrStreamStarted marks a failure that happened after events were
// already written to the client. The handler must close the stream with
// an in-band error event; the HTTP status is long gone.
var ErrStreamStarted = errors.New("stream already started")

// TerminalError is a client-visible failure in the inbound protocol's
// native error shape. Everything transient is absorbed by the retry
// loop; only these reach the client.
type TerminalError struct {
	// Status is the HTTP status code to respond with
	Status int

	// Type is the protocol error type (e.g. "rate_limit_error")
	Type string

	// Message is the human-readable detail
	Message string

	// RetryAfter is the suggested wait before retrying (0 if none)
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
}

// Retryable reports whether a fallback model may be substituted for
// this failure. Client-side faults never fall back.
func (e *TerminalError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

type errorBody struct {
	Type  string       `json:"type"`
	Error errorContent `json:"error"`
}

type errorContent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WriteError renders an error as the protocol's JSON error body. Errors
// without a TerminalError in their chain render as a generic api_error.
func WriteError(w http.ResponseWriter, err error) {
	term := asTerminal(err)

	w.Header().Set("Content-Type", "application/json")
	if term.RetryAfter > 0 {
		secs := int(math.Ceil(term.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	}
	w.WriteHeader(term.Status)

	body := errorBody{
		Type: "error",
		Error: errorContent{
			Type:    term.Type,
			Message: term.Message,
		},
	}
	_ = json.NewEncoder(w).Encode(body)
}

func asTerminal(err error) *TerminalError {
	var term *TerminalError
	if errors.As(err, &term) {
		return term
	}
	return &TerminalError{
		Status:  500,
		Type:    "api_error",
		Message: err.Error(),
	}
}
