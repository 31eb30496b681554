// Package stream reassembles upstream generation output into the
// canonical Messages event sequence: one message_start, per content block
// a start/deltas/stop triple with disjoint open indices, one
// message_delta carrying stop reason and usage, one message_stop.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// Event is one server-sent event in the Messages protocol.
type Event struct {
	// Type is the SSE event name
	Type string

	// Payload is the event body; it carries its own "type" field
	Payload any
}

// WriteSSE writes the event as a wire frame.
func (e Event) WriteSSE(w io.Writer) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}

// Usage is the token accounting for one message.
type Usage struct {
	InputTokens          int64 `json:"input_tokens"`
	OutputTokens         int64 `json:"output_tokens"`
	CacheReadInputTokens int64 `json:"cache_read_input_tokens,omitempty"`
}

// Block is one content block in a complete (non-streamed) message.
type Block struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Message is the complete non-streamed response body.
type Message struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Role         string  `json:"role"`
	Model        string  `json:"model"`
	Content      []Block `json:"content"`
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
	Usage        Usage   `json:"usage"`
}

// Event payload shapes.

type messageStartPayload struct {
	Type    string       `json:"type"`
	Message messageShell `json:"message"`
}

type messageShell struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Role         string  `json:"role"`
	Model        string  `json:"model"`
	Content      []Block `json:"content"`
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
	Usage        Usage   `json:"usage"`
}

type blockStartPayload struct {
	Type         string     `json:"type"`
	Index        int        `json:"index"`
	ContentBlock startBlock `json:"content_block"`
}

type startBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

type blockDeltaPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta delta  `json:"delta"`
}

type delta struct {
	Type string `json:"type"`

	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type blockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaPayload struct {
	Type  string           `json:"type"`
	Delta messageDeltaBody `json:"delta"`
	Usage Usage            `json:"usage"`
}

type messageDeltaBody struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type messageStopPayload struct {
	Type string `json:"type"`
}

type errorPayload struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorEvent builds the in-band error event terminating a stream that
// failed after the first byte was sent.
func ErrorEvent(errType, message string) Event {
	return Event{Type: "error", Payload: errorPayload{
		Type:  "error",
		Error: errorDetail{Type: errType, Message: message},
	}}
}

// EmptyResponseError reports a structurally complete upstream turn that
// produced zero content-bearing events. It is the trigger for the
// orchestrator's empty-response retry path, not a translation failure.
type EmptyResponseError struct {
	// Model is the upstream model that produced the empty turn
	Model string
}

// Error implements the error interface.
func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("model %q returned a response with no content", e.Model)
}
