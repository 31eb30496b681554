package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"orbital-hq/callisto/pkg/signature"
	"orbital-hq/callisto/pkg/upstream"
)

// Scanner limits for upstream SSE lines. Single chunks can carry large
// base64 or tool-argument payloads.
const (
	scanBufferSize  = 64 * 1024
	maxSSELineBytes = 10 * 1024 * 1024
)

// Reassembler converts upstream generation output, streamed SSE chunks or
// one complete payload, into the canonical Messages event sequence.
// Events are buffered until the first content block appears: a turn that
// ends with zero content produces EmptyResponseError and emits nothing,
// which keeps the empty-response retry path invisible to the client.
type Reassembler struct {
	model      string
	family     signature.Family
	sessionID  string
	signatures *signature.Cache
}

// New creates a reassembler for one upstream attempt. The model is the
// served identifier reported back to the client; the family tags any
// newly observed thought signatures recorded into the cache.
func New(model string, family signature.Family, sessionID string, signatures *signature.Cache) *Reassembler {
	return &Reassembler{
		model:      model,
		family:     family,
		sessionID:  sessionID,
		signatures: signatures,
	}
}

// Stream consumes an SSE body and emits the canonical event sequence.
// The caller keeps ownership of the body.
func (r *Reassembler) Stream(ctx context.Context, body io.Reader, emit func(Event) error) error {
	run := r.newRun(emit)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, scanBufferSize), maxSSELineBytes)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		payload, ok := ssePayload(scanner.Bytes())
		if !ok {
			continue
		}
		if err := run.chunk(payload); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &upstream.NetworkError{Cause: fmt.Errorf("read upstream stream: %w", err)}
	}
	return run.finish()
}

// Reassemble processes one complete non-streamed payload.
func (r *Reassembler) Reassemble(raw []byte, emit func(Event) error) error {
	run := r.newRun(emit)
	if err := run.chunk(raw); err != nil {
		return err
	}
	return run.finish()
}

// CollectPayload folds one complete upstream payload into a Message.
func (r *Reassembler) CollectPayload(raw []byte) (*Message, error) {
	run := r.newRun(func(Event) error { return nil })
	if err := run.chunk(raw); err != nil {
		return nil, err
	}
	if err := run.finish(); err != nil {
		return nil, err
	}
	return run.message(), nil
}

// Collect consumes an SSE body and folds the event sequence into one
// complete Message for non-streaming responses.
func (r *Reassembler) Collect(ctx context.Context, body io.Reader) (*Message, error) {
	run := r.newRun(func(Event) error { return nil })

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, scanBufferSize), maxSSELineBytes)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		payload, ok := ssePayload(scanner.Bytes())
		if !ok {
			continue
		}
		if err := run.chunk(payload); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &upstream.NetworkError{Cause: fmt.Errorf("read upstream stream: %w", err)}
	}
	if err := run.finish(); err != nil {
		return nil, err
	}
	return run.message(), nil
}

// ssePayload extracts the JSON payload from one upstream line. Both SSE
// "data:" frames and bare JSON lines are accepted; everything else is
// skipped.
func ssePayload(line []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, false
	}
	if bytes.HasPrefix(trimmed, []byte("data:")) {
		trimmed = bytes.TrimSpace(trimmed[len("data:"):])
	}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[DONE]")) {
		return nil, false
	}
	if !gjson.ValidBytes(trimmed) {
		return nil, false
	}
	return trimmed, true
}

// run is the state for one reassembly pass.
type run struct {
	r    *Reassembler
	emit func(Event) error

	// pending buffers content events until the first block commits
	pending   []Event
	committed bool

	blockIndex int
	blockOpen  bool
	blockKind  string
	current    Block
	blocks     []Block

	messageID    string
	finishReason string
	sawToolUse   bool

	promptTokens    int64
	candidateTokens int64
	thoughtTokens   int64
	cachedTokens    int64
}

func (r *Reassembler) newRun(emit func(Event) error) *run {
	return &run{
		r:          r,
		emit:       emit,
		blockIndex: -1,
		messageID:  "msg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

// chunk folds one upstream payload into the run. Chunks may arrive with
// or without the {"response": ...} wrapper.
func (s *run) chunk(payload []byte) error {
	root := gjson.ParseBytes(payload)
	response := root.Get("response")
	if !response.Exists() {
		if !root.Get("candidates").Exists() {
			return nil
		}
		response = root
	}

	if finish := response.Get("candidates.0.finishReason"); finish.Exists() && finish.String() != "" {
		s.finishReason = finish.String()
	}
	if usage := response.Get("usageMetadata"); usage.Exists() {
		s.recordUsage(usage)
	} else if usage := root.Get("usageMetadata"); usage.Exists() {
		s.recordUsage(usage)
	}

	parts := response.Get("candidates.0.content.parts")
	if !parts.IsArray() {
		return nil
	}
	for _, part := range parts.Array() {
		if err := s.part(part); err != nil {
			return err
		}
	}
	return nil
}

func (s *run) recordUsage(usage gjson.Result) {
	if v := usage.Get("promptTokenCount"); v.Exists() {
		s.promptTokens = v.Int()
	}
	if v := usage.Get("candidatesTokenCount"); v.Exists() {
		s.candidateTokens = v.Int()
	}
	if v := usage.Get("thoughtsTokenCount"); v.Exists() {
		s.thoughtTokens = v.Int()
	}
	if v := usage.Get("cachedContentTokenCount"); v.Exists() {
		s.cachedTokens = v.Int()
	}
}

func (s *run) part(part gjson.Result) error {
	if call := part.Get("functionCall"); call.Exists() {
		return s.toolUsePart(call)
	}
	if part.Get("inlineData").Exists() || part.Get("inline_data").Exists() {
		// No inbound representation for binary output parts.
		return nil
	}

	text := part.Get("text").String()
	if part.Get("thought").Bool() {
		return s.thinkingPart(text, thoughtSignature(part))
	}
	if part.Get("text").Exists() && text != "" {
		return s.textPart(text)
	}
	return nil
}

func thoughtSignature(part gjson.Result) string {
	sig := part.Get("thoughtSignature").String()
	if sig == "" {
		sig = part.Get("thought_signature").String()
	}
	return strings.TrimSpace(sig)
}

func (s *run) textPart(text string) error {
	if err := s.ensureBlock("text"); err != nil {
		return err
	}
	s.current.Text += text
	return s.send(Event{Type: "content_block_delta", Payload: blockDeltaPayload{
		Type:  "content_block_delta",
		Index: s.blockIndex,
		Delta: delta{Type: "text_delta", Text: text},
	}})
}

func (s *run) thinkingPart(text, sig string) error {
	if err := s.ensureBlock("thinking"); err != nil {
		return err
	}
	if text != "" {
		s.current.Thinking += text
		if err := s.send(Event{Type: "content_block_delta", Payload: blockDeltaPayload{
			Type:  "content_block_delta",
			Index: s.blockIndex,
			Delta: delta{Type: "thinking_delta", Thinking: text},
		}}); err != nil {
			return err
		}
	}
	if sig == "" {
		return nil
	}
	if signature.Valid(sig) {
		s.r.signatures.Record(s.r.sessionID, sig, s.r.family)
	}
	s.current.Signature = sig
	return s.send(Event{Type: "content_block_delta", Payload: blockDeltaPayload{
		Type:  "content_block_delta",
		Index: s.blockIndex,
		Delta: delta{Type: "signature_delta", Signature: sig},
	}})
}

// toolUsePart emits a complete tool_use block. Upstream function calls
// arrive whole, so each becomes its own start/delta/stop triple.
func (s *run) toolUsePart(call gjson.Result) error {
	if err := s.closeBlock(); err != nil {
		return err
	}
	s.sawToolUse = true

	id := "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	name := call.Get("name").String()
	args := call.Get("args").Raw
	if args == "" {
		args = "{}"
	}

	s.blockIndex++
	s.blockOpen = true
	s.blockKind = "tool_use"
	s.current = Block{Type: "tool_use", ID: id, Name: name, Input: json.RawMessage(args)}

	if err := s.send(Event{Type: "content_block_start", Payload: blockStartPayload{
		Type:  "content_block_start",
		Index: s.blockIndex,
		ContentBlock: startBlock{
			Type:  "tool_use",
			ID:    id,
			Name:  name,
			Input: json.RawMessage(`{}`),
		},
	}}); err != nil {
		return err
	}
	return s.send(Event{Type: "content_block_delta", Payload: blockDeltaPayload{
		Type:  "content_block_delta",
		Index: s.blockIndex,
		Delta: delta{Type: "input_json_delta", PartialJSON: args},
	}})
}

// ensureBlock opens a block of the given kind, closing a different open
// kind first. Same-kind parts continue the open block.
func (s *run) ensureBlock(kind string) error {
	if s.blockOpen && s.blockKind == kind {
		return nil
	}
	if err := s.closeBlock(); err != nil {
		return err
	}

	s.blockIndex++
	s.blockOpen = true
	s.blockKind = kind
	s.current = Block{Type: kind}

	return s.send(Event{Type: "content_block_start", Payload: blockStartPayload{
		Type:         "content_block_start",
		Index:        s.blockIndex,
		ContentBlock: startBlock{Type: kind},
	}})
}

func (s *run) closeBlock() error {
	if !s.blockOpen {
		return nil
	}
	s.blockOpen = false
	s.blockKind = ""
	s.blocks = append(s.blocks, s.current)
	return s.send(Event{Type: "content_block_stop", Payload: blockStopPayload{
		Type:  "content_block_stop",
		Index: s.blockIndex,
	}})
}

// send routes an event through the commit buffer: everything before the
// first content block is held back so an empty turn can be retried
// without the client seeing any output.
func (s *run) send(ev Event) error {
	if !s.committed {
		s.pending = append(s.pending, ev)
		return s.commit()
	}
	return s.emit(ev)
}

func (s *run) commit() error {
	s.committed = true
	start := Event{Type: "message_start", Payload: messageStartPayload{
		Type: "message_start",
		Message: messageShell{
			ID:      s.messageID,
			Type:    "message",
			Role:    "assistant",
			Model:   s.r.model,
			Content: []Block{},
			Usage:   s.usage(),
		},
	}}
	if err := s.emit(start); err != nil {
		return err
	}
	for _, ev := range s.pending {
		if err := s.emit(ev); err != nil {
			return err
		}
	}
	s.pending = nil
	return nil
}

// finish closes the sequence. A run that never produced a content block
// is an EmptyResponseError and has emitted nothing.
func (s *run) finish() error {
	if err := s.closeBlock(); err != nil {
		return err
	}
	if !s.committed {
		return &EmptyResponseError{Model: s.r.model}
	}

	if err := s.emit(Event{Type: "message_delta", Payload: messageDeltaPayload{
		Type:  "message_delta",
		Delta: messageDeltaBody{StopReason: s.stopReason()},
		Usage: s.usage(),
	}}); err != nil {
		return err
	}
	return s.emit(Event{Type: "message_stop", Payload: messageStopPayload{Type: "message_stop"}})
}

func (s *run) stopReason() string {
	if s.sawToolUse {
		return "tool_use"
	}
	switch s.finishReason {
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

func (s *run) usage() Usage {
	u := Usage{
		InputTokens:  s.promptTokens - s.cachedTokens,
		OutputTokens: s.candidateTokens + s.thoughtTokens,
	}
	if u.InputTokens < 0 {
		u.InputTokens = 0
	}
	if s.cachedTokens > 0 {
		u.CacheReadInputTokens = s.cachedTokens
	}
	return u
}

func (s *run) message() *Message {
	return &Message{
		ID:         s.messageID,
		Type:       "message",
		Role:       "assistant",
		Model:      s.r.model,
		Content:    s.blocks,
		StopReason: s.stopReason(),
		Usage:      s.usage(),
	}
}

// Fallback builds the synthetic well-formed message emitted when the
// empty-response retry budget is exhausted. The client sees a normal
// termination, not an error.
func Fallback(model string) *Message {
	return &Message{
		ID:         "msg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    []Block{{Type: "text", Text: "The model returned an empty response. Please try again."}},
		StopReason: "end_turn",
		Usage:      Usage{},
	}
}

// FallbackEvents renders the synthetic fallback message as a canonical
// event sequence for streaming clients.
func FallbackEvents(model string) []Event {
	msg := Fallback(model)
	text := msg.Content[0].Text
	return []Event{
		{Type: "message_start", Payload: messageStartPayload{
			Type: "message_start",
			Message: messageShell{
				ID:      msg.ID,
				Type:    "message",
				Role:    "assistant",
				Model:   model,
				Content: []Block{},
			},
		}},
		{Type: "content_block_start", Payload: blockStartPayload{
			Type:         "content_block_start",
			Index:        0,
			ContentBlock: startBlock{Type: "text"},
		}},
		{Type: "content_block_delta", Payload: blockDeltaPayload{
			Type:  "content_block_delta",
			Index: 0,
			Delta: delta{Type: "text_delta", Text: text},
		}},
		{Type: "content_block_stop", Payload: blockStopPayload{
			Type:  "content_block_stop",
			Index: 0,
		}},
		{Type: "message_delta", Payload: messageDeltaPayload{
			Type:  "message_delta",
			Delta: messageDeltaBody{StopReason: "end_turn"},
		}},
		{Type: "message_stop", Payload: messageStopPayload{Type: "message_stop"}},
	}
}
