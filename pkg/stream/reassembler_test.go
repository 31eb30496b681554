package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"orbital-hq/callisto/pkg/signature"
	"orbital-hq/callisto/pkg/upstream"
)

const streamSig = "sig-abcdefghijklmnopqrstuvwxyz0123456789-abcdefghijklmnopqrstuvwxyz"

func newTestReassembler(model string) (*Reassembler, *signature.Cache) {
	cache := signature.NewCache(time.Hour, 100)
	family := signature.FamilyOf(model)
	return New(model, family, "sess-1", cache), cache
}

func collectEvents(t *testing.T, r *Reassembler, sse string) []Event {
	t.Helper()
	var events []Event
	err := r.Stream(context.Background(), strings.NewReader(sse), func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	return events
}

// checkSequence verifies the canonical ordering contract: one
// message_start first, one message_stop last, one message_delta before
// it, and per index a start strictly before its stop with no two blocks
// open at once.
func checkSequence(t *testing.T, events []Event) {
	t.Helper()
	if len(events) < 3 {
		t.Fatalf("sequence too short: %d events", len(events))
	}
	if events[0].Type != "message_start" {
		t.Errorf("first event = %q, want message_start", events[0].Type)
	}
	if events[len(events)-1].Type != "message_stop" {
		t.Errorf("last event = %q, want message_stop", events[len(events)-1].Type)
	}
	if events[len(events)-2].Type != "message_delta" {
		t.Errorf("penultimate event = %q, want message_delta", events[len(events)-2].Type)
	}

	starts, stops, deltas := 0, 0, 0
	openIndex := -1
	for _, ev := range events {
		switch ev.Type {
		case "message_start":
			starts++
		case "message_stop":
			stops++
		case "message_delta":
			deltas++
		case "content_block_start":
			if openIndex != -1 {
				t.Errorf("block %d started while block %d still open",
					ev.Payload.(blockStartPayload).Index, openIndex)
			}
			openIndex = ev.Payload.(blockStartPayload).Index
		case "content_block_delta":
			if idx := ev.Payload.(blockDeltaPayload).Index; idx != openIndex {
				t.Errorf("delta for index %d while open index is %d", idx, openIndex)
			}
		case "content_block_stop":
			if idx := ev.Payload.(blockStopPayload).Index; idx != openIndex {
				t.Errorf("stop for index %d while open index is %d", idx, openIndex)
			}
			openIndex = -1
		}
	}
	if starts != 1 || stops != 1 || deltas != 1 {
		t.Errorf("message_start/message_delta/message_stop counts = %d/%d/%d, want 1/1/1",
			starts, deltas, stops)
	}
	if openIndex != -1 {
		t.Errorf("block %d never stopped", openIndex)
	}
}

func sse(chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString("data: ")
		b.WriteString(c)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestStream_SimpleText(t *testing.T) {
	r, _ := newTestReassembler("gemini-3-flash")
	events := collectEvents(t, r, sse(
		`{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":2}}}`,
	))

	checkSequence(t, events)

	var text strings.Builder
	for _, ev := range events {
		if ev.Type != "content_block_delta" {
			continue
		}
		text.WriteString(ev.Payload.(blockDeltaPayload).Delta.Text)
	}
	if text.String() != "Hello" {
		t.Errorf("accumulated text = %q, want Hello", text.String())
	}

	final := events[len(events)-2].Payload.(messageDeltaPayload)
	if final.Delta.StopReason != "end_turn" {
		t.Errorf("stop_reason = %q, want end_turn", final.Delta.StopReason)
	}
	if final.Usage.InputTokens != 12 || final.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v, want input 12 output 2", final.Usage)
	}
	if final.Usage.CacheReadInputTokens != 0 {
		t.Errorf("cache read tokens = %d, want omitted when zero", final.Usage.CacheReadInputTokens)
	}
}

func TestStream_ThinkingThenTextThenToolUse(t *testing.T) {
	r, cache := newTestReassembler("claude-sonnet-4-5-thinking")
	events := collectEvents(t, r, sse(
		`{"response":{"candidates":[{"content":{"parts":[{"text":"pondering","thought":true,"thoughtSignature":"`+streamSig+`"}]}}]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"text":"Answer: "}]}}]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"functionCall":{"name":"lookup","args":{"q":"x"}}}]},"finishReason":"STOP"}]}}`,
	))

	checkSequence(t, events)

	var kinds []string
	for _, ev := range events {
		if ev.Type == "content_block_start" {
			kinds = append(kinds, ev.Payload.(blockStartPayload).ContentBlock.Type)
		}
	}
	want := []string{"thinking", "text", "tool_use"}
	if len(kinds) != len(want) {
		t.Fatalf("block kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("block %d kind = %q, want %q", i, kinds[i], want[i])
		}
	}

	// Signature recorded under the source family.
	entry, ok := cache.Lookup("sess-1")
	if !ok {
		t.Fatal("signature not recorded")
	}
	if entry.Signature != streamSig || entry.Family != signature.FamilyClaude {
		t.Errorf("recorded entry = %+v, want claude-family signature", entry)
	}

	final := events[len(events)-2].Payload.(messageDeltaPayload)
	if final.Delta.StopReason != "tool_use" {
		t.Errorf("stop_reason = %q, want tool_use", final.Delta.StopReason)
	}
}

func TestStream_ToolUseCarriesArguments(t *testing.T) {
	r, _ := newTestReassembler("gemini-3-pro-high")
	events := collectEvents(t, r, sse(
		`{"response":{"candidates":[{"content":{"parts":[{"functionCall":{"name":"ls","args":{"path":"/tmp"}}}]},"finishReason":"STOP"}]}}`,
	))

	checkSequence(t, events)

	var start *blockStartPayload
	var jsonDelta string
	for _, ev := range events {
		switch ev.Type {
		case "content_block_start":
			p := ev.Payload.(blockStartPayload)
			start = &p
		case "content_block_delta":
			jsonDelta += ev.Payload.(blockDeltaPayload).Delta.PartialJSON
		}
	}
	if start == nil || start.ContentBlock.Type != "tool_use" {
		t.Fatalf("tool_use block not started: %+v", start)
	}
	if start.ContentBlock.Name != "ls" {
		t.Errorf("tool name = %q, want ls", start.ContentBlock.Name)
	}
	if !strings.HasPrefix(start.ContentBlock.ID, "toolu_") {
		t.Errorf("tool id = %q, want toolu_ prefix", start.ContentBlock.ID)
	}
	if !strings.Contains(jsonDelta, `"/tmp"`) {
		t.Errorf("input_json_delta = %q, want args payload", jsonDelta)
	}
}

func TestStream_CacheReadTokens(t *testing.T) {
	r, _ := newTestReassembler("gemini-3-flash")
	events := collectEvents(t, r, sse(
		`{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":100,"candidatesTokenCount":5,"cachedContentTokenCount":40}}}`,
	))

	final := events[len(events)-2].Payload.(messageDeltaPayload)
	if final.Usage.InputTokens != 60 {
		t.Errorf("input_tokens = %d, want prompt minus cached = 60", final.Usage.InputTokens)
	}
	if final.Usage.CacheReadInputTokens != 40 {
		t.Errorf("cache_read_input_tokens = %d, want 40", final.Usage.CacheReadInputTokens)
	}
}

func TestStream_EmptyTurn(t *testing.T) {
	r, _ := newTestReassembler("gemini-3-flash")
	var events []Event
	err := r.Stream(context.Background(),
		strings.NewReader(sse(`{"response":{"candidates":[{"content":{"role":"model","parts":[]},"finishReason":"STOP"}]}}`)),
		func(ev Event) error {
			events = append(events, ev)
			return nil
		})

	var empty *EmptyResponseError
	if !errors.As(err, &empty) {
		t.Fatalf("Stream() error = %T, want *EmptyResponseError", err)
	}
	if len(events) != 0 {
		t.Errorf("emitted %d events on an empty turn, want 0", len(events))
	}
}

func TestStream_MaxTokensStopReason(t *testing.T) {
	r, _ := newTestReassembler("gemini-3-flash")
	events := collectEvents(t, r, sse(
		`{"response":{"candidates":[{"content":{"parts":[{"text":"truncat"}]},"finishReason":"MAX_TOKENS"}]}}`,
	))
	final := events[len(events)-2].Payload.(messageDeltaPayload)
	if final.Delta.StopReason != "max_tokens" {
		t.Errorf("stop_reason = %q, want max_tokens", final.Delta.StopReason)
	}
}

func TestStream_SkipsGarbageLines(t *testing.T) {
	r, _ := newTestReassembler("gemini-3-flash")
	raw := "retry: 100\n\n" +
		"data: not json\n\n" +
		"data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"ok\"}]},\"finishReason\":\"STOP\"}]}}\n\n" +
		"data: [DONE]\n\n"
	events := collectEvents(t, r, raw)
	checkSequence(t, events)
}

func TestCollect_FoldsBlocks(t *testing.T) {
	r, _ := newTestReassembler("claude-sonnet-4-5")
	msg, err := r.Collect(context.Background(), strings.NewReader(sse(
		`{"response":{"candidates":[{"content":{"parts":[{"text":"part one, "}]}}]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"text":"part two"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":4}}}`,
	)))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if msg.Role != "assistant" || msg.Type != "message" {
		t.Errorf("message envelope = %q/%q, want assistant/message", msg.Role, msg.Type)
	}
	if !strings.HasPrefix(msg.ID, "msg_") {
		t.Errorf("message id = %q, want msg_ prefix", msg.ID)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("len(content) = %d, want 1 merged text block", len(msg.Content))
	}
	if msg.Content[0].Text != "part one, part two" {
		t.Errorf("text = %q, want merged deltas", msg.Content[0].Text)
	}
	if msg.StopReason != "end_turn" {
		t.Errorf("stop_reason = %q, want end_turn", msg.StopReason)
	}
	if msg.Usage.InputTokens != 7 || msg.Usage.OutputTokens != 4 {
		t.Errorf("usage = %+v, want 7/4", msg.Usage)
	}
}

func TestReassemble_CompletePayload(t *testing.T) {
	r, _ := newTestReassembler("gemini-3-flash")
	var events []Event
	err := r.Reassemble(
		[]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"whole"}]},"finishReason":"STOP"}]}}`),
		func(ev Event) error {
			events = append(events, ev)
			return nil
		})
	if err != nil {
		t.Fatalf("Reassemble() error = %v", err)
	}
	checkSequence(t, events)
}

func TestFallbackEvents_WellFormed(t *testing.T) {
	events := FallbackEvents("gemini-3-flash")
	checkSequence(t, events)

	var text string
	for _, ev := range events {
		if ev.Type == "content_block_delta" {
			text += ev.Payload.(blockDeltaPayload).Delta.Text
		}
	}
	if text == "" {
		t.Error("fallback message has no text content")
	}
	final := events[len(events)-2].Payload.(messageDeltaPayload)
	if final.Delta.StopReason != "end_turn" {
		t.Errorf("fallback stop_reason = %q, want end_turn", final.Delta.StopReason)
	}
}

func TestEventWriteSSE(t *testing.T) {
	var b strings.Builder
	ev := Event{Type: "message_stop", Payload: messageStopPayload{Type: "message_stop"}}
	if err := ev.WriteSSE(&b); err != nil {
		t.Fatalf("WriteSSE() error = %v", err)
	}
	want := "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
	if b.String() != want {
		t.Errorf("frame = %q, want %q", b.String(), want)
	}
}

// stallReader yields its payload and then fails the read instead of
// returning EOF.
type stallReader struct {
	r   io.Reader
	err error
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.EOF {
		return n, s.err
	}
	return n, err
}

func TestStream_TransportErrorIsNetworkError(t *testing.T) {
	r, _ := newTestReassembler("gemini-3-flash")
	body := &stallReader{
		r:   strings.NewReader(sse(`{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}}`)),
		err: errors.New("connection reset"),
	}

	err := r.Stream(context.Background(), body, func(Event) error { return nil })
	var netErr *upstream.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("cause missing from error: %v", err)
	}
}

func TestCollect_TransportErrorIsNetworkError(t *testing.T) {
	r, _ := newTestReassembler("gemini-3-flash")
	body := &stallReader{
		r:   strings.NewReader(sse(`{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}}`)),
		err: errors.New("connection reset"),
	}

	_, err := r.Collect(context.Background(), body)
	var netErr *upstream.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
}
