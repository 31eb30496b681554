// Package translate converts inbound Messages requests into the upstream
// generation envelope. Block order is preserved exactly; tool schemas are
// reduced to the upstream's subset; thinking signatures are injected or
// dropped according to the target family's continuation policy.
package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"orbital-hq/callisto/pkg/catalog"
	"orbital-hq/callisto/pkg/signature"
)

// minClaudeThinkingBudget is the smallest thinking budget the claude line
// accepts. A requested budget below it disables thinking for the turn.
const minClaudeThinkingBudget = 1024

// Translator builds upstream request payloads. It consults the signature
// cache to decide whether a thinking block's continuation signature may be
// presented to the target model.
type Translator struct {
	signatures *signature.Cache
}

// NewTranslator creates a translator backed by the given signature cache.
func NewTranslator(signatures *signature.Cache) *Translator {
	return &Translator{signatures: signatures}
}

// Upstream wire shapes for the inner generation request.

type part struct {
	Text             string          `json:"text,omitempty"`
	Thought          bool            `json:"thought,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`
	InlineData       *inlineData     `json:"inlineData,omitempty"`
	FunctionCall     *functionCall   `json:"functionCall,omitempty"`
	FunctionResponse *functionResult `json:"functionResponse,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type functionResult struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type toolDeclaration struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type thinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type innerRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Tools             []toolDeclaration `json:"tools,omitempty"`
	ToolConfig        json.RawMessage   `json:"toolConfig,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SessionID         string            `json:"sessionId,omitempty"`
}

// Translate converts an inbound request into the complete upstream
// envelope for the resolved model. The result is ready to post to the
// generate endpoints. A TranslationError is returned only for structural
// protocol violations; unsupported-but-ignorable input is dropped.
func (t *Translator) Translate(req *MessagesRequest, model catalog.Model, projectID, sessionID string) ([]byte, error) {
	if len(req.Messages) == 0 {
		return nil, translationErrorf("messages must not be empty")
	}

	contents, err := t.buildContents(req.Messages, model.Family, sessionID)
	if err != nil {
		return nil, err
	}

	inner := innerRequest{
		Contents:         contents,
		GenerationConfig: t.buildGenerationConfig(req, model),
		SessionID:        sessionID,
	}
	if req.System != "" {
		inner.SystemInstruction = &content{
			Role:  "user",
			Parts: []part{{Text: string(req.System)}},
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, functionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  sanitizeSchema(tool.InputSchema),
			})
		}
		inner.Tools = []toolDeclaration{{FunctionDeclarations: decls}}
		if model.Family == signature.FamilyClaude {
			inner.ToolConfig = json.RawMessage(`{"functionCallingConfig":{"mode":"VALIDATED"}}`)
		}
	}

	return buildEnvelope(inner, model.UpstreamID, projectID)
}

// buildEnvelope wraps the inner generation request in the agent envelope
// the internal API expects.
func buildEnvelope(inner innerRequest, upstreamModel, projectID string) ([]byte, error) {
	innerRaw, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	envelope := []byte(`{}`)
	envelope, _ = sjson.SetBytes(envelope, "model", upstreamModel)
	envelope, _ = sjson.SetBytes(envelope, "project", projectID)
	envelope, _ = sjson.SetBytes(envelope, "userAgent", "antigravity")
	envelope, _ = sjson.SetBytes(envelope, "requestType", "agent")
	envelope, _ = sjson.SetBytes(envelope, "requestId", "agent-"+uuid.NewString())
	envelope, _ = sjson.SetRawBytes(envelope, "request", innerRaw)
	return envelope, nil
}

// buildContents translates the ordered message list. Tool results become
// functionResponse parts resolved through the id of their originating
// call; a result with no matching prior call is a structural violation.
func (t *Translator) buildContents(messages []Message, family signature.Family, sessionID string) ([]content, error) {
	contents := make([]content, 0, len(messages))
	toolNames := make(map[string]string)
	openCalls := make(map[string]string)
	strictDrop := false

	for i, msg := range messages {
		role, err := translateRole(msg.Role)
		if err != nil {
			return nil, err
		}

		parts := make([]part, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				parts = append(parts, part{Text: block.Text})

			case "image":
				if block.Source == nil || block.Source.Data == "" {
					continue
				}
				parts = append(parts, part{InlineData: &inlineData{
					MimeType: block.Source.MediaType,
					Data:     block.Source.Data,
				}})

			case "tool_use":
				if block.Name == "" {
					return nil, translationErrorf("message %d: tool_use block missing name", i)
				}
				toolNames[block.ID] = block.Name
				openCalls[block.ID] = block.Name
				parts = append(parts, part{FunctionCall: &functionCall{
					Name: block.Name,
					Args: block.Input,
				}})

			case "tool_result":
				name, ok := toolNames[block.ToolUseID]
				if !ok {
					return nil, translationErrorf(
						"message %d: tool_result references unknown tool_use id %q", i, block.ToolUseID)
				}
				delete(openCalls, block.ToolUseID)
				parts = append(parts, part{FunctionResponse: &functionResult{
					Name:     name,
					Response: toolResultResponse(block),
				}})

			case "thinking":
				thought, ok := t.translateThinking(block, family, sessionID)
				if ok {
					parts = append(parts, thought)
				} else if family == signature.FamilyClaude {
					strictDrop = true
				}

			case "redacted_thinking":
				// Opaque to the upstream; never forwarded.

			default:
				// Unknown block types are ignorable by contract.
			}
		}

		if len(parts) == 0 {
			continue
		}
		contents = append(contents, content{Role: role, Parts: parts})
	}

	if len(contents) == 0 {
		return nil, translationErrorf("messages contain no translatable content")
	}

	// Dropping an unverifiable thinking step under the strict family can
	// leave a tool invocation with no terminating result. Close the loop
	// with synthetic interrupted-call results so the history stays valid.
	if strictDrop && len(openCalls) > 0 {
		contents = append(contents, closeToolLoop(openCalls))
	}
	return contents, nil
}

// translateThinking decides whether a thinking block may carry its
// signature to the target family. Returns ok=false when the block must be
// dropped instead.
func (t *Translator) translateThinking(block ContentBlock, family signature.Family, sessionID string) (part, bool) {
	sig := strings.TrimSpace(block.Signature)
	if sig == "" || !signature.Valid(sig) {
		return part{}, false
	}
	if !t.signatures.Compatible(sessionID, sig, family) {
		return part{}, false
	}
	return part{Text: block.Thinking, Thought: true, ThoughtSignature: sig}, true
}

// closeToolLoop builds a user turn carrying a synthetic result for each
// still-open tool invocation.
func closeToolLoop(openCalls map[string]string) content {
	parts := make([]part, 0, len(openCalls))
	for _, name := range openCalls {
		parts = append(parts, part{FunctionResponse: &functionResult{
			Name:     name,
			Response: map[string]any{"result": "Tool execution was interrupted."},
		}})
	}
	return content{Role: "user", Parts: parts}
}

// toolResultResponse shapes a tool_result block's content into the
// response object the upstream expects.
func toolResultResponse(block ContentBlock) map[string]any {
	response := map[string]any{"result": flattenToolResult(block.Content)}
	if block.IsError {
		response["isError"] = true
	}
	return response
}

// flattenToolResult reduces a tool_result content value (string, text
// block list, or arbitrary JSON) to a string result.
func flattenToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		combined := ""
		for _, b := range blocks {
			if b.Type != "text" {
				continue
			}
			if combined != "" {
				combined += "\n"
			}
			combined += b.Text
		}
		return combined
	}
	return string(raw)
}

func translateRole(role string) (string, error) {
	switch role {
	case "user":
		return "user", nil
	case "assistant":
		return "model", nil
	default:
		return "", translationErrorf("unsupported message role %q", role)
	}
}

// buildGenerationConfig maps sampling and thinking parameters. The claude
// line keeps maxOutputTokens and enforces a minimum thinking budget below
// its output cap; the gemini line ignores the client's output cap.
func (t *Translator) buildGenerationConfig(req *MessagesRequest, model catalog.Model) *generationConfig {
	cfg := &generationConfig{
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
	}
	if model.Family == signature.FamilyClaude && req.MaxTokens > 0 {
		cfg.MaxOutputTokens = req.MaxTokens
	}

	if req.Thinking.Enabled() && model.Thinking {
		budget := req.Thinking.BudgetTokens
		if model.Family == signature.FamilyClaude {
			if cfg.MaxOutputTokens > 0 && budget >= cfg.MaxOutputTokens {
				budget = cfg.MaxOutputTokens - 1
			}
			if budget < minClaudeThinkingBudget {
				return cfg
			}
		}
		cfg.ThinkingConfig = &thinkingConfig{IncludeThoughts: true, ThinkingBudget: budget}
	}
	return cfg
}
