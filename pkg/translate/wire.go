package translate

import (
	"encoding/json"
	"fmt"
)

// MessagesRequest is the inbound request body for POST /messages.
type MessagesRequest struct {
	Model     string          `json:"model"`
	Messages  []Message       `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	System    SystemPrompt    `json:"system,omitempty"`
	Thinking  *ThinkingConfig `json:"thinking,omitempty"`
	Tools     []Tool          `json:"tools,omitempty"`
	Stream    bool            `json:"stream,omitempty"`

	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	TopK          *int      `json:"top_k,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Metadata      *Metadata `json:"metadata,omitempty"`
}

// Metadata carries opaque client-supplied request metadata.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// ThinkingConfig enables extended thinking with a token budget.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Enabled reports whether the client asked for thinking output.
func (t *ThinkingConfig) Enabled() bool {
	return t != nil && t.Type == "enabled"
}

// Tool declares a callable tool and its parameter schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either a plain string or an ordered block list on the
// wire; both forms decode to the block list.
type MessageContent []ContentBlock

// UnmarshalJSON accepts the string shorthand and the block-array form.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = MessageContent{{Type: "text", Text: text}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or a block array: %w", err)
	}
	*c = blocks
	return nil
}

// MarshalJSON always emits the block-array form.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]ContentBlock(c))
}

// ContentBlock is one typed content block. The populated fields depend on
// Type: text, image, tool_use, tool_result, thinking, redacted_thinking.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// redacted_thinking
	Data string `json:"data,omitempty"`
}

// ImageSource is a base64-encoded inline image.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// SystemPrompt is either a plain string or a list of text blocks on the
// wire; both forms decode to the concatenated text.
type SystemPrompt string

// UnmarshalJSON accepts the string shorthand and the text-block form.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = SystemPrompt(text)
		return nil
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or a text block array: %w", err)
	}
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
	*s = SystemPrompt(combined)
	return nil
}

// TranslationError indicates the inbound request violates the protocol's
// own structural rules. It is terminal: the request is malformed, not
// transiently unlucky.
type TranslationError struct {
	// Message describes the violated rule
	Message string
}

// Error implements the error interface.
func (e *TranslationError) Error() string {
	return "invalid request: " + e.Message
}

func translationErrorf(format string, args ...any) *TranslationError {
	return &TranslationError{Message: fmt.Sprintf(format, args...)}
}
