// Package anthropic provides the Messages API wire types served by the bridge.
package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessagesRequest represents an Anthropic Messages API request.
type MessagesRequest struct {
	Model         string         `json:"model" validate:"required"`
	Messages      []Message      `json:"messages" validate:"required,min=1,dive"`
	MaxTokens     int            `json:"max_tokens" validate:"required,gte=1"`
	System        SystemMessages `json:"system,omitempty"`
	Temperature   *float32       `json:"temperature,omitempty"`
	TopP          *float32       `json:"top_p,omitempty"`
	TopK          *int           `json:"top_k,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Tools         []Tool         `json:"tools,omitempty" validate:"dive"`
	ToolChoice    *ToolChoice    `json:"tool_choice,omitempty"`
	Metadata      *Metadata      `json:"metadata,omitempty"`
}

// CountTokensRequest is the body of /v1/messages/count_tokens.
type CountTokensRequest struct {
	Model    string         `json:"model" validate:"required"`
	Messages []Message      `json:"messages" validate:"required,min=1,dive"`
	System   SystemMessages `json:"system,omitempty"`
	Tools    []Tool         `json:"tools,omitempty"`
}

// CountTokensResponse is the reply of /v1/messages/count_tokens.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// Message represents a message in the conversation.
type Message struct {
	Role    string  `json:"role" validate:"required,oneof=user assistant"`
	Content Content `json:"content"`
}

// ContentKind tags which case of Content is populated.
type ContentKind int

const (
	// ContentText is the plain string shortcut.
	ContentText ContentKind = iota
	// ContentBlocks is the ordered block list.
	ContentBlocks
)

// Content is either a plain string or an ordered list of content blocks.
type Content struct {
	Kind   ContentKind
	Text   string
	Blocks []ContentBlock
}

// TextContent returns a Content holding a plain string.
func TextContent(s string) Content {
	return Content{Kind: ContentText, Text: s}
}

// BlockContent returns a Content holding blocks.
func BlockContent(blocks ...ContentBlock) Content {
	return Content{Kind: ContentBlocks, Blocks: blocks}
}

// UnmarshalJSON handles both string and array content formats.
func (c *Content) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*c = TextContent("")
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*c = TextContent(str)
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return errors.New("content must be a string or an array of content blocks")
	}
	*c = BlockContent(blocks...)
	return nil
}

// MarshalJSON writes the string form for ContentText and the array form otherwise.
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ContentText:
		return json.Marshal(c.Text)
	case ContentBlocks:
		if c.Blocks == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.Blocks)
	default:
		return nil, fmt.Errorf("unknown content kind %d", c.Kind)
	}
}

// Block types.
const (
	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// ContentBlock is a single typed unit of message content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string             `json:"tool_use_id,omitempty"`
	Content   *ToolResultContent `json:"content,omitempty"`
	IsError   bool               `json:"is_error,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`
}

// ToolResultContent is the content of a tool_result block: a string or blocks.
type ToolResultContent struct {
	Text   string
	Blocks []ContentBlock
}

// UnmarshalJSON accepts a string or an array of blocks.
func (t *ToolResultContent) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		t.Text = str
		return nil
	}
	return json.Unmarshal(data, &t.Blocks)
}

// MarshalJSON writes blocks when present, otherwise the string.
func (t ToolResultContent) MarshalJSON() ([]byte, error) {
	if t.Blocks != nil {
		return json.Marshal(t.Blocks)
	}
	return json.Marshal(t.Text)
}

// String flattens the result to text. Non-text blocks are kept as JSON.
func (t *ToolResultContent) String() string {
	if t == nil {
		return ""
	}
	if t.Blocks == nil {
		return t.Text
	}
	var sb strings.Builder
	for i, b := range t.Blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		if b.Type == BlockTypeText {
			sb.WriteString(b.Text)
			continue
		}
		raw, err := json.Marshal(b)
		if err != nil {
			continue
		}
		sb.Write(raw)
	}
	return sb.String()
}

// ImageSource represents an image source.
type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SystemMessages represents the system prompt (can be string or array).
type SystemMessages []SystemBlock

// UnmarshalJSON handles both string and array system formats.
func (s *SystemMessages) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SystemMessages{{Type: BlockTypeText, Text: str}}
		return nil
	}

	var blocks []SystemBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return errors.New("system must be a string or an array of text blocks")
	}
	*s = blocks
	return nil
}

// Text joins the text blocks of the system prompt.
func (s SystemMessages) Text() string {
	parts := make([]string, 0, len(s))
	for _, b := range s {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// SystemBlock represents a system message block.
type SystemBlock struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	CacheControl *Cache `json:"cache_control,omitempty"`
}

// Cache represents cache control settings.
type Cache struct {
	Type string `json:"type"` // "ephemeral"
}

// Tool represents a tool that the model can use.
type Tool struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice represents how the model should use tools.
type ToolChoice struct {
	Type string `json:"type"` // "auto", "any", "tool", "none"
	Name string `json:"name,omitempty"`
}

// Metadata represents request metadata.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// Stop reasons.
const (
	StopReasonEndTurn      = "end_turn"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonStopSequence = "stop_sequence"
	StopReasonToolUse      = "tool_use"
)

// MessagesResponse represents an Anthropic Messages API response.
type MessagesResponse struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         string            `json:"role"`
	Content      []ResponseContent `json:"content"`
	Model        string            `json:"model"`
	StopReason   *string           `json:"stop_reason"`
	StopSequence *string           `json:"stop_sequence"`
	Usage        MessagesUsage     `json:"usage"`
}

// ResponseContent represents content in a response.
type ResponseContent struct {
	Type  string          `json:"type"`
	Text  *string         `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// TextBlock returns a text response block. The text field is always present.
func TextBlock(text string) ResponseContent {
	return ResponseContent{Type: BlockTypeText, Text: &text}
}

// ToolUseBlock returns a tool_use response block.
func ToolUseBlock(id, name string, input json.RawMessage) ResponseContent {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return ResponseContent{Type: BlockTypeToolUse, ID: id, Name: name, Input: input}
}

// MessagesUsage represents token usage in the response.
type MessagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse represents an Anthropic API error.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// APIError contains error details.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewErrorResponse builds the error payload used for unary failures and the
// stream error event.
func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{
		Type:  "error",
		Error: &APIError{Type: "api_error", Message: message},
	}
}
