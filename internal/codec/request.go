// Package codec translates between the Anthropic Messages wire format served
// to clients and the OpenAI chat-completions format spoken upstream.
package codec

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/messages-bridge/internal/api/anthropic"
	"github.com/tjfontaine/messages-bridge/internal/api/openai"
)

// Limits bounds the max_tokens forwarded upstream.
type Limits struct {
	MinTokens int
	MaxTokens int
}

// Clamp returns requested bounded to [MinTokens, MaxTokens] and never below 1.
func (l Limits) Clamp(requested int) int {
	n := requested
	if l.MinTokens > 0 {
		n = max(n, l.MinTokens)
	}
	if l.MaxTokens > 0 {
		n = min(n, l.MaxTokens)
	}
	return max(n, 1)
}

// ToBackRequest converts a Messages request into a chat-completions request
// for model. Message order is preserved; the system prompt becomes a single
// leading system message.
func ToBackRequest(req *anthropic.MessagesRequest, model string, limits Limits) *openai.ChatCompletionRequest {
	out := &openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   limits.Clamp(req.MaxTokens),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}
	if req.Stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.Metadata != nil {
		out.User = req.Metadata.UserID
	}

	if system := req.System.Text(); system != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    "system",
			Content: openai.TextContent(system),
		})
	}

	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, convertMessage(msg)...)
	}

	if len(req.Tools) > 0 {
		out.Tools = make([]openai.Tool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = openai.Tool{
				Type: "function",
				Function: openai.FunctionTool{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			}
		}
	}

	if req.ToolChoice != nil {
		out.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	return out
}

// convertMessage may return several messages: a user turn carrying
// tool_result blocks fans out into one tool message per result.
func convertMessage(msg anthropic.Message) []openai.ChatCompletionMessage {
	if msg.Content.Kind == anthropic.ContentText {
		return []openai.ChatCompletionMessage{{
			Role:    msg.Role,
			Content: openai.TextContent(msg.Content.Text),
		}}
	}

	if msg.Role == "assistant" {
		return []openai.ChatCompletionMessage{convertAssistant(msg.Content.Blocks)}
	}
	return convertUser(msg.Role, msg.Content.Blocks)
}

func convertAssistant(blocks []anthropic.ContentBlock) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{Role: "assistant"}

	var text strings.Builder
	hasText := false
	for _, b := range blocks {
		switch b.Type {
		case anthropic.BlockTypeText:
			text.WriteString(b.Text)
			hasText = true
		case anthropic.BlockTypeToolUse:
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      b.Name,
					Arguments: toolArguments(b.Input),
				},
			})
		}
	}

	if hasText || len(out.ToolCalls) == 0 {
		out.Content = openai.TextContent(text.String())
	}
	return out
}

func convertUser(role string, blocks []anthropic.ContentBlock) []openai.ChatCompletionMessage {
	var (
		out      []openai.ChatCompletionMessage
		rest     []anthropic.ContentBlock
		hasImage bool
	)
	for _, b := range blocks {
		switch b.Type {
		case anthropic.BlockTypeToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    openai.TextContent(b.Content.String()),
			})
		case anthropic.BlockTypeImage:
			hasImage = true
			rest = append(rest, b)
		case anthropic.BlockTypeText:
			rest = append(rest, b)
		}
	}

	switch {
	case hasImage:
		parts := make([]openai.ContentPart, 0, len(rest))
		for _, b := range rest {
			if b.Type == anthropic.BlockTypeText {
				parts = append(parts, openai.ContentPart{Type: openai.PartTypeText, Text: b.Text})
				continue
			}
			if url := imageURL(b.Source); url != "" {
				parts = append(parts, openai.ContentPart{
					Type:     openai.PartTypeImageURL,
					ImageURL: &openai.ImageURL{URL: url},
				})
			}
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: openai.PartsContent(parts...)})
	case len(rest) > 0 || len(out) == 0:
		var text strings.Builder
		for _, b := range rest {
			text.WriteString(b.Text)
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: openai.TextContent(text.String())})
	}

	return out
}

func imageURL(src *anthropic.ImageSource) string {
	if src == nil {
		return ""
	}
	if src.Type == "url" {
		return src.URL
	}
	return "data:" + src.MediaType + ";base64," + src.Data
}

func toolArguments(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}
	// Re-encode to strip insignificant whitespace.
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return string(input)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(input)
	}
	return string(b)
}

func convertToolChoice(tc *anthropic.ToolChoice) any {
	switch tc.Type {
	case "any":
		return "required"
	case "tool":
		return openai.ToolChoiceFunction{
			Type:     "function",
			Function: openai.ToolChoiceFuncName{Name: tc.Name},
		}
	case "none":
		return "none"
	default:
		return "auto"
	}
}
