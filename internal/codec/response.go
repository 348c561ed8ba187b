package codec

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/tjfontaine/messages-bridge/internal/api/anthropic"
	"github.com/tjfontaine/messages-bridge/internal/api/openai"
)

// NewMessageID returns a fresh Messages API message id.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// NewToolUseID returns a fresh tool_use block id.
func NewToolUseID() string {
	return "toolu_" + uuid.NewString()
}

// StopReason maps an upstream finish reason to a Messages stop reason.
func StopReason(finish string) string {
	switch finish {
	case openai.FinishReasonLength:
		return anthropic.StopReasonMaxTokens
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return anthropic.StopReasonToolUse
	case openai.FinishReasonStopSequence:
		return anthropic.StopReasonStopSequence
	default:
		return anthropic.StopReasonEndTurn
	}
}

// ToFrontResponse converts a chat-completions response into a Messages
// response. The model reported back is the one the client asked for.
func ToFrontResponse(resp *openai.ChatCompletionResponse, req *anthropic.MessagesRequest) *anthropic.MessagesResponse {
	id := resp.ID
	if id == "" {
		id = NewMessageID()
	}

	out := &anthropic.MessagesResponse{
		ID:    id,
		Type:  "message",
		Role:  "assistant",
		Model: req.Model,
		Usage: anthropic.MessagesUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	var finish string
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		finish = choice.FinishReason

		if text := choice.Message.Content.String(); text != "" {
			out.Content = append(out.Content, anthropic.TextBlock(text))
		}
		for _, call := range choice.Message.ToolCalls {
			out.Content = append(out.Content, anthropic.ToolUseBlock(
				NewToolUseID(),
				call.Function.Name,
				ToolInput(call.Function.Arguments),
			))
		}
	}

	if len(out.Content) == 0 {
		out.Content = []anthropic.ResponseContent{anthropic.TextBlock("")}
	}

	stop := StopReason(finish)
	out.StopReason = &stop

	return out
}

// ToolInput parses streamed or returned tool arguments. Arguments that are not
// a JSON object are preserved under raw_arguments.
func ToolInput(arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage("{}")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(arguments), &obj); err == nil && obj != nil {
		return json.RawMessage(arguments)
	}
	raw, _ := json.Marshal(map[string]string{"raw_arguments": arguments})
	return raw
}
