package tokens

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/messages-bridge/internal/api/openai"
)

// imageTokens is the base cost of one low-detail image part.
const imageTokens = 85

// OpenAICounter counts prompt tokens with tiktoken encodings.
type OpenAICounter struct {
	matcher *ModelMatcher

	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewOpenAICounter creates a counter for OpenAI model names.
func NewOpenAICounter() *OpenAICounter {
	return &OpenAICounter{
		// "o" series covers o1, o3, o4 reasoning models
		matcher: NewModelMatcher([]string{"gpt-", "o1", "o3", "o4", "chatgpt-"}, nil),
		codecs:  make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// getCodec returns the encoding for model, cached per encoding name.
func (c *OpenAICounter) getCodec(model string) (tokenizer.Codec, error) {
	encoding := encodingFor(model)

	c.mu.RLock()
	codec, ok := c.codecs[encoding]
	c.mu.RUnlock()
	if ok {
		return codec, nil
	}

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	c.mu.Lock()
	c.codecs[encoding] = codec
	c.mu.Unlock()

	return codec, nil
}

// encodingFor picks the encoding by model family. Unknown and newer models
// use o200k_base.
func encodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-5"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

// CountTokens counts the prompt tokens of a translated upstream request.
func (c *OpenAICounter) CountTokens(_ context.Context, req *openai.ChatCompletionRequest) (int, error) {
	codec, err := c.getCodec(req.Model)
	if err != nil {
		return 0, err
	}
	encode := func(s string) int {
		if s == "" {
			return 0
		}
		ids, _, _ := codec.Encode(s)
		return len(ids)
	}

	totalTokens := 0

	// Token overhead per message for chat models
	// Based on OpenAI's documentation:
	// - gpt-4, gpt-3.5-turbo: 3 tokens per message + 1 for role
	// - Plus 3 tokens for assistant priming at the end
	tokensPerMessage := 3
	tokensPerRole := 1

	for _, msg := range req.Messages {
		totalTokens += tokensPerMessage + tokensPerRole

		if msg.Content != nil {
			if msg.Content.Parts != nil {
				for _, part := range msg.Content.Parts {
					switch part.Type {
					case openai.PartTypeText:
						totalTokens += encode(part.Text)
					case openai.PartTypeImageURL:
						totalTokens += imageTokens
					}
				}
			} else {
				totalTokens += encode(msg.Content.Text)
			}
		}

		if msg.ToolCallID != "" {
			totalTokens += 2 // overhead for tool result
		}

		for _, tc := range msg.ToolCalls {
			totalTokens += encode(tc.Function.Name)
			totalTokens += encode(tc.Function.Arguments)
			totalTokens += 3 // overhead per tool call
		}
	}

	for _, tool := range req.Tools {
		totalTokens += encode(tool.Function.Name)
		totalTokens += encode(tool.Function.Description)
		totalTokens += encode(string(tool.Function.Parameters))
		totalTokens += 7 // overhead per tool definition
	}

	// Add final assistant prompt tokens
	totalTokens += 3 // assistant priming

	return totalTokens, nil
}

// SupportsModel returns true for OpenAI models.
func (c *OpenAICounter) SupportsModel(model string) bool {
	return c.matcher.Matches(model)
}

// CountText counts tokens for a plain text string.
func (c *OpenAICounter) CountText(model, text string) (int, error) {
	codec, err := c.getCodec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
