// Package tokens counts prompt tokens for /v1/messages/count_tokens.
package tokens

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tjfontaine/messages-bridge/internal/api/openai"
)

// Counter counts the prompt tokens of a translated upstream request.
type Counter interface {
	CountTokens(ctx context.Context, req *openai.ChatCompletionRequest) (int, error)
	SupportsModel(model string) bool
}

// Registry picks the first counter that supports the upstream model and
// falls back to the character estimate.
type Registry struct {
	counters []Counter
	fallback Counter
	logger   *slog.Logger
}

// NewRegistry creates a registry with the tiktoken counter registered.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		counters: []Counter{NewOpenAICounter()},
		fallback: NewEstimator(),
		logger:   logger,
	}
}

// Register adds a counter ahead of the built-in ones.
func (r *Registry) Register(counter Counter) {
	r.counters = append([]Counter{counter}, r.counters...)
}

// CountTokens never fails: a counter error falls back to the estimate.
func (r *Registry) CountTokens(ctx context.Context, req *openai.ChatCompletionRequest) int {
	if counter := r.GetCounter(req.Model); counter != nil {
		n, err := counter.CountTokens(ctx, req)
		if err == nil {
			return n
		}
		r.logger.Warn("token counter failed, using estimate",
			slog.String("model", req.Model),
			slog.String("error", err.Error()),
		)
	}
	n, _ := r.fallback.CountTokens(ctx, req)
	return n
}

// GetCounter returns the counter for model, or nil.
func (r *Registry) GetCounter(model string) Counter {
	for _, c := range r.counters {
		if c.SupportsModel(model) {
			return c
		}
	}
	return nil
}

// Estimator approximates tokens as characters of text content divided by
// CharsPerToken, never less than one.
type Estimator struct {
	CharsPerToken int
}

// NewEstimator creates an estimator at four characters per token.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4}
}

// CountTokens estimates the token count.
func (e *Estimator) CountTokens(_ context.Context, req *openai.ChatCompletionRequest) (int, error) {
	totalChars := 0
	for _, msg := range req.Messages {
		if msg.Content == nil {
			continue
		}
		totalChars += len(msg.Content.String())
	}
	return max(1, totalChars/max(e.CharsPerToken, 1)), nil
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(string) bool {
	return true
}

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	model = strings.ToLower(model)
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
