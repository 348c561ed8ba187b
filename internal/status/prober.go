package status

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/messages-bridge/internal/api/openai"
	"github.com/tjfontaine/messages-bridge/internal/config"
	"github.com/tjfontaine/messages-bridge/internal/domain"
	"github.com/tjfontaine/messages-bridge/internal/router"
)

// ProbeTimeout bounds each tier's probe call.
const ProbeTimeout = 10 * time.Second

// ConnectionResult is the outcome of one tier probe.
type ConnectionResult struct {
	Status     string `json:"status"`
	Provider   string `json:"provider"`
	ModelUsed  string `json:"model_used"`
	ResponseID string `json:"response_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// OK reports whether the probe succeeded.
func (r ConnectionResult) OK() bool { return r.Status == "success" }

// ConnectionReport holds both tier probes.
type ConnectionReport struct {
	BigModel   ConnectionResult `json:"big_model_connection"`
	SmallModel ConnectionResult `json:"small_model_connection"`
}

// Prober sends a minimal completion to each tier.
type Prober struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewProber(httpClient *http.Client, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{httpClient: httpClient, logger: logger}
}

// ProbeAll probes both tiers concurrently.
func (p *Prober) ProbeAll(ctx context.Context, cfg *config.Config) ConnectionReport {
	var report ConnectionReport
	var g errgroup.Group
	g.Go(func() error {
		report.BigModel = p.Probe(ctx, cfg, router.TierPrimary)
		return nil
	})
	g.Go(func() error {
		report.SmallModel = p.Probe(ctx, cfg, router.TierSecondary)
		return nil
	})
	_ = g.Wait()
	return report
}

// Probe sends "Hello" with max_tokens 5 to the tier's model without retries.
// Failures carry the classified message, never the raw upstream text.
func (p *Prober) Probe(ctx context.Context, cfg *config.Config, tier string) ConnectionResult {
	route := router.ForTier(cfg, tier)
	result := ConnectionResult{Provider: route.Provider, ModelUsed: route.Model}

	client := route.Client(config.UpstreamConfig{RequestTimeout: ProbeTimeout}, p.httpClient, p.logger)
	resp, err := client.CreateChatCompletion(ctx, &openai.ChatCompletionRequest{
		Model:     route.Model,
		Messages:  []openai.ChatCompletionMessage{{Role: "user", Content: openai.TextContent("Hello")}},
		MaxTokens: 5,
	})
	if err != nil {
		apiErr := domain.Classify(err)
		p.logger.WarnContext(ctx, "connection probe failed",
			slog.String("tier", route.Tier),
			slog.String("model", route.Model),
			slog.String("error_type", string(apiErr.Type)),
			slog.String("error", apiErr.Error()),
		)
		result.Status = "failed"
		result.Error = apiErr.Message
		return result
	}

	result.Status = "success"
	result.ResponseID = resp.ID
	if result.ResponseID == "" {
		result.ResponseID = "unknown"
	}
	return result
}
