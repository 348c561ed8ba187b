package router

import (
	"log/slog"
	"net/http"

	"github.com/tjfontaine/messages-bridge/internal/api/openai"
	"github.com/tjfontaine/messages-bridge/internal/config"
)

// Client builds the upstream client for the route. Clients are cheap and
// built per request so a reload takes effect on the next call; httpClient
// carries the shared connection pool.
func (r Route) Client(upstream config.UpstreamConfig, httpClient *http.Client, logger *slog.Logger) *openai.Client {
	opts := []openai.ClientOption{
		openai.WithBaseURL(r.BaseURL),
		openai.WithAPIVersion(r.APIVersion),
		openai.WithTimeout(upstream.RequestTimeout),
		openai.WithMaxRetries(upstream.MaxRetries),
		openai.WithTier(r.Tier),
	}
	if httpClient != nil {
		opts = append(opts, openai.WithHTTPClient(httpClient))
	}
	if logger != nil {
		opts = append(opts, openai.WithLogger(logger.With(slog.String("tier", r.Tier))))
	}
	return openai.NewClient(r.APIKey, opts...)
}
