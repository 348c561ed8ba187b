package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tjfontaine/messages-bridge/internal/domain"
	"github.com/tjfontaine/messages-bridge/internal/telemetry"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultTimeout    = 90 * time.Second
	defaultMaxRetries = 2
	// defaultBaseDelay is the base delay for exponential backoff.
	defaultBaseDelay = 500 * time.Millisecond
	// defaultMaxDelay caps the backoff delay.
	defaultMaxDelay = 5 * time.Second

	userAgent = "messages-bridge/1.0"
)

// errAttemptTimeout is the cancellation cause when a single attempt runs out of time.
var errAttemptTimeout = fmt.Errorf("upstream attempt timed out: %w", context.DeadlineExceeded)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIVersion selects the Azure dialect: api-key header and api-version query.
func WithAPIVersion(version string) ClientOption {
	return func(c *Client) {
		c.apiVersion = version
	}
}

// WithTimeout bounds each attempt. For streams it bounds setup only.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithMaxRetries sets how many extra attempts transient failures get.
func WithMaxRetries(maxRetries int) ClientOption {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
	}
}

// WithRetryDelays overrides the backoff bounds.
func WithRetryDelays(base, ceiling time.Duration) ClientOption {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = ceiling
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTier labels the client's metrics and logs with a routing tier.
func WithTier(tier string) ClientOption {
	return func(c *Client) {
		c.tier = tier
	}
}

// Client calls the chat completions endpoint of one upstream.
type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	tier       string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// NewClient creates a new OpenAI API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateChatCompletion sends a chat completion request. Transient failures
// are retried; the returned error is always a *domain.APIError.
func (c *Client) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	req.Stream = false
	req.StreamOptions = nil

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	resp, err := retry(ctx, c, func() (*ChatCompletionResponse, error) {
		return c.completeOnce(ctx, body)
	})
	c.observe("unary", start, err)
	if err != nil {
		return nil, domain.Classify(err)
	}
	return resp, nil
}

func (c *Client) completeOnce(ctx context.Context, body []byte) (*ChatCompletionResponse, error) {
	attemptCtx, cancel := context.WithTimeoutCause(ctx, c.timeout, errAttemptTimeout)
	defer cancel()

	httpReq, err := c.newRequest(attemptCtx, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, attemptError(attemptCtx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, attemptError(attemptCtx, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, respBody)
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// StreamResult wraps a chunk or error from streaming.
type StreamResult struct {
	Chunk *ChatCompletionChunk
	Err   error
}

// StreamChatCompletion opens a streaming request and returns a channel of
// chunks. Setup is retried like a unary call; once the channel is returned
// nothing is retried. The channel is closed when the upstream finishes or
// ctx is canceled.
func (c *Client) StreamChatCompletion(ctx context.Context, req *ChatCompletionRequest) (<-chan StreamResult, error) {
	req.Stream = true
	if req.StreamOptions == nil {
		req.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	out, err := retry(ctx, c, func() (<-chan StreamResult, error) {
		return c.streamOnce(ctx, body)
	})
	c.observe("stream", start, err)
	if err != nil {
		return nil, domain.Classify(err)
	}
	return out, nil
}

func (c *Client) streamOnce(ctx context.Context, body []byte) (<-chan StreamResult, error) {
	streamCtx, cancel := context.WithCancelCause(ctx)

	// The timeout covers setup only; chunk arrival is not timed.
	setupTimer := time.AfterFunc(c.timeout, func() { cancel(errAttemptTimeout) })

	httpReq, err := c.newRequest(streamCtx, body)
	if err != nil {
		setupTimer.Stop()
		cancel(nil)
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		setupTimer.Stop()
		err = attemptError(streamCtx, err)
		cancel(nil)
		return nil, err
	}

	if !setupTimer.Stop() {
		resp.Body.Close()
		cancel(nil)
		return nil, errAttemptTimeout
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		defer cancel(nil)
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, statusError(resp.StatusCode, respBody)
	}

	out := make(chan StreamResult)
	go func() {
		defer cancel(nil)
		streamReader(streamCtx, resp.Body, out)
	}()
	return out, nil
}

func streamReader(ctx context.Context, body io.ReadCloser, out chan<- StreamResult) {
	defer close(out)
	defer body.Close()

	send := func(r StreamResult) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	// Increase buffer size for potentially large chunks
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		if data == "[DONE]" {
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			send(StreamResult{Err: fmt.Errorf("failed to unmarshal chunk: %w", err)})
			return
		}

		if chunk.Error != nil {
			send(StreamResult{Err: fmt.Errorf("upstream stream error: %w", chunk.Error)})
			return
		}

		if !send(StreamResult{Chunk: &chunk}) {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		send(StreamResult{Err: fmt.Errorf("stream read error: %w", err)})
	}
}

func (c *Client) endpoint() string {
	u := c.baseURL + "/chat/completions"
	if c.apiVersion != "" {
		u += "?api-version=" + url.QueryEscape(c.apiVersion)
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	return httpReq, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.apiVersion != "" {
		req.Header.Set("api-key", c.apiKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// retry runs op with exponential backoff. Only transient classes are retried,
// and never after the caller's context is gone.
func retry[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.MaxInterval = c.maxDelay
	b.Multiplier = 2

	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op()
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !domain.Classify(err).Transient() {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			kind := domain.Classify(err).Type
			telemetry.UpstreamRetriesTotal.WithLabelValues(c.tier, string(kind)).Inc()
			c.logger.WarnContext(ctx, "upstream call failed, retrying",
				slog.String("tier", c.tier),
				slog.Int("attempt", attempt),
				slog.Int("max_retries", c.maxRetries),
				slog.Duration("backoff", delay),
				slog.String("error_type", string(kind)),
				slog.String("error", err.Error()),
			)
		}),
	)
}

func (c *Client) observe(mode string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
	case err != nil:
		outcome = string(domain.Classify(err).Type)
	}
	telemetry.UpstreamRequestsTotal.WithLabelValues(c.tier, mode, outcome).Inc()
	telemetry.UpstreamDuration.WithLabelValues(c.tier, mode).Observe(time.Since(start).Seconds())
}

// attemptError reports a timed-out attempt as a deadline rather than a cancellation.
func attemptError(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errAttemptTimeout) {
		return fmt.Errorf("request failed: %w", errAttemptTimeout)
	}
	return fmt.Errorf("request failed: %w", err)
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if apiErr, err := ParseErrorResponse(body); err == nil && apiErr != nil {
		msg = apiErr.Error()
	}
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &StatusError{StatusCode: code, Message: msg}
}
