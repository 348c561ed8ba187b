// Package anthropic serves the Messages API on top of an OpenAI-compatible
// chat completions upstream.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tjfontaine/messages-bridge/internal/api/anthropic"
	"github.com/tjfontaine/messages-bridge/internal/api/openai"
	"github.com/tjfontaine/messages-bridge/internal/codec"
	"github.com/tjfontaine/messages-bridge/internal/config"
	"github.com/tjfontaine/messages-bridge/internal/domain"
	"github.com/tjfontaine/messages-bridge/internal/router"
	"github.com/tjfontaine/messages-bridge/internal/server"
	"github.com/tjfontaine/messages-bridge/internal/streaming"
	"github.com/tjfontaine/messages-bridge/internal/telemetry"
	"github.com/tjfontaine/messages-bridge/internal/tokens"
)

// StatusClientClosedRequest is the non-standard status logged when the
// client disconnects before the upstream call.
const StatusClientClosedRequest = 499

type Handler struct {
	config     func() *config.Config
	httpClient *http.Client
	counter    *tokens.Registry
	logger     *slog.Logger
	validate   *validator.Validate
}

// Option configures a Handler.
type Option func(*Handler)

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handler) { h.httpClient = c }
}

// WithTokenRegistry sets the counter behind count_tokens.
func WithTokenRegistry(r *tokens.Registry) Option {
	return func(h *Handler) { h.counter = r }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a handler reading configuration through snapshot,
// usually (*config.Store).Current. Each request keeps the snapshot it started
// with.
func NewHandler(snapshot func() *config.Config, opts ...Option) *Handler {
	h := &Handler{
		config:     snapshot,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		validate:   newValidator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.counter == nil {
		h.counter = tokens.NewRegistry(h.logger)
	}
	return h
}

// Register mounts the Messages routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/messages", h.HandleMessages)
	r.Post("/v1/messages/count_tokens", h.HandleCountTokens)
}

func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req anthropic.MessagesRequest
	if !h.decode(w, r, &req) {
		return
	}

	mode := "unary"
	if req.Stream {
		mode = "stream"
	}

	cfg := h.config()
	route := router.Resolve(cfg, req.Model)

	server.AddLogField(ctx, "requested_model", req.Model)
	server.AddLogField(ctx, "served_model", route.Model)
	server.AddLogField(ctx, "tier", route.Tier)
	server.AddLogField(ctx, "stream", fmt.Sprint(req.Stream))

	// Nothing goes upstream for a client that has already left.
	if ctx.Err() != nil {
		h.clientGone(w, r, &req, route, mode, "client disconnected before upstream call")
		return
	}

	limits := codec.Limits{MinTokens: cfg.Limits.MinTokens, MaxTokens: cfg.Limits.MaxTokens}
	backReq := codec.ToBackRequest(&req, route.Model, limits)
	client := route.Client(cfg.Upstream, h.httpClient, h.logger)

	if req.Stream {
		h.handleStream(w, r, &req, backReq, client, route, cfg.Upstream.PingInterval)
		return
	}

	resp, err := client.CreateChatCompletion(ctx, backReq)
	if err != nil {
		if ctx.Err() != nil {
			h.clientGone(w, r, &req, route, mode, "client disconnected during upstream call")
			return
		}
		h.upstreamFailed(w, r, route, mode, err)
		return
	}

	front := codec.ToFrontResponse(resp, &req)
	stopReason := ""
	if front.StopReason != nil {
		stopReason = *front.StopReason
	}

	h.logger.InfoContext(ctx, "messages completion",
		slog.String("request_id", server.GetRequestID(ctx)),
		slog.String("requested_model", req.Model),
		slog.String("served_model", route.Model),
		slog.String("tier", route.Tier),
		slog.String("stop_reason", stopReason),
		slog.Int("input_tokens", front.Usage.InputTokens),
		slog.Int("output_tokens", front.Usage.OutputTokens),
	)

	telemetry.MessagesTotal.WithLabelValues(route.Tier, mode, "ok").Inc()
	recordUsage(route.Tier, front.Usage)
	codec.WriteJSON(w, http.StatusOK, front)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, req *anthropic.MessagesRequest, backReq *openai.ChatCompletionRequest, client *openai.Client, route router.Route, pingInterval time.Duration) {
	ctx := r.Context()

	upstreamCtx, cancel := context.WithCancel(ctx)
	chunks, err := client.StreamChatCompletion(upstreamCtx, backReq)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			h.clientGone(w, r, req, route, "stream", "client disconnected during stream setup")
			return
		}
		h.upstreamFailed(w, r, route, "stream", err)
		return
	}

	sse := newSSEWriter(w)
	if err := sse.open(); err != nil {
		// Without flushing there is no stream; the translator sees the
		// failed sends and cancels upstream.
		h.logger.WarnContext(ctx, "response writer cannot flush",
			slog.String("request_id", server.GetRequestID(ctx)),
			slog.String("error", err.Error()),
		)
	}

	telemetry.StreamsActive.Inc()
	defer telemetry.StreamsActive.Dec()

	tr := &streaming.Translator{
		Model:        req.Model,
		PingInterval: pingInterval,
		Logger:       h.logger,
	}
	res := tr.Run(ctx, chunks, cancel, sse)

	outcome := "ok"
	attrs := []any{
		slog.String("request_id", server.GetRequestID(ctx)),
		slog.String("requested_model", req.Model),
		slog.String("served_model", route.Model),
		slog.String("tier", route.Tier),
		slog.String("outcome", string(res.Outcome)),
		slog.Int("events", res.Events),
	}
	switch res.Outcome {
	case streaming.OutcomeCompleted:
		attrs = append(attrs,
			slog.String("stop_reason", res.StopReason),
			slog.Int("input_tokens", res.Usage.InputTokens),
			slog.Int("output_tokens", res.Usage.OutputTokens),
		)
		h.logger.InfoContext(ctx, "messages stream completed", attrs...)
		recordUsage(route.Tier, res.Usage)
	case streaming.OutcomeFailed:
		apiErr := domain.Classify(res.Err)
		outcome = string(apiErr.Type)
		server.AddError(ctx, apiErr)
		h.logger.ErrorContext(ctx, "messages stream failed", append(attrs, slog.String("error", apiErr.Error()))...)
	case streaming.OutcomeDisconnected:
		outcome = "disconnected"
		h.logger.InfoContext(ctx, "messages stream client disconnected", attrs...)
	}
	telemetry.MessagesTotal.WithLabelValues(route.Tier, "stream", outcome).Inc()
}

func (h *Handler) HandleCountTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req anthropic.CountTokensRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg := h.config()
	route := router.Resolve(cfg, req.Model)

	// The count covers the prompt only; max_tokens does not affect it.
	limits := codec.Limits{MinTokens: cfg.Limits.MinTokens, MaxTokens: cfg.Limits.MaxTokens}
	backReq := codec.ToBackRequest(&anthropic.MessagesRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		System:    req.System,
		Tools:     req.Tools,
		MaxTokens: limits.MinTokens,
	}, route.Model, limits)

	n := h.counter.CountTokens(ctx, backReq)

	server.AddLogField(ctx, "requested_model", req.Model)
	server.AddLogField(ctx, "served_model", route.Model)
	h.logger.DebugContext(ctx, "counted tokens",
		slog.String("request_id", server.GetRequestID(ctx)),
		slog.String("served_model", route.Model),
		slog.Int("input_tokens", n),
	)

	codec.WriteJSON(w, http.StatusOK, anthropic.CountTokensResponse{InputTokens: n})
}

// decode reads and validates the body into v. On failure it has already
// written the 400 (or 413) response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		server.AddError(ctx, err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			codec.WriteJSON(w, http.StatusRequestEntityTooLarge,
				anthropic.NewErrorResponse(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)))
			return false
		}
		codec.WriteBadRequest(w, "invalid request body: "+err.Error())
		return false
	}

	if err := h.validate.Struct(v); err != nil {
		server.AddError(ctx, err)
		codec.WriteBadRequest(w, validationMessage(err))
		return false
	}
	return true
}

func (h *Handler) upstreamFailed(w http.ResponseWriter, r *http.Request, route router.Route, mode string, err error) {
	ctx := r.Context()
	apiErr := domain.Classify(err)

	h.logger.ErrorContext(ctx, "upstream call failed",
		slog.String("request_id", server.GetRequestID(ctx)),
		slog.String("tier", route.Tier),
		slog.String("served_model", route.Model),
		slog.String("mode", mode),
		slog.String("error_type", string(apiErr.Type)),
		slog.String("error", apiErr.Error()),
	)
	server.AddError(ctx, apiErr)
	telemetry.MessagesTotal.WithLabelValues(route.Tier, mode, string(apiErr.Type)).Inc()
	codec.WriteError(w, apiErr)
}

// clientGone records a request abandoned by its client. The 499 is for the
// request log only; nobody reads the response.
func (h *Handler) clientGone(w http.ResponseWriter, r *http.Request, req *anthropic.MessagesRequest, route router.Route, mode, msg string) {
	ctx := r.Context()
	h.logger.InfoContext(ctx, msg,
		slog.String("request_id", server.GetRequestID(ctx)),
		slog.String("requested_model", req.Model),
		slog.String("tier", route.Tier),
		slog.String("mode", mode),
	)
	telemetry.MessagesTotal.WithLabelValues(route.Tier, mode, "disconnected").Inc()
	w.WriteHeader(StatusClientClosedRequest)
}

func recordUsage(tier string, usage anthropic.MessagesUsage) {
	telemetry.TokensTotal.WithLabelValues(tier, "input").Add(float64(usage.InputTokens))
	telemetry.TokensTotal.WithLabelValues(tier, "output").Add(float64(usage.OutputTokens))
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage lists failing fields by their JSON path.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request: " + err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}
