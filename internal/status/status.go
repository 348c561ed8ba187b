// Package status serves the service's own endpoints: the banner, health,
// runtime stats, upstream connection probes and prometheus metrics.
package status

import (
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/messages-bridge/internal/codec"
	"github.com/tjfontaine/messages-bridge/internal/config"
)

// Banner is the message returned by GET /.
const Banner = "Anthropic Messages to OpenAI bridge v1.0.0"

type Handler struct {
	config    func() *config.Config
	prober    *Prober
	startTime time.Time
	now       func() time.Time
}

// NewHandler creates the status endpoints. snapshot is usually
// (*config.Store).Current.
func NewHandler(snapshot func() *config.Config, httpClient *http.Client, logger *slog.Logger) *Handler {
	return &Handler{
		config:    snapshot,
		prober:    NewProber(httpClient, logger),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Register mounts the status routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	r.Get("/test-connection", h.handleTestConnection)
	r.Get("/stats", h.handleStats)
	r.Handle("/metrics", promhttp.Handler())
}

type HealthResponse struct {
	Status                  string `json:"status"`
	Timestamp               string `json:"timestamp"`
	BigModelAPIConfigured   bool   `json:"big_model_api_configured"`
	SmallModelAPIConfigured bool   `json:"small_model_api_configured"`
	BigModelAPIKeyValid     bool   `json:"big_model_api_key_valid"`
	SmallModelAPIKeyValid   bool   `json:"small_model_api_key_valid"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := h.config()
	codec.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:                  "healthy",
		Timestamp:               h.now().Format(time.RFC3339),
		BigModelAPIConfigured:   cfg.Primary.APIKey != "",
		SmallModelAPIConfigured: cfg.Secondary.APIKey != "",
		BigModelAPIKeyValid:     KeyLooksValid(cfg.Primary.APIKey),
		SmallModelAPIKeyValid:   KeyLooksValid(cfg.Secondary.APIKey),
	})
}

// KeyLooksValid is a local check only: the key is present and is not an
// unresolved ${VAR} reference or padded with whitespace.
func KeyLooksValid(key string) bool {
	return key != "" && !strings.Contains(key, "${") && strings.TrimSpace(key) == key
}

type RootResponse struct {
	Message   string            `json:"message"`
	Status    string            `json:"status"`
	Config    RootConfig        `json:"config"`
	Endpoints map[string]string `json:"endpoints"`
}

type RootConfig struct {
	MaxTokensLimit int         `json:"max_tokens_limit"`
	MinTokensLimit int         `json:"min_tokens_limit"`
	BigModel       TierSummary `json:"big_model"`
	SmallModel     TierSummary `json:"small_model"`
}

// TierSummary describes a tier without its credentials.
type TierSummary struct {
	Provider         string `json:"provider"`
	Name             string `json:"name"`
	BaseURL          string `json:"base_url"`
	APIKeyConfigured bool   `json:"api_key_configured"`
}

func summarize(tc config.TierConfig) TierSummary {
	return TierSummary{
		Provider:         tc.Provider,
		Name:             tc.Model,
		BaseURL:          tc.BaseURL,
		APIKeyConfigured: tc.APIKey != "",
	}
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	cfg := h.config()
	codec.WriteJSON(w, http.StatusOK, RootResponse{
		Message: Banner,
		Status:  "running",
		Config: RootConfig{
			MaxTokensLimit: cfg.Limits.MaxTokens,
			MinTokensLimit: cfg.Limits.MinTokens,
			BigModel:       summarize(cfg.Primary),
			SmallModel:     summarize(cfg.Secondary),
		},
		Endpoints: map[string]string{
			"messages":        "/v1/messages",
			"count_tokens":    "/v1/messages/count_tokens",
			"health":          "/health",
			"test_connection": "/test-connection",
			"stats":           "/stats",
			"metrics":         "/metrics",
		},
	})
}

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	Memory       MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	codec.WriteJSON(w, http.StatusOK, StatsResponse{
		Uptime:       h.now().Sub(h.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	})
}

func (h *Handler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, http.StatusOK, h.prober.ProbeAll(r.Context(), h.config()))
}
