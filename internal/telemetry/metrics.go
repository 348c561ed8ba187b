package telemetry

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets spans typical completion latencies, 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// MessagesTotal counts /v1/messages requests by tier, mode and outcome.
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_messages_total",
			Help: "Messages requests handled",
		},
		[]string{"tier", "mode", "outcome"},
	)

	// UpstreamRequestsTotal counts upstream calls after retries, by outcome
	// ("ok" or an error type).
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_upstream_requests_total",
			Help: "Upstream chat completion calls",
		},
		[]string{"tier", "mode", "outcome"},
	)

	// UpstreamRetriesTotal counts retried upstream attempts by error type.
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_upstream_retries_total",
			Help: "Upstream attempts that were retried",
		},
		[]string{"tier", "error_type"},
	)

	// UpstreamDuration records upstream latency including retries. For streams
	// it covers setup only.
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_upstream_duration_seconds",
			Help:    "Upstream call latency",
			Buckets: LLMBuckets,
		},
		[]string{"tier", "mode"},
	)

	// StreamsActive tracks open SSE responses.
	StreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_streams_active",
			Help: "Active streaming responses",
		},
	)

	// StreamEventsTotal counts SSE events written by event name.
	StreamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_stream_events_total",
			Help: "Stream events emitted",
		},
		[]string{"event"},
	)

	// ConfigReloadsTotal counts configuration snapshots swapped in at runtime.
	ConfigReloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_config_reloads_total",
			Help: "Successful configuration reloads",
		},
	)

	// TokensTotal counts tokens reported by the upstream, by direction.
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_tokens_total",
			Help: "Token usage",
		},
		[]string{"tier", "direction"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		UpstreamRequestsTotal,
		UpstreamRetriesTotal,
		UpstreamDuration,
		StreamsActive,
		StreamEventsTotal,
		TokensTotal,
		ConfigReloadsTotal,
	)
}
