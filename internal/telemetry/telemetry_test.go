package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "debug", want: slog.LevelDebug},
		{input: "WARNING", want: slog.LevelWarn},
		{input: "critical", want: slog.LevelError},
		{input: "INFO  # default", want: slog.LevelInfo},
		{input: "loud", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLoggerAddsTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, slog.LevelInfo, "json")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.InfoContext(ctx, "hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if record["trace_id"] != traceID.String() {
		t.Errorf("trace_id = %v, want %v", record["trace_id"], traceID.String())
	}
	if record["span_id"] != spanID.String() {
		t.Errorf("span_id = %v, want %v", record["span_id"], spanID.String())
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger(&bytes.Buffer{}, slog.LevelInfo, "xml"); err == nil {
		t.Error("NewLogger() with format xml should fail")
	}
}

func TestInitTracerNone(t *testing.T) {
	shutdown, err := InitTracer("bridge-test", ExporterNone, slog.Default())
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}

	if _, err := InitTracer("bridge-test", "zipkin", slog.Default()); err == nil {
		t.Error("InitTracer() with an unknown exporter should fail")
	}
}

func TestMetricsRegistered(t *testing.T) {
	MessagesTotal.WithLabelValues("primary", "unary", "ok").Inc()
	UpstreamRequestsTotal.WithLabelValues("primary", "unary", "ok").Inc()
	UpstreamRetriesTotal.WithLabelValues("primary", "timeout").Inc()
	UpstreamDuration.WithLabelValues("primary", "unary").Observe(0.2)
	StreamEventsTotal.WithLabelValues("ping").Inc()
	TokensTotal.WithLabelValues("primary", "input").Add(3)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"bridge_messages_total":            false,
		"bridge_upstream_requests_total":   false,
		"bridge_upstream_retries_total":    false,
		"bridge_upstream_duration_seconds": false,
		"bridge_streams_active":            false,
		"bridge_stream_events_total":       false,
		"bridge_tokens_total":              false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %s not registered", name)
		}
	}

	m := &dto.Metric{}
	c, err := TokensTotal.GetMetricWithLabelValues("primary", "input")
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	if got := m.GetCounter().GetValue(); got < 3 {
		t.Errorf("bridge_tokens_total = %v, want >= 3", got)
	}
}
