package anthropic

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tjfontaine/messages-bridge/internal/api/anthropic"
	"github.com/tjfontaine/messages-bridge/internal/telemetry"
)

// sseWriter writes Messages stream events as server-sent events and flushes
// after each one. A write or flush error means the client went away.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

// open writes the stream headers.
func (s *sseWriter) open() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.rc.Flush()
}

func (s *sseWriter) Send(event anthropic.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.EventType(), err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.EventType(), data); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		return err
	}
	telemetry.StreamEventsTotal.WithLabelValues(event.EventType()).Inc()
	return nil
}
