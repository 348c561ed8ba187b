package codec

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/messages-bridge/internal/api/anthropic"
	"github.com/tjfontaine/messages-bridge/internal/domain"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("failed to write response body", slog.String("error", err.Error()))
	}
}

// WriteError writes the Messages error payload for err, using the classified
// status and canonical message.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := domain.Classify(err)
	WriteJSON(w, apiErr.HTTPStatusCode(), anthropic.NewErrorResponse(apiErr.Message))
}

// WriteBadRequest writes a 400 with message as-is. Used for request
// validation, which never reaches the upstream.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, anthropic.NewErrorResponse(message))
}
