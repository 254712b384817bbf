package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON sends v with status. Account data is never cached.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	// Status goes out before encoding; a failed encode leaves a partial body.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode JSON response", "error", err)
	}
}

// writeError sends {"error": message} tagged with the request id assigned by
// the RequestID middleware, so a client report can be matched to the log line.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, ErrorResponse{
		Error:     message,
		RequestID: w.Header().Get(requestIDHeader),
	})
}
