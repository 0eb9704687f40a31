package api

import (
	"encoding/json"
	"net/http"

	"github.com/clinicdesk/clinicbot/internal/bot"
)

// WebhookResponse carries the replies for the transport gateway to render,
// in order, back to the chat that produced the event.
type WebhookResponse struct {
	Replies []bot.Reply `json:"replies"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
