package api

import (
	"encoding/json"
	"net/http"

	"github.com/clinicdesk/clinicbot/internal/bot"
)

// webhookHandler feeds one normalized chat event through the conversation
// engine and returns the replies in the response body. The transport gateway
// renders them; the engine never fails the HTTP exchange.
func webhookHandler(engine *bot.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev bot.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if ev.ChatID == 0 {
			writeError(w, http.StatusBadRequest, "missing_chat_id", "chat_id is required")
			return
		}

		replies := engine.Handle(r.Context(), ev)
		writeJSON(w, http.StatusOK, WebhookResponse{Replies: replies})
	}
}
