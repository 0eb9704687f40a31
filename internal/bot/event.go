// Package bot implements the per-user conversation engine: a persistent
// state machine that routes normalized chat events to step handlers and
// produces abstract replies for the transport layer to render.
package bot

import (
	"strings"

	"github.com/google/uuid"
)

// Event is the single normalized inbound type. Exactly how it arrives is the
// transport gateway's business; the engine only sees this.
type Event struct {
	ChatID       int64    `json:"chat_id"`
	Text         string   `json:"text,omitempty"`
	Callback     string   `json:"callback,omitempty"`
	ContactPhone string   `json:"contact_phone,omitempty"`
	File         *FileRef `json:"file,omitempty"`
}

// FileRef is attachment metadata; bytes are fetched through FileFetcher.
type FileRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Reply is an outbound message: text plus either a flat option menu (the
// transport renders at most two labels per row) or inline label/callback
// pairs. Never both.
type Reply struct {
	Text   string         `json:"text"`
	Menu   []string       `json:"menu,omitempty"`
	Inline []InlineButton `json:"inline,omitempty"`
}

type InlineButton struct {
	Label    string `json:"label"`
	Callback string `json:"callback"`
}

func textReply(text string) Reply {
	return Reply{Text: text}
}

func menuReply(text string, options ...string) Reply {
	return Reply{Text: text, Menu: options}
}

// Callback keys for the cancellation flow and admin doctor deletion.
const (
	callbackCancelPrefix        = "cancel_"
	callbackConfirmCancelPrefix = "confirm_cancel_"
	callbackKeepPrefix          = "keep_"
)

func cancelCallback(id uuid.UUID) string        { return callbackCancelPrefix + id.String() }
func confirmCancelCallback(id uuid.UUID) string { return callbackConfirmCancelPrefix + id.String() }
func keepCallback(id uuid.UUID) string          { return callbackKeepPrefix + id.String() }

// parseCallback splits an identifier-prefixed callback key. confirm_cancel_
// must be tried before cancel_ since the latter is its suffix.
func parseCallback(raw string) (action string, id uuid.UUID, ok bool) {
	for _, prefix := range []string{callbackConfirmCancelPrefix, callbackCancelPrefix, callbackKeepPrefix} {
		if strings.HasPrefix(raw, prefix) {
			parsed, err := uuid.Parse(strings.TrimPrefix(raw, prefix))
			if err != nil {
				return "", uuid.Nil, false
			}
			return strings.TrimSuffix(prefix, "_"), parsed, true
		}
	}
	return "", uuid.Nil, false
}
