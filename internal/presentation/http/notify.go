package httppresentation

import (
	"net/http"

	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
)

type notifyRequest struct {
	Event    string         `json:"event" validate:"required"`
	Payload  map[string]any `json:"payload" validate:"required"`
	Channel  string         `json:"channel"`
	PluginID string         `json:"plugin_id"`
}

// handleNotify hands a raw notify event to the active plugins.
func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	event := notify.EventType(req.Event)
	if !event.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown notify event: "+req.Event)
		return
	}
	if err := h.svc.Plugins.Notify(r.Context(), event, notify.Payload(req.Payload), req.Channel, req.PluginID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
