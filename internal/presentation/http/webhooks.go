package httppresentation

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appwebhook "github.com/Zhima-Mochi/storefront/internal/application/webhook"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
)

// webhookResponse never carries the secret key.
type webhookResponse struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	AppID         string            `json:"app_id,omitempty"`
	TargetURL     string            `json:"target_url"`
	IsActive      bool              `json:"is_active"`
	HasSecret     bool              `json:"has_secret"`
	Events        []string          `json:"events"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func toWebhookResponse(w *domwebhook.Webhook) webhookResponse {
	out := webhookResponse{
		ID:            w.ID,
		Name:          w.Name,
		AppID:         w.AppID,
		TargetURL:     w.TargetURL,
		IsActive:      w.IsActive,
		HasSecret:     w.SecretKey != "",
		Events:        make([]string, 0, len(w.Events)),
		CustomHeaders: w.CustomHeaders,
		CreatedAt:     w.CreatedAt,
	}
	for _, e := range w.Events {
		out.Events = append(out.Events, string(e))
	}
	return out
}

type createWebhookRequest struct {
	Name          string            `json:"name" validate:"required"`
	AppID         string            `json:"app_id"`
	TargetURL     string            `json:"target_url" validate:"required"`
	SecretKey     string            `json:"secret_key"`
	Events        []string          `json:"events" validate:"required,min=1"`
	CustomHeaders map[string]string `json:"custom_headers"`
	IsActive      *bool             `json:"is_active"`
}

func (h *Handler) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	events := make([]domwebhook.EventType, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, domwebhook.EventType(e))
	}
	hook, err := h.svc.Webhooks.Create(r.Context(), appwebhook.CreateInput{
		Name:          req.Name,
		AppID:         req.AppID,
		TargetURL:     req.TargetURL,
		SecretKey:     req.SecretKey,
		Events:        events,
		CustomHeaders: req.CustomHeaders,
		Inactive:      req.IsActive != nil && !*req.IsActive,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWebhookResponse(hook))
}

func (h *Handler) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.svc.Webhooks.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]webhookResponse, 0, len(hooks))
	for _, hook := range hooks {
		out = append(out, toWebhookResponse(hook))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	hook, err := h.svc.Webhooks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWebhookResponse(hook))
}

func (h *Handler) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Webhooks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type attemptResponse struct {
	ID                 string    `json:"id"`
	TaskID             string    `json:"task_id"`
	DurationMillis     int64     `json:"duration_ms"`
	Response           string    `json:"response,omitempty"`
	ResponseStatusCode int       `json:"response_status_code"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

type deliveryResponse struct {
	ID        string            `json:"id"`
	WebhookID string            `json:"webhook_id"`
	EventType string            `json:"event_type"`
	Status    string            `json:"status"`
	Attempts  []attemptResponse `json:"attempts"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (h *Handler) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.svc.Webhooks.GetDelivery(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	attempts, err := h.svc.Webhooks.ListAttempts(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := deliveryResponse{
		ID:        d.ID,
		WebhookID: d.WebhookID,
		EventType: string(d.EventType),
		Status:    string(d.Status),
		Attempts:  make([]attemptResponse, 0, len(attempts)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, a := range attempts {
		out.Attempts = append(out.Attempts, attemptResponse{
			ID:                 a.ID,
			TaskID:             a.TaskID,
			DurationMillis:     a.Duration.Milliseconds(),
			Response:           a.Response,
			ResponseStatusCode: a.ResponseStatusCode,
			Status:             string(a.Status),
			CreatedAt:          a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRedeliver(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Webhooks.Redeliver(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
