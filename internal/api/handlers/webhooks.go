package handlers

import (
	"errors"
	"net/http"

	"github.com/bargom/hookrelay/internal/api/types"
	"github.com/bargom/hookrelay/internal/webhook"
	"github.com/bargom/hookrelay/internal/webhook/repository"
)

// CreateWebhook handles POST /api/v1/webhooks. New webhooks start
// enabled.
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req types.CreateWebhookRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.respondValidationError(w, err)
		return
	}

	wh := &webhook.Webhook{
		ID:     webhook.ID(*req.ID),
		URL:    req.URL,
		Label:  req.Label,
		Secret: req.Secret,
		Status: webhook.Enabled(),
		Mode:   webhook.DeliveryMode(req.Mode),
	}

	if err := h.webhooks.CreateWebhook(r.Context(), wh); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			h.respondError(w, http.StatusConflict, "webhook id already registered")
			return
		}
		h.log.ErrorContext(r.Context(), "creating webhook", "webhook_id", wh.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	// Re-read so the response carries the stored timestamps.
	created, err := h.webhooks.GetWebhook(r.Context(), wh.ID)
	if err != nil {
		h.respondJSON(w, http.StatusCreated, types.WebhookFromModel(wh))
		return
	}
	h.respondJSON(w, http.StatusCreated, types.WebhookFromModel(created))
}

// GetWebhook handles GET /api/v1/webhooks/{id}.
func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.webhookID(w, r)
	if !ok {
		return
	}

	wh, err := h.webhooks.GetWebhook(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		h.log.ErrorContext(r.Context(), "getting webhook", "webhook_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get webhook")
		return
	}

	h.respondJSON(w, http.StatusOK, types.WebhookFromModel(wh))
}

// ListWebhooks handles GET /api/v1/webhooks. An optional state query
// parameter narrows the list to one lifecycle state.
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)
	filter := repository.Filter{Limit: limit, Offset: offset}

	if s := r.URL.Query().Get("state"); s != "" {
		state := webhook.State(s)
		if !state.Valid() {
			h.respondError(w, http.StatusBadRequest, "unknown state filter")
			return
		}
		filter.State = &state
	}

	webhooks, err := h.webhooks.ListWebhooks(r.Context(), filter)
	if err != nil {
		h.log.ErrorContext(r.Context(), "listing webhooks", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}

	resp := types.NewListResponse(types.WebhooksFromModels(webhooks), limit, offset)
	if filter.State == nil {
		if total, err := h.webhooks.CountWebhooks(r.Context()); err == nil {
			resp = resp.WithTotal(total)
		}
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// UpdateWebhook handles PATCH /api/v1/webhooks/{id}. Only url, label
// and secret can change; the delivery mode is fixed at registration.
func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.webhookID(w, r)
	if !ok {
		return
	}

	var req types.UpdateWebhookRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.respondValidationError(w, err)
		return
	}
	if req.URL == nil && req.Label == nil && req.Secret == nil {
		h.respondError(w, http.StatusBadRequest, "no updatable fields provided")
		return
	}
	// omitempty skips the url check for a present-but-empty field.
	if req.URL != nil && *req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url must not be empty")
		return
	}

	update := repository.Update{URL: req.URL, Label: req.Label, Secret: req.Secret}
	if err := h.webhooks.UpdateWebhook(r.Context(), id, update); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		h.log.ErrorContext(r.Context(), "updating webhook", "webhook_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}

	h.respondWithWebhook(w, r, id)
}

// EnableWebhook handles POST /api/v1/webhooks/{id}/enable. The status
// write reaches the engine through the repository's update
// subscription; an unavailable or retrying webhook returns to
// rotation.
func (h *Handler) EnableWebhook(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, webhook.Enabled())
}

// DisableWebhook handles POST /api/v1/webhooks/{id}/disable. Events
// addressed to a disabled webhook are dropped without delivery.
func (h *Handler) DisableWebhook(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, webhook.Disabled())
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, status webhook.Status) {
	id, ok := h.webhookID(w, r)
	if !ok {
		return
	}

	if err := h.webhooks.SetWebhookStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		h.log.ErrorContext(r.Context(), "setting webhook status",
			"webhook_id", id, "state", status.State, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to set webhook status")
		return
	}

	h.respondWithWebhook(w, r, id)
}

// DeleteWebhook handles DELETE /api/v1/webhooks/{id}.
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.webhookID(w, r)
	if !ok {
		return
	}

	if err := h.webhooks.DeleteWebhook(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		h.log.ErrorContext(r.Context(), "deleting webhook", "webhook_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}

	// The record is gone; a leftover retrying or unavailable entry must
	// not greet a future webhook under the same id.
	if h.state != nil {
		if err := h.state.Forget(r.Context(), id); err != nil {
			h.log.WarnContext(r.Context(), "clearing webhook state", "webhook_id", id, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondWithWebhook answers 200 with the current stored record.
func (h *Handler) respondWithWebhook(w http.ResponseWriter, r *http.Request, id webhook.ID) {
	wh, err := h.webhooks.GetWebhook(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get webhook")
		return
	}
	h.respondJSON(w, http.StatusOK, types.WebhookFromModel(wh))
}
