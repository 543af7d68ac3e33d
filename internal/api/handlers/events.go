package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bargom/hookrelay/internal/api/types"
	"github.com/bargom/hookrelay/internal/event"
	"github.com/bargom/hookrelay/internal/event/repository"
	"github.com/bargom/hookrelay/internal/webhook"
	webhookrepo "github.com/bargom/hookrelay/internal/webhook/repository"
)

// CreateEvent handles POST /api/v1/events. The event is stored as New;
// delivery happens asynchronously through the engine's new-event
// subscription, so the response is 202.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req types.CreateEventRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.respondValidationError(w, err)
		return
	}

	whID := webhook.ID(*req.WebhookID)
	if _, err := h.webhooks.GetWebhook(r.Context(), whID); err != nil {
		if errors.Is(err, webhookrepo.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		h.log.ErrorContext(r.Context(), "checking webhook", "webhook_id", whID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to check webhook")
		return
	}

	var evID event.ID
	if req.EventID != nil {
		evID = event.ID(*req.EventID)
	} else {
		next, err := h.events.NextEventID(r.Context(), whID)
		if err != nil {
			h.log.ErrorContext(r.Context(), "assigning event id", "webhook_id", whID, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to assign event id")
			return
		}
		evID = next
	}

	headers := make(event.Headers, 0, len(req.Headers))
	for _, hdr := range req.Headers {
		headers = append(headers, event.Header{Name: hdr.Name, Value: hdr.Value})
	}

	ev := &event.Event{
		Key:     event.Key{EventID: evID, WebhookID: whID},
		Status:  event.StatusNew,
		Content: req.Content,
		Headers: headers,
	}

	if err := h.events.CreateEvent(r.Context(), ev); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			h.respondError(w, http.StatusConflict, "event id already used for this webhook")
			return
		}
		h.log.ErrorContext(r.Context(), "creating event", "webhook_id", whID, "event_id", evID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	stored, err := h.events.GetEvent(r.Context(), ev.Key)
	if err != nil {
		h.respondJSON(w, http.StatusAccepted, types.EventFromModel(ev))
		return
	}
	h.respondJSON(w, http.StatusAccepted, types.EventFromModel(stored))
}

// ListEvents handles GET /api/v1/events. Both query filters are
// optional: status narrows to one delivery status, webhook_id to one
// webhook.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)

	var statuses []event.Status
	if s := r.URL.Query().Get("status"); s != "" {
		status := event.Status(s)
		if !status.Valid() {
			h.respondError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		statuses = []event.Status{status}
	}

	var whID *webhook.ID
	if raw := r.URL.Query().Get("webhook_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			h.respondError(w, http.StatusBadRequest, "webhook_id must be a non-negative integer")
			return
		}
		wid := webhook.ID(id)
		whID = &wid
	}

	// A webhook-only filter pages in the repository; anything involving
	// a status filter fetches by status and pages here.
	if whID != nil && statuses == nil {
		events, err := h.events.ListEventsByWebhook(r.Context(), *whID, limit, offset)
		if err != nil {
			h.log.ErrorContext(r.Context(), "listing events", "webhook_id", *whID, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to list events")
			return
		}
		h.respondJSON(w, http.StatusOK, types.NewListResponse(types.EventsFromModels(events), limit, offset))
		return
	}

	if statuses == nil {
		statuses = []event.Status{
			event.StatusNew, event.StatusDelivering,
			event.StatusDelivered, event.StatusFailed,
		}
	}

	events, err := h.events.GetEventsByStatuses(r.Context(), statuses...)
	if err != nil {
		h.log.ErrorContext(r.Context(), "listing events", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	if whID != nil {
		filtered := events[:0]
		for _, ev := range events {
			if ev.Key.WebhookID == *whID {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	events = paginate(events, limit, offset)
	h.respondJSON(w, http.StatusOK, types.NewListResponse(types.EventsFromModels(events), limit, offset))
}

// GetEventStats handles GET /api/v1/events/stats.
func (h *Handler) GetEventStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.events.CountEventsByStatus(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "counting events", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to count events")
		return
	}

	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	h.respondJSON(w, http.StatusOK, types.EventStatsResponse{Counts: out})
}

// paginate applies limit/offset to an in-memory result set.
func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
