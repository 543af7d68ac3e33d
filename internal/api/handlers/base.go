// Package handlers contains the HTTP request handlers of the
// management API: webhook registration, event injection, and the
// operational read endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bargom/hookrelay/internal/api/types"
	eventrepo "github.com/bargom/hookrelay/internal/event/repository"
	"github.com/bargom/hookrelay/internal/webhook"
	webhookrepo "github.com/bargom/hookrelay/internal/webhook/repository"
)

// StateForgetter clears the engine's stored status for a webhook.
// Satisfied by the state cache; wired so a deleted webhook id leaves
// no retrying or unavailable entry behind for a later re-registration.
type StateForgetter interface {
	Forget(ctx context.Context, id webhook.ID) error
}

// Handler provides the HTTP handlers of the management API.
type Handler struct {
	webhooks webhookrepo.Repository
	events   eventrepo.Repository
	ring     *ErrorRing
	state    StateForgetter
	log      *slog.Logger
	validate *validator.Validate
}

// Option adjusts a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithErrorRing attaches the ring served by ListErrors. Without one
// the endpoint reports an empty list.
func WithErrorRing(ring *ErrorRing) Option {
	return func(h *Handler) { h.ring = ring }
}

// WithStateCleanup attaches the state store cleanup run when a webhook
// is deleted.
func WithStateCleanup(state StateForgetter) Option {
	return func(h *Handler) { h.state = state }
}

// New creates a Handler over the webhook and event repositories.
func New(webhooks webhookrepo.Repository, events eventrepo.Repository, opts ...Option) *Handler {
	h := &Handler{
		webhooks: webhooks,
		events:   events,
		log:      slog.Default(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// respondJSON writes a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// The status line is already out; nothing to do but note it.
			h.log.Warn("encoding response", "error", err)
		}
	}
}

// respondError writes a JSON error response with the given status code.
func (h *Handler) respondError(w http.ResponseWriter, code int, message string) {
	h.respondJSON(w, code, types.ErrorResponse{Error: message})
}

// respondValidationError writes a JSON validation error response.
func (h *Handler) respondValidationError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		details := make(map[string]string)
		for _, e := range validationErrs {
			details[e.Field()] = formatValidationError(e)
		}
		h.respondJSON(w, http.StatusBadRequest, types.ErrorResponse{
			Error:   "validation failed",
			Details: details,
		})
		return
	}
	h.respondError(w, http.StatusBadRequest, "invalid input")
}

// formatValidationError formats a validation error into a human-readable message.
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "is invalid"
	}
}

// decodeJSON decodes a JSON request body into the given value.
func (h *Handler) decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeAndValidate decodes and validates a JSON request.
func (h *Handler) decodeAndValidate(r *http.Request, v any) error {
	if err := h.decodeJSON(r, v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}

// webhookID parses the {id} route parameter. The second return is
// false after an error response has been written.
func (h *Handler) webhookID(w http.ResponseWriter, r *http.Request) (webhook.ID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		h.respondError(w, http.StatusBadRequest, "webhook id must be a non-negative integer")
		return 0, false
	}
	return webhook.ID(id), true
}

// getPaginationParams extracts pagination parameters from the request.
func getPaginationParams(r *http.Request) (limit, offset int) {
	limit = types.DefaultLimit
	offset = 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			if parsed > types.DefaultMaxLimit {
				parsed = types.DefaultMaxLimit
			}
			limit = parsed
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}
