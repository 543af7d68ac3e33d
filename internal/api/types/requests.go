// Package types defines API request and response types.
package types

// CreateWebhookRequest registers a webhook. The id comes from the
// caller: event producers address webhooks by id, so the registrant
// and the producers must agree on it up front. The delivery mode is
// fixed for the webhook's lifetime.
type CreateWebhookRequest struct {
	ID     *int64 `json:"id" validate:"required,min=0"`
	URL    string `json:"url" validate:"required,url"`
	Label  string `json:"label" validate:"omitempty,max=255"`
	Secret string `json:"secret" validate:"omitempty,max=255"`
	Mode   string `json:"delivery_mode" validate:"required,oneof=single-at-most-once single-at-least-once batched-at-most-once batched-at-least-once"`
}

// UpdateWebhookRequest carries the mutable webhook fields. Absent
// fields are left unchanged; the delivery mode cannot be changed.
type UpdateWebhookRequest struct {
	URL    *string `json:"url" validate:"omitempty,url"`
	Label  *string `json:"label" validate:"omitempty,max=255"`
	Secret *string `json:"secret" validate:"omitempty,max=255"`
}

// HeaderPayload is one header to deliver with an event. Headers are an
// ordered list and may repeat names.
type HeaderPayload struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// CreateEventRequest injects an event for delivery. When event_id is
// absent the server assigns the next id in the webhook's sequence.
// Content is opaque to the server.
type CreateEventRequest struct {
	WebhookID *int64          `json:"webhook_id" validate:"required,min=0"`
	EventID   *int64          `json:"event_id" validate:"omitempty,min=0"`
	Content   string          `json:"content"`
	Headers   []HeaderPayload `json:"headers" validate:"omitempty,dive"`
}

// DefaultLimit is the default number of items per page.
const DefaultLimit = 20

// DefaultMaxLimit is the maximum allowed limit.
const DefaultMaxLimit = 100
