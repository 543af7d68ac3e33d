package types

import (
	"time"

	"github.com/bargom/hookrelay/internal/event"
	"github.com/bargom/hookrelay/internal/webhook"
)

// WebhookResponse represents a webhook in API responses. The secret is
// write-only and never echoed.
type WebhookResponse struct {
	ID        int64      `json:"id"`
	URL       string     `json:"url"`
	Label     string     `json:"label,omitempty"`
	State     string     `json:"state"`
	Since     *time.Time `json:"since,omitempty"`
	Mode      string     `json:"delivery_mode"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// WebhookFromModel converts a domain webhook to an API response.
func WebhookFromModel(w *webhook.Webhook) *WebhookResponse {
	resp := &WebhookResponse{
		ID:        int64(w.ID),
		URL:       w.URL,
		Label:     w.Label,
		State:     string(w.Status.State),
		Mode:      string(w.Mode),
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	if !w.Status.Since.IsZero() {
		since := w.Status.Since
		resp.Since = &since
	}
	return resp
}

// WebhooksFromModels converts a slice of domain webhooks to API responses.
func WebhooksFromModels(webhooks []webhook.Webhook) []*WebhookResponse {
	responses := make([]*WebhookResponse, len(webhooks))
	for i := range webhooks {
		responses[i] = WebhookFromModel(&webhooks[i])
	}
	return responses
}

// EventResponse represents an event in API responses.
type EventResponse struct {
	WebhookID       int64         `json:"webhook_id"`
	EventID         int64         `json:"event_id"`
	Status          string        `json:"status"`
	Content         string        `json:"content"`
	Headers         event.Headers `json:"headers,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	StatusChangedAt time.Time     `json:"status_changed_at"`
}

// EventFromModel converts a domain event to an API response.
func EventFromModel(e *event.Event) *EventResponse {
	return &EventResponse{
		WebhookID:       int64(e.Key.WebhookID),
		EventID:         int64(e.Key.EventID),
		Status:          string(e.Status),
		Content:         e.Content,
		Headers:         e.Headers.Clone(),
		CreatedAt:       e.CreatedAt,
		StatusChangedAt: e.StatusChangedAt,
	}
}

// EventsFromModels converts a slice of domain events to API responses.
func EventsFromModels(events []event.Event) []*EventResponse {
	responses := make([]*EventResponse, len(events))
	for i := range events {
		responses[i] = EventFromModel(&events[i])
	}
	return responses
}

// EventStatsResponse reports the number of events per delivery status.
type EventStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// ListResponse represents a paginated list response.
type ListResponse[T any] struct {
	Data   []T `json:"data"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total,omitempty"`
}

// NewListResponse creates a new list response.
func NewListResponse[T any](data []T, limit, offset int) *ListResponse[T] {
	return &ListResponse[T]{
		Data:   data,
		Limit:  limit,
		Offset: offset,
	}
}

// WithTotal sets the total item count on the response.
func (l *ListResponse[T]) WithTotal(total int) *ListResponse[T] {
	l.Total = total
	return l
}
