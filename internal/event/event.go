// Package event defines webhook delivery events: opaque payloads
// addressed to a single webhook, with an ordered header list and a
// delivery status that moves New → Delivering → Delivered/Failed.
package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/bargom/hookrelay/internal/webhook"
)

// ID identifies an event within its webhook. Non-negative.
type ID int64

// Key identifies an event globally: the (event, webhook) pair.
type Key struct {
	EventID   ID         `json:"event_id"`
	WebhookID webhook.ID `json:"webhook_id"`
}

// String renders the key as "webhookID/eventID" for logs and notify payloads.
func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.WebhookID, k.EventID)
}

// Status is the delivery status of an event.
type Status string

const (
	// StatusNew marks an event that has not entered delivery yet.
	StatusNew Status = "new"

	// StatusDelivering marks an event with an in-flight HTTP attempt.
	// Events found in this status at startup are crash-recovered.
	StatusDelivering Status = "delivering"

	// StatusDelivered is terminal: the endpoint acknowledged with 2xx.
	StatusDelivered Status = "delivered"

	// StatusFailed marks a delivery attempt that did not succeed. Under
	// at-least-once semantics the event re-enters delivery; under
	// at-most-once it is terminal.
	StatusFailed Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusDelivering, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s, other than
// the Failed → Delivering retry edge.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// ValidTransition reports whether from → to is an allowed status edge.
// Same-status writes are rejected; repeats are not idempotent.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusNew:
		return to == StatusDelivering
	case StatusDelivering:
		return to == StatusDelivered || to == StatusFailed
	case StatusFailed:
		return to == StatusDelivering
	}
	return false
}

// InvalidTransitionError reports a status write refused by the
// transition table.
type InvalidTransitionError struct {
	Key  Key
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s: invalid status transition %s -> %s", e.Key, e.From, e.To)
}

// Header is a single name/value pair. Events carry headers as an
// ordered list that may repeat names; http.Header would lose both
// properties.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered header list.
type Headers []Header

// Get returns the first value whose name matches case-insensitively,
// or "" when absent.
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// Clone returns an independent copy of the header list.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// Event is a delivery request: opaque content addressed to one webhook.
// Content is never inspected or transformed by the engine.
type Event struct {
	Key             Key       `json:"key"`
	Status          Status    `json:"status"`
	Content         string    `json:"content"`
	Headers         Headers   `json:"headers,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	StatusChangedAt time.Time `json:"status_changed_at"`
}

// Validate checks the structural invariants of an event record.
func (e *Event) Validate() error {
	if e.Key.EventID < 0 {
		return fmt.Errorf("event id must be non-negative, got %d", e.Key.EventID)
	}
	if e.Key.WebhookID < 0 {
		return fmt.Errorf("event %s: webhook id must be non-negative", e.Key)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("event %s: unknown status %q", e.Key, e.Status)
	}
	return nil
}
