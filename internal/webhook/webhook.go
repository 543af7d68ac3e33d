// Package webhook defines the webhook domain model: registered HTTP
// callbacks, their lifecycle status, and the delivery contract chosen
// for each of them.
package webhook

import (
	"fmt"
	"time"
)

// ID identifies a webhook. Non-negative.
type ID int64

// State is the lifecycle state of a webhook.
type State string

// Webhook lifecycle states.
const (
	// StateEnabled means the webhook accepts deliveries.
	StateEnabled State = "enabled"

	// StateDisabled means the operator has switched the webhook off;
	// events addressed to it are dropped without side effects.
	StateDisabled State = "disabled"

	// StateRetrying means deliveries are failing and a retry queue is
	// active for the webhook. New events join that queue.
	StateRetrying State = "retrying"

	// StateUnavailable means the webhook failed continuously past the
	// failure horizon and was taken out of rotation. Only an operator
	// re-enable brings it back.
	StateUnavailable State = "unavailable"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateEnabled, StateDisabled, StateRetrying, StateUnavailable:
		return true
	}
	return false
}

// Status pairs a state with the instant it was entered. Since is
// meaningful for StateRetrying and StateUnavailable and zero otherwise.
type Status struct {
	State State     `json:"state"`
	Since time.Time `json:"since,omitempty"`
}

// Enabled returns the enabled status.
func Enabled() Status { return Status{State: StateEnabled} }

// Disabled returns the disabled status.
func Disabled() Status { return Status{State: StateDisabled} }

// Retrying returns a retrying status entered at the given instant.
func Retrying(since time.Time) Status { return Status{State: StateRetrying, Since: since} }

// Unavailable returns an unavailable status entered at the given instant.
func Unavailable(since time.Time) Status { return Status{State: StateUnavailable, Since: since} }

// String renders the status for logs.
func (s Status) String() string {
	if s.Since.IsZero() {
		return string(s.State)
	}
	return fmt.Sprintf("%s(since=%s)", s.State, s.Since.UTC().Format(time.RFC3339))
}

// DeliveryMode is the four-way delivery contract of a webhook:
// whether events are sent one per request or batched, and whether a
// failed delivery is retried (at-least-once) or abandoned
// (at-most-once). Immutable for the webhook's lifetime.
type DeliveryMode string

const (
	SingleAtMostOnce   DeliveryMode = "single-at-most-once"
	SingleAtLeastOnce  DeliveryMode = "single-at-least-once"
	BatchedAtMostOnce  DeliveryMode = "batched-at-most-once"
	BatchedAtLeastOnce DeliveryMode = "batched-at-least-once"
)

// Valid reports whether m is one of the four delivery modes.
func (m DeliveryMode) Valid() bool {
	switch m {
	case SingleAtMostOnce, SingleAtLeastOnce, BatchedAtMostOnce, BatchedAtLeastOnce:
		return true
	}
	return false
}

// Batched reports whether events for this mode accumulate into batches.
func (m DeliveryMode) Batched() bool {
	return m == BatchedAtMostOnce || m == BatchedAtLeastOnce
}

// AtLeastOnce reports whether failed deliveries are retried.
func (m DeliveryMode) AtLeastOnce() bool {
	return m == SingleAtLeastOnce || m == BatchedAtLeastOnce
}

// Webhook is a registered HTTP callback.
type Webhook struct {
	ID        ID           `json:"id"`
	URL       string       `json:"url"`
	Label     string       `json:"label,omitempty"`
	Status    Status       `json:"status"`
	Mode      DeliveryMode `json:"delivery_mode"`
	Secret    string       `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// StatusUpdate is a status change notification for one webhook,
// published to update subscribers when anything writes a status.
type StatusUpdate struct {
	WebhookID ID     `json:"webhook_id"`
	Status    Status `json:"status"`
}

// Validate checks the structural invariants of a webhook record.
func (w *Webhook) Validate() error {
	if w.ID < 0 {
		return fmt.Errorf("webhook id must be non-negative, got %d", w.ID)
	}
	if w.URL == "" {
		return fmt.Errorf("webhook %d: url must not be empty", w.ID)
	}
	if !w.Mode.Valid() {
		return fmt.Errorf("webhook %d: unknown delivery mode %q", w.ID, w.Mode)
	}
	if !w.Status.State.Valid() {
		return fmt.Errorf("webhook %d: unknown state %q", w.ID, w.Status.State)
	}
	return nil
}
