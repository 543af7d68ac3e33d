// Package repository provides persistence for delivery events.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bargom/hookrelay/internal/event"
	"github.com/bargom/hookrelay/internal/webhook"
)

// ErrNotFound is returned when no event exists for the given key.
var ErrNotFound = errors.New("event not found")

// ErrAlreadyExists is returned when creating an event whose key is taken.
var ErrAlreadyExists = errors.New("event already exists")

// ErrClosed is returned from operations on a closed repository.
var ErrClosed = errors.New("repository closed")

// Repository defines persistence for delivery events. The dispatch
// engine consumes the Create/SetStatus/GetByStatuses/Subscribe subset;
// the management API and maintenance jobs use the rest.
type Repository interface {
	// CreateEvent stores a new event. An empty status defaults to New.
	// Events stored as New are published to new-event subscribers.
	CreateEvent(ctx context.Context, e *event.Event) error

	// GetEvent returns the event with the given key, or ErrNotFound.
	GetEvent(ctx context.Context, key event.Key) (*event.Event, error)

	// SetEventStatus moves the event to status. Writes outside the
	// transition table, including same-status repeats, are refused with
	// an event.InvalidTransitionError.
	SetEventStatus(ctx context.Context, key event.Key, status event.Status) error

	// GetEventsByStatuses returns all events in any of the given
	// statuses, ordered by creation.
	GetEventsByStatuses(ctx context.Context, statuses ...event.Status) ([]event.Event, error)

	// ListEventsByWebhook returns the webhook's events ordered by
	// creation. A limit of 0 means no limit.
	ListEventsByWebhook(ctx context.Context, id webhook.ID, limit, offset int) ([]event.Event, error)

	// CountEventsByStatus returns the number of events per status.
	CountEventsByStatus(ctx context.Context) (map[event.Status]int, error)

	// NextEventID returns the smallest event id greater than every id
	// already stored for the webhook.
	NextEventID(ctx context.Context, id webhook.ID) (event.ID, error)

	// DeleteDeliveredBefore removes delivered events whose last status
	// change precedes cutoff. Returns the number removed.
	DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int, error)

	// RequeueStaleDelivering resets events stuck in Delivering since
	// before cutoff back to New and republishes them to new-event
	// subscribers. This bypasses the transition table; it exists to
	// reclaim events orphaned by a crash mid-dispatch.
	RequeueStaleDelivering(ctx context.Context, cutoff time.Time) (int, error)

	// SubscribeToNewEvents returns a channel of events stored with
	// status New after the call. The subscription ends when ctx is
	// cancelled; the channel is then closed.
	SubscribeToNewEvents(ctx context.Context) (<-chan event.Event, error)
}
