// Package repository provides persistence for webhook registrations.
package repository

import (
	"context"
	"errors"

	"github.com/bargom/hookrelay/internal/webhook"
)

// ErrNotFound is returned when no webhook exists for the given id.
var ErrNotFound = errors.New("webhook not found")

// ErrAlreadyExists is returned when creating a webhook whose id is taken.
var ErrAlreadyExists = errors.New("webhook already exists")

// ErrClosed is returned from operations on a closed repository.
var ErrClosed = errors.New("repository closed")

// Filter narrows ListWebhooks results.
type Filter struct {
	State  *webhook.State
	Limit  int
	Offset int
}

// Update carries the mutable fields of a webhook. The delivery mode is
// fixed at creation and deliberately absent here.
type Update struct {
	URL    *string
	Label  *string
	Secret *string
}

// Repository defines persistence for webhook registrations. The
// dispatch engine consumes the Get/SetStatus/Subscribe subset; the
// management API uses the rest.
type Repository interface {
	// CreateWebhook stores a new webhook. The id must be unused.
	CreateWebhook(ctx context.Context, w *webhook.Webhook) error

	// GetWebhook returns the webhook with the given id, or ErrNotFound.
	GetWebhook(ctx context.Context, id webhook.ID) (*webhook.Webhook, error)

	// ListWebhooks returns webhooks matching the filter, ordered by id.
	ListWebhooks(ctx context.Context, filter Filter) ([]webhook.Webhook, error)

	// CountWebhooks returns the total number of registered webhooks.
	CountWebhooks(ctx context.Context) (int, error)

	// UpdateWebhook applies the non-nil fields of update.
	UpdateWebhook(ctx context.Context, id webhook.ID, update Update) error

	// SetWebhookStatus writes the webhook's status and notifies update
	// subscribers.
	SetWebhookStatus(ctx context.Context, id webhook.ID, status webhook.Status) error

	// DeleteWebhook removes the webhook.
	DeleteWebhook(ctx context.Context, id webhook.ID) error

	// SubscribeToWebhookUpdates returns a channel of status changes,
	// beginning with changes made after the call. The subscription ends
	// when ctx is cancelled; the channel is then closed.
	SubscribeToWebhookUpdates(ctx context.Context) (<-chan webhook.StatusUpdate, error)
}
