// Package state persists the dispatch engine's webhook status
// projection: which webhooks are retrying or unavailable, and since
// when. The engine reloads it at startup so failure horizons survive
// restarts. Backends: memory, redis, mongodb.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/bargom/hookrelay/internal/webhook"
)

// ErrNotFound is returned when the store holds no entry for a webhook.
var ErrNotFound = errors.New("no state entry")

// Repo is a durable status store keyed by webhook id. Writes are
// last-write-wins; the entry for a webhook is removed once it returns
// to the enabled state.
type Repo interface {
	// Get returns the stored status for the webhook, or ErrNotFound.
	Get(ctx context.Context, id webhook.ID) (webhook.Status, error)

	// Set stores the status for the webhook.
	Set(ctx context.Context, id webhook.ID, status webhook.Status) error

	// Delete removes the webhook's entry. Removing a missing entry is
	// not an error.
	Delete(ctx context.Context, id webhook.ID) error

	// List returns all stored entries.
	List(ctx context.Context) (map[webhook.ID]webhook.Status, error)

	// Close releases the backing connection.
	Close() error
}

// Config selects and configures a state store backend.
type Config struct {
	// Store is the backend type: "memory", "redis" or "mongo".
	Store string

	// Redis configuration.
	RedisURL string
	RedisKey string // hash key, defaults to "hookrelay:webhook_state"

	// Mongo configuration.
	MongoURI        string
	MongoDatabase   string // defaults to "hookrelay"
	MongoCollection string // defaults to "webhook_state"
}

// New creates a state store for the configured backend.
func New(ctx context.Context, cfg Config) (Repo, error) {
	switch cfg.Store {
	case "redis":
		return NewRedisRepo(cfg)
	case "mongo":
		return NewMongoRepo(ctx, cfg)
	case "memory", "":
		return NewMemoryRepo(), nil
	default:
		return nil, fmt.Errorf("unsupported state store %q", cfg.Store)
	}
}
