package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bargom/hookrelay/internal/webhook"
)

// StatusMirror receives engine status transitions so that the
// authoritative webhook record (and through it the management API and
// update subscribers) reflects them. Satisfied by the webhook
// repository.
type StatusMirror interface {
	SetWebhookStatus(ctx context.Context, id webhook.ID, status webhook.Status) error
}

// Cache is the engine's in-memory view of webhook statuses, written
// through to the state store. The store, not the webhook record, is
// authoritative for the engine: a retrying-since timestamp read back
// after a restart decides how much of the failure horizon is already
// spent.
type Cache struct {
	mu       sync.RWMutex
	statuses map[webhook.ID]webhook.Status

	store  Repo
	mirror StatusMirror
}

// NewCache creates a cache over the given store. The mirror may be nil
// when engine transitions need not reach the webhook records.
func NewCache(store Repo, mirror StatusMirror) *Cache {
	return &Cache{
		statuses: make(map[webhook.ID]webhook.Status),
		store:    store,
		mirror:   mirror,
	}
}

// Load primes the cache from the store. Called once before the engine
// starts routing so that horizons survive restarts.
func (c *Cache) Load(ctx context.Context) error {
	entries, err := c.store.List(ctx)
	if err != nil {
		return fmt.Errorf("loading state entries: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, status := range entries {
		c.statuses[id] = status
	}
	return nil
}

// Resolve returns the effective status of the webhook: the cached
// entry if present, else the stored entry, else the status on the
// record itself. Resolved statuses are cached.
func (c *Cache) Resolve(ctx context.Context, w *webhook.Webhook) (webhook.Status, error) {
	c.mu.RLock()
	status, hit := c.statuses[w.ID]
	c.mu.RUnlock()
	if hit {
		return status, nil
	}

	status, err := c.store.Get(ctx, w.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return webhook.Status{}, err
		}
		status = w.Status
	}

	c.mu.Lock()
	c.statuses[w.ID] = status
	c.mu.Unlock()
	return status, nil
}

// SetStatus records an engine transition: written through to the store
// first, then mirrored to the webhook record. Entries return to the
// store only while the webhook is off the happy path; an enabled write
// removes the entry.
func (c *Cache) SetStatus(ctx context.Context, id webhook.ID, status webhook.Status) error {
	if err := c.writeStore(ctx, id, status); err != nil {
		return err
	}

	c.mu.Lock()
	c.statuses[id] = status
	c.mu.Unlock()

	if c.mirror == nil {
		return nil
	}
	if err := c.mirror.SetWebhookStatus(ctx, id, status); err != nil {
		return fmt.Errorf("mirroring status: %w", err)
	}
	return nil
}

// Observe records a status written elsewhere, typically by an operator
// through the management API. The store is kept consistent but the
// webhook record is not rewritten.
func (c *Cache) Observe(ctx context.Context, id webhook.ID, status webhook.Status) error {
	if err := c.writeStore(ctx, id, status); err != nil {
		return err
	}

	c.mu.Lock()
	c.statuses[id] = status
	c.mu.Unlock()
	return nil
}

// Matches reports whether the cached status equals the given one. The
// engine uses it to recognize echoes of its own mirrored writes on the
// update subscription.
func (c *Cache) Matches(id webhook.ID, status webhook.Status) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, hit := c.statuses[id]
	return hit && cached.State == status.State && cached.Since.Equal(status.Since)
}

// Forget drops the webhook from cache and store. Called when the
// webhook is deleted.
func (c *Cache) Forget(ctx context.Context, id webhook.ID) error {
	c.mu.Lock()
	delete(c.statuses, id)
	c.mu.Unlock()

	return c.store.Delete(ctx, id)
}

func (c *Cache) writeStore(ctx context.Context, id webhook.ID, status webhook.Status) error {
	if status.State == webhook.StateEnabled {
		return c.store.Delete(ctx, id)
	}
	return c.store.Set(ctx, id, status)
}
