package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/bargom/hookrelay/internal/webhook"
)

// MemoryRepo is an in-memory state store. Used by tests and by the
// memory storage driver; offers no durability across restarts.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries map[webhook.ID]webhook.Status
}

// NewMemoryRepo creates an empty in-memory state store.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{entries: make(map[webhook.ID]webhook.Status)}
}

// Get returns the stored status for the webhook, or ErrNotFound.
func (r *MemoryRepo) Get(ctx context.Context, id webhook.ID) (webhook.Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, exists := r.entries[id]
	if !exists {
		return webhook.Status{}, fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	return status, nil
}

// Set stores the status for the webhook.
func (r *MemoryRepo) Set(ctx context.Context, id webhook.ID, status webhook.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = status
	return nil
}

// Delete removes the webhook's entry.
func (r *MemoryRepo) Delete(ctx context.Context, id webhook.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return nil
}

// List returns all stored entries.
func (r *MemoryRepo) List(ctx context.Context) (map[webhook.ID]webhook.Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[webhook.ID]webhook.Status, len(r.entries))
	for id, status := range r.entries {
		out[id] = status
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (r *MemoryRepo) Close() error { return nil }

// Ping reports the memory store as always reachable.
func (r *MemoryRepo) Ping(ctx context.Context) error { return nil }
