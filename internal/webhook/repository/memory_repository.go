package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bargom/hookrelay/internal/webhook"
)

const updateBuffer = 64

// MemoryRepository is an in-memory implementation of Repository.
// Used by tests and by the memory storage driver.
type MemoryRepository struct {
	mu       sync.RWMutex
	webhooks map[webhook.ID]*webhook.Webhook
	subs     map[int]*updateSub
	nextSub  int
	closed   bool
}

type updateSub struct {
	ch   chan webhook.StatusUpdate
	done <-chan struct{}
}

// NewMemoryRepository creates an empty in-memory webhook repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		webhooks: make(map[webhook.ID]*webhook.Webhook),
		subs:     make(map[int]*updateSub),
	}
}

// CreateWebhook stores a new webhook. The id must be unused.
func (r *MemoryRepository) CreateWebhook(ctx context.Context, w *webhook.Webhook) error {
	if err := w.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, exists := r.webhooks[w.ID]; exists {
		return fmt.Errorf("webhook %d: %w", w.ID, ErrAlreadyExists)
	}

	cp := *w
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.webhooks[w.ID] = &cp
	return nil
}

// GetWebhook returns the webhook with the given id, or ErrNotFound.
func (r *MemoryRepository) GetWebhook(ctx context.Context, id webhook.ID) (*webhook.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, exists := r.webhooks[id]
	if !exists {
		return nil, fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}

	cp := *w
	return &cp, nil
}

// ListWebhooks returns webhooks matching the filter, ordered by id.
func (r *MemoryRepository) ListWebhooks(ctx context.Context, filter Filter) ([]webhook.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []webhook.Webhook
	for _, w := range r.webhooks {
		if filter.State != nil && w.Status.State != *filter.State {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

// CountWebhooks returns the total number of registered webhooks.
func (r *MemoryRepository) CountWebhooks(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.webhooks), nil
}

// UpdateWebhook applies the non-nil fields of update.
func (r *MemoryRepository) UpdateWebhook(ctx context.Context, id webhook.ID, update Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.webhooks[id]
	if !exists {
		return fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}

	if update.URL != nil {
		if *update.URL == "" {
			return fmt.Errorf("webhook %d: url must not be empty", id)
		}
		w.URL = *update.URL
	}
	if update.Label != nil {
		w.Label = *update.Label
	}
	if update.Secret != nil {
		w.Secret = *update.Secret
	}
	w.UpdatedAt = time.Now()
	return nil
}

// SetWebhookStatus writes the webhook's status and notifies subscribers.
func (r *MemoryRepository) SetWebhookStatus(ctx context.Context, id webhook.ID, status webhook.Status) error {
	if !status.State.Valid() {
		return fmt.Errorf("webhook %d: unknown state %q", id, status.State)
	}

	r.mu.Lock()
	w, exists := r.webhooks[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	w.Status = status
	w.UpdatedAt = time.Now()
	r.mu.Unlock()

	r.notify(ctx, webhook.StatusUpdate{WebhookID: id, Status: status})
	return nil
}

// notify fans a status update out to all subscribers. The read lock is
// held for the duration so that unsubscription (which takes the write
// lock before closing a channel) cannot race a send.
func (r *MemoryRepository) notify(ctx context.Context, u webhook.StatusUpdate) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.subs {
		select {
		case s.ch <- u:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}

// DeleteWebhook removes the webhook.
func (r *MemoryRepository) DeleteWebhook(ctx context.Context, id webhook.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.webhooks[id]; !exists {
		return fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}

	delete(r.webhooks, id)
	return nil
}

// SubscribeToWebhookUpdates returns a channel of status changes made
// after the call. Cancelling ctx ends the subscription and closes the
// channel.
func (r *MemoryRepository) SubscribeToWebhookUpdates(ctx context.Context) (<-chan webhook.StatusUpdate, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &updateSub{
		ch:   make(chan webhook.StatusUpdate, updateBuffer),
		done: ctx.Done(),
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = sub
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, id)
		close(sub.ch)
		r.mu.Unlock()
	}()

	return sub.ch, nil
}

// Close ends all subscriptions and rejects further writes.
func (r *MemoryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
