package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bargom/hookrelay/internal/event"
	"github.com/bargom/hookrelay/internal/webhook"
)

const eventBuffer = 256

// MemoryRepository is an in-memory implementation of Repository.
// Used by tests and by the memory storage driver.
type MemoryRepository struct {
	mu      sync.RWMutex
	events  map[event.Key]*event.Event
	order   []event.Key
	subs    map[int]*eventSub
	nextSub int
	closed  bool
}

type eventSub struct {
	ch   chan event.Event
	done <-chan struct{}
}

// NewMemoryRepository creates an empty in-memory event repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events: make(map[event.Key]*event.Event),
		subs:   make(map[int]*eventSub),
	}
}

// CreateEvent stores a new event. An empty status defaults to New, and
// events stored as New are published to new-event subscribers.
func (r *MemoryRepository) CreateEvent(ctx context.Context, e *event.Event) error {
	cp := *e
	if cp.Status == "" {
		cp.Status = event.StatusNew
	}
	if err := cp.Validate(); err != nil {
		return err
	}
	cp.Headers = e.Headers.Clone()
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.StatusChangedAt.IsZero() {
		cp.StatusChangedAt = now
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, exists := r.events[cp.Key]; exists {
		r.mu.Unlock()
		return fmt.Errorf("event %s: %w", cp.Key, ErrAlreadyExists)
	}
	r.events[cp.Key] = &cp
	r.order = append(r.order, cp.Key)
	r.mu.Unlock()

	if cp.Status == event.StatusNew {
		r.publish(ctx, cp)
	}
	return nil
}

// GetEvent returns the event with the given key, or ErrNotFound.
func (r *MemoryRepository) GetEvent(ctx context.Context, key event.Key) (*event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.events[key]
	if !exists {
		return nil, fmt.Errorf("event %s: %w", key, ErrNotFound)
	}

	cp := *e
	cp.Headers = e.Headers.Clone()
	return &cp, nil
}

// SetEventStatus moves the event to status, refusing writes outside
// the transition table.
func (r *MemoryRepository) SetEventStatus(ctx context.Context, key event.Key, status event.Status) error {
	if !status.Valid() {
		return fmt.Errorf("event %s: unknown status %q", key, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.events[key]
	if !exists {
		return fmt.Errorf("event %s: %w", key, ErrNotFound)
	}
	if !event.ValidTransition(e.Status, status) {
		return &event.InvalidTransitionError{Key: key, From: e.Status, To: status}
	}
	e.Status = status
	e.StatusChangedAt = time.Now()
	return nil
}

// GetEventsByStatuses returns all events in any of the given statuses,
// ordered by creation.
func (r *MemoryRepository) GetEventsByStatuses(ctx context.Context, statuses ...event.Status) ([]event.Event, error) {
	want := make(map[event.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []event.Event
	for _, key := range r.order {
		e := r.events[key]
		if !want[e.Status] {
			continue
		}
		cp := *e
		cp.Headers = e.Headers.Clone()
		out = append(out, cp)
	}
	return out, nil
}

// ListEventsByWebhook returns the webhook's events ordered by creation.
func (r *MemoryRepository) ListEventsByWebhook(ctx context.Context, id webhook.ID, limit, offset int) ([]event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []event.Event
	for _, key := range r.order {
		if key.WebhookID != id {
			continue
		}
		e := r.events[key]
		cp := *e
		cp.Headers = e.Headers.Clone()
		out = append(out, cp)
	}

	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountEventsByStatus returns the number of events per status.
func (r *MemoryRepository) CountEventsByStatus(ctx context.Context) (map[event.Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[event.Status]int)
	for _, e := range r.events {
		out[e.Status]++
	}
	return out, nil
}

// NextEventID returns the smallest unused event id for the webhook.
func (r *MemoryRepository) NextEventID(ctx context.Context, id webhook.ID) (event.ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var max event.ID
	for key := range r.events {
		if key.WebhookID == id && key.EventID > max {
			max = key.EventID
		}
	}
	return max + 1, nil
}

// DeleteDeliveredBefore removes delivered events whose last status
// change precedes cutoff.
func (r *MemoryRepository) DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	kept := r.order[:0]
	for _, key := range r.order {
		e := r.events[key]
		if e.Status == event.StatusDelivered && e.StatusChangedAt.Before(cutoff) {
			delete(r.events, key)
			removed++
			continue
		}
		kept = append(kept, key)
	}
	r.order = kept
	return removed, nil
}

// RequeueStaleDelivering resets events stuck in Delivering since before
// cutoff back to New and republishes them.
func (r *MemoryRepository) RequeueStaleDelivering(ctx context.Context, cutoff time.Time) (int, error) {
	now := time.Now()

	r.mu.Lock()
	var requeued []event.Event
	for _, key := range r.order {
		e := r.events[key]
		if e.Status != event.StatusDelivering || !e.StatusChangedAt.Before(cutoff) {
			continue
		}
		e.Status = event.StatusNew
		e.StatusChangedAt = now
		cp := *e
		cp.Headers = e.Headers.Clone()
		requeued = append(requeued, cp)
	}
	r.mu.Unlock()

	for _, e := range requeued {
		r.publish(ctx, e)
	}
	return len(requeued), nil
}

// SubscribeToNewEvents returns a channel of events stored with status
// New after the call. Cancelling ctx ends the subscription and closes
// the channel.
func (r *MemoryRepository) SubscribeToNewEvents(ctx context.Context) (<-chan event.Event, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &eventSub{
		ch:   make(chan event.Event, eventBuffer),
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

// publish fans a new event out to all subscribers. The read lock is
// held for the duration so that unsubscription (which takes the write
// lock before closing a channel) cannot race a send.
func (r *MemoryRepository) publish(ctx context.Context, e event.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.subs {
		select {
		case s.ch <- e:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}

// Close ends all subscriptions and rejects further writes.
func (r *MemoryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
