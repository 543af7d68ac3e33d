package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/bargom/hookrelay/internal/event"
	"github.com/bargom/hookrelay/internal/webhook"
)

// EventsChannel is the postgres NOTIFY channel for newly stored events.
// Payloads are JSON-encoded event.Key values.
const EventsChannel = "hookrelay_events"

// SQLRepository implements Repository over database/sql. It works with
// the postgres (lib/pq) and sqlite (modernc.org/sqlite) drivers; both
// accept $n placeholders.
type SQLRepository struct {
	db       *sql.DB
	listener *pq.Listener

	mu      sync.RWMutex
	subs    map[int]*eventSub
	nextSub int
	started bool
}

// SQLOption configures a SQLRepository.
type SQLOption func(*SQLRepository)

// WithEventListener routes new-event subscriptions through a postgres
// LISTEN/NOTIFY listener so that events stored by other instances are
// observed too. Without it, subscribers only see events stored through
// this repository instance.
func WithEventListener(l *pq.Listener) SQLOption {
	return func(r *SQLRepository) {
		r.listener = l
	}
}

// NewSQLRepository creates an event repository on top of db.
func NewSQLRepository(db *sql.DB, opts ...SQLOption) *SQLRepository {
	r := &SQLRepository{
		db:   db,
		subs: make(map[int]*eventSub),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateEvent stores a new event. An empty status defaults to New, and
// events stored as New are published to new-event subscribers.
func (r *SQLRepository) CreateEvent(ctx context.Context, e *event.Event) error {
	cp := *e
	if cp.Status == "" {
		cp.Status = event.StatusNew
	}
	if err := cp.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.StatusChangedAt.IsZero() {
		cp.StatusChangedAt = now
	}

	headers, err := marshalHeaders(cp.Headers)
	if err != nil {
		return fmt.Errorf("event %s: %w", cp.Key, err)
	}

	query := `
		INSERT INTO webhook_events (webhook_id, event_id, status, content, headers, created_at, status_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		int64(cp.Key.WebhookID),
		int64(cp.Key.EventID),
		string(cp.Status),
		cp.Content,
		headers,
		cp.CreatedAt,
		cp.StatusChangedAt,
	)
	if err != nil {
		if isUniqueKeyViolation(err) {
			return fmt.Errorf("event %s: %w", cp.Key, ErrAlreadyExists)
		}
		return fmt.Errorf("inserting event: %w", err)
	}

	if cp.Status != event.StatusNew {
		return nil
	}
	return r.announce(ctx, cp)
}

// announce publishes a newly stored event. On postgres the key travels
// through NOTIFY so other instances observe it; otherwise local
// subscribers receive the event directly.
func (r *SQLRepository) announce(ctx context.Context, e event.Event) error {
	if r.listener != nil {
		payload, err := json.Marshal(e.Key)
		if err != nil {
			return fmt.Errorf("marshaling event key: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, EventsChannel, string(payload)); err != nil {
			return fmt.Errorf("notifying new event: %w", err)
		}
		return nil
	}
	r.publish(ctx, e)
	return nil
}

// GetEvent returns the event with the given key, or ErrNotFound.
func (r *SQLRepository) GetEvent(ctx context.Context, key event.Key) (*event.Event, error) {
	query := `
		SELECT webhook_id, event_id, status, content, headers, created_at, status_changed_at
		FROM webhook_events
		WHERE webhook_id = $1 AND event_id = $2
	`
	e, err := scanEvent(r.db.QueryRowContext(ctx, query, int64(key.WebhookID), int64(key.EventID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return e, nil
}

// SetEventStatus moves the event to status, refusing writes outside the
// transition table. The update is guarded on the current status so a
// concurrent transition cannot be overwritten.
func (r *SQLRepository) SetEventStatus(ctx context.Context, key event.Key, status event.Status) error {
	if !status.Valid() {
		return fmt.Errorf("event %s: unknown status %q", key, status)
	}

	from, err := r.currentStatus(ctx, key)
	if err != nil {
		return err
	}
	if !event.ValidTransition(from, status) {
		return &event.InvalidTransitionError{Key: key, From: from, To: status}
	}

	query := `
		UPDATE webhook_events
		SET status = $1, status_changed_at = $2
		WHERE webhook_id = $3 AND event_id = $4 AND status = $5
	`
	res, err := r.db.ExecContext(ctx, query,
		string(status),
		time.Now().UTC(),
		int64(key.WebhookID),
		int64(key.EventID),
		string(from),
	)
	if err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		// Lost a race with a concurrent transition; report against the
		// status that won.
		from, err := r.currentStatus(ctx, key)
		if err != nil {
			return err
		}
		return &event.InvalidTransitionError{Key: key, From: from, To: status}
	}
	return nil
}

func (r *SQLRepository) currentStatus(ctx context.Context, key event.Key) (event.Status, error) {
	var s string
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM webhook_events WHERE webhook_id = $1 AND event_id = $2`,
		int64(key.WebhookID), int64(key.EventID),
	).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("event %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("querying event status: %w", err)
	}
	return event.Status(s), nil
}

// GetEventsByStatuses returns all events in any of the given statuses,
// ordered by creation.
func (r *SQLRepository) GetEventsByStatuses(ctx context.Context, statuses ...event.Status) ([]event.Event, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(s)
	}
	query := `
		SELECT webhook_id, event_id, status, content, headers, created_at, status_changed_at
		FROM webhook_events
		WHERE status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at, webhook_id, event_id
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListEventsByWebhook returns the webhook's events ordered by creation.
func (r *SQLRepository) ListEventsByWebhook(ctx context.Context, id webhook.ID, limit, offset int) ([]event.Event, error) {
	query := `
		SELECT webhook_id, event_id, status, content, headers, created_at, status_changed_at
		FROM webhook_events
		WHERE webhook_id = $1
		ORDER BY created_at, event_id
	`
	args := []any{int64(id)}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// CountEventsByStatus returns the number of events per status.
func (r *SQLRepository) CountEventsByStatus(ctx context.Context) (map[event.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM webhook_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	defer rows.Close()

	out := make(map[event.Status]int)
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		out[event.Status(s)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating counts: %w", err)
	}
	return out, nil
}

// NextEventID returns the smallest unused event id for the webhook.
func (r *SQLRepository) NextEventID(ctx context.Context, id webhook.ID) (event.ID, error) {
	var next int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(event_id), 0) + 1 FROM webhook_events WHERE webhook_id = $1`,
		int64(id),
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("querying next event id: %w", err)
	}
	return event.ID(next), nil
}

// DeleteDeliveredBefore removes delivered events whose last status
// change precedes cutoff.
func (r *SQLRepository) DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE status = $1 AND status_changed_at < $2`,
		string(event.StatusDelivered),
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting delivered events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return int(n), nil
}

// RequeueStaleDelivering resets events stuck in Delivering since before
// cutoff back to New and republishes them. Each reset is guarded on the
// Delivering status so a concurrent transition is left alone.
func (r *SQLRepository) RequeueStaleDelivering(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		SELECT webhook_id, event_id, status, content, headers, created_at, status_changed_at
		FROM webhook_events
		WHERE status = $1 AND status_changed_at < $2
		ORDER BY created_at, webhook_id, event_id
	`
	rows, err := r.db.QueryContext(ctx, query, string(event.StatusDelivering), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("querying stale events: %w", err)
	}
	stale, err := collectEvents(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	requeued := 0
	for _, e := range stale {
		res, err := r.db.ExecContext(ctx,
			`UPDATE webhook_events SET status = $1, status_changed_at = $2
			 WHERE webhook_id = $3 AND event_id = $4 AND status = $5`,
			string(event.StatusNew),
			now,
			int64(e.Key.WebhookID),
			int64(e.Key.EventID),
			string(event.StatusDelivering),
		)
		if err != nil {
			return requeued, fmt.Errorf("requeueing event %s: %w", e.Key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return requeued, fmt.Errorf("getting rows affected: %w", err)
		}
		if n == 0 {
			continue
		}
		requeued++
		e.Status = event.StatusNew
		e.StatusChangedAt = now
		if err := r.announce(ctx, e); err != nil {
			return requeued, err
		}
	}
	return requeued, nil
}

// SubscribeToNewEvents returns a channel of events stored with status
// New after the call. Cancelling ctx ends the subscription and closes
// the channel.
func (r *SQLRepository) SubscribeToNewEvents(ctx context.Context) (<-chan event.Event, error) {
	r.mu.Lock()
	sub := &eventSub{
		ch:   make(chan event.Event, eventBuffer),
		done: ctx.Done(),
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = sub
	if r.listener != nil && !r.started {
		r.started = true
		go r.forwardNotifications()
	}
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

// forwardNotifications pumps postgres notifications to subscribers.
// Runs once per repository; exits when the listener closes.
func (r *SQLRepository) forwardNotifications() {
	if err := r.listener.Listen(EventsChannel); err != nil {
		return
	}
	for n := range r.listener.Notify {
		if n == nil {
			// Reconnect marker; events stored in the gap are reclaimed
			// by the stale-delivering maintenance sweep.
			continue
		}
		var key event.Key
		if err := json.Unmarshal([]byte(n.Extra), &key); err != nil {
			continue
		}
		e, err := r.GetEvent(context.Background(), key)
		if err != nil {
			continue
		}
		r.publish(context.Background(), *e)
	}
}

// publish fans an event out to local subscribers. The read lock is held
// for the duration so unsubscription cannot race a send.
func (r *SQLRepository) publish(ctx context.Context, e event.Event) {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		e          event.Event
		webhookID  int64
		eventID    int64
		status     string
		rawHeaders string
	)
	err := row.Scan(&webhookID, &eventID, &status, &e.Content, &rawHeaders, &e.CreatedAt, &e.StatusChangedAt)
	if err != nil {
		return nil, err
	}
	e.Key = event.Key{EventID: event.ID(eventID), WebhookID: webhook.ID(webhookID)}
	e.Status = event.Status(status)
	if e.Headers, err = unmarshalHeaders(rawHeaders); err != nil {
		return nil, fmt.Errorf("event %s: %w", e.Key, err)
	}
	return &e, nil
}

func collectEvents(rows *sql.Rows) ([]event.Event, error) {
	var out []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// marshalHeaders encodes the ordered header list as a JSON array of
// {name, value} objects. Order and repeated names survive the round
// trip.
func marshalHeaders(h event.Headers) (string, error) {
	if len(h) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshaling headers: %w", err)
	}
	return string(b), nil
}

func unmarshalHeaders(raw string) (event.Headers, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var h event.Headers
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, fmt.Errorf("unmarshaling headers: %w", err)
	}
	return h, nil
}

func isUniqueKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// The sqlite driver reports constraint violations by message only.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
