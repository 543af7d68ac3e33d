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

	"github.com/bargom/hookrelay/internal/webhook"
)

// UpdatesChannel is the postgres NOTIFY channel for webhook status
// changes. Payloads are JSON-encoded webhook.StatusUpdate values.
const UpdatesChannel = "hookrelay_webhooks"

// SQLRepository implements Repository over database/sql. It works with
// the postgres (lib/pq) and sqlite (modernc.org/sqlite) drivers; both
// accept $n placeholders.
type SQLRepository struct {
	db       *sql.DB
	listener *pq.Listener

	mu      sync.RWMutex
	subs    map[int]*updateSub
	nextSub int
	started bool
}

// SQLOption configures a SQLRepository.
type SQLOption func(*SQLRepository)

// WithUpdateListener routes status-update subscriptions through a
// postgres LISTEN/NOTIFY listener so that writes from other instances
// are observed too. Without it, subscribers only see writes made
// through this repository instance.
func WithUpdateListener(l *pq.Listener) SQLOption {
	return func(r *SQLRepository) {
		r.listener = l
	}
}

// NewSQLRepository creates a webhook repository on top of db.
func NewSQLRepository(db *sql.DB, opts ...SQLOption) *SQLRepository {
	r := &SQLRepository{
		db:   db,
		subs: make(map[int]*updateSub),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateWebhook stores a new webhook. The id must be unused.
func (r *SQLRepository) CreateWebhook(ctx context.Context, w *webhook.Webhook) error {
	if err := w.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO webhooks (id, url, label, state, state_since, delivery_mode, secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		int64(w.ID),
		w.URL,
		w.Label,
		string(w.Status.State),
		nullTime(w.Status.Since),
		string(w.Mode),
		w.Secret,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("webhook %d: %w", w.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("inserting webhook: %w", err)
	}
	return nil
}

// GetWebhook returns the webhook with the given id, or ErrNotFound.
func (r *SQLRepository) GetWebhook(ctx context.Context, id webhook.ID) (*webhook.Webhook, error) {
	query := `
		SELECT id, url, label, state, state_since, delivery_mode, secret, created_at, updated_at
		FROM webhooks
		WHERE id = $1
	`
	w, err := scanWebhook(r.db.QueryRowContext(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("webhook %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying webhook: %w", err)
	}
	return w, nil
}

// ListWebhooks returns webhooks matching the filter, ordered by id.
func (r *SQLRepository) ListWebhooks(ctx context.Context, filter Filter) ([]webhook.Webhook, error) {
	query := `
		SELECT id, url, label, state, state_since, delivery_mode, secret, created_at, updated_at
		FROM webhooks
	`
	args := make([]any, 0, 3)
	if filter.State != nil {
		query += " WHERE state = $1"
		args = append(args, string(*filter.State))
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying webhooks: %w", err)
	}
	defer rows.Close()

	var out []webhook.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook: %w", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhooks: %w", err)
	}
	return out, nil
}

// CountWebhooks returns the total number of registered webhooks.
func (r *SQLRepository) CountWebhooks(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhooks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting webhooks: %w", err)
	}
	return n, nil
}

// UpdateWebhook applies the non-nil fields of update.
func (r *SQLRepository) UpdateWebhook(ctx context.Context, id webhook.ID, update Update) error {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.URL != nil {
		if *update.URL == "" {
			return fmt.Errorf("webhook %d: url must not be empty", id)
		}
		sets = append(sets, "url = "+arg(*update.URL))
	}
	if update.Label != nil {
		sets = append(sets, "label = "+arg(*update.Label))
	}
	if update.Secret != nil {
		sets = append(sets, "secret = "+arg(*update.Secret))
	}
	if len(sets) == 0 {
		return r.exists(ctx, id)
	}
	sets = append(sets, "updated_at = "+arg(time.Now().UTC()))

	query := "UPDATE webhooks SET " + strings.Join(sets, ", ") + " WHERE id = " + arg(int64(id))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating webhook: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetWebhookStatus writes the webhook's status and notifies subscribers.
// On postgres the notification travels through NOTIFY so other
// instances observe it; otherwise local subscribers are notified
// directly.
func (r *SQLRepository) SetWebhookStatus(ctx context.Context, id webhook.ID, status webhook.Status) error {
	if !status.State.Valid() {
		return fmt.Errorf("webhook %d: unknown state %q", id, status.State)
	}

	u := webhook.StatusUpdate{WebhookID: id, Status: status}
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshaling status update: %w", err)
	}

	query := `UPDATE webhooks SET state = $1, state_since = $2, updated_at = $3 WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query,
		string(status.State),
		nullTime(status.Since),
		time.Now().UTC(),
		int64(id),
	)
	if err != nil {
		return fmt.Errorf("updating webhook status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}

	if r.listener != nil {
		if _, err := r.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, UpdatesChannel, string(payload)); err != nil {
			return fmt.Errorf("notifying webhook update: %w", err)
		}
		return nil
	}

	r.notify(ctx, u)
	return nil
}

// DeleteWebhook removes the webhook.
func (r *SQLRepository) DeleteWebhook(ctx context.Context, id webhook.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	return nil
}

// SubscribeToWebhookUpdates returns a channel of status changes made
// after the call. Cancelling ctx ends the subscription and closes the
// channel.
func (r *SQLRepository) SubscribeToWebhookUpdates(ctx context.Context) (<-chan webhook.StatusUpdate, error) {
	r.mu.Lock()
	sub := &updateSub{
		ch:   make(chan webhook.StatusUpdate, updateBuffer),
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
	if err := r.listener.Listen(UpdatesChannel); err != nil {
		return
	}
	for n := range r.listener.Notify {
		if n == nil {
			// Reconnect marker; updates in the gap are lost, callers
			// re-read authoritative state from the table.
			continue
		}
		var u webhook.StatusUpdate
		if err := json.Unmarshal([]byte(n.Extra), &u); err != nil {
			continue
		}
		r.notify(context.Background(), u)
	}
}

// notify fans an update out to local subscribers. The read lock is held
// for the duration so unsubscription cannot race a send.
func (r *SQLRepository) notify(ctx context.Context, u webhook.StatusUpdate) {
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

func (r *SQLRepository) exists(ctx context.Context, id webhook.ID) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM webhooks WHERE id = $1`, int64(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("querying webhook: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row rowScanner) (*webhook.Webhook, error) {
	var (
		w     webhook.Webhook
		id    int64
		state string
		mode  string
		since sql.NullTime
	)
	err := row.Scan(&id, &w.URL, &w.Label, &state, &since, &mode, &w.Secret, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.ID = webhook.ID(id)
	w.Status = webhook.Status{State: webhook.State(state)}
	if since.Valid {
		w.Status.Since = since.Time
	}
	w.Mode = webhook.DeliveryMode(mode)
	return &w, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// The sqlite driver reports constraint violations by message only.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
