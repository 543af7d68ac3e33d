package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bargom/hookrelay/internal/event/repository"
)

// PurgeDeliveredHandler deletes delivered events whose last status
// change is older than the retention window.
type PurgeDeliveredHandler struct {
	events    repository.Repository
	retention time.Duration
	log       *slog.Logger
}

// NewPurgeDeliveredHandler creates the purge handler.
func NewPurgeDeliveredHandler(events repository.Repository, retention time.Duration, log *slog.Logger) *PurgeDeliveredHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PurgeDeliveredHandler{events: events, retention: retention, log: log}
}

// ProcessTask implements asynq.Handler.
func (h *PurgeDeliveredHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	cutoff := time.Now().UTC().Add(-h.retention)

	removed, err := h.events.DeleteDeliveredBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge delivered events: %w", err)
	}

	h.log.InfoContext(ctx, "purged delivered events",
		"task", t.Type(), "removed", removed, "cutoff", cutoff)
	return nil
}

// RequeueStaleHandler resets events stuck in Delivering longer than
// the stale window back to New, so the new-event subscription routes
// them again. Covers events orphaned by an unclean crash of another
// instance.
type RequeueStaleHandler struct {
	events     repository.Repository
	staleAfter time.Duration
	log        *slog.Logger
}

// NewRequeueStaleHandler creates the requeue handler.
func NewRequeueStaleHandler(events repository.Repository, staleAfter time.Duration, log *slog.Logger) *RequeueStaleHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RequeueStaleHandler{events: events, staleAfter: staleAfter, log: log}
}

// ProcessTask implements asynq.Handler.
func (h *RequeueStaleHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	cutoff := time.Now().UTC().Add(-h.staleAfter)

	requeued, err := h.events.RequeueStaleDelivering(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("requeue stale events: %w", err)
	}

	if requeued > 0 {
		h.log.WarnContext(ctx, "requeued stale delivering events",
			"task", t.Type(), "requeued", requeued, "cutoff", cutoff)
	} else {
		h.log.DebugContext(ctx, "no stale delivering events", "task", t.Type())
	}
	return nil
}
