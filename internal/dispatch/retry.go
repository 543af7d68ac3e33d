package dispatch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bargom/hookrelay/internal/event"
	"github.com/bargom/hookrelay/internal/state"
	"github.com/bargom/hookrelay/internal/webhook"
	webhookrepo "github.com/bargom/hookrelay/internal/webhook/repository"
	"github.com/bargom/hookrelay/pkg/metrics"
)

// retryController owns the retry queue of one webhook. It is the only
// writer of that queue's head and keeps at most one dispatch in flight
// by being a single goroutine. New events for the webhook join the
// tail through enqueue.
type retryController struct {
	webhookID webhook.ID
	since     time.Time

	webhooks   WebhookSource
	dispatcher *Dispatcher
	cache      *state.Cache
	cfg        RetryConfig
	maxBatch   int
	surface    func(error)
	logger     Logger
	metrics    *metrics.DispatchMetrics
	onExit     func()

	stop     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	queue  []event.Event
	closed bool
}

func newRetryController(
	id webhook.ID,
	since time.Time,
	webhooks WebhookSource,
	dispatcher *Dispatcher,
	cache *state.Cache,
	cfg RetryConfig,
	maxBatch int,
	surface func(error),
	logger Logger,
	m *metrics.DispatchMetrics,
	onExit func(),
) *retryController {
	if logger == nil {
		logger = nopLogger{}
	}
	return &retryController{
		webhookID:  id,
		since:      since,
		webhooks:   webhooks,
		dispatcher: dispatcher,
		cache:      cache,
		cfg:        cfg,
		maxBatch:   maxBatch,
		surface:    surface,
		logger:     logger,
		metrics:    m,
		onExit:     onExit,
		stop:       make(chan struct{}),
	}
}

// enqueue appends events to the queue tail. It reports false once the
// controller has quiesced; the caller must then route the events as if
// no controller existed.
func (c *retryController) enqueue(events ...event.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.queue = append(c.queue, events...)
	c.reportDepth(len(c.queue))
	return true
}

// tryQuiesce flips closed, but only while the queue is still empty.
// The check and the flip share enqueue's critical section: either an
// event joins before the flip and the controller keeps draining, or
// enqueue reports false and the caller re-routes the events itself.
func (c *retryController) tryQuiesce() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) != 0 {
		return false
	}
	c.closed = true
	return true
}

// halt stops scheduling without touching the webhook's status. Queued
// events keep their Failed status in the repo and re-enter retry on
// the next start.
func (c *retryController) halt() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// run drives the backoff schedule until the queue drains, the failure
// horizon passes, or the controller is halted. ctx cancels in-flight
// requests; halt stops scheduling.
func (c *retryController) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.DecRetryingWebhooks()
			c.metrics.DeleteRetryQueueDepth(strconv.FormatInt(int64(c.webhookID), 10))
		}
		if c.onExit != nil {
			c.onExit()
		}
	}()

	attempts := 0
	timer := time.NewTimer(c.backoffWait(attempts))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-timer.C:
		}

		wh, err := c.webhooks.GetWebhook(ctx, c.webhookID)
		if err != nil {
			if errors.Is(err, webhookrepo.ErrNotFound) {
				// The webhook was deleted out from under its queue.
				c.surface(&MissingWebhookError{WebhookID: c.webhookID})
				c.discard()
				return
			}
			c.surface(&RepoError{Op: "loading webhook for retry", Err: err})
			timer.Reset(c.backoffWait(attempts))
			continue
		}

		batched := wh.Mode.Batched()
		events, key := c.take(batched)
		if len(events) == 0 {
			if c.tryQuiesce() {
				c.finish(ctx)
				return
			}
			timer.Reset(0)
			continue
		}

		out := c.dispatcher.Send(ctx, Dispatch{
			Webhook: wh,
			Events:  events,
			Batched: batched,
			Key:     key,
		})

		switch {
		case out.Abandoned:
			return
		case out.Success:
			c.pop(len(events))
			attempts = 0
			if c.tryQuiesce() {
				c.finish(ctx)
				return
			}
			// Keep draining the queue without backoff while the
			// endpoint answers.
			timer.Reset(0)
		default:
			attempts++
			if time.Since(c.since) >= c.cfg.FailureHorizon {
				c.unavailable(ctx)
				return
			}
			timer.Reset(c.backoffWait(attempts))
		}
	}
}

// take copies the next delivery unit off the queue head without
// removing it. For batched webhooks that is the longest run of events
// sharing the head's BatchKey, capped at the batch size limit.
func (c *retryController) take(batched bool) ([]event.Event, BatchKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, BatchKey{}
	}
	if !batched {
		return []event.Event{c.queue[0]}, BatchKey{}
	}

	key := batchKeyFor(&c.queue[0])
	n := 1
	for n < len(c.queue) && batchKeyFor(&c.queue[n]) == key {
		if c.maxBatch > 0 && n >= c.maxBatch {
			break
		}
		n++
	}
	events := make([]event.Event, n)
	copy(events, c.queue[:n])
	return events, key
}

// pop removes n delivered events from the queue head.
func (c *retryController) pop(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.queue) {
		n = len(c.queue)
	}
	c.queue = c.queue[n:]
	c.reportDepth(len(c.queue))
}

func (c *retryController) depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *retryController) discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = nil
	c.reportDepth(0)
}

// finish returns the webhook to Enabled after the queue drained.
func (c *retryController) finish(ctx context.Context) {
	if err := c.cache.SetStatus(ctx, c.webhookID, webhook.Enabled()); err != nil {
		c.surface(&RepoError{Op: "re-enabling webhook after retry", Err: err})
	}
	c.logger.Info("retry queue drained", "webhook", c.webhookID)
}

// unavailable gives up on the webhook after the failure horizon and
// discards whatever is still queued. The events keep their Failed
// status in the repo.
func (c *retryController) unavailable(ctx context.Context) {
	now := time.Now()
	if err := c.cache.SetStatus(ctx, c.webhookID, webhook.Unavailable(now)); err != nil {
		c.surface(&RepoError{Op: "marking webhook unavailable", Err: err})
	}
	c.surface(&WebhookUnavailableError{WebhookID: c.webhookID})
	c.logger.Warn("webhook unavailable after failure horizon",
		"webhook", c.webhookID, "since", c.since, "dropped", c.depth())
	c.discard()
}

// backoffWait is the delay before retry attempt n, doubling from the
// base up to the cap.
func (c *retryController) backoffWait(attempts int) time.Duration {
	wait := c.cfg.Base
	for i := 0; i < attempts; i++ {
		wait *= 2
		if wait >= c.cfg.Max {
			return c.cfg.Max
		}
	}
	if wait > c.cfg.Max {
		return c.cfg.Max
	}
	return wait
}

func (c *retryController) reportDepth(depth int) {
	if c.metrics != nil {
		c.metrics.SetRetryQueueDepth(strconv.FormatInt(int64(c.webhookID), 10), depth)
	}
}
