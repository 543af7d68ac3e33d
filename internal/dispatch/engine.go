// Package dispatch implements the webhook dispatch engine. It consumes
// newly created events, batches them per webhook and content headers
// where the delivery mode asks for it, posts them to the webhook's URL,
// and drives per-webhook retry with exponential backoff until delivery
// succeeds, the failure horizon passes, or an operator intervenes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bargom/hookrelay/internal/event"
	"github.com/bargom/hookrelay/internal/shutdown"
	"github.com/bargom/hookrelay/internal/state"
	"github.com/bargom/hookrelay/internal/webhook"
	webhookrepo "github.com/bargom/hookrelay/internal/webhook/repository"
	"github.com/bargom/hookrelay/pkg/delivery"
	"github.com/bargom/hookrelay/pkg/metrics"
)

// WebhookSource is the slice of the webhook repository the engine
// consumes.
type WebhookSource interface {
	GetWebhook(ctx context.Context, id webhook.ID) (*webhook.Webhook, error)
	SubscribeToWebhookUpdates(ctx context.Context) (<-chan webhook.StatusUpdate, error)
}

// EventStore is the slice of the event repository the engine consumes.
type EventStore interface {
	SetEventStatus(ctx context.Context, key event.Key, status event.Status) error
	GetEventsByStatuses(ctx context.Context, statuses ...event.Status) ([]event.Event, error)
	SubscribeToNewEvents(ctx context.Context) (<-chan event.Event, error)
}

// Engine coordinates intake, batching, dispatch, and retry. Create it
// with New, call Start once, and stop it with Shutdown.
type Engine struct {
	cfg        Config
	webhooks   WebhookSource
	events     EventStore
	cache      *state.Cache
	dispatcher *Dispatcher
	batcher    *Batcher
	errs       *errorStream
	logger     Logger
	metrics    *metrics.DispatchMetrics

	// runCtx scopes intake; dispatchCtx scopes in-flight requests and
	// status writes and outlives runCtx until the drain deadline.
	runCtx         context.Context
	runCancel      context.CancelFunc
	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc

	drainer *shutdown.Drainer
	loopWG  sync.WaitGroup
	ctrlWG  sync.WaitGroup

	mu          sync.Mutex
	controllers map[webhook.ID]*retryController
	recovered   map[event.Key]time.Time
	started     bool
	stopping    bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m.Dispatch()
		}
	}
}

// New assembles an engine. A nil cfg.Batching disables batched
// delivery modes entirely.
func New(cfg Config, webhooks WebhookSource, events EventStore, cache *state.Cache, client delivery.Client, opts ...Option) *Engine {
	cfg = cfg.normalize()
	e := &Engine{
		cfg:         cfg,
		webhooks:    webhooks,
		events:      events,
		cache:       cache,
		logger:      nopLogger{},
		drainer:     shutdown.NewDrainer(),
		controllers: make(map[webhook.ID]*retryController),
		recovered:   make(map[event.Key]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.errs = newErrorStream(cfg.ErrorBuffer)
	e.dispatcher = newDispatcher(client, events, e.surface, e.logger, e.metrics)
	if cfg.Batching != nil {
		e.batcher = NewBatcher(*cfg.Batching, e.deliverBatch)
	}
	e.runCtx, e.runCancel = context.WithCancel(context.Background())
	e.dispatchCtx, e.dispatchCancel = context.WithCancel(context.Background())
	return e
}

// Start primes the state cache, re-dispatches events interrupted by a
// previous run, and begins consuming new events and webhook status
// updates. ctx bounds startup work only; the engine runs until
// Shutdown.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("dispatch engine already started")
	}
	e.started = true
	e.mu.Unlock()

	if err := e.cache.Load(ctx); err != nil {
		return fmt.Errorf("priming state cache: %w", err)
	}

	newEvents, err := e.events.SubscribeToNewEvents(e.runCtx)
	if err != nil {
		return fmt.Errorf("subscribing to new events: %w", err)
	}
	updates, err := e.webhooks.SubscribeToWebhookUpdates(e.runCtx)
	if err != nil {
		return fmt.Errorf("subscribing to webhook updates: %w", err)
	}

	if err := e.recoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recovering interrupted events: %w", err)
	}

	e.loopWG.Add(2)
	go e.eventLoop(newEvents)
	go e.updateLoop(updates)

	e.logger.Info("dispatch engine started",
		"batching", e.batcher != nil,
		"retry_base", e.cfg.Retry.Base,
		"failure_horizon", e.cfg.Retry.FailureHorizon)
	return nil
}

// Errors returns a channel of structural errors: missing webhooks,
// refused status transitions, repository and transport failures. The
// stream is buffered per subscriber and drops its oldest entry when a
// subscriber falls behind, so consumers never block the engine. The
// channel closes when the engine shuts down.
func (e *Engine) Errors() <-chan error {
	return e.errs.subscribe()
}

// Running reports whether the engine has started and is not shutting
// down. Readiness probes use it.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.stopping
}

// Shutdown stops intake, flushes pending batches, waits for in-flight
// dispatches up to the drain deadline, then cancels whatever remains.
// Events cut off mid-flight stay Delivering and are re-dispatched on
// the next Start; queued retries stay Failed and re-enter retry on the
// next Start. Returns the drain error when the deadline was exceeded.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	e.mu.Unlock()

	e.logger.Info("dispatch engine draining", "in_flight", e.drainer.Count())

	e.runCancel()
	e.loopWG.Wait()

	// Flush accumulators before the drainer stops admitting work so
	// their final dispatches are tracked.
	if e.batcher != nil {
		e.batcher.Close()
	}
	e.drainer.StartDrain()

	for _, c := range e.snapshotControllers() {
		c.halt()
	}

	drainCtx := ctx
	if e.cfg.DrainDeadline > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, e.cfg.DrainDeadline)
		defer cancel()
	}
	drainErr := e.drainer.Wait(drainCtx)

	e.dispatchCancel()
	if drainErr != nil {
		// Cancelled dispatches unwind quickly once their context dies;
		// wait so nothing publishes after the error stream closes.
		_ = e.drainer.Wait(context.Background())
	}
	e.ctrlWG.Wait()
	e.errs.close()

	if drainErr != nil {
		e.logger.Warn("dispatch engine stopped before drain completed", "error", drainErr)
	} else {
		e.logger.Info("dispatch engine stopped")
	}
	return drainErr
}

func (e *Engine) eventLoop(events <-chan event.Event) {
	defer e.loopWG.Done()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if e.replayedAtStart(ev) {
				continue
			}
			e.route(ev)
		}
	}
}

// replayedAtStart reports whether the subscription delivered a copy of
// an event the startup scan already routed. A later republish of the
// same key carries a fresh status timestamp (the stale-requeue job
// rewrites it) and routes normally.
func (e *Engine) replayedAtStart(ev event.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.recovered[ev.Key]
	if !ok {
		return false
	}
	delete(e.recovered, ev.Key)
	return at.Equal(ev.StatusChangedAt)
}

func (e *Engine) updateLoop(updates <-chan webhook.StatusUpdate) {
	defer e.loopWG.Done()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			e.observeUpdate(up)
		}
	}
}

// route resolves an event's webhook and sends the event down the path
// its delivery mode and the webhook's status demand.
func (e *Engine) route(ev event.Event) {
	wh, err := e.webhooks.GetWebhook(e.dispatchCtx, ev.Key.WebhookID)
	if err != nil {
		if errors.Is(err, webhookrepo.ErrNotFound) {
			e.surface(&MissingWebhookError{WebhookID: ev.Key.WebhookID})
		} else {
			e.surface(&RepoError{Op: "resolving webhook", Err: err})
		}
		return
	}

	status, err := e.cache.Resolve(e.dispatchCtx, wh)
	if err != nil {
		e.surface(&RepoError{Op: "resolving webhook status", Err: err})
		return
	}

	switch status.State {
	case webhook.StateDisabled, webhook.StateUnavailable:
		e.logger.Debug("dropping event for inactive webhook",
			"event", ev.Key, "state", status.State)
		return
	case webhook.StateRetrying:
		if wh.Mode.AtLeastOnce() {
			// Join the tail of the live queue instead of racing the
			// controller with a parallel dispatch.
			e.joinRetry(wh, retrySince(status, time.Now()), ev)
			return
		}
		// An at-most-once webhook never retries; treat the stray
		// status as enabled.
	}

	if wh.Mode.Batched() {
		if e.batcher == nil {
			// Batched mode without batching configured is an invariant
			// violation, not a deliverable event.
			e.surface(&event.InvalidTransitionError{Key: ev.Key, From: ev.Status, To: event.StatusDelivering})
			return
		}
		if !e.batcher.Add(wh, ev) {
			e.logger.Debug("batcher closed, leaving event for recovery", "event", ev.Key)
		}
		return
	}

	e.deliverSingle(wh, ev)
}

// deliverSingle dispatches one event on its own goroutine. Parallelism
// across webhooks is unbounded; only retrying webhooks serialize.
func (e *Engine) deliverSingle(wh *webhook.Webhook, ev event.Event) {
	if !e.drainer.Add() {
		return
	}
	go func() {
		defer e.drainer.Done()
		events := []event.Event{ev}
		out := e.dispatcher.Send(e.dispatchCtx, Dispatch{Webhook: wh, Events: events})
		e.settle(wh, events, out)
	}()
}

// deliverBatch is the batcher sink. It runs on the accumulator
// goroutine, so the dispatch itself moves to a tracked goroutine and
// the accumulator keeps collecting.
func (e *Engine) deliverBatch(b Batch) {
	if !e.drainer.Add() {
		return
	}
	go func() {
		defer e.drainer.Done()
		out := e.dispatcher.Send(e.dispatchCtx, Dispatch{
			Webhook: b.Webhook,
			Events:  b.Events,
			Batched: true,
			Key:     b.Key,
		})
		e.settle(b.Webhook, b.Events, out)
	}()
}

// settle routes a first-attempt outcome. Failures under at-least-once
// enter retry; everything else is already recorded by the dispatcher.
func (e *Engine) settle(wh *webhook.Webhook, events []event.Event, out Outcome) {
	if out.Success || out.Abandoned {
		return
	}
	if !wh.Mode.AtLeastOnce() {
		return
	}
	e.joinRetry(wh, time.Now(), events...)
}

// joinRetry appends events to the webhook's retry queue, creating the
// controller when none exists. since anchors the failure horizon and
// is only used for a new controller.
func (e *Engine) joinRetry(wh *webhook.Webhook, since time.Time, events ...event.Event) {
	for {
		e.mu.Lock()
		if e.stopping {
			hadController := e.controllers[wh.ID] != nil
			e.mu.Unlock()
			// Scheduling is over for this run. Record the retry state
			// so the next start re-queues the events, which stay
			// Failed in the repo.
			if !hadController {
				if err := e.cache.SetStatus(e.dispatchCtx, wh.ID, webhook.Retrying(since)); err != nil {
					e.surface(&RepoError{Op: "marking webhook retrying", Err: err})
				}
			}
			return
		}

		ctrl, ok := e.controllers[wh.ID]
		if !ok {
			var c *retryController
			c = newRetryController(
				wh.ID, since,
				e.webhooks, e.dispatcher, e.cache,
				e.cfg.Retry, e.maxBatch(),
				e.surface, e.logger, e.metrics,
				func() { e.removeController(wh.ID, c) },
			)
			c.enqueue(events...)
			e.controllers[wh.ID] = c
			e.ctrlWG.Add(1)
			if e.metrics != nil {
				e.metrics.IncRetryingWebhooks()
			}
			go func() {
				defer e.ctrlWG.Done()
				c.run(e.dispatchCtx)
			}()
			e.mu.Unlock()

			if err := e.cache.SetStatus(e.dispatchCtx, wh.ID, webhook.Retrying(since)); err != nil {
				e.surface(&RepoError{Op: "marking webhook retrying", Err: err})
			}
			e.logger.Info("webhook entered retry", "webhook", wh.ID, "since", since)
			return
		}
		e.mu.Unlock()

		if ctrl.enqueue(events...) {
			return
		}
		// Lost a race with a quiescing controller; replace it.
		e.removeController(wh.ID, ctrl)
	}
}

// observeUpdate handles a webhook status change from the repository.
// The engine's own writes come back through this stream; they match
// the cache and are ignored. Anything else is an operator or external
// write: adopt it and stop any retry episode it supersedes.
func (e *Engine) observeUpdate(up webhook.StatusUpdate) {
	if e.cache.Matches(up.WebhookID, up.Status) {
		return
	}
	if err := e.cache.Observe(e.dispatchCtx, up.WebhookID, up.Status); err != nil {
		e.surface(&RepoError{Op: "recording observed webhook status", Err: err})
	}
	if up.Status.State == webhook.StateRetrying {
		return
	}

	e.mu.Lock()
	ctrl := e.controllers[up.WebhookID]
	e.mu.Unlock()
	if ctrl != nil {
		ctrl.halt()
		e.logger.Info("retry stopped by external status change",
			"webhook", up.WebhookID, "state", up.Status.State)
	}
}

// recoverInterrupted replays the non-terminal backlog a previous run
// left behind: New events that predate the subscription, Delivering
// events cut off mid-dispatch, and Failed events of webhooks still
// marked Retrying. Failed events of webhooks that are not retrying
// stay where they are: at-most-once failures are terminal and a
// re-enable after Unavailable discards the old queue.
func (e *Engine) recoverInterrupted(ctx context.Context) error {
	events, err := e.events.GetEventsByStatuses(ctx,
		event.StatusNew, event.StatusDelivering, event.StatusFailed)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	var replayed, redispatched, requeued int
	for _, ev := range events {
		switch ev.Status {
		case event.StatusNew:
			// The subscription only carries events stored after it
			// opened; anything already New is this run's to deliver.
			// The key and status timestamp are remembered so an event
			// stored between subscribing and this scan is not routed a
			// second time when its subscription copy arrives.
			e.mu.Lock()
			e.recovered[ev.Key] = ev.StatusChangedAt
			e.mu.Unlock()
			e.route(ev)
			replayed++
		case event.StatusDelivering:
			e.route(ev)
			redispatched++
		case event.StatusFailed:
			wh, err := e.webhooks.GetWebhook(ctx, ev.Key.WebhookID)
			if err != nil {
				if errors.Is(err, webhookrepo.ErrNotFound) {
					e.surface(&MissingWebhookError{WebhookID: ev.Key.WebhookID})
				} else {
					e.surface(&RepoError{Op: "resolving webhook during recovery", Err: err})
				}
				continue
			}
			if !wh.Mode.AtLeastOnce() {
				continue
			}
			status, err := e.cache.Resolve(ctx, wh)
			if err != nil {
				e.surface(&RepoError{Op: "resolving webhook status during recovery", Err: err})
				continue
			}
			if status.State != webhook.StateRetrying {
				continue
			}
			e.joinRetry(wh, retrySince(status, ev.StatusChangedAt), ev)
			requeued++
		}
	}
	e.logger.Info("recovered interrupted events",
		"replayed", replayed, "redispatched", redispatched, "requeued", requeued)
	return nil
}

func (e *Engine) surface(err error) {
	if err == nil {
		return
	}
	if e.metrics != nil {
		e.metrics.RecordEngineError(ErrKind(err))
	}
	e.logger.Debug("engine error surfaced", "kind", ErrKind(err), "error", err)
	e.errs.publish(err)
}

func (e *Engine) snapshotControllers() []*retryController {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctrls := make([]*retryController, 0, len(e.controllers))
	for _, c := range e.controllers {
		ctrls = append(ctrls, c)
	}
	return ctrls
}

// removeController drops the map entry if it still points at ctrl, so
// a replacement registered in the meantime survives.
func (e *Engine) removeController(id webhook.ID, ctrl *retryController) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.controllers[id] == ctrl {
		delete(e.controllers, id)
	}
}

func (e *Engine) maxBatch() int {
	if e.cfg.Batching == nil {
		return 0
	}
	return e.cfg.Batching.MaxSize
}

// retrySince prefers the persisted start of the retry episode so the
// failure horizon survives restarts.
func retrySince(status webhook.Status, fallback time.Time) time.Time {
	if status.State == webhook.StateRetrying && !status.Since.IsZero() {
		return status.Since
	}
	return fallback
}
