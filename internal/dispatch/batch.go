package dispatch

import (
	"sync"
	"time"

	"github.com/bargom/hookrelay/internal/event"
	"github.com/bargom/hookrelay/internal/webhook"
)

// BatchKey groups events that may share one batched request: same
// webhook, same Content-Type, same Accept.
type BatchKey struct {
	WebhookID   webhook.ID
	ContentType string
	Accept      string
}

// batchKeyFor derives the key from the event's headers, taking the
// first value of each name case-insensitively.
func batchKeyFor(e *event.Event) BatchKey {
	return BatchKey{
		WebhookID:   e.Key.WebhookID,
		ContentType: e.Headers.Get("Content-Type"),
		Accept:      e.Headers.Get("Accept"),
	}
}

// headers returns the shared headers a batched request carries. Empty
// components are omitted rather than sent blank.
func (k BatchKey) headers() event.Headers {
	var h event.Headers
	if k.ContentType != "" {
		h = append(h, event.Header{Name: "Content-Type", Value: k.ContentType})
	}
	if k.Accept != "" {
		h = append(h, event.Header{Name: "Accept", Value: k.Accept})
	}
	return h
}

// Batch is an emitted accumulator: events for one webhook sharing one
// key, in arrival order.
type Batch struct {
	Webhook *webhook.Webhook
	Key     BatchKey
	Events  []event.Event
}

type batchItem struct {
	webhook *webhook.Webhook
	event   event.Event
}

type accumulator struct {
	in chan batchItem
}

// Batcher accumulates events per BatchKey and emits a Batch when an
// accumulator reaches max-size or its earliest pending event has
// waited max-wait. Each accumulator is owned by a single goroutine;
// the sink runs on that goroutine and must not block indefinitely.
type Batcher struct {
	cfg  BatchingConfig
	sink func(Batch)

	mu     sync.Mutex
	accs   map[BatchKey]*accumulator
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewBatcher creates a batcher delivering emissions to sink.
func NewBatcher(cfg BatchingConfig, sink func(Batch)) *Batcher {
	def := DefaultConfig().Batching
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	return &Batcher{
		cfg:  cfg,
		sink: sink,
		accs: make(map[BatchKey]*accumulator),
		done: make(chan struct{}),
	}
}

// Add routes the event to its key's accumulator, creating one when
// absent. Returns false once the batcher is closed. The send happens
// under the batcher lock so Close cannot strand an accepted event.
func (b *Batcher) Add(w *webhook.Webhook, e event.Event) bool {
	key := batchKeyFor(&e)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	acc, ok := b.accs[key]
	if !ok {
		acc = &accumulator{in: make(chan batchItem, b.cfg.MaxSize)}
		b.accs[key] = acc
		b.wg.Add(1)
		go b.run(key, acc)
	}
	acc.in <- batchItem{webhook: w, event: e}
	return true
}

// Close flushes every accumulator once and waits for them to finish.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
}

// run owns one accumulator. The max-wait timer starts when an event
// joins an empty accumulator and is cleared on every emission.
func (b *Batcher) run(key BatchKey, acc *accumulator) {
	defer b.wg.Done()

	var (
		pending []event.Event
		hook    *webhook.Webhook
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
		if len(pending) == 0 {
			return
		}
		b.sink(Batch{Webhook: hook, Key: key, Events: pending})
		pending = nil
	}

	for {
		select {
		case item := <-acc.in:
			hook = item.webhook
			pending = append(pending, item.event)
			if len(pending) == 1 {
				timer = time.NewTimer(b.cfg.MaxWait)
				timerC = timer.C
			}
			if len(pending) >= b.cfg.MaxSize {
				flush()
			}

		case <-timerC:
			timer = nil
			timerC = nil
			flush()

		case <-b.done:
			// Final drain: pick up anything already queued, then emit
			// what is pending best-effort.
		drain:
			for {
				select {
				case item := <-acc.in:
					hook = item.webhook
					pending = append(pending, item.event)
					if len(pending) >= b.cfg.MaxSize {
						flush()
					}
				default:
					break drain
				}
			}
			flush()
			return
		}
	}
}
