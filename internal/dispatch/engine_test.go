package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bargom/hookrelay/internal/event"
	eventrepo "github.com/bargom/hookrelay/internal/event/repository"
	"github.com/bargom/hookrelay/internal/state"
	"github.com/bargom/hookrelay/internal/webhook"
	webhookrepo "github.com/bargom/hookrelay/internal/webhook/repository"
	"github.com/bargom/hookrelay/pkg/delivery"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func TestEngine_SingleDispatchHappyPath(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.addWebhook(0, webhook.SingleAtMostOnce, webhook.Enabled())
	h.start()

	h.createEvent(0, 0, "event payload", event.Header{Name: "Accept", Value: "*/*"})

	require.Eventually(t, func() bool { return h.client.count() == 1 }, waitFor, tick)

	req := h.client.all()[0]
	assert.Equal(t, "http://example.org/0", req.URL)
	assert.Equal(t, "event payload", string(req.Body))
	assert.Equal(t, []delivery.Header{{Name: "Accept", Value: "*/*"}}, req.Headers)

	require.Eventually(t, func() bool {
		return h.eventStatus(0, 0) == event.StatusDelivered
	}, waitFor, tick)
}

func TestEngine_FanOutAcrossWebhooks(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	for i := 0; i < 100; i++ {
		h.addWebhook(webhook.ID(i), webhook.SingleAtMostOnce, webhook.Enabled())
	}
	h.start()

	for i := 0; i < 100; i++ {
		h.createEvent(webhook.ID(i), event.ID(i), fmt.Sprintf("payload %d", i))
	}

	require.Eventually(t, func() bool { return h.client.count() == 100 }, waitFor, tick)

	urls := make(map[string]int)
	for _, req := range h.client.all() {
		urls[req.URL]++
	}
	assert.Len(t, urls, 100)
	for url, n := range urls {
		assert.Equal(t, 1, n, "url %s", url)
	}
}

func TestEngine_DisabledWebhookDropsEvents(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.addWebhook(0, webhook.SingleAtMostOnce, webhook.Disabled())
	h.start()

	for i := 0; i < 100; i++ {
		h.createEvent(0, event.ID(i), fmt.Sprintf("payload %d", i))
	}

	assert.Never(t, func() bool { return h.client.count() > 0 }, 200*time.Millisecond, tick)
	for i := 0; i < 100; i++ {
		assert.Equal(t, event.StatusNew, h.eventStatus(0, event.ID(i)))
	}
}

func TestEngine_BatchingBySize(t *testing.T) {
	cfg := testConfig()
	cfg.Batching = &BatchingConfig{MaxSize: 10, MaxWait: 5 * time.Second}
	h := newHarness(t, cfg, nil)
	h.addWebhook(0, webhook.BatchedAtMostOnce, webhook.Enabled())
	h.start()

	for i := 0; i < 100; i++ {
		h.createEvent(0, event.ID(i), fmt.Sprintf("payload %d", i),
			event.Header{Name: "Content-Type", Value: "application/json"})
	}

	require.Eventually(t, func() bool { return h.client.count() == 10 }, waitFor, tick)

	for _, req := range h.client.all() {
		var contents []string
		require.NoError(t, json.Unmarshal(req.Body, &contents))
		assert.Len(t, contents, 10)
		assert.Equal(t, []delivery.Header{{Name: "Content-Type", Value: "application/json"}}, req.Headers)
	}

	require.Eventually(t, func() bool {
		return h.eventStatus(0, 99) == event.StatusDelivered
	}, waitFor, tick)
}

func TestEngine_BatchingByTime(t *testing.T) {
	cfg := testConfig()
	cfg.Batching = &BatchingConfig{MaxSize: 10, MaxWait: 250 * time.Millisecond}
	h := newHarness(t, cfg, nil)
	h.addWebhook(0, webhook.BatchedAtMostOnce, webhook.Enabled())
	h.start()

	for i := 0; i < 5; i++ {
		h.createEvent(0, event.ID(i), fmt.Sprintf("payload %d", i))
	}

	// The window has not elapsed; nothing may go out yet.
	assert.Never(t, func() bool { return h.client.count() > 0 }, 100*time.Millisecond, tick)

	require.Eventually(t, func() bool { return h.client.count() == 1 }, waitFor, tick)

	var contents []string
	require.NoError(t, json.Unmarshal(h.client.all()[0].Body, &contents))
	assert.Len(t, contents, 5)
}

func TestEngine_MissingWebhookSurfacesAndDrops(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	errCh := h.engine.Errors()
	h.start()

	h.createEvent(404, 0, "payload")

	var missing *MissingWebhookError
	require.True(t, waitForError(t, errCh, &missing), "expected MissingWebhookError")
	assert.Equal(t, webhook.ID(404), missing.WebhookID)

	assert.Zero(t, h.client.count())
	assert.Equal(t, event.StatusNew, h.eventStatus(404, 0))
}

func TestEngine_RetriesUntilSuccess(t *testing.T) {
	client := &stubClient{respond: func(ctx context.Context, n int, req delivery.Request) (delivery.Response, error) {
		if n <= 2 {
			return delivery.Response{StatusCode: http.StatusServiceUnavailable}, nil
		}
		return delivery.Response{StatusCode: http.StatusOK}, nil
	}}
	h := newHarness(t, testConfig(), client)
	h.addWebhook(0, webhook.SingleAtLeastOnce, webhook.Enabled())
	h.start()

	h.createEvent(0, 0, "stubborn payload")

	require.Eventually(t, func() bool {
		return h.eventStatus(0, 0) == event.StatusDelivered
	}, waitFor, tick)
	assert.Equal(t, 3, h.client.count())

	// The drained controller hands the webhook back to the happy path,
	// clearing its entry from the state store.
	require.Eventually(t, func() bool {
		states, err := h.store.List(context.Background())
		require.NoError(t, err)
		return len(states) == 0
	}, waitFor, tick)
}

func TestEngine_RetryQueueKeepsArrivalOrder(t *testing.T) {
	client := &stubClient{respond: func(ctx context.Context, n int, req delivery.Request) (delivery.Response, error) {
		if n == 1 {
			return delivery.Response{StatusCode: http.StatusBadGateway}, nil
		}
		return delivery.Response{StatusCode: http.StatusOK}, nil
	}}
	cfg := testConfig()
	// A wide first backoff so the tail joins land before the retry.
	cfg.Retry = RetryConfig{Base: 250 * time.Millisecond, Max: time.Second, FailureHorizon: time.Hour}
	h := newHarness(t, cfg, client)
	h.addWebhook(0, webhook.SingleAtLeastOnce, webhook.Enabled())
	h.start()

	h.createEvent(0, 0, "first")
	require.Eventually(t, func() bool {
		status, err := h.store.Get(context.Background(), 0)
		return err == nil && status.State == webhook.StateRetrying
	}, waitFor, tick)

	// The webhook is retrying; these must join the queue tail instead
	// of dispatching in parallel.
	h.createEvent(0, 1, "second")
	h.createEvent(0, 2, "third")

	require.Eventually(t, func() bool {
		return h.eventStatus(0, 2) == event.StatusDelivered
	}, waitFor, tick)

	requests := h.client.all()
	require.Len(t, requests, 4)
	assert.Equal(t, "first", string(requests[1].Body))
	assert.Equal(t, "second", string(requests[2].Body))
	assert.Equal(t, "third", string(requests[3].Body))
}

func TestEngine_UnavailableAfterFailureHorizon(t *testing.T) {
	client := &stubClient{respond: func(ctx context.Context, n int, req delivery.Request) (delivery.Response, error) {
		return delivery.Response{StatusCode: http.StatusServiceUnavailable}, nil
	}}
	cfg := testConfig()
	cfg.Retry = RetryConfig{Base: 5 * time.Millisecond, Max: 10 * time.Millisecond, FailureHorizon: 60 * time.Millisecond}
	h := newHarness(t, cfg, client)
	h.addWebhook(0, webhook.SingleAtLeastOnce, webhook.Enabled())
	errCh := h.engine.Errors()
	h.start()

	h.createEvent(0, 0, "doomed payload")

	var unavailable *WebhookUnavailableError
	require.True(t, waitForError(t, errCh, &unavailable), "expected WebhookUnavailableError")
	assert.Equal(t, webhook.ID(0), unavailable.WebhookID)

	require.Eventually(t, func() bool {
		status, err := h.store.Get(context.Background(), 0)
		return err == nil && status.State == webhook.StateUnavailable
	}, waitFor, tick)
	assert.Equal(t, event.StatusFailed, h.eventStatus(0, 0))

	// Events for an unavailable webhook are dropped without dispatch.
	before := h.client.count()
	h.createEvent(0, 1, "late payload")
	assert.Never(t, func() bool { return h.client.count() > before }, 150*time.Millisecond, tick)
	assert.Equal(t, event.StatusNew, h.eventStatus(0, 1))
}

func TestEngine_AtMostOnceFailureIsTerminal(t *testing.T) {
	client := &stubClient{respond: func(ctx context.Context, n int, req delivery.Request) (delivery.Response, error) {
		return delivery.Response{StatusCode: http.StatusInternalServerError}, nil
	}}
	h := newHarness(t, testConfig(), client)
	h.addWebhook(0, webhook.SingleAtMostOnce, webhook.Enabled())
	h.start()

	h.createEvent(0, 0, "fire and forget")

	require.Eventually(t, func() bool {
		return h.eventStatus(0, 0) == event.StatusFailed
	}, waitFor, tick)

	// No retry follows.
	assert.Never(t, func() bool { return h.client.count() > 1 }, 150*time.Millisecond, tick)

	h.engine.mu.Lock()
	controllers := len(h.engine.controllers)
	h.engine.mu.Unlock()
	assert.Zero(t, controllers)
}

func TestEngine_BatchedFailureRetriesAsBatch(t *testing.T) {
	client := &stubClient{respond: func(ctx context.Context, n int, req delivery.Request) (delivery.Response, error) {
		if n == 1 {
			return delivery.Response{StatusCode: http.StatusBadGateway}, nil
		}
		return delivery.Response{StatusCode: http.StatusOK}, nil
	}}
	cfg := testConfig()
	cfg.Batching = &BatchingConfig{MaxSize: 3, MaxWait: 5 * time.Second}
	h := newHarness(t, cfg, client)
	h.addWebhook(0, webhook.BatchedAtLeastOnce, webhook.Enabled())
	h.start()

	for i := 0; i < 3; i++ {
		h.createEvent(0, event.ID(i), fmt.Sprintf("payload %d", i),
			event.Header{Name: "Content-Type", Value: "application/json"})
	}

	require.Eventually(t, func() bool { return h.client.count() == 2 }, waitFor, tick)

	first, second := h.client.all()[0], h.client.all()[1]
	assert.JSONEq(t, string(first.Body), string(second.Body))
	assert.Equal(t, first.Headers, second.Headers)

	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool {
			return h.eventStatus(0, event.ID(i)) == event.StatusDelivered
		}, waitFor, tick)
	}
}

func TestEngine_BatchedModeWithoutBatchingConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Batching = nil
	h := newHarness(t, cfg, nil)
	h.addWebhook(0, webhook.BatchedAtMostOnce, webhook.Enabled())
	errCh := h.engine.Errors()
	h.start()

	h.createEvent(0, 0, "payload")

	var invalid *event.InvalidTransitionError
	require.True(t, waitForError(t, errCh, &invalid), "expected InvalidTransitionError")
	assert.Equal(t, event.Key{EventID: 0, WebhookID: 0}, invalid.Key)
	assert.Zero(t, h.client.count())
}

func TestEngine_ExternalDisableHaltsRetry(t *testing.T) {
	client := &stubClient{respond: func(ctx context.Context, n int, req delivery.Request) (delivery.Response, error) {
		return delivery.Response{StatusCode: http.StatusServiceUnavailable}, nil
	}}
	h := newHarness(t, testConfig(), client)
	h.addWebhook(0, webhook.SingleAtLeastOnce, webhook.Enabled())
	h.start()

	h.createEvent(0, 0, "payload")
	require.Eventually(t, func() bool {
		status, err := h.store.Get(context.Background(), 0)
		return err == nil && status.State == webhook.StateRetrying
	}, waitFor, tick)

	require.NoError(t, h.webhooks.SetWebhookStatus(context.Background(), 0, webhook.Disabled()))

	require.Eventually(t, func() bool {
		h.engine.mu.Lock()
		defer h.engine.mu.Unlock()
		return len(h.engine.controllers) == 0
	}, waitFor, tick)

	assert.Equal(t, event.StatusFailed, h.eventStatus(0, 0))
	assert.True(t, h.cache.Matches(0, webhook.Disabled()))
}

func TestEngine_ShutdownDrainsInFlight(t *testing.T) {
	started := make(chan struct{})
	client := &stubClient{respond: func(ctx context.Context, n int, req delivery.Request) (delivery.Response, error) {
		close(started)
		select {
		case <-time.After(100 * time.Millisecond):
			return delivery.Response{StatusCode: http.StatusOK}, nil
		case <-ctx.Done():
			return delivery.Response{}, ctx.Err()
		}
	}}
	h := newHarness(t, testConfig(), client)
	h.addWebhook(0, webhook.SingleAtMostOnce, webhook.Enabled())
	h.start()

	h.createEvent(0, 0, "slow payload")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.Shutdown(ctx))

	assert.Equal(t, event.StatusDelivered, h.eventStatus(0, 0))
}

func TestEngine_ShutdownDeadlineAbandonsInFlight(t *testing.T) {
	started := make(chan struct{})
	client := &stubClient{respond: func(ctx context.Context, n int, req delivery.Request) (delivery.Response, error) {
		close(started)
		<-ctx.Done()
		return delivery.Response{}, ctx.Err()
	}}
	cfg := testConfig()
	cfg.DrainDeadline = 50 * time.Millisecond
	h := newHarness(t, cfg, client)
	h.addWebhook(0, webhook.SingleAtMostOnce, webhook.Enabled())
	h.start()

	h.createEvent(0, 0, "stuck payload")
	<-started

	err := h.engine.Shutdown(context.Background())
	require.Error(t, err)

	// The abandoned event stays Delivering for the next start to
	// re-dispatch.
	assert.Equal(t, event.StatusDelivering, h.eventStatus(0, 0))
}

func TestEngine_ShutdownFlushesPendingBatches(t *testing.T) {
	cfg := testConfig()
	cfg.Batching = &BatchingConfig{MaxSize: 10, MaxWait: time.Hour}
	h := newHarness(t, cfg, nil)
	h.addWebhook(0, webhook.BatchedAtMostOnce, webhook.Enabled())
	h.start()

	h.createEvent(0, 0, "a")
	h.createEvent(0, 1, "b")

	// Let both events travel intake -> batcher before the flush.
	require.Eventually(t, func() bool {
		h.engine.batcher.mu.Lock()
		defer h.engine.batcher.mu.Unlock()
		return len(h.engine.batcher.accs) == 1
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.Shutdown(ctx))

	require.Equal(t, 1, h.client.count())
	var contents []string
	require.NoError(t, json.Unmarshal(h.client.all()[0].Body, &contents))
	assert.Equal(t, []string{"a", "b"}, contents)
}

func TestEngine_RecoveryRedispatchesDelivering(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.addWebhook(0, webhook.SingleAtMostOnce, webhook.Enabled())

	// A previous run crashed mid-dispatch.
	h.createEvent(0, 0, "orphaned payload")
	require.NoError(t, h.events.SetEventStatus(context.Background(), event.Key{EventID: 0, WebhookID: 0}, event.StatusDelivering))

	h.start()

	require.Eventually(t, func() bool {
		return h.eventStatus(0, 0) == event.StatusDelivered
	}, waitFor, tick)
	assert.Equal(t, 1, h.client.count())
}

func TestEngine_RecoveryRequeuesRetryingWebhook(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.addWebhook(0, webhook.SingleAtLeastOnce, webhook.Enabled())
	h.addWebhook(1, webhook.SingleAtLeastOnce, webhook.Enabled())

	ctx := context.Background()

	// Webhook 0 was mid-retry when the previous run stopped.
	h.createEvent(0, 0, "queued payload")
	key := event.Key{EventID: 0, WebhookID: 0}
	require.NoError(t, h.events.SetEventStatus(ctx, key, event.StatusDelivering))
	require.NoError(t, h.events.SetEventStatus(ctx, key, event.StatusFailed))
	require.NoError(t, h.store.Set(ctx, 0, webhook.Retrying(time.Now().Add(-time.Minute))))

	// Webhook 1 has a terminal Failed event and no retry state; a
	// re-enable after Unavailable discards the old queue.
	h.createEvent(1, 0, "discarded payload")
	key1 := event.Key{EventID: 0, WebhookID: 1}
	require.NoError(t, h.events.SetEventStatus(ctx, key1, event.StatusDelivering))
	require.NoError(t, h.events.SetEventStatus(ctx, key1, event.StatusFailed))

	h.start()

	require.Eventually(t, func() bool {
		return h.eventStatus(0, 0) == event.StatusDelivered
	}, waitFor, tick)

	assert.Never(t, func() bool {
		for _, req := range h.client.all() {
			if req.URL == "http://example.org/1" {
				return true
			}
		}
		return false
	}, 150*time.Millisecond, tick)
	assert.Equal(t, event.StatusFailed, h.eventStatus(1, 0))
}

func TestEngine_RecoveryReplaysPreexistingNewEvents(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.addWebhook(0, webhook.SingleAtLeastOnce, webhook.Enabled())

	// Stored while nothing was running; no subscriber ever saw it.
	h.createEvent(0, 0, "parked payload")

	h.start()

	require.Eventually(t, func() bool {
		return h.eventStatus(0, 0) == event.StatusDelivered
	}, waitFor, tick)
	assert.Equal(t, 1, h.client.count())
	assert.Never(t, func() bool { return h.client.count() > 1 }, 150*time.Millisecond, tick)
}

func TestEngine_ReplayedKeySwallowsOnlyItsSubscriptionCopy(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ev := testEvent(0, 0, "payload")
	ev.StatusChangedAt = time.Now()

	h.engine.mu.Lock()
	h.engine.recovered[ev.Key] = ev.StatusChangedAt
	h.engine.mu.Unlock()

	// The subscription's copy of a scanned event is dropped exactly once.
	assert.True(t, h.engine.replayedAtStart(ev))
	assert.False(t, h.engine.replayedAtStart(ev))

	// A requeued incarnation carries a fresh status timestamp and must
	// route normally.
	h.engine.mu.Lock()
	h.engine.recovered[ev.Key] = ev.StatusChangedAt
	h.engine.mu.Unlock()
	requeued := ev
	requeued.StatusChangedAt = ev.StatusChangedAt.Add(time.Minute)
	assert.False(t, h.engine.replayedAtStart(requeued))
}

func TestEngine_ErrorStreamMultiConsumer(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	first := h.engine.Errors()
	second := h.engine.Errors()
	h.start()

	h.createEvent(404, 0, "payload")

	var fromFirst, fromSecond *MissingWebhookError
	require.True(t, waitForError(t, first, &fromFirst))
	require.True(t, waitForError(t, second, &fromSecond))
	assert.Equal(t, fromFirst.WebhookID, fromSecond.WebhookID)
}

func TestEngine_ErrorStreamDropsOldestWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.ErrorBuffer = 4
	h := newHarness(t, cfg, nil)
	h.addWebhook(0, webhook.SingleAtMostOnce, webhook.Enabled())
	errCh := h.engine.Errors()
	h.start()

	for i := 0; i < 10; i++ {
		h.createEvent(webhook.ID(400+i), 0, "payload")
	}
	// Intake is sequential, so once this sentinel is dispatched all ten
	// errors have been published.
	h.createEvent(0, 0, "sentinel")
	require.Eventually(t, func() bool { return h.client.count() == 1 }, waitFor, tick)

	// The unread subscriber keeps only the newest four.
	require.Len(t, errCh, 4)
	var got []webhook.ID
	for i := 0; i < 4; i++ {
		var missing *MissingWebhookError
		require.True(t, waitForError(t, errCh, &missing))
		got = append(got, missing.WebhookID)
	}
	assert.Equal(t, []webhook.ID{406, 407, 408, 409}, got)
}

func TestEngine_StartTwiceFails(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.start()
	assert.Error(t, h.engine.Start(context.Background()))
}

// --- test doubles and harness ---

type stubClient struct {
	mu       sync.Mutex
	requests []delivery.Request
	respond  func(ctx context.Context, n int, req delivery.Request) (delivery.Response, error)
}

func (c *stubClient) Post(ctx context.Context, req delivery.Request) (delivery.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	n := len(c.requests)
	fn := c.respond
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, n, req)
	}
	return delivery.Response{StatusCode: http.StatusOK}, nil
}

func (c *stubClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *stubClient) all() []delivery.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]delivery.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

type engineHarness struct {
	t        *testing.T
	webhooks *webhookrepo.MemoryRepository
	events   *eventrepo.MemoryRepository
	store    *state.MemoryRepo
	cache    *state.Cache
	client   *stubClient
	engine   *Engine
}

func newHarness(t *testing.T, cfg Config, client *stubClient) *engineHarness {
	t.Helper()
	if client == nil {
		client = &stubClient{}
	}
	webhooks := webhookrepo.NewMemoryRepository()
	events := eventrepo.NewMemoryRepository()
	store := state.NewMemoryRepo()
	cache := state.NewCache(store, webhooks)

	h := &engineHarness{
		t:        t,
		webhooks: webhooks,
		events:   events,
		store:    store,
		cache:    cache,
		client:   client,
		engine:   New(cfg, webhooks, events, cache, client),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.engine.Shutdown(ctx)
		_ = h.webhooks.Close()
		_ = h.events.Close()
	})
	return h
}

func (h *engineHarness) start() {
	h.t.Helper()
	require.NoError(h.t, h.engine.Start(context.Background()))
}

func (h *engineHarness) addWebhook(id webhook.ID, mode webhook.DeliveryMode, status webhook.Status) *webhook.Webhook {
	h.t.Helper()
	w := &webhook.Webhook{
		ID:     id,
		URL:    fmt.Sprintf("http://example.org/%d", id),
		Status: status,
		Mode:   mode,
	}
	require.NoError(h.t, h.webhooks.CreateWebhook(context.Background(), w))
	return w
}

func (h *engineHarness) createEvent(webhookID webhook.ID, eventID event.ID, content string, headers ...event.Header) {
	h.t.Helper()
	ev := testEvent(webhookID, eventID, content, headers...)
	require.NoError(h.t, h.events.CreateEvent(context.Background(), &ev))
}

func (h *engineHarness) eventStatus(webhookID webhook.ID, eventID event.ID) event.Status {
	h.t.Helper()
	ev, err := h.events.GetEvent(context.Background(), event.Key{EventID: eventID, WebhookID: webhookID})
	require.NoError(h.t, err)
	return ev.Status
}

func testConfig() Config {
	return Config{
		Batching:      &BatchingConfig{MaxSize: 10, MaxWait: 200 * time.Millisecond},
		Retry:         RetryConfig{Base: 10 * time.Millisecond, Max: 80 * time.Millisecond, FailureHorizon: time.Hour},
		DrainDeadline: 2 * time.Second,
		ErrorBuffer:   16,
	}
}

func testEvent(webhookID webhook.ID, eventID event.ID, content string, headers ...event.Header) event.Event {
	return event.Event{
		Key:     event.Key{EventID: eventID, WebhookID: webhookID},
		Status:  event.StatusNew,
		Content: content,
		Headers: headers,
	}
}

// waitForError reads errCh until an error matching target arrives,
// the channel closes, or a timeout passes.
func waitForError(t *testing.T, errCh <-chan error, target any) bool {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return false
			}
			if errors.As(err, target) {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
