package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bargom/hookrelay/internal/event"
	"github.com/bargom/hookrelay/internal/webhook"
	"github.com/bargom/hookrelay/pkg/delivery"
	"github.com/bargom/hookrelay/pkg/metrics"
)

// statusWriteAttempts bounds retries of a failing repo status write
// before the error surfaces and the dispatch moves on.
const statusWriteAttempts = 3

// Dispatch is one delivery unit: a single event, or a batch of events
// for one webhook sharing one BatchKey.
type Dispatch struct {
	Webhook *webhook.Webhook
	Events  []event.Event
	Batched bool
	Key     BatchKey
}

// Outcome is the classified result of sending one Dispatch.
type Outcome struct {
	// Success means the endpoint acknowledged with a 2xx.
	Success bool

	// Abandoned means shutdown cancelled the attempt before an answer;
	// event statuses were left as they were for recovery to pick up.
	Abandoned bool

	Response delivery.Response

	// Err is the transport error, nil whenever an HTTP response
	// arrived regardless of its status code.
	Err error
}

// Dispatcher turns Dispatch units into HTTP requests and records the
// resulting event transitions. It sends exactly one request per call;
// scheduling and retries belong to the engine and its controllers.
type Dispatcher struct {
	client  delivery.Client
	events  EventStore
	surface func(error)
	logger  Logger
	metrics *metrics.DispatchMetrics
}

func newDispatcher(client delivery.Client, events EventStore, surface func(error), logger Logger, m *metrics.DispatchMetrics) *Dispatcher {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Dispatcher{
		client:  client,
		events:  events,
		surface: surface,
		logger:  logger,
		metrics: m,
	}
}

// Send delivers one unit and classifies the outcome. The events'
// Status fields are updated in place to mirror the repo writes.
func (d *Dispatcher) Send(ctx context.Context, dp Dispatch) Outcome {
	if len(dp.Events) == 0 || (!dp.Batched && len(dp.Events) != 1) {
		err := &InternalError{Err: fmt.Errorf(
			"malformed dispatch for webhook %d: %d events, batched=%v",
			dp.Webhook.ID, len(dp.Events), dp.Batched,
		)}
		d.surface(err)
		return Outcome{Err: err}
	}

	start := time.Now()
	for i := range dp.Events {
		ev := &dp.Events[i]
		if ev.Status == event.StatusDelivering {
			// Crash-recovered; the repo rejects a same-status repeat.
			continue
		}
		if d.setStatus(ctx, ev.Key, event.StatusDelivering) == nil {
			ev.Status = event.StatusDelivering
		}
	}

	resp, err := d.client.Post(ctx, d.buildRequest(dp))
	if err != nil && ctx.Err() != nil {
		// Shutdown cancelled the attempt. Statuses stay Delivering so
		// the next start re-dispatches.
		d.observe(dp, "abandoned", start)
		return Outcome{Abandoned: true, Err: err}
	}
	if err != nil {
		d.surface(&HTTPError{WebhookID: dp.Webhook.ID, Err: err})
	}

	success := err == nil && resp.Success()
	target := event.StatusFailed
	outcome := "failed"
	if success {
		target = event.StatusDelivered
		outcome = "delivered"
	}
	for i := range dp.Events {
		ev := &dp.Events[i]
		if d.setStatus(ctx, ev.Key, target) == nil {
			ev.Status = target
		}
	}

	d.observe(dp, outcome, start)
	if success {
		d.logger.Debug("dispatch delivered",
			"webhook", dp.Webhook.ID, "events", len(dp.Events), "status", resp.StatusCode)
	} else {
		d.logger.Warn("dispatch failed",
			"webhook", dp.Webhook.ID, "events", len(dp.Events), "status", resp.StatusCode, "error", err)
	}
	return Outcome{Success: success, Response: resp, Err: err}
}

// buildRequest assembles the wire format. A single dispatch carries
// the event content verbatim with its headers; a batch carries a JSON
// array of the raw contents with the BatchKey's shared headers. When
// the webhook has a secret the payload is signed; without one nothing
// is added.
func (d *Dispatcher) buildRequest(dp Dispatch) delivery.Request {
	var (
		body    []byte
		headers event.Headers
	)
	if dp.Batched {
		contents := make([]string, len(dp.Events))
		for i, ev := range dp.Events {
			contents[i] = ev.Content
		}
		body, _ = json.Marshal(contents)
		headers = dp.Key.headers()
	} else {
		body = []byte(dp.Events[0].Content)
		headers = dp.Events[0].Headers
	}

	req := delivery.Request{
		URL:     dp.Webhook.URL,
		Body:    body,
		Headers: toDeliveryHeaders(headers),
	}
	if dp.Webhook.Secret != "" {
		now := time.Now()
		req.Headers = append(req.Headers,
			delivery.Header{Name: delivery.SignatureHeader, Value: delivery.Sign(dp.Webhook.Secret, now, body)},
			delivery.Header{Name: delivery.TimestampHeader, Value: delivery.Timestamp(now)},
		)
	}
	return req
}

func (d *Dispatcher) setStatus(ctx context.Context, key event.Key, status event.Status) error {
	var err error
	for attempt := 0; attempt < statusWriteAttempts; attempt++ {
		err = d.events.SetEventStatus(ctx, key, status)
		if err == nil {
			if d.metrics != nil {
				d.metrics.RecordEventStatus(string(status))
			}
			return nil
		}
		var invalid *event.InvalidTransitionError
		if errors.As(err, &invalid) {
			// The transition table refused; retrying cannot help.
			d.surface(invalid)
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}
	d.surface(&RepoError{Op: fmt.Sprintf("marking event %s %s", key, status), Err: err})
	return err
}

func (d *Dispatcher) observe(dp Dispatch, outcome string, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordDispatch(string(dp.Webhook.Mode), outcome, time.Since(start))
	if dp.Batched {
		d.metrics.ObserveBatchSize(len(dp.Events))
	}
}

func toDeliveryHeaders(h event.Headers) []delivery.Header {
	if len(h) == 0 {
		return nil
	}
	out := make([]delivery.Header, len(h))
	for i, hdr := range h {
		out[i] = delivery.Header{Name: hdr.Name, Value: hdr.Value}
	}
	return out
}
