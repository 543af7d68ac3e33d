package metrics

import (
	"time"
)

// DispatchMetrics provides methods to record dispatch engine metrics.
type DispatchMetrics struct {
	registry *Registry
}

// Dispatch returns the dispatch metrics interface for the registry.
func (r *Registry) Dispatch() *DispatchMetrics {
	return &DispatchMetrics{registry: r}
}

// RecordDispatch records one dispatch attempt. mode is the webhook's
// delivery mode; outcome is "delivered", "failed", or "abandoned".
func (d *DispatchMetrics) RecordDispatch(mode, outcome string, duration time.Duration) {
	d.registry.dispatchesTotal.WithLabelValues(mode, outcome).Inc()
	d.registry.dispatchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveBatchSize records the number of events in a batched dispatch.
func (d *DispatchMetrics) ObserveBatchSize(size int) {
	d.registry.dispatchBatchSize.Observe(float64(size))
}

// RecordEventStatus counts an event status transition written by the
// dispatcher.
func (d *DispatchMetrics) RecordEventStatus(status string) {
	d.registry.eventStatusTotal.WithLabelValues(status).Inc()
}

// RecordEngineError counts an error surfaced on the engine's error
// stream by kind.
func (d *DispatchMetrics) RecordEngineError(kind string) {
	d.registry.engineErrorsTotal.WithLabelValues(kind).Inc()
}

// SetRetryQueueDepth reports the current queue length of one webhook's
// retry controller.
func (d *DispatchMetrics) SetRetryQueueDepth(webhookID string, depth int) {
	d.registry.retryQueueDepth.WithLabelValues(webhookID).Set(float64(depth))
}

// DeleteRetryQueueDepth drops the depth series of a finished retry
// controller so idle webhooks do not linger in the scrape.
func (d *DispatchMetrics) DeleteRetryQueueDepth(webhookID string) {
	d.registry.retryQueueDepth.DeleteLabelValues(webhookID)
}

// IncRetryingWebhooks increments the count of webhooks in retry.
func (d *DispatchMetrics) IncRetryingWebhooks() {
	d.registry.retryingWebhooks.Inc()
}

// DecRetryingWebhooks decrements the count of webhooks in retry.
func (d *DispatchMetrics) DecRetryingWebhooks() {
	d.registry.retryingWebhooks.Dec()
}
