package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bargom/hookrelay/internal/api/types"
	"github.com/bargom/hookrelay/internal/dispatch"
)

// defaultRingCapacity bounds the ring when the caller passes no size.
const defaultRingCapacity = 128

// ErrorRecord is one structural error kept for operators: an event
// dropped, a webhook gone unavailable, a store write that failed.
type ErrorRecord struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// ErrorRing is a fixed-capacity ring of the most recent engine errors.
// It backs GET /api/v1/errors and is fed from an engine Errors()
// subscription. Safe for concurrent use.
type ErrorRing struct {
	mu   sync.Mutex
	buf  []ErrorRecord
	next int
	full bool
}

// NewErrorRing creates a ring holding up to capacity records.
func NewErrorRing(capacity int) *ErrorRing {
	if capacity < 1 {
		capacity = defaultRingCapacity
	}
	return &ErrorRing{buf: make([]ErrorRecord, capacity)}
}

// Record adds an error to the ring, evicting the oldest when full.
func (r *ErrorRing) Record(err error) {
	if err == nil {
		return
	}
	rec := ErrorRecord{
		Time:    time.Now().UTC(),
		Kind:    dispatch.ErrKind(err),
		Message: err.Error(),
	}

	r.mu.Lock()
	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Len reports how many records the ring currently holds.
func (r *ErrorRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Recent returns up to limit records, newest first. A non-positive
// limit returns everything held.
func (r *ErrorRing) Recent(limit int) []ErrorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]ErrorRecord, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Consume records errors from errs until the channel closes or ctx is
// cancelled. Run it in a goroutine over the engine's Errors() channel.
func (r *ErrorRing) Consume(ctx context.Context, errs <-chan error) {
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			r.Record(err)
		case <-ctx.Done():
			return
		}
	}
}

// ListErrors handles GET /api/v1/errors. Records come newest first;
// limit bounds the window.
func (h *Handler) ListErrors(w http.ResponseWriter, r *http.Request) {
	limit, _ := getPaginationParams(r)

	records := []ErrorRecord{}
	if h.ring != nil {
		records = h.ring.Recent(limit)
	}
	h.respondJSON(w, http.StatusOK, types.NewListResponse(records, limit, 0))
}
