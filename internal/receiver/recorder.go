// Package receiver implements a standalone endpoint for exercising
// deliveries end to end. It records every request it sees and answers
// with a caller-chosen status code, so delivery modes and retry
// behavior can be observed from the receiving side.
package receiver

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the request ring when no capacity is given.
const DefaultCapacity = 256

// RecordedRequest is one request the receiver answered.
type RecordedRequest struct {
	ID         string      `json:"id"`
	Time       time.Time   `json:"time"`
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	Headers    http.Header `json:"headers"`
	Body       string      `json:"body"`
	RemoteAddr string      `json:"remote_addr"`
	Status     int         `json:"status"`
}

// Recorder keeps the most recent requests in a fixed-capacity ring.
// Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	buf  []RecordedRequest
	next int
	full bool
}

// NewRecorder creates a Recorder holding up to capacity requests.
func NewRecorder(capacity int) *Recorder {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Recorder{buf: make([]RecordedRequest, capacity)}
}

// Record stores a request and returns its assigned id.
func (r *Recorder) Record(req RecordedRequest) string {
	req.ID = uuid.New().String()
	if req.Time.IsZero() {
		req.Time = time.Now().UTC()
	}

	r.mu.Lock()
	r.buf[r.next] = req
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	return req.ID
}

// Len reports how many requests are currently held.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// List returns up to limit recorded requests, newest first. A
// non-positive limit returns everything held.
func (r *Recorder) List(limit int) []RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]RecordedRequest, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Clear drops all recorded requests.
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.next = 0
	r.full = false
	for i := range r.buf {
		r.buf[i] = RecordedRequest{}
	}
	r.mu.Unlock()
}
