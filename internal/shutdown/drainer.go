package shutdown

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Drainer tracks in-flight work so shutdown can wait for it. Once
// draining starts, Add refuses new work while already-admitted work
// runs to completion.
type Drainer struct {
	count atomic.Int64
	wg    sync.WaitGroup
	done  chan struct{}
	once  sync.Once
}

// NewDrainer creates a drainer accepting work.
func NewDrainer() *Drainer {
	return &Drainer{done: make(chan struct{})}
}

// Add admits one unit of work. Returns false once draining started;
// the caller must not proceed and must not call Done.
func (d *Drainer) Add() bool {
	select {
	case <-d.done:
		return false
	default:
		d.count.Add(1)
		d.wg.Add(1)
		return true
	}
}

// Done marks one admitted unit of work complete.
func (d *Drainer) Done() {
	d.count.Add(-1)
	d.wg.Done()
}

// Count returns the number of in-flight units.
func (d *Drainer) Count() int64 {
	return d.count.Load()
}

// StartDrain stops admission. Idempotent.
func (d *Drainer) StartDrain() {
	d.once.Do(func() { close(d.done) })
}

// IsDraining reports whether admission has stopped.
func (d *Drainer) IsDraining() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Wait blocks until all admitted work completes or ctx ends, returning
// ctx's error in the latter case.
func (d *Drainer) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitWithTimeout is Wait bounded by a duration.
func (d *Drainer) WaitWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.Wait(ctx)
}

// DrainMiddleware tracks HTTP requests in the drainer and answers 503
// once draining started.
func DrainMiddleware(drainer *Drainer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !drainer.Add() {
				w.Header().Set("Connection", "close")
				http.Error(w, "service shutting down", http.StatusServiceUnavailable)
				return
			}
			defer drainer.Done()
			next.ServeHTTP(w, r)
		})
	}
}
