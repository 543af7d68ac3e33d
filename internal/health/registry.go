package health

import (
	"context"
	"sync"
	"time"
)

// checkTimeout bounds one probe's worth of checks.
const checkTimeout = 5 * time.Second

// Registry holds the registered checkers and runs them for probes.
type Registry struct {
	mu        sync.RWMutex
	checkers  []Checker
	startTime time.Time
	version   string
}

// NewRegistry creates a registry reporting the given build version.
func NewRegistry(version string) *Registry {
	return &Registry{
		startTime: time.Now(),
		version:   version,
	}
}

// Register adds a checker. Safe for concurrent use.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, checker)
}

// Liveness reports the process as alive without consulting any
// checker. A hung dependency must not make the orchestrator restart
// an otherwise working process.
func (r *Registry) Liveness(ctx context.Context) Response {
	return Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   r.version,
		Uptime:    time.Since(r.startTime).String(),
	}
}

// Readiness runs every registered checker concurrently and aggregates:
// an unhealthy critical check makes the whole response unhealthy, any
// other failure degrades it.
func (r *Registry) Readiness(ctx context.Context) Response {
	r.mu.RLock()
	checkers := make([]Checker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		checks  = make(map[string]CheckResult, len(checkers))
		overall = StatusHealthy
	)
	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			start := time.Now()
			result := c.Check(ctx)
			result.Duration = time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			checks[c.Name()] = result
			overall = aggregate(overall, result.Status, c.Severity())
		}(checker)
	}
	wg.Wait()

	return Response{
		Status:    overall,
		Timestamp: time.Now(),
		Version:   r.version,
		Uptime:    time.Since(r.startTime).String(),
		Checks:    checks,
	}
}

// aggregate folds one check result into the overall status. Unhealthy
// beats degraded beats healthy; only critical checks can force
// unhealthy.
func aggregate(overall Status, result Status, severity Severity) Status {
	switch result {
	case StatusUnhealthy:
		if severity == SeverityCritical {
			return StatusUnhealthy
		}
		if overall == StatusHealthy {
			return StatusDegraded
		}
	case StatusDegraded:
		if overall == StatusHealthy {
			return StatusDegraded
		}
	}
	return overall
}
