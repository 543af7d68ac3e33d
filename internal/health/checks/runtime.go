package checks

import (
	"context"
	"fmt"
	"runtime"

	"github.com/bargom/hookrelay/internal/health"
)

// RuntimeChecker reports process heap and goroutine numbers. It only
// ever degrades, never fails, a probe.
type RuntimeChecker struct {
	heapThreshold float64 // fraction of HeapSys, 0-1
}

// RuntimeOption configures a RuntimeChecker.
type RuntimeOption func(*RuntimeChecker)

// WithHeapThreshold sets the heap usage fraction above which the
// check degrades.
func WithHeapThreshold(t float64) RuntimeOption {
	return func(c *RuntimeChecker) {
		c.heapThreshold = t
	}
}

// NewRuntimeChecker creates a process runtime checker.
func NewRuntimeChecker(opts ...RuntimeOption) *RuntimeChecker {
	c := &RuntimeChecker{heapThreshold: 0.9}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "runtime".
func (c *RuntimeChecker) Name() string { return "runtime" }

// Severity is always warning.
func (c *RuntimeChecker) Severity() health.Severity { return health.SeverityWarning }

// Check samples runtime memory statistics.
func (c *RuntimeChecker) Check(ctx context.Context) health.CheckResult {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usage := 0.0
	if m.HeapSys > 0 {
		usage = float64(m.HeapAlloc) / float64(m.HeapSys)
	}

	result := health.CheckResult{
		Status: health.StatusHealthy,
		Details: map[string]any{
			"heap_alloc_mb": fmt.Sprintf("%.1f", float64(m.HeapAlloc)/(1024*1024)),
			"heap_sys_mb":   fmt.Sprintf("%.1f", float64(m.HeapSys)/(1024*1024)),
			"goroutines":    runtime.NumGoroutine(),
			"gc_cycles":     m.NumGC,
		},
	}
	if usage > c.heapThreshold {
		result.Status = health.StatusDegraded
		result.Message = fmt.Sprintf("heap usage %.0f%% above threshold", usage*100)
	}
	return result
}
