package checks

import (
	"context"

	"github.com/bargom/hookrelay/internal/health"
)

// Engine is the slice of the dispatch engine the checker consumes.
type Engine interface {
	Running() bool
}

// EngineChecker reports whether the dispatch engine is consuming
// events. It turns unhealthy the moment shutdown begins, flipping
// readiness before the listener closes.
type EngineChecker struct {
	engine Engine
}

// NewEngineChecker creates a dispatch engine health checker.
func NewEngineChecker(engine Engine) *EngineChecker {
	return &EngineChecker{engine: engine}
}

// Name returns "engine".
func (c *EngineChecker) Name() string { return "engine" }

// Severity is always critical: a server that cannot dispatch must
// not accept events.
func (c *EngineChecker) Severity() health.Severity { return health.SeverityCritical }

// Check reports the engine's run state.
func (c *EngineChecker) Check(ctx context.Context) health.CheckResult {
	if !c.engine.Running() {
		return health.CheckResult{
			Status:  health.StatusUnhealthy,
			Message: "dispatch engine is not running",
		}
	}
	return health.CheckResult{Status: health.StatusHealthy}
}
