package hooks

import (
	"context"
	"time"

	"github.com/bargom/hookrelay/internal/shutdown"
)

// Drainable is anything that drains in-flight work before returning.
type Drainable interface {
	Shutdown(ctx context.Context) error
}

// Engine returns the hook draining the dispatch engine. The hook
// timeout exceeds the drain deadline by a margin so the engine, not
// the hook runner, decides when to abandon in-flight deliveries.
func Engine(engine Drainable, drainDeadline time.Duration) shutdown.Hook {
	return shutdown.Hook{
		Name:     "dispatch-engine",
		Priority: shutdown.PriorityEngine,
		Timeout:  drainDeadline + 5*time.Second,
		Fn: func(ctx context.Context) error {
			drainCtx, cancel := context.WithTimeout(ctx, drainDeadline)
			defer cancel()
			return engine.Shutdown(drainCtx)
		},
	}
}
