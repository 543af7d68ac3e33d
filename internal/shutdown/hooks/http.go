// Package hooks builds shutdown hooks for the server's components.
package hooks

import (
	"context"

	"github.com/bargom/hookrelay/internal/shutdown"
)

// Stoppable is the part of the API server the hook needs.
type Stoppable interface {
	Shutdown(ctx context.Context) error
}

// APIServer returns the hook that stops the management API. It flips
// the drainer first so readiness reports draining while in-flight
// requests finish.
func APIServer(drainer *shutdown.Drainer, server Stoppable) shutdown.Hook {
	return shutdown.Hook{
		Name:     "api-server",
		Priority: shutdown.PriorityHTTPServer,
		Fn: func(ctx context.Context) error {
			drainer.StartDrain()
			return server.Shutdown(ctx)
		},
	}
}
