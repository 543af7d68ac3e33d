package hooks

import (
	"context"
	"io"

	"github.com/bargom/hookrelay/internal/shutdown"
)

// Closer adapts an io.Closer into a named hook. Used for the storage
// backend and the state store, which close after the engine drained.
func Closer(name string, priority int, c io.Closer) shutdown.Hook {
	return shutdown.Hook{
		Name:     name,
		Priority: priority,
		Fn: func(context.Context) error {
			return c.Close()
		},
	}
}
