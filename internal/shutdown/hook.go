package shutdown

import (
	"context"
	"time"
)

// Hook priorities. Higher runs earlier: the API server stops taking
// work before the engine drains, and the engine drains before its
// stores close underneath it.
const (
	PriorityHTTPServer  = 90
	PriorityEngine      = 80
	PriorityMaintenance = 80
	PriorityStorage     = 70
	PriorityStateStore  = 60
	PriorityLogging     = 50
)

// HookFunc performs one component's shutdown. The context is cancelled
// when the hook's timeout expires.
type HookFunc func(ctx context.Context) error

// Hook is a named shutdown step.
type Hook struct {
	// Name identifies the hook in logs.
	Name string

	// Priority orders execution; higher runs earlier. Hooks sharing a
	// priority run concurrently.
	Priority int

	// Timeout bounds this hook alone. Zero means the manager's
	// per-hook default. Hooks that drain in-flight work set this to
	// their drain deadline plus a margin so the default cannot cut the
	// drain short.
	Timeout time.Duration

	Fn HookFunc
}
