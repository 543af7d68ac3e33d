package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/bargom/hookrelay/internal/health"
)

// Pinger is anything with a healthcheck ping. All state store
// backends implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StateChecker pings the webhook state store.
type StateChecker struct {
	store    Pinger
	timeout  time.Duration
	severity health.Severity
}

// StateOption configures a StateChecker.
type StateOption func(*StateChecker)

// WithStateTimeout bounds the ping.
func WithStateTimeout(d time.Duration) StateOption {
	return func(c *StateChecker) {
		c.timeout = d
	}
}

// WithStateSeverity overrides the default critical severity.
func WithStateSeverity(s health.Severity) StateOption {
	return func(c *StateChecker) {
		c.severity = s
	}
}

// NewStateChecker creates a state store health checker.
func NewStateChecker(store Pinger, opts ...StateOption) *StateChecker {
	c := &StateChecker{
		store:    store,
		timeout:  time.Second,
		severity: health.SeverityCritical,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "state".
func (c *StateChecker) Name() string { return "state" }

// Severity returns the configured severity.
func (c *StateChecker) Severity() health.Severity { return c.severity }

// Check pings the state store.
func (c *StateChecker) Check(ctx context.Context) health.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		return health.CheckResult{
			Status:  health.StatusUnhealthy,
			Message: fmt.Sprintf("state store ping failed: %v", err),
		}
	}
	return health.CheckResult{Status: health.StatusHealthy}
}
