// Package health aggregates component checks behind the server's
// liveness and readiness probes.
package health

import (
	"context"
	"time"
)

// Status is the reported condition of a component or of the server.
type Status string

const (
	// StatusHealthy means the component works.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy means the component does not work.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded means the component works with reduced capacity
	// or a non-critical component is failing.
	StatusDegraded Status = "degraded"
)

// Severity decides how a failing check affects readiness.
type Severity string

const (
	// SeverityCritical checks gate readiness: when one is unhealthy
	// the server reports unhealthy and the probe answers 503.
	SeverityCritical Severity = "critical"
	// SeverityWarning checks degrade the report but never fail the
	// probe.
	SeverityWarning Severity = "warning"
)

// CheckResult is the outcome of a single check run.
type CheckResult struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Checker is one registered component check.
type Checker interface {
	// Name identifies the check in probe responses.
	Name() string
	// Check runs the check. Implementations must honour ctx.
	Check(ctx context.Context) CheckResult
	// Severity classifies the check per the Severity constants.
	Severity() Severity
}

// Response is the probe payload.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}
