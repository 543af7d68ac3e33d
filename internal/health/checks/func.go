package checks

import (
	"context"

	"github.com/bargom/hookrelay/internal/health"
)

// FuncChecker adapts a plain function into a Checker.
type FuncChecker struct {
	name     string
	fn       func(ctx context.Context) health.CheckResult
	severity health.Severity
}

// FuncOption configures a FuncChecker.
type FuncOption func(*FuncChecker)

// WithFuncSeverity overrides the default warning severity.
func WithFuncSeverity(s health.Severity) FuncOption {
	return func(c *FuncChecker) {
		c.severity = s
	}
}

// NewFuncChecker creates a checker from a function.
func NewFuncChecker(name string, fn func(ctx context.Context) health.CheckResult, opts ...FuncOption) *FuncChecker {
	c := &FuncChecker{
		name:     name,
		fn:       fn,
		severity: health.SeverityWarning,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the configured name.
func (c *FuncChecker) Name() string { return c.name }

// Severity returns the configured severity.
func (c *FuncChecker) Severity() health.Severity { return c.severity }

// Check invokes the function.
func (c *FuncChecker) Check(ctx context.Context) health.CheckResult {
	return c.fn(ctx)
}
