// Package checks provides the built-in health checkers the serve
// command registers: storage, state store, dispatch engine, and
// process runtime.
package checks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bargom/hookrelay/internal/health"
)

// Storage is the slice of the storage layer the checker consumes.
type Storage interface {
	Driver() string
	Ping(ctx context.Context) error
	DB() *sql.DB
}

// StorageChecker pings the webhook/event storage backend.
type StorageChecker struct {
	store    Storage
	timeout  time.Duration
	severity health.Severity
}

// StorageOption configures a StorageChecker.
type StorageOption func(*StorageChecker)

// WithStorageTimeout bounds the ping.
func WithStorageTimeout(d time.Duration) StorageOption {
	return func(c *StorageChecker) {
		c.timeout = d
	}
}

// WithStorageSeverity overrides the default critical severity.
func WithStorageSeverity(s health.Severity) StorageOption {
	return func(c *StorageChecker) {
		c.severity = s
	}
}

// NewStorageChecker creates a storage health checker.
func NewStorageChecker(store Storage, opts ...StorageOption) *StorageChecker {
	c := &StorageChecker{
		store:    store,
		timeout:  2 * time.Second,
		severity: health.SeverityCritical,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "storage".
func (c *StorageChecker) Name() string { return "storage" }

// Severity returns the configured severity.
func (c *StorageChecker) Severity() health.Severity { return c.severity }

// Check pings the backend and, for SQL drivers, reports pool numbers.
func (c *StorageChecker) Check(ctx context.Context) health.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		return health.CheckResult{
			Status:  health.StatusUnhealthy,
			Message: fmt.Sprintf("storage ping failed: %v", err),
			Details: map[string]any{"driver": c.store.Driver()},
		}
	}

	details := map[string]any{"driver": c.store.Driver()}
	if db := c.store.DB(); db != nil {
		stats := db.Stats()
		details["open_connections"] = stats.OpenConnections
		details["in_use"] = stats.InUse
		details["idle"] = stats.Idle
	}
	return health.CheckResult{
		Status:  health.StatusHealthy,
		Details: details,
	}
}
