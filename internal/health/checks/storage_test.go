package checks

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bargom/hookrelay/internal/health"
)

type fakeStorage struct {
	driver  string
	pingErr error
	db      *sql.DB
}

func (f *fakeStorage) Driver() string                 { return f.driver }
func (f *fakeStorage) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeStorage) DB() *sql.DB                    { return f.db }

func TestStorageChecker(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		checker := NewStorageChecker(&fakeStorage{driver: "memory"})

		result := checker.Check(context.Background())

		assert.Equal(t, health.StatusHealthy, result.Status)
		assert.Equal(t, "memory", result.Details["driver"])
	})

	t.Run("ping failure", func(t *testing.T) {
		checker := NewStorageChecker(&fakeStorage{
			driver:  "postgres",
			pingErr: errors.New("connection refused"),
		})

		result := checker.Check(context.Background())

		assert.Equal(t, health.StatusUnhealthy, result.Status)
		assert.Contains(t, result.Message, "storage ping failed")
		assert.Contains(t, result.Message, "connection refused")
	})

	t.Run("identity", func(t *testing.T) {
		checker := NewStorageChecker(&fakeStorage{})
		assert.Equal(t, "storage", checker.Name())
		assert.Equal(t, health.SeverityCritical, checker.Severity())
	})

	t.Run("severity override", func(t *testing.T) {
		checker := NewStorageChecker(&fakeStorage{}, WithStorageSeverity(health.SeverityWarning))
		assert.Equal(t, health.SeverityWarning, checker.Severity())
	})
}
