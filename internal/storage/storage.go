// Package storage opens the configured persistence backend and wires
// the webhook and event repositories on top of it.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	eventrepo "github.com/bargom/hookrelay/internal/event/repository"
	webhookrepo "github.com/bargom/hookrelay/internal/webhook/repository"
)

// Drivers supported by Open.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Listener reconnect bounds, passed to pq.NewListener.
const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
)

// Config selects the persistence backend.
type Config struct {
	// Driver is memory, postgres or sqlite.
	Driver string

	// DSN is the postgres connection URL or the sqlite file path.
	// Unused by the memory driver.
	DSN string
}

// Store bundles the opened repositories with their backing connection.
type Store struct {
	Webhooks webhookrepo.Repository
	Events   eventrepo.Repository

	driver    string
	db        *sql.DB
	listeners []*pq.Listener
	closers   []func() error
}

// Open connects to the configured backend and builds the repositories.
// For postgres each repository gets its own pq.Listener so status and
// new-event notifications from other instances are observed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		webhooks := webhookrepo.NewMemoryRepository()
		events := eventrepo.NewMemoryRepository()
		return &Store{
			Webhooks: webhooks,
			Events:   events,
			driver:   DriverMemory,
			closers:  []func() error{events.Close, webhooks.Close},
		}, nil

	case DriverPostgres:
		db, err := open("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}

		webhookListener := pq.NewListener(cfg.DSN, minReconnectInterval, maxReconnectInterval, nil)
		eventListener := pq.NewListener(cfg.DSN, minReconnectInterval, maxReconnectInterval, nil)
		return &Store{
			Webhooks:  webhookrepo.NewSQLRepository(db, webhookrepo.WithUpdateListener(webhookListener)),
			Events:    eventrepo.NewSQLRepository(db, eventrepo.WithEventListener(eventListener)),
			driver:    DriverPostgres,
			db:        db,
			listeners: []*pq.Listener{webhookListener, eventListener},
		}, nil

	case DriverSQLite:
		db, err := open("sqlite", cfg.DSN)
		if err != nil {
			return nil, err
		}
		// A single connection sidesteps SQLITE_BUSY under writers and
		// keeps :memory: databases on one handle.
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}
		return &Store{
			Webhooks: webhookrepo.NewSQLRepository(db),
			Events:   eventrepo.NewSQLRepository(db),
			driver:   DriverSQLite,
			db:       db,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func open(driverName, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s driver requires a dsn", driverName)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)
	return db, nil
}

// Driver returns the driver the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

// DB exposes the underlying connection for health checks and pool
// metrics. Nil for the memory driver.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the backing connection is alive. The memory driver is
// always alive.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Migrate applies any pending schema migrations. The memory driver has
// no schema.
func (s *Store) Migrate(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return NewMigrator(s.db, s.driver).Up(ctx)
}

// Close releases listeners, repositories and the connection.
func (s *Store) Close() error {
	var firstErr error
	for _, l := range s.listeners {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing listener: %w", err)
		}
	}
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	return firstErr
}
