package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bargom/hookrelay/internal/config"
	"github.com/bargom/hookrelay/internal/storage"
)

// newMigrateCmd creates the migrate command.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Long: `Apply pending schema migrations to the configured storage backend.

Only the postgres and sqlite drivers carry a schema; the memory driver
has nothing to migrate. Applied versions are tracked in a
schema_migrations table, so running migrate repeatedly is safe.`,
		Example: `  hookrelay migrate
  hookrelay migrate --storage-driver postgres --storage-dsn postgres://localhost/hookrelay
  hookrelay migrate --storage-driver sqlite --storage-dsn hookrelay.db`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}

	cmd.Flags().String("storage-driver", storage.DriverMemory, "webhook/event storage driver (memory|postgres|sqlite)")
	cmd.Flags().String("storage-dsn", "", "postgres URL or sqlite file path")

	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	opts := []config.Option{
		config.WithFlag("storage.driver", cmd.Flags().Lookup("storage-driver")),
		config.WithFlag("storage.dsn", cmd.Flags().Lookup("storage-dsn")),
	}
	if cfgFile != "" {
		opts = append(opts, config.WithFile(cfgFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}

	if cfg.Storage.Driver == storage.DriverMemory || cfg.Storage.Driver == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "memory driver has no schema, nothing to migrate")
		return nil
	}

	printVerbose(cmd, "connecting to %s storage\n", cfg.Storage.Driver)

	store, err := storage.Open(cmd.Context(), storage.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
