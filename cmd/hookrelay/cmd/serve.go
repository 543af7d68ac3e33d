package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/bargom/hookrelay/internal/api"
	"github.com/bargom/hookrelay/internal/api/handlers"
	"github.com/bargom/hookrelay/internal/auth"
	"github.com/bargom/hookrelay/internal/config"
	"github.com/bargom/hookrelay/internal/dispatch"
	"github.com/bargom/hookrelay/internal/health"
	"github.com/bargom/hookrelay/internal/health/checks"
	"github.com/bargom/hookrelay/internal/maintenance"
	"github.com/bargom/hookrelay/internal/shutdown"
	"github.com/bargom/hookrelay/internal/shutdown/hooks"
	"github.com/bargom/hookrelay/internal/state"
	"github.com/bargom/hookrelay/internal/storage"
	"github.com/bargom/hookrelay/pkg/delivery"
	"github.com/bargom/hookrelay/pkg/logging"
	"github.com/bargom/hookrelay/pkg/metrics"
)

// dbStatsInterval is how often connection pool gauges are refreshed.
const dbStatsInterval = 15 * time.Second

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook delivery server",
		Long: `Run the webhook delivery server.

Opens the configured storage and state store, starts the dispatch
engine and serves the management API until SIGINT or SIGTERM. Pending
schema migrations are applied on startup. In-flight deliveries are
drained on shutdown up to shutdown.drain-deadline.`,
		Example: `  hookrelay serve
  hookrelay serve --port 3000
  hookrelay serve --config /etc/hookrelay/hookrelay.yaml
  hookrelay serve --storage-driver sqlite --storage-dsn hookrelay.db`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("host", "0.0.0.0", "management API host")
	cmd.Flags().IntP("port", "p", 8080, "management API port")
	cmd.Flags().String("storage-driver", storage.DriverMemory, "webhook/event storage driver (memory|postgres|sqlite)")
	cmd.Flags().String("storage-dsn", "", "postgres URL or sqlite file path")
	cmd.Flags().String("state-store", "memory", "webhook state store (memory|redis|mongo)")
	cmd.Flags().String("log-level", "info", "log level (debug|info|warn|error)")
	cmd.Flags().String("log-format", "json", "log format (json|text)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := []config.Option{
		config.WithFlag("server.host", cmd.Flags().Lookup("host")),
		config.WithFlag("server.port", cmd.Flags().Lookup("port")),
		config.WithFlag("storage.driver", cmd.Flags().Lookup("storage-driver")),
		config.WithFlag("storage.dsn", cmd.Flags().Lookup("storage-dsn")),
		config.WithFlag("state.store", cmd.Flags().Lookup("state-store")),
		config.WithFlag("log.level", cmd.Flags().Lookup("log-level")),
		config.WithFlag("log.format", cmd.Flags().Lookup("log-format")),
	}
	if cfgFile != "" {
		opts = append(opts, config.WithFile(cfgFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging())
	slog.SetDefault(logger.Logger)

	ctx := cmd.Context()

	store, err := storage.Open(ctx, storage.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return fmt.Errorf("applying migrations: %w", err)
	}

	stateStore, err := state.New(ctx, cfg.StateStore())
	if err != nil {
		store.Close()
		return fmt.Errorf("opening state store: %w", err)
	}
	cache := state.NewCache(stateStore, store.Webhooks)

	client := delivery.NewHTTPClient(cfg.DeliveryClient())

	var registry *metrics.Registry
	engineOpts := []dispatch.Option{
		dispatch.WithLogger(logger.With("component", "dispatch")),
	}
	if cfg.Metrics.Enabled {
		registry = metrics.NewRegistry(metrics.DefaultConfig().WithVersion(Version))
		engineOpts = append(engineOpts, dispatch.WithMetrics(registry))
	}

	engine := dispatch.New(cfg.Dispatch(), store.Webhooks, store.Events, cache, client, engineOpts...)
	if err := engine.Start(ctx); err != nil {
		stateStore.Close()
		store.Close()
		return fmt.Errorf("starting dispatch engine: %w", err)
	}

	ring := handlers.NewErrorRing(cfg.Errors.Buffer)
	// The subscription closes on engine shutdown, which ends Consume.
	go ring.Consume(context.Background(), engine.Errors())

	h := handlers.New(store.Webhooks, store.Events,
		handlers.WithLogger(logger.Logger),
		handlers.WithErrorRing(ring),
		handlers.WithStateCleanup(cache),
	)

	healthReg := health.NewRegistry(Version)
	healthReg.Register(checks.NewEngineChecker(engine))
	healthReg.Register(checks.NewStorageChecker(store))
	if pinger, ok := stateStore.(checks.Pinger); ok {
		healthReg.Register(checks.NewStateChecker(pinger))
	}
	healthReg.Register(checks.NewRuntimeChecker())

	var authn *auth.Authenticator
	if cfg.Auth.Secret != "" {
		authn = auth.New(cfg.Auth.Secret)
	} else {
		logger.Warn("auth.secret is empty, management API authentication disabled")
	}

	drainer := shutdown.NewDrainer()
	router := api.NewRouter(h, api.RouterConfig{
		Health:      health.NewHandler(healthReg),
		Metrics:     registry,
		MetricsPath: cfg.Metrics.Path,
		Auth:        authn,
		Drainer:     drainer,
		Logger:      logger.Logger,
	})
	srv := api.NewServer(cfg.Server.Addr(), router)

	var maint *maintenance.Runner
	if cfg.Maintenance.Enabled {
		maint, err = maintenance.NewRunner(maintenance.Config{
			RedisURL:             cfg.Maintenance.RedisURL,
			Retention:            cfg.Maintenance.Retention,
			StaleDeliveringAfter: cfg.Maintenance.StaleDeliveringAfter,
		}, store.Events, logger.Logger)
		if err != nil {
			engine.Shutdown(ctx)
			stateStore.Close()
			store.Close()
			return err
		}
		if err := maint.Start(); err != nil {
			engine.Shutdown(ctx)
			stateStore.Close()
			store.Close()
			return fmt.Errorf("starting maintenance jobs: %w", err)
		}
	}

	var stopDBStats func()
	if registry != nil && store.DB() != nil {
		stopDBStats = registry.DB().StartConnectionStatsCollector(store.DB(), dbStatsInterval)
	}

	shCfg := shutdown.DefaultConfig()
	// The overall window must outlast the engine drain.
	if t := cfg.Shutdown.DrainDeadline + 15*time.Second; t > shCfg.OverallTimeout {
		shCfg.OverallTimeout = t
	}
	mgr := shutdown.NewManager(shCfg, logger.Logger)

	mgr.RegisterHook(hooks.APIServer(drainer, srv))
	mgr.RegisterHook(hooks.Engine(engine, cfg.Shutdown.DrainDeadline))
	if maint != nil {
		mgr.Register("maintenance", shutdown.PriorityMaintenance, func(ctx context.Context) error {
			maint.Shutdown()
			return nil
		})
	}
	// Storage stays inline: the stats collector has to stop before the
	// pool closes under it.
	mgr.Register("storage", shutdown.PriorityStorage, func(ctx context.Context) error {
		if stopDBStats != nil {
			stopDBStats()
		}
		return store.Close()
	})
	mgr.RegisterHook(hooks.Closer("state-store", shutdown.PriorityStateStore, stateStore))

	done := mgr.ListenForSignals()

	logger.Info("hookrelay started",
		"addr", cfg.Server.Addr(),
		"storage", cfg.Storage.Driver,
		"state_store", cfg.State.Store,
		"batching", cfg.Batching.Enabled,
		"maintenance", cfg.Maintenance.Enabled,
		"version", Version)
	fmt.Fprintf(cmd.OutOrStdout(), "hookrelay listening on %s\n", cfg.Server.Addr())

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case err := <-serveErr:
		// The listener died on its own; tear the rest down.
		mgr.Shutdown()
		if err != nil {
			return fmt.Errorf("management API: %w", err)
		}
		return fmt.Errorf("management API stopped unexpectedly")
	case <-done:
	}

	if errs := mgr.Errors(); len(errs) > 0 {
		return fmt.Errorf("shutdown finished with %d error(s), first: %w", len(errs), errs[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), "hookrelay stopped")
	return nil
}
