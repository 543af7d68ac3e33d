// Package config loads the server configuration. Values are resolved
// from defaults, an optional YAML config file, environment variables
// (HOOKRELAY_ prefix) and CLI flags, in that order of increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bargom/hookrelay/internal/dispatch"
	"github.com/bargom/hookrelay/internal/state"
	"github.com/bargom/hookrelay/pkg/delivery"
	"github.com/bargom/hookrelay/pkg/logging"
)

// envPrefix is prepended to environment variable names, so the key
// "batching.max-size" is read from HOOKRELAY_BATCHING_MAX_SIZE.
const envPrefix = "HOOKRELAY"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// State store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

// Config is the effective server configuration.
type Config struct {
	Server      ServerConfig
	Metrics     MetricsConfig
	Storage     StorageConfig
	State       StateConfig
	Batching    BatchingConfig
	Retry       RetryConfig
	Shutdown    ShutdownConfig
	Errors      ErrorsConfig
	Delivery    DeliveryConfig
	Auth        AuthConfig
	Maintenance MaintenanceConfig
	Log         LogConfig
}

// ServerConfig holds the management API listener settings.
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// StorageConfig selects the webhook/event persistence backend.
type StorageConfig struct {
	// Driver is memory, postgres or sqlite.
	Driver string

	// DSN is the postgres connection URL or the sqlite file path.
	// Unused by the memory driver.
	DSN string
}

// StateConfig selects the engine's durable status store.
type StateConfig struct {
	// Store is memory, redis or mongo.
	Store         string
	RedisURL      string
	MongoURI      string
	MongoDatabase string
}

// BatchingConfig sizes the dispatch batcher. Disabled batching refuses
// events for batched-mode webhooks.
type BatchingConfig struct {
	Enabled bool
	MaxSize int
	MaxWait time.Duration
}

// RetryConfig shapes the per-webhook retry schedule.
type RetryConfig struct {
	Base           time.Duration
	Max            time.Duration
	FailureHorizon time.Duration
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	DrainDeadline time.Duration
}

// ErrorsConfig sizes the engine's error subscriptions.
type ErrorsConfig struct {
	Buffer int
}

// DeliveryConfig tunes the outbound HTTP client.
type DeliveryConfig struct {
	Timeout       time.Duration
	MaxConcurrent int

	// RateLimit caps outbound requests per second across all webhooks.
	// Zero disables the limiter.
	RateLimit float64
}

// AuthConfig controls management API authentication. An empty secret
// disables it.
type AuthConfig struct {
	Secret string
}

// MaintenanceConfig controls the background maintenance jobs. They
// need a redis connection for scheduling and are off by default.
type MaintenanceConfig struct {
	Enabled              bool
	RedisURL             string
	Retention            time.Duration
	StaleDeliveringAfter time.Duration
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string
	Format string
}

type loader struct {
	v    *viper.Viper
	file string
	err  error
}

// Option adjusts how Load resolves the configuration.
type Option func(*loader)

// WithFile reads the given YAML config file. The file must exist;
// without this option Load looks for an optional hookrelay.yaml in the
// working directory.
func WithFile(path string) Option {
	return func(l *loader) { l.file = path }
}

// WithFlag binds a CLI flag to a configuration key. A changed flag
// overrides every other source.
func WithFlag(key string, f *pflag.Flag) Option {
	return func(l *loader) {
		if l.err != nil {
			return
		}
		if f == nil {
			l.err = fmt.Errorf("binding %s: flag not defined", key)
			return
		}
		l.err = l.v.BindPFlag(key, f)
	}
}

// Load resolves the configuration and validates it.
func Load(opts ...Option) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	l := loader{v: v}
	for _, opt := range opts {
		opt(&l)
	}
	if l.err != nil {
		return nil, l.err
	}

	if l.file != "" {
		v.SetConfigFile(l.file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName("hookrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Path:    v.GetString("metrics.path"),
		},
		Storage: StorageConfig{
			Driver: v.GetString("storage.driver"),
			DSN:    v.GetString("storage.dsn"),
		},
		State: StateConfig{
			Store:         v.GetString("state.store"),
			RedisURL:      v.GetString("state.redis-url"),
			MongoURI:      v.GetString("state.mongo-uri"),
			MongoDatabase: v.GetString("state.mongo-database"),
		},
		Batching: BatchingConfig{
			Enabled: v.GetBool("batching.enabled"),
			MaxSize: v.GetInt("batching.max-size"),
			MaxWait: v.GetDuration("batching.max-wait"),
		},
		Retry: RetryConfig{
			Base:           v.GetDuration("retry.base"),
			Max:            v.GetDuration("retry.max"),
			FailureHorizon: v.GetDuration("retry.failure-horizon"),
		},
		Shutdown: ShutdownConfig{
			DrainDeadline: v.GetDuration("shutdown.drain-deadline"),
		},
		Errors: ErrorsConfig{
			Buffer: v.GetInt("errors.buffer"),
		},
		Delivery: DeliveryConfig{
			Timeout:       v.GetDuration("delivery.timeout"),
			MaxConcurrent: v.GetInt("delivery.max-concurrent"),
			RateLimit:     v.GetFloat64("delivery.rate-limit"),
		},
		Auth: AuthConfig{
			Secret: v.GetString("auth.secret"),
		},
		Maintenance: MaintenanceConfig{
			Enabled:              v.GetBool("maintenance.enabled"),
			RedisURL:             v.GetString("maintenance.redis-url"),
			Retention:            v.GetDuration("maintenance.retention"),
			StaleDeliveringAfter: v.GetDuration("maintenance.stale-delivering-after"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("state.store", StoreMemory)
	v.SetDefault("state.redis-url", "")
	v.SetDefault("state.mongo-uri", "")
	v.SetDefault("state.mongo-database", "hookrelay")
	v.SetDefault("batching.enabled", true)
	v.SetDefault("batching.max-size", 10)
	v.SetDefault("batching.max-wait", 5*time.Second)
	v.SetDefault("retry.base", 10*time.Second)
	v.SetDefault("retry.max", time.Hour)
	v.SetDefault("retry.failure-horizon", 7*24*time.Hour)
	v.SetDefault("shutdown.drain-deadline", 30*time.Second)
	v.SetDefault("errors.buffer", 128)
	v.SetDefault("delivery.timeout", 30*time.Second)
	v.SetDefault("delivery.max-concurrent", 64)
	v.SetDefault("delivery.rate-limit", 0.0)
	v.SetDefault("auth.secret", "")
	v.SetDefault("maintenance.enabled", false)
	v.SetDefault("maintenance.redis-url", "")
	v.SetDefault("maintenance.retention", 30*24*time.Hour)
	v.SetDefault("maintenance.stale-delivering-after", 15*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks bounds, required values and enum fields.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}

	switch c.State.Store {
	case StoreMemory:
	case StoreRedis:
		if c.State.RedisURL == "" {
			return errors.New("state.redis-url is required for the redis store")
		}
	case StoreMongo:
		if c.State.MongoURI == "" {
			return errors.New("state.mongo-uri is required for the mongo store")
		}
	default:
		return fmt.Errorf("unsupported state.store %q", c.State.Store)
	}

	if c.Batching.Enabled {
		if c.Batching.MaxSize < 1 {
			return fmt.Errorf("batching.max-size must be at least 1, got %d", c.Batching.MaxSize)
		}
		if c.Batching.MaxWait <= 0 {
			return fmt.Errorf("batching.max-wait must be positive, got %s", c.Batching.MaxWait)
		}
	}

	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"retry.base", c.Retry.Base},
		{"retry.max", c.Retry.Max},
		{"retry.failure-horizon", c.Retry.FailureHorizon},
		{"shutdown.drain-deadline", c.Shutdown.DrainDeadline},
		{"delivery.timeout", c.Delivery.Timeout},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.value)
		}
	}

	if c.Errors.Buffer < 1 {
		return fmt.Errorf("errors.buffer must be at least 1, got %d", c.Errors.Buffer)
	}
	if c.Delivery.MaxConcurrent < 1 {
		return fmt.Errorf("delivery.max-concurrent must be at least 1, got %d", c.Delivery.MaxConcurrent)
	}
	if c.Delivery.RateLimit < 0 {
		return fmt.Errorf("delivery.rate-limit must not be negative, got %v", c.Delivery.RateLimit)
	}

	if c.Maintenance.Enabled {
		if c.Maintenance.RedisURL == "" {
			return errors.New("maintenance.redis-url is required when maintenance is enabled")
		}
		if c.Maintenance.Retention <= 0 {
			return fmt.Errorf("maintenance.retention must be positive, got %s", c.Maintenance.Retention)
		}
		if c.Maintenance.StaleDeliveringAfter <= 0 {
			return fmt.Errorf("maintenance.stale-delivering-after must be positive, got %s", c.Maintenance.StaleDeliveringAfter)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log.format %q", c.Log.Format)
	}

	return nil
}

// Dispatch returns the engine configuration. Disabled batching maps to
// a nil batching section, under which the engine refuses events for
// batched-mode webhooks.
func (c *Config) Dispatch() dispatch.Config {
	out := dispatch.Config{
		Retry: dispatch.RetryConfig{
			Base:           c.Retry.Base,
			Max:            c.Retry.Max,
			FailureHorizon: c.Retry.FailureHorizon,
		},
		DrainDeadline: c.Shutdown.DrainDeadline,
		ErrorBuffer:   c.Errors.Buffer,
	}
	if c.Batching.Enabled {
		out.Batching = &dispatch.BatchingConfig{
			MaxSize: c.Batching.MaxSize,
			MaxWait: c.Batching.MaxWait,
		}
	}
	return out
}

// StateStore returns the state store configuration.
func (c *Config) StateStore() state.Config {
	return state.Config{
		Store:         c.State.Store,
		RedisURL:      c.State.RedisURL,
		MongoURI:      c.State.MongoURI,
		MongoDatabase: c.State.MongoDatabase,
	}
}

// DeliveryClient returns the outbound HTTP client configuration.
func (c *Config) DeliveryClient() delivery.Config {
	return delivery.Config{
		Timeout:       c.Delivery.Timeout,
		MaxConcurrent: c.Delivery.MaxConcurrent,
		RateLimit:     c.Delivery.RateLimit,
	}
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	out := logging.DefaultConfig()
	out.Level = c.Log.Level
	out.Format = c.Log.Format
	return out
}

// Settings returns the effective configuration as dotted keys with
// printable values. Secrets are redacted; the result is what
// `hookrelay config show` prints.
func (c *Config) Settings() map[string]any {
	secret := c.Auth.Secret
	if secret != "" {
		secret = logging.RedactedValue
	}
	return map[string]any{
		"server.host":                        c.Server.Host,
		"server.port":                        c.Server.Port,
		"metrics.enabled":                    c.Metrics.Enabled,
		"metrics.path":                       c.Metrics.Path,
		"storage.driver":                     c.Storage.Driver,
		"storage.dsn":                        c.Storage.DSN,
		"state.store":                        c.State.Store,
		"state.redis-url":                    c.State.RedisURL,
		"state.mongo-uri":                    c.State.MongoURI,
		"state.mongo-database":               c.State.MongoDatabase,
		"batching.enabled":                   c.Batching.Enabled,
		"batching.max-size":                  c.Batching.MaxSize,
		"batching.max-wait":                  c.Batching.MaxWait.String(),
		"retry.base":                         c.Retry.Base.String(),
		"retry.max":                          c.Retry.Max.String(),
		"retry.failure-horizon":              c.Retry.FailureHorizon.String(),
		"shutdown.drain-deadline":            c.Shutdown.DrainDeadline.String(),
		"errors.buffer":                      c.Errors.Buffer,
		"delivery.timeout":                   c.Delivery.Timeout.String(),
		"delivery.max-concurrent":            c.Delivery.MaxConcurrent,
		"delivery.rate-limit":                c.Delivery.RateLimit,
		"auth.secret":                        secret,
		"maintenance.enabled":                c.Maintenance.Enabled,
		"maintenance.redis-url":              c.Maintenance.RedisURL,
		"maintenance.retention":              c.Maintenance.Retention.String(),
		"maintenance.stale-delivering-after": c.Maintenance.StaleDeliveringAfter.String(),
		"log.level":                          c.Log.Level,
		"log.format":                         c.Log.Format,
	}
}
