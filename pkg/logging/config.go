// Package logging provides the server's structured logging: slog with
// request tracing, delivery context enrichment, and redaction of
// secrets before they reach an output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds the logging configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string

	// Format selects the handler: json or text.
	Format string

	// Output is stdout, stderr, or a file path.
	Output string

	// AddSource adds source file and line to records.
	AddSource bool

	// SampleRate thins debug records (0.0-1.0, 1.0 keeps all). Levels
	// above debug are never sampled.
	SampleRate float64

	// Redact masks sensitive attribute values. On unless explicitly
	// disabled; webhook secrets and bearer tokens must not reach logs.
	Redact bool

	// RedactPatterns are extra regexes masked in string values.
	RedactPatterns []string

	// AllowlistFields are attribute names exempted from redaction.
	AllowlistFields []string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		AddSource:  false,
		SampleRate: 1.0,
		Redact:     true,
	}
}

// ConfigFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT and
// LOG_ADD_SOURCE. Used by entry points that run before the full
// config loads.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = strings.ToLower(format)
	}
	if output := os.Getenv("LOG_OUTPUT"); output != "" {
		cfg.Output = output
	}
	if os.Getenv("LOG_ADD_SOURCE") == "true" {
		cfg.AddSource = true
	}
	return cfg
}

// ParseLevel converts a level name to a slog.Level. Unknown names
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetOutput resolves the configured output to a writer. An unopenable
// file path falls back to stdout rather than failing startup.
func (c Config) GetOutput() io.Writer {
	switch c.Output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return os.Stdout
		}
		return f
	}
}
