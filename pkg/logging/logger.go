package logging

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"
	// TraceIDKey is the context key for trace IDs.
	TraceIDKey contextKey = "trace_id"
	// UserIDKey is the context key for the authenticated API caller.
	UserIDKey contextKey = "user_id"
	// WebhookIDKey is the context key for the webhook a request or
	// dispatch concerns.
	WebhookIDKey contextKey = "webhook_id"
	// EventIDKey is the context key for the event within its webhook.
	EventIDKey contextKey = "event_id"
)

// Logger wraps slog.Logger with delivery-domain helpers.
type Logger struct {
	*slog.Logger
	config Config
}

// New creates a Logger writing to the configured output.
func New(config Config) *Logger {
	return NewWithWriter(config, config.GetOutput())
}

// NewWithWriter creates a Logger with a custom writer. The handler
// chain is format handler, then redaction, then context enrichment,
// so enriched attributes pass redaction too.
func NewWithWriter(config Config, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	if config.Redact {
		redactor := NewRedactor()
		for _, p := range config.RedactPatterns {
			// A broken pattern must not take logging down; it is
			// simply not applied.
			_ = redactor.AddSensitivePattern(p)
		}
		for _, f := range config.AllowlistFields {
			redactor.AddAllowlistField(f)
		}
		handler = NewRedactingHandler(handler, redactor)
	}

	handler = &ContextHandler{
		Handler:    handler,
		sampleRate: config.SampleRate,
	}

	return &Logger{
		Logger: slog.New(handler),
		config: config,
	}
}

// SetDefault installs this logger as the slog default.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

// With returns a child Logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

// WithGroup returns a child Logger grouping subsequent attributes.
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{
		Logger: l.Logger.WithGroup(name),
		config: l.config,
	}
}

// WithModule returns a child Logger tagged with the module name.
func (l *Logger) WithModule(module string) *Logger {
	return l.With("module", module)
}

// WithOperation returns a child Logger tagged with an operation.
func (l *Logger) WithOperation(operation string) *Logger {
	return l.With("operation", operation)
}

// WithEntity returns a child Logger tagged with an entity reference.
func (l *Logger) WithEntity(entity, id string) *Logger {
	return l.With(
		slog.String("entity", entity),
		slog.String("entity_id", id),
	)
}

// WithWebhook returns a child Logger tagged with a webhook id.
func (l *Logger) WithWebhook(id int64) *Logger {
	return l.With(slog.Int64("webhook_id", id))
}

// WithEvent returns a child Logger tagged with an event key.
func (l *Logger) WithEvent(webhookID, eventID int64) *Logger {
	return l.With(
		slog.Int64("webhook_id", webhookID),
		slog.Int64("event_id", eventID),
	)
}

// WithJob returns a child Logger tagged with a maintenance job id.
func (l *Logger) WithJob(jobID string) *Logger {
	return l.With("job_id", jobID)
}

// ContextHandler enriches records with ids carried in the context:
// request, trace, caller, webhook, and event.
type ContextHandler struct {
	slog.Handler
	sampleRate float64
}

// Enabled applies debug sampling before delegating.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level == slog.LevelDebug && h.sampleRate < 1.0 {
		if rand.Float64() > h.sampleRate {
			return false
		}
	}
	return h.Handler.Enabled(ctx, level)
}

// Handle copies known context values onto the record.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		r.AddAttrs(slog.String("request_id", requestID))
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	}
	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		r.AddAttrs(slog.String("user_id", userID))
	}
	if webhookID, ok := ctx.Value(WebhookIDKey).(int64); ok {
		r.AddAttrs(slog.Int64("webhook_id", webhookID))
	}
	if eventID, ok := ctx.Value(EventIDKey).(int64); ok {
		r.AddAttrs(slog.Int64("event_id", eventID))
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs returns a ContextHandler wrapping the delegated handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{
		Handler:    h.Handler.WithAttrs(attrs),
		sampleRate: h.sampleRate,
	}
}

// WithGroup returns a ContextHandler wrapping the delegated handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{
		Handler:    h.Handler.WithGroup(name),
		sampleRate: h.sampleRate,
	}
}

// Default returns a logger built from the LOG_* environment.
func Default() *Logger {
	return New(ConfigFromEnv())
}

// ModuleLogger tags the process-default logger with a module name.
func ModuleLogger(module string) *slog.Logger {
	return slog.Default().With("module", module)
}
