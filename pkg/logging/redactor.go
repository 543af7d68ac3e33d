package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

const RedactedValue = "[REDACTED]"

// Field names whose values never reach the log (case-insensitive).
// Webhook secrets and API credentials are the ones that matter here.
var defaultSensitiveFields = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"api-key":       true,
	"authorization": true,
	"auth":          true,
	"bearer":        true,
	"credential":    true,
	"credentials":   true,
	"private_key":   true,
	"privatekey":    true,
	"access_token":  true,
	"refresh_token": true,
}

// Patterns for credentials embedded inside string values.
var defaultSensitivePatterns = []*regexp.Regexp{
	// password=... / password: ...
	regexp.MustCompile(`(?i)password["']?\s*[:=]\s*["']?[^\s"',}]+`),
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_\.]+`),
	// API keys
	regexp.MustCompile(`(?i)api[_-]?key["']?\s*[:=]\s*["']?[a-zA-Z0-9\-_]+`),
	// JWTs
	regexp.MustCompile(`eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`),
	// secret=... / secret: ...
	regexp.MustCompile(`(?i)secret["']?\s*[:=]\s*["']?[^\s"',}]+`),
}

// Redactor decides which log attributes get scrubbed.
type Redactor struct {
	sensitiveFields   map[string]bool
	sensitivePatterns []*regexp.Regexp
	allowlistFields   map[string]bool
	mu                sync.RWMutex
}

// NewRedactor creates a Redactor with the default field and pattern sets.
func NewRedactor() *Redactor {
	r := &Redactor{
		sensitiveFields:   make(map[string]bool, len(defaultSensitiveFields)),
		sensitivePatterns: make([]*regexp.Regexp, 0, len(defaultSensitivePatterns)),
		allowlistFields:   make(map[string]bool),
	}

	for k, v := range defaultSensitiveFields {
		r.sensitiveFields[k] = v
	}
	r.sensitivePatterns = append(r.sensitivePatterns, defaultSensitivePatterns...)

	return r
}

// AddSensitiveField adds a field name to the sensitive list.
func (r *Redactor) AddSensitiveField(field string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sensitiveFields[strings.ToLower(field)] = true
}

// AddSensitivePattern adds a regex pattern to detect sensitive data.
func (r *Redactor) AddSensitivePattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sensitivePatterns = append(r.sensitivePatterns, re)
	return nil
}

// AddAllowlistField exempts a field from redaction even when its name
// matches the sensitive list.
func (r *Redactor) AddAllowlistField(field string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowlistFields[strings.ToLower(field)] = true
}

// IsSensitiveField checks if a field name is sensitive.
func (r *Redactor) IsSensitiveField(field string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(field)

	if r.allowlistFields[lower] {
		return false
	}

	return r.sensitiveFields[lower]
}

// RedactString redacts sensitive patterns from a string.
func (r *Redactor) RedactString(s string) string {
	r.mu.RLock()
	patterns := r.sensitivePatterns
	r.mu.RUnlock()

	result := s
	for _, pattern := range patterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// Process-wide redactor used when no explicit one is configured.
var defaultRedactor = NewRedactor()

// IsSensitiveField checks a field name against the default redactor.
func IsSensitiveField(field string) bool {
	return defaultRedactor.IsSensitiveField(field)
}

// RedactingHandler wraps a slog.Handler and scrubs sensitive
// attributes before they are written.
type RedactingHandler struct {
	slog.Handler
	redactor *Redactor
}

// NewRedactingHandler creates a RedactingHandler. A nil redactor
// selects the default one.
func NewRedactingHandler(handler slog.Handler, redactor *Redactor) *RedactingHandler {
	if redactor == nil {
		redactor = defaultRedactor
	}
	return &RedactingHandler{
		Handler:  handler,
		redactor: redactor,
	}
}

// Handle rebuilds the record with redacted attributes.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)

	r.Attrs(func(a slog.Attr) bool {
		newRecord.AddAttrs(h.redactAttr(a))
		return true
	})

	return h.Handler.Handle(ctx, newRecord)
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	if h.redactor.IsSensitiveField(a.Key) {
		return slog.String(a.Key, RedactedValue)
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.redactor.RedactString(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = h.redactAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	default:
		return a
	}
}

// WithAttrs redacts pre-bound attributes as well.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redactedAttrs := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redactedAttrs[i] = h.redactAttr(a)
	}
	return &RedactingHandler{
		Handler:  h.Handler.WithAttrs(redactedAttrs),
		redactor: h.redactor,
	}
}

// WithGroup returns a RedactingHandler wrapping the delegated handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{
		Handler:  h.Handler.WithGroup(name),
		redactor: h.redactor,
	}
}
