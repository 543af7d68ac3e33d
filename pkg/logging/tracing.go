package logging

import (
	"context"
)

// TraceContext holds the request-scoped ids the HTTP middleware and
// the context handler pass between them.
type TraceContext struct {
	RequestID string
	TraceID   string
	UserID    string
}

// ToContext adds the trace context to a context.Context.
func (tc TraceContext) ToContext(ctx context.Context) context.Context {
	if tc.RequestID != "" {
		ctx = context.WithValue(ctx, RequestIDKey, tc.RequestID)
	}
	if tc.TraceID != "" {
		ctx = context.WithValue(ctx, TraceIDKey, tc.TraceID)
	}
	if tc.UserID != "" {
		ctx = context.WithValue(ctx, UserIDKey, tc.UserID)
	}
	return ctx
}

// FromContext extracts a TraceContext from a context.Context.
func FromContext(ctx context.Context) TraceContext {
	tc := TraceContext{}

	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		tc.RequestID = v
	}
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		tc.TraceID = v
	}
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		tc.UserID = v
	}

	return tc
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

// WithUserID adds a user ID to the context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

// WithWebhookID adds a webhook ID to the context. Records logged
// through this context carry the id automatically.
func WithWebhookID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, WebhookIDKey, id)
}

// WithEventID adds an event ID to the context.
func WithEventID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, EventIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// GetUserID retrieves the user ID from the context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// GetWebhookID retrieves the webhook ID from the context. The second
// return reports whether one was set.
func GetWebhookID(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(WebhookIDKey).(int64)
	return v, ok
}

// GetEventID retrieves the event ID from the context.
func GetEventID(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(EventIDKey).(int64)
	return v, ok
}
