package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"alyanspace.org/adminauth/internal/auth"
	"alyanspace.org/adminauth/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Level is the slog level audit records are written at. It matches the
// default threshold so audit output is on unless logging is set to error.
const Level = slog.LevelWarn

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit record enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	group := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		group = append(group, k, v)
	}
	attrs = append(attrs, slog.Group("fields", group...))

	obs.Logger().LogAttrs(ctx, Level, event, attrs...)
	return nil
}
