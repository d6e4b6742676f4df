package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v, ok := ctx.Value(sessionCtxKey{}).(string); ok {
		fields = append(fields, zap.String("session.id", v))
	}
	if v, ok := ctx.Value(requestCtxKey{}).(string); ok {
		fields = append(fields, zap.String("request.id", v))
	}
	if v, ok := ctx.Value(userCtxKey{}).(string); ok {
		fields = append(fields, zap.String("user.name", v))
	}
	if v, ok := ctx.Value(scopeCtxKey{}).(string); ok {
		fields = append(fields, zap.String("scope", v))
	}

	return fields
}

type (
	sessionCtxKey struct{}
	requestCtxKey struct{}
	userCtxKey    struct{}
	scopeCtxKey   struct{}
	loggerCtxKey  struct{}
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// validateID rejects identifiers that would make log lines ambiguous.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}

// WithSessionID adds a session id to ctx. Invalid ids are dropped rather than
// logged, since they come from request input.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if validateID(sessionID, "session id") != nil {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// SessionIDFromContext extracts the session id from ctx.
func SessionIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sessionCtxKey{}).(string)
	return s
}

// WithRequestID adds a request id to ctx. Invalid ids are dropped.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if validateID(requestID, "request id") != nil {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request id from ctx.
func RequestIDFromContext(ctx context.Context) string {
	r, _ := ctx.Value(requestCtxKey{}).(string)
	return r
}

// WithUser adds the authenticated user name to ctx.
func WithUser(ctx context.Context, username string) context.Context {
	if username == "" {
		return ctx
	}
	return context.WithValue(ctx, userCtxKey{}, username)
}

// WithScope tags ctx with the storage scope an operation targets.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, scope)
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
