package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Invocation identifies who drove an operation and through which surface.
type Invocation struct {
	Surface   string // cli, apply, mcp, watch
	Milestone string
	Role      string
}

type invocationCtxKey struct{}
type loggerCtxKey struct{}

// WithInvocation records the invocation on ctx.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationCtxKey{}, inv)
}

// InvocationFromContext returns the invocation, if any.
func InvocationFromContext(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationCtxKey{}).(Invocation)
	return inv, ok
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if inv, ok := InvocationFromContext(ctx); ok {
		if inv.Surface != "" {
			fields = append(fields, zap.String("surface", inv.Surface))
		}
		if inv.Milestone != "" {
			fields = append(fields, zap.String("milestone", inv.Milestone))
		}
		if inv.Role != "" {
			fields = append(fields, zap.String("role", inv.Role))
		}
	}
	return fields
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
