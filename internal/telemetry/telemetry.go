// Package telemetry defines the Logger/Metrics/Tracer capability interfaces
// (§9: no global loggers, no hidden singletons — a component that logs
// receives its telemetry explicitly, as the artifact store does).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging with explicit per-call key-value pairs.
// Implementations pass the key-value pairs through as given rather than
// reflecting over arbitrary structs (§9).
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so engine code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// LogContext carries the per-task context keys attached to every log line
// emitted while processing a job: job_id, tenant_id, step_index (§6, §9).
// Callers derive a child context with WithLogContext and loggers read it back
// via FromContext so context propagation stays explicit rather than relying
// on goroutine-local state.
type LogContext struct {
	JobID     string
	TenantID  string
	StepIndex *int
}

type logCtxKey struct{}

// WithLogContext attaches lc to ctx for downstream loggers to pick up.
func WithLogContext(ctx context.Context, lc LogContext) context.Context {
	return context.WithValue(ctx, logCtxKey{}, lc)
}

// FromContext returns the LogContext attached to ctx, if any.
func FromContext(ctx context.Context) (LogContext, bool) {
	lc, ok := ctx.Value(logCtxKey{}).(LogContext)
	return lc, ok
}

// keyvalsFromContext prepends the ambient LogContext fields (when present) to
// an explicit keyvals slice.
func keyvalsFromContext(ctx context.Context, keyvals []any) []any {
	lc, ok := FromContext(ctx)
	if !ok {
		return keyvals
	}
	out := make([]any, 0, len(keyvals)+6)
	if lc.JobID != "" {
		out = append(out, "job_id", lc.JobID)
	}
	if lc.TenantID != "" {
		out = append(out, "tenant_id", lc.TenantID)
	}
	if lc.StepIndex != nil {
		out = append(out, "step_index", *lc.StepIndex)
	}
	return append(out, keyvals...)
}
