package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for spans around capture
// sessions, recognition uploads, and control API requests.
const tracerName = "github.com/MrWong99/beatify"

// CorrelationHeader carries the correlation ID on control API requests and
// responses.
const CorrelationHeader = "X-Correlation-ID"

// maxCorrelationIDLen bounds client-supplied correlation IDs.
const maxCorrelationIDLen = 64

type correlationKey struct{}

// Tracer returns the tracer for beatify spans, backed by the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithCorrelationID attaches a caller-chosen correlation ID to ctx, so that a
// UI can follow one start, stop, and recognition cycle under its own ID. IDs
// that are empty, longer than 64 bytes, or contain characters other than
// letters, digits, '-', '_', and '.' are ignored.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if !validCorrelationID(id) {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLen {
		return false
	}
	for _, c := range []byte(id) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// CorrelationID returns the caller-chosen ID attached with
// [WithCorrelationID], else the trace ID of the active span, else "".
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with trace_id and span_id of the
// active span and the caller-chosen correlation_id, when present.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		l = l.With(slog.String("correlation_id", id))
	}
	return l
}
