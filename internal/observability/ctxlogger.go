package observability

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a zerolog.Logger enriched with the trace_id and
// span_id of the span in ctx, so request-scoped log lines can be joined
// with their traces. Falls back to the global logger when ctx carries no
// span context.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return &l
	}
	c := l.With().Str("trace_id", sc.TraceID().String())
	if sc.HasSpanID() {
		c = c.Str("span_id", sc.SpanID().String())
	}
	if sc.IsSampled() {
		c = c.Bool("trace_sampled", true)
	}
	l = c.Logger()
	return &l
}
