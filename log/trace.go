package log

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// WithCtx returns a view of the channel that stamps trace_id and span_id from
// the span carried by ctx. Without a span the channel is returned unchanged.
func (l *Logger) WithCtx(ctx context.Context) *Logger {
	s := trace.SpanContextFromContext(ctx)
	if !s.HasTraceID() {
		return l
	}
	hook := traceHook{
		traceID: s.TraceID().String(),
		spanID:  s.SpanID().String(),
	}
	cp := *l
	cp.base = l.base.Hook(hook)
	return &cp
}

type traceHook struct {
	traceID string
	spanID  string
}

func (h traceHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level != zerolog.NoLevel {
		e.Str("trace_id", h.traceID).Str("span_id", h.spanID)
	}
}
