package tracing

import (
	"context"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans as slog records.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter returns an exporter writing to logger, or to the default
// logger when nil.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger.With("component", "tracing")}
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []any{
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"span", s.Name(),
			"duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds(),
		}
		if p := s.Parent(); p.IsValid() {
			attrs = append(attrs, "parent_id", p.SpanID().String())
		}
		if st := s.Status(); st.Description != "" {
			attrs = append(attrs, "status", st.Code.String(), "status_message", st.Description)
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}
		e.logger.InfoContext(ctx, "span", attrs...)
	}
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error { return nil }
