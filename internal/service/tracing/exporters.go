package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/trace"
)

// Exporter receives batches of completed spans on the export interval.
type Exporter interface {
	Name() string
	Export(ctx context.Context, spans []*trace.Span) error
}

// ZapExporter writes completed spans to the structured log. Cheap default
// sink so traces are visible with zero external infrastructure.
type ZapExporter struct {
	logger *zap.Logger
}

// NewZapExporter creates a log-backed exporter.
func NewZapExporter(logger *zap.Logger) *ZapExporter {
	return &ZapExporter{logger: logger}
}

func (e *ZapExporter) Name() string { return "log" }

func (e *ZapExporter) Export(_ context.Context, spans []*trace.Span) error {
	for _, s := range spans {
		fields := []zap.Field{
			zap.String("trace_id", s.TraceID),
			zap.String("span_id", s.SpanID),
			zap.String("operation", s.Operation),
			zap.String("status", string(s.Status)),
		}
		if s.Duration != nil {
			fields = append(fields, zap.Duration("duration", *s.Duration))
		}
		e.logger.Debug("span completed", fields...)
	}
	return nil
}

// OTelExporter replays completed spans onto an OpenTelemetry tracer so
// hosts can forward them through whatever pipeline they already run (OTLP,
// Jaeger). The core stays transport-agnostic; only the trace API is used.
type OTelExporter struct {
	tracer oteltrace.Tracer
}

// NewOTelExporter wraps an OpenTelemetry tracer as an exporter.
func NewOTelExporter(tracer oteltrace.Tracer) *OTelExporter {
	return &OTelExporter{tracer: tracer}
}

func (e *OTelExporter) Name() string { return "otel" }

func (e *OTelExporter) Export(ctx context.Context, spans []*trace.Span) error {
	for _, s := range spans {
		if s.EndTime == nil {
			continue
		}

		_, span := e.tracer.Start(ctx, s.Operation,
			oteltrace.WithTimestamp(s.StartTime),
			oteltrace.WithSpanKind(oteltrace.SpanKindInternal),
		)

		attrs := []attribute.KeyValue{
			attribute.String("botwatch.trace_id", s.TraceID),
			attribute.String("botwatch.span_id", s.SpanID),
		}
		if s.ParentSpanID != "" {
			attrs = append(attrs, attribute.String("botwatch.parent_span_id", s.ParentSpanID))
		}
		for k, v := range s.Tags {
			attrs = append(attrs, attribute.String(k, v))
		}
		span.SetAttributes(attrs...)

		for _, record := range s.Logs {
			span.AddEvent(record.Message, oteltrace.WithTimestamp(record.Timestamp))
		}

		if s.Status == trace.StatusError {
			span.SetStatus(codes.Error, "span ended with error")
		}

		span.End(oteltrace.WithTimestamp(*s.EndTime))
	}
	return nil
}
