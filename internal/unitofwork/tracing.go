package unitofwork

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dmlbatch/internal/batch"
)

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("dmlbatch/unitofwork")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("dmlbatch.outcome", outcome))
	span.End()
}

func unitAttributes(commands int) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.Int("dmlbatch.unit.commands", commands)}
}

func setReportAttributes(span trace.Span, report batch.Report) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("dmlbatch.batch.propagated", report.Propagated),
		attribute.Int("dmlbatch.batch.verified", report.Verified),
		attribute.Int("dmlbatch.batch.unpropagated", len(report.Unpropagated)),
	)
}
