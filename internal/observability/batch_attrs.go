package observability

import (
	"context"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dmlbatch/internal/batch"
)

// BatchSpanAttributes builds canonical span attributes for a sealed batch.
func BatchSpanAttributes(b *batch.Batch, index int) []attribute.KeyValue {
	if b == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String("dmlbatch.batch.id", b.ID().String()),
		attribute.Int("dmlbatch.batch.index", index),
		attribute.String("db.system", string(b.Dialect())),
		attribute.Int("dmlbatch.batch.commands", b.Len()),
		attribute.Int("dmlbatch.batch.parameters", b.ParameterCount()),
		attribute.Int("dmlbatch.batch.text_length", b.TextLength()),
		attribute.Int("dmlbatch.batch.statements", len(b.Statements())),
		attribute.String("dmlbatch.batch.fingerprint", strconv.FormatUint(b.Fingerprint(), 16)),
	}
}

// BatchLogFields builds canonical structured log fields for a sealed batch.
func BatchLogFields(ctx context.Context, b *batch.Batch) []any {
	fields := make([]any, 0, 8)

	if b != nil {
		fields = append(fields,
			slog.String("batch_id", b.ID().String()),
			slog.Int("commands", b.Len()),
			slog.Int("parameters", b.ParameterCount()),
			slog.Int("text_length", b.TextLength()),
			slog.String("fingerprint", strconv.FormatUint(b.Fingerprint(), 16)),
		)
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}

	return fields
}
