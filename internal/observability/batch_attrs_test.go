package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dmlbatch/internal/batch"
	"dmlbatch/internal/modification"
	"dmlbatch/internal/sqlgen"
)

func sealedBatch(t *testing.T) *batch.Batch {
	t.Helper()
	f, err := batch.NewFactory(batch.Options{}, sqlgen.NewMySQLRenderer(sqlgen.Options{}))
	require.NoError(t, err)
	b := f.New()
	ok, err := b.TryAdmit(&modification.Command{
		Table:   "users",
		Kind:    modification.Insert,
		Columns: []modification.ColumnModification{{Name: "name", Value: "a", IsWrite: true}},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, b.Close())
	return b
}

func TestBatchSpanAttributes(t *testing.T) {
	b := sealedBatch(t)

	attrs := BatchSpanAttributes(b, 3)
	set := attribute.NewSet(attrs...)

	v, ok := set.Value("dmlbatch.batch.index")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.AsInt64())

	v, ok = set.Value("db.system")
	require.True(t, ok)
	assert.Equal(t, "mysql", v.AsString())

	v, ok = set.Value("dmlbatch.batch.parameters")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInt64())

	assert.Nil(t, BatchSpanAttributes(nil, 0))
}

func TestBatchLogFieldsIncludesTraceID(t *testing.T) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
		Remote:  true,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	fields := BatchLogFields(ctx, sealedBatch(t))
	require.NotEmpty(t, fields)

	last, ok := fields[len(fields)-1].(slog.Attr)
	require.True(t, ok)
	assert.Equal(t, "trace_id", last.Key)
	assert.Equal(t, spanCtx.TraceID().String(), last.Value.String())

	fields = BatchLogFields(context.Background(), nil)
	assert.Empty(t, fields)
}
