package observability

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func installManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestBatchMetrics_RecordBatch(t *testing.T) {
	reader := installManualReader(t)
	metrics, err := InitBatchMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordBatch(ctx, BatchObservation{
		Dialect:      "mysql",
		SealReason:   "row_limit",
		Commands:     3,
		Parameters:   7,
		TextLength:   120,
		LengthChecks: 1,
		Duration:     5 * time.Millisecond,
	})
	metrics.RecordBatch(ctx, BatchObservation{Dialect: "mysql", SealReason: "end", Commands: 2, Err: errors.New("boom")})
	metrics.RecordConcurrencyError(ctx, "users")
	metrics.RecordSpilled(ctx, 2)
	metrics.RecordSpilled(ctx, 0)
	metrics.RecordUnpropagated(ctx, 4)

	assert.Equal(t, int64(2), collectSum(t, reader, "dmlbatch.batches.total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "dmlbatch.batch.errors.total"))
	assert.Equal(t, int64(3), collectSum(t, reader, "dmlbatch.commands.total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "dmlbatch.batch.length_checks.total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "dmlbatch.concurrency_errors.total"))
	assert.Equal(t, int64(2), collectSum(t, reader, "dmlbatch.commands.spilled.total"))
	assert.Equal(t, int64(4), collectSum(t, reader, "dmlbatch.commands.unpropagated.total"))
}

func TestBatchMetrics_NilSafe(t *testing.T) {
	var metrics *BatchMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		metrics.RecordBatch(ctx, BatchObservation{})
		metrics.RecordConcurrencyError(ctx, "users")
		metrics.RecordSpilled(ctx, 1)
		metrics.RecordUnpropagated(ctx, 1)
		metrics.IncrementActiveBatches(ctx)
		metrics.DecrementActiveBatches(ctx)
	})
}

func TestRunMetrics_RecordRun(t *testing.T) {
	reader := installManualReader(t)
	metrics, err := InitRunMetrics(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordRun(ctx, 10*time.Millisecond, 3, true, "execute")
	metrics.RecordRun(ctx, time.Millisecond, 1, false, "execute")

	assert.Equal(t, int64(2), collectSum(t, reader, "dmlbatch.run.total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "dmlbatch.run.errors.total"))
	assert.NotZero(t, metrics.lastSuccessUnix.Load())
}
