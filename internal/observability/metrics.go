package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BatchMetrics holds custom metrics for batch assembly and execution
type BatchMetrics struct {
	batchDuration     metric.Float64Histogram
	batchCounter      metric.Int64Counter
	batchErrors       metric.Int64Counter
	batchCommands     metric.Int64Histogram
	batchParameters   metric.Int64Histogram
	batchTextLength   metric.Int64Histogram
	lengthChecks      metric.Int64Counter
	commandCounter    metric.Int64Counter
	concurrencyErrors metric.Int64Counter
	spilledCommands   metric.Int64Counter
	unpropagated      metric.Int64Counter
	activeBatches     metric.Int64UpDownCounter
}

// BatchObservation describes one executed batch.
type BatchObservation struct {
	Dialect      string
	SealReason   string
	Commands     int
	Parameters   int
	TextLength   int
	LengthChecks int
	Duration     time.Duration
	Err          error
}

// InitBatchMetrics initializes batch-specific metrics
func InitBatchMetrics() (*BatchMetrics, error) {
	meter := otel.Meter("dmlbatch")

	batchDuration, err := meter.Float64Histogram(
		"dmlbatch.batch.duration",
		metric.WithDescription("Duration of batch execution in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch duration histogram: %w", err)
	}

	batchCounter, err := meter.Int64Counter(
		"dmlbatch.batches.total",
		metric.WithDescription("Total number of executed batches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch counter: %w", err)
	}

	batchErrors, err := meter.Int64Counter(
		"dmlbatch.batch.errors.total",
		metric.WithDescription("Total number of failed batches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch error counter: %w", err)
	}

	batchCommands, err := meter.Int64Histogram(
		"dmlbatch.batch.commands",
		metric.WithDescription("Number of commands per batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch commands histogram: %w", err)
	}

	batchParameters, err := meter.Int64Histogram(
		"dmlbatch.batch.parameters",
		metric.WithDescription("Number of bound parameters per batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch parameters histogram: %w", err)
	}

	batchTextLength, err := meter.Int64Histogram(
		"dmlbatch.batch.text_length",
		metric.WithDescription("Length of the rendered batch text"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch text length histogram: %w", err)
	}

	lengthChecks, err := meter.Int64Counter(
		"dmlbatch.batch.length_checks.total",
		metric.WithDescription("Number of script length measurements taken during assembly"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create length check counter: %w", err)
	}

	commandCounter, err := meter.Int64Counter(
		"dmlbatch.commands.total",
		metric.WithDescription("Total number of commands executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create command counter: %w", err)
	}

	concurrencyErrors, err := meter.Int64Counter(
		"dmlbatch.concurrency_errors.total",
		metric.WithDescription("Number of commands that affected fewer rows than expected"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create concurrency error counter: %w", err)
	}

	spilledCommands, err := meter.Int64Counter(
		"dmlbatch.commands.spilled.total",
		metric.WithDescription("Number of commands moved to the next batch after a length overflow"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create spilled command counter: %w", err)
	}

	unpropagated, err := meter.Int64Counter(
		"dmlbatch.commands.unpropagated.total",
		metric.WithDescription("Number of commands whose generated values were not read back"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unpropagated command counter: %w", err)
	}

	activeBatches, err := meter.Int64UpDownCounter(
		"dmlbatch.batches.active",
		metric.WithDescription("Number of batches currently executing"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active batches counter: %w", err)
	}

	return &BatchMetrics{
		batchDuration:     batchDuration,
		batchCounter:      batchCounter,
		batchErrors:       batchErrors,
		batchCommands:     batchCommands,
		batchParameters:   batchParameters,
		batchTextLength:   batchTextLength,
		lengthChecks:      lengthChecks,
		commandCounter:    commandCounter,
		concurrencyErrors: concurrencyErrors,
		spilledCommands:   spilledCommands,
		unpropagated:      unpropagated,
		activeBatches:     activeBatches,
	}, nil
}

// RecordBatch records an executed batch with its size and outcome
func (m *BatchMetrics) RecordBatch(ctx context.Context, obs BatchObservation) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("dialect", obs.Dialect),
		attribute.String("seal_reason", obs.SealReason),
		attribute.Bool("success", obs.Err == nil),
	}
	sizeAttrs := metric.WithAttributes(attribute.String("dialect", obs.Dialect))

	m.batchDuration.Record(ctx, float64(obs.Duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.batchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.batchCommands.Record(ctx, int64(obs.Commands), sizeAttrs)
	m.batchParameters.Record(ctx, int64(obs.Parameters), sizeAttrs)
	m.batchTextLength.Record(ctx, int64(obs.TextLength), sizeAttrs)
	if obs.LengthChecks > 0 {
		m.lengthChecks.Add(ctx, int64(obs.LengthChecks), sizeAttrs)
	}

	if obs.Err != nil {
		m.batchErrors.Add(ctx, 1, sizeAttrs)
		return
	}
	m.commandCounter.Add(ctx, int64(obs.Commands), sizeAttrs)
}

// RecordConcurrencyError records a command that lost an optimistic concurrency check
func (m *BatchMetrics) RecordConcurrencyError(ctx context.Context, table string) {
	if m == nil {
		return
	}
	m.concurrencyErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
}

// RecordSpilled records commands moved out of a batch to keep it under the length limit
func (m *BatchMetrics) RecordSpilled(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.spilledCommands.Add(ctx, int64(count))
}

// RecordUnpropagated records commands whose generated values were left for the caller
func (m *BatchMetrics) RecordUnpropagated(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.unpropagated.Add(ctx, int64(count))
}

// IncrementActiveBatches increments the active batches counter
func (m *BatchMetrics) IncrementActiveBatches(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeBatches.Add(ctx, 1)
}

// DecrementActiveBatches decrements the active batches counter
func (m *BatchMetrics) DecrementActiveBatches(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeBatches.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the BatchMetrics instance
func InitMetrics(logger *slog.Logger) (*BatchMetrics, error) {
	metrics, err := InitBatchMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize batch metrics: %w", err)
	}

	logger.Info("custom batch metrics initialized")
	return metrics, nil
}
