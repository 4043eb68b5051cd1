package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RunMetrics holds metrics for whole unit-of-work runs.
type RunMetrics struct {
	runCounter      metric.Int64Counter
	errorCounter    metric.Int64Counter
	durationHist    metric.Float64Histogram
	batchesPerRun   metric.Int64Histogram
	lastSuccessUnix atomic.Int64
}

// InitRunMetrics initializes unit-of-work run metrics.
func InitRunMetrics(logger *slog.Logger) (*RunMetrics, error) {
	meter := otel.Meter("dmlbatch")

	runCounter, err := meter.Int64Counter(
		"dmlbatch.run.total",
		metric.WithDescription("Total number of unit-of-work runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"dmlbatch.run.errors.total",
		metric.WithDescription("Total number of failed unit-of-work runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run error counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"dmlbatch.run.duration",
		metric.WithDescription("Duration of unit-of-work runs in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	batchesPerRun, err := meter.Int64Histogram(
		"dmlbatch.run.batches",
		metric.WithDescription("Number of batches executed per run"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batches per run histogram: %w", err)
	}

	lastSuccessGauge, err := meter.Int64ObservableGauge(
		"dmlbatch.run.last_success_unix",
		metric.WithDescription("Unix timestamp of the last successful run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run last success gauge: %w", err)
	}

	metrics := &RunMetrics{
		runCounter:    runCounter,
		errorCounter:  errorCounter,
		durationHist:  durationHist,
		batchesPerRun: batchesPerRun,
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			value := metrics.lastSuccessUnix.Load()
			if value > 0 {
				observer.ObserveInt64(lastSuccessGauge, value)
			}
			return nil
		},
		lastSuccessGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register run gauge callback: %w", err)
	}

	logger.Info("run metrics initialized")
	return metrics, nil
}

// RecordRun records a finished run.
func (m *RunMetrics) RecordRun(ctx context.Context, duration time.Duration, batches int, success bool, mode string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
		attribute.Bool("success", success),
	}

	m.runCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.batchesPerRun.Record(ctx, int64(batches), metric.WithAttributes(attrs...))

	if !success {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
		return
	}

	m.lastSuccessUnix.Store(time.Now().Unix())
}
