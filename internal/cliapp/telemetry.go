package cliapp

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dmlbatch/internal/config"
	"dmlbatch/internal/logging"
	"dmlbatch/internal/observability"
)

// InitLogger builds the process logger, adding OTLP log export when enabled.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(cfg.Observability.Telemetry(logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.BatchMetrics, *observability.RunMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(cfg.Observability.Telemetry(config.OTLPConfig{}))
	if err != nil {
		return nil, nil, nil, err
	}

	batchMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, err
	}

	runMetrics, err := observability.InitRunMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, err
	}

	return meterProvider, batchMetrics, runMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	return observability.InitTracerProvider(cfg.Observability.Telemetry(tracesConfig))
}

// newMetricsServer binds the metrics listener up front so a bad address fails
// the run before any batch executes.
func newMetricsServer(cfg *config.Config, logger *logging.Logger) (*http.Server, net.Listener, error) {
	if !cfg.Observability.MetricsEnabled || cfg.Observability.MetricsAddr == "" {
		return nil, nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", cfg.Observability.MetricsAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", cfg.Observability.MetricsAddr, err)
	}

	srv := &http.Server{
		Handler:           otelhttp.NewHandler(mux, "metrics"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics endpoint enabled",
		slog.String("address", ln.Addr().String()),
		slog.String("path", "/metrics"),
	)
	return srv, ln, nil
}
