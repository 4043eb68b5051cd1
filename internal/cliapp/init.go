package cliapp

import (
	"context"
	"fmt"
	"log/slog"

	"dmlbatch/internal/batch"
	"dmlbatch/internal/sqlgen"
	"dmlbatch/internal/unitofwork"
)

// Init starts telemetry, builds the batch executor and, unless this is a dry
// run, connects to the database. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	meterProvider, batchMetrics, runMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	renderer, err := sqlgen.New(a.dialect, a.cfg.Batching.RendererOptions())
	if err != nil {
		return fmt.Errorf("failed to build command renderer: %w", err)
	}
	factory, err := batch.NewFactory(a.cfg.Batching.Options(), renderer)
	if err != nil {
		return fmt.Errorf("invalid batching configuration: %w", err)
	}
	mapper, err := a.cfg.Batching.Mapper()
	if err != nil {
		return fmt.Errorf("invalid batching configuration: %w", err)
	}
	a.logger.Debug("batch limits resolved",
		slog.String("dialect", string(a.dialect)),
		slog.Int("max_rows", factory.MaxRows()),
		slog.Int("max_parameters", factory.MaxParameters()),
		slog.Int("max_script_length", factory.MaxScriptLength()),
	)

	if !a.cfg.Run.DryRun {
		if err := a.connect(ctx, &cleanup); err != nil {
			return err
		}
	}

	metricsServer, metricsListener, err := newMetricsServer(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to start metrics endpoint: %w", err)
	}
	if metricsListener != nil {
		cleanup.push("metrics endpoint", func(shutdownCtx context.Context) error {
			_ = metricsServer.Shutdown(shutdownCtx)
			return closeIgnoringClosed(metricsListener)
		})
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.tracerProvider = tracerProvider
	a.executor = unitofwork.Executor{
		Factory:    factory,
		Mapper:     mapper,
		Logger:     a.logger,
		Metrics:    batchMetrics,
		RunMetrics: runMetrics,
	}
	a.metricsServer = metricsServer
	a.metricsListener = metricsListener
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}

func (a *App) connect(ctx context.Context, cleanup *cleanupStack) error {
	a.logger.Info("connecting to database",
		slog.String("driver", a.cfg.Database.Driver),
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database", a.cfg.Database.Database),
		slog.Bool("dsn_present", a.cfg.Database.ConnectionString != ""),
	)

	if a.dialect == sqlgen.DialectPostgres {
		pool, err := connectPostgres(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup.push("database pool", func(context.Context) error {
			pool.Close()
			return nil
		})
		if err := waitForDatabase(ctx, a.cfg, a.logger, pool.Ping); err != nil {
			return fmt.Errorf("failed to verify database connection: %w", err)
		}
		a.pool = pool
	} else {
		db, dbStatsReg, err := connectMySQL(a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup.push("database", func(context.Context) error {
			if dbStatsReg != nil {
				if err := dbStatsReg.Unregister(); err != nil {
					a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
				}
			}
			return db.Close()
		})
		if err := waitForDatabase(ctx, a.cfg, a.logger, db.PingContext); err != nil {
			return fmt.Errorf("failed to verify database connection: %w", err)
		}
		a.db = db
		a.dbStatsReg = dbStatsReg
	}

	a.logger.Info("connected to database",
		slog.Int("pool_max_open", a.cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", a.cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", a.cfg.Database.Pool.MaxLifetime),
	)
	return nil
}
