// Package cliapp owns the runtime resources of one dmlbatch invocation:
// telemetry providers, the database handle, the batch executor and the
// optional metrics endpoint.
package cliapp

import (
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"dmlbatch/internal/config"
	"dmlbatch/internal/logging"
	"dmlbatch/internal/observability"
	"dmlbatch/internal/sqlgen"
	"dmlbatch/internal/unitofwork"
)

// App owns runtime resources for a dmlbatch run.
type App struct {
	cfg     *config.Config
	logger  *logging.Logger
	dialect sqlgen.Dialect

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }
	pool       *pgxpool.Pool

	executor unitofwork.Executor

	metricsServer   *http.Server
	metricsListener net.Listener

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	dialect, err := cfg.Database.Dialect()
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		dialect: dialect,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}
