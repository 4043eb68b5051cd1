package cliapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"dmlbatch/internal/dbexec"
	"dmlbatch/internal/modification"
)

// ErrNotConnected is returned when an execution run has no database handle.
var ErrNotConnected = errors.New("no database connection")

// session is one transport for a run plus the hook that ends it.
type session struct {
	transport dbexec.Transport
	finish    func(ctx context.Context, runErr error) error
}

func finishNothing(context.Context, error) error { return nil }

func (a *App) openSession(ctx context.Context) (*session, error) {
	switch {
	case a.db != nil && a.cfg.Run.Transaction:
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		return &session{
			transport: dbexec.NewSQLExecutor(tx),
			finish: func(_ context.Context, runErr error) error {
				return a.endTransaction(runErr, tx.Commit, tx.Rollback)
			},
		}, nil
	case a.db != nil:
		return &session{transport: dbexec.NewSQLExecutor(a.db), finish: finishNothing}, nil
	case a.pool != nil && a.cfg.Run.Transaction:
		tx, err := a.pool.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		return &session{
			transport: dbexec.NewPgxExecutor(tx),
			finish: func(ctx context.Context, runErr error) error {
				return a.endTransaction(runErr,
					func() error { return tx.Commit(ctx) },
					func() error { return tx.Rollback(ctx) })
			},
		}, nil
	case a.pool != nil:
		return &session{transport: dbexec.NewPgxExecutor(a.pool), finish: finishNothing}, nil
	default:
		return nil, ErrNotConnected
	}
}

func (a *App) endTransaction(runErr error, commit, rollback func() error) error {
	if runErr != nil {
		if err := rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("rollback: %w", err)
		}
		a.logger.Warn("transaction rolled back")
		return nil
	}
	if err := commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	a.logger.Debug("transaction committed")
	return nil
}

// Run plans or executes cmds and returns a report of what happened. On an
// execution failure the report is still returned alongside the error.
func (a *App) Run(ctx context.Context, cmds []*modification.Command) (*Report, error) {
	a.stateMu.Lock()
	initialized := a.initialized
	executor := a.executor
	a.stateMu.Unlock()
	if !initialized {
		return nil, fmt.Errorf("app is not initialized")
	}

	if a.cfg.Run.DryRun {
		summaries, err := executor.Preview(cmds)
		if err != nil {
			return nil, fmt.Errorf("plan changeset: %w", err)
		}
		a.logger.Info("dry run planned",
			slog.Int("commands", len(cmds)),
			slog.Int("batches", len(summaries)),
		)
		return newPlanReport(a.dialect, len(cmds), summaries), nil
	}

	sess, err := a.openSession(ctx)
	if err != nil {
		return nil, err
	}
	executor.Transport = sess.transport

	result, runErr := executor.Execute(ctx, cmds)
	finishErr := sess.finish(context.WithoutCancel(ctx), runErr)

	report := newRunReport(a.dialect, cmds, result, runErr)
	if a.cfg.Run.Transaction && runErr != nil && finishErr == nil {
		report.RolledBack = true
	}
	return report, errors.Join(runErr, finishErr)
}

// Serve runs fn while the metrics endpoint, if configured, is served. A
// failing endpoint cancels the context handed to fn.
func (a *App) Serve(ctx context.Context, fn func(context.Context) error) error {
	a.stateMu.Lock()
	srv, ln := a.metricsServer, a.metricsListener
	a.stateMu.Unlock()

	if srv == nil {
		return fn(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics endpoint failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			_ = srv.Shutdown(context.WithoutCancel(ctx))
		}()
		return fn(gctx)
	})
	return g.Wait()
}

func closeIgnoringClosed(ln net.Listener) error {
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
