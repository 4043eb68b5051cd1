package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"dmlbatch/internal/changeset"
	"dmlbatch/internal/cliapp"
	"dmlbatch/internal/config"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			slog.Error("dmlbatch failed", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := config.NewFlagSet("dmlbatch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion, _ := fs.GetBool("version"); showVersion {
		fmt.Printf("dmlbatch %s (%s)\n", Version, Commit)
		return nil
	}

	cfg, err := config.LoadFromFlags(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}
	if cfg.Run.Changeset == "" {
		return fmt.Errorf("no changeset given: pass a path, - for stdin, or set run.changeset")
	}

	cmds, err := changeset.Load(cfg.Run.Changeset)
	if err != nil {
		return fmt.Errorf("failed to load changeset: %w", err)
	}

	logger, loggerProvider, err := cliapp.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	app, err := cliapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	app.AttachLoggerProvider(loggerProvider)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = app.Shutdown(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Run.Timeout)
		defer cancel()
	}

	if err := app.Init(ctx); err != nil {
		return err
	}

	return app.Serve(ctx, func(ctx context.Context) error {
		report, runErr := app.Run(ctx, cmds)
		if report != nil {
			if err := cliapp.WriteReport(os.Stdout, cfg.Run.Output, report); err != nil {
				return errors.Join(runErr, fmt.Errorf("failed to write report: %w", err))
			}
		}
		return runErr
	})
}
