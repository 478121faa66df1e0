// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/obsidian2bookstack/internal/bookstack"
	"github.com/starford/obsidian2bookstack/internal/engine"
	"github.com/starford/obsidian2bookstack/internal/ledger"
	"github.com/starford/obsidian2bookstack/internal/mcpserver"
	"github.com/starford/obsidian2bookstack/internal/progress"
	"github.com/starford/obsidian2bookstack/internal/syncservice"
	"github.com/starford/obsidian2bookstack/internal/vault"
)

// Exit codes besides engine.Report.ExitCode.
const (
	ExitOK    = 0
	ExitFatal = 1
)

// Run executes the configured command and returns the process exit code.
// Sync and plan report their outcome through the exit code; err is set only
// when the command could not run at all.
func Run(ctx context.Context, opts ...Option) (int, error) {
	app := &application{
		command: CommandSync,
		out:     os.Stdout,
		limit:   20,
		version: "dev",
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return ExitFatal, fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := newLogger(cfg.App)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("command", string(app.command)),
		slog.String("vault_path", cfg.Vault.Path),
		slog.Any("bookstack", cfg.BookStack),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return ExitFatal, fmt.Errorf("init ledger: %w", err)
	}
	defer db.Close()

	if app.command == CommandHistory {
		if err := app.printHistory(db); err != nil {
			return ExitFatal, err
		}
		return ExitOK, nil
	}

	fs, err := vault.NewFS(cfg.Vault.Path)
	if err != nil {
		return ExitFatal, fmt.Errorf("init vault: %w", err)
	}

	client := bookstack.New(cfg.BookStack.Client(logger))

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	var broker *progress.Broker
	if app.eventsAddr != "" {
		broker = progress.NewBroker(time.Second)
		defer broker.Close()
		engineOpts = append(engineOpts, engine.WithObserver(broker.Observe))
	}

	eng := engine.New(fs, client, cfg.Engine(), engineOpts...)
	svc := syncservice.NewService(eng, db, logger)

	g, gCtx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gCtx)
	defer cancelRun()

	done := make(chan struct{})
	code := ExitOK

	g.Go(func() error {
		defer close(done)
		var err error
		code, err = app.dispatch(runCtx, svc)
		return err
	})

	if broker != nil {
		httpServer := &http.Server{
			Addr:              app.eventsAddr,
			Handler:           progress.NewRouter(broker),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("Starting progress server", slog.String("address", app.eventsAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("progress server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			select {
			case <-done:
			case <-gCtx.Done():
			}
			// Closing the broker ends open event streams so Shutdown can finish.
			broker.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("progress server shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal, draining in-flight requests", slog.String("signal", sig.String()))
			cancelRun()
		case <-done:
		case <-gCtx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		if code == ExitOK {
			code = ExitFatal
		}
		return code, err
	}

	return code, nil
}

func newLogger(cfg ApplicationConfig) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}

// dispatch runs one command against the sync service.
func (a *application) dispatch(ctx context.Context, svc *syncservice.Service) (int, error) {
	switch a.command {
	case CommandSync:
		rep, err := svc.Sync(ctx)
		if rep == nil {
			return ExitFatal, err
		}
		if err := a.printReport(rep); err != nil {
			return ExitFatal, err
		}
		return rep.ExitCode(), nil

	case CommandPlan:
		plan, rep, err := svc.Plan(ctx)
		if rep == nil {
			return ExitFatal, err
		}
		if err := a.printPlan(plan, rep); err != nil {
			return ExitFatal, err
		}
		return rep.ExitCode(), nil

	case CommandMCP:
		srv := mcpserver.New(svc, a.version)
		if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return ExitFatal, fmt.Errorf("mcp server: %w", err)
		}
		return ExitOK, nil

	default:
		return ExitFatal, fmt.Errorf("unknown command %q", a.command)
	}
}
