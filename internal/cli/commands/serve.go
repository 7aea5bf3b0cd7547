package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/app"
	"github.com/hireflow/hireflow/internal/web/profiling"
	"github.com/hireflow/hireflow/internal/web/server"
)

var serveWorkers bool

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API and the realtime websocket hub.

By default the process also works the job queues; pass --workers=false
when dedicated "hireflow worker" processes do that.`,
		RunE: runServe,
	}

	cmd.Flags().BoolVar(&serveWorkers, "workers", true, "Process background jobs in this process")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	go a.Hub.Run()

	srv, err := server.New(server.Config{
		Address:        cfg.Server.Address(),
		Handler:        a.Handler(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	})
	if err != nil {
		a.Close()
		return err
	}

	gs := server.NewGracefulShutdown(srv, server.ShutdownConfig{Timeout: cfg.Server.ShutdownTimeout}, logger)
	if serveWorkers {
		workerCtx, stopWorkers := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- a.RunWorkers(workerCtx, true) }()

		// RunWorkers bounds its own drain with jobs.drain_timeout; the
		// connections must stay open until job outcomes are recorded.
		gs.RegisterHook("workers", func(context.Context) error {
			stopWorkers()
			return <-done
		})
	}
	if addr := cfg.Server.PprofAddress; addr != "" {
		debug, err := server.New(server.Config{Address: addr, Handler: profiling.Handler()})
		if err != nil {
			a.Close()
			return err
		}
		go func() {
			logger.Info("profiling listening", zap.String("addr", addr))
			if err := debug.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("profiling server failed", zap.Error(err))
			}
		}()
		gs.RegisterHook("profiling", debug.Shutdown)
	}
	gs.RegisterHook("connections", func(context.Context) error {
		return a.Close()
	})

	return gs.Run(ctx)
}

var workerNoListen bool

// NewWorkerCommand creates the worker command
func NewWorkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process background jobs",
		Long: `Work the configured job queues until interrupted.

Idle workers are woken through Postgres LISTEN/NOTIFY as soon as jobs are
enqueued, and otherwise poll every jobs.poll_interval.`,
		RunE: runWorker,
	}

	cmd.Flags().BoolVar(&workerNoListen, "no-listen", false, "Poll only; do not open a LISTEN connection")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("worker started",
		zap.Strings("queues", cfg.Jobs.Queues),
		zap.Int("workers_per_queue", cfg.Jobs.Workers))
	err = a.RunWorkers(ctx, !workerNoListen)
	logger.Info("worker stopped")
	return err
}
