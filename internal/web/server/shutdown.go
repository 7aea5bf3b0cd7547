package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownHook is called during graceful shutdown after the HTTP server
// has drained
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   ShutdownHook
}

// GracefulShutdown runs a server until a signal arrives, then drains it and
// runs cleanup hooks within one timeout
type GracefulShutdown struct {
	server  *Server
	timeout time.Duration
	signals []os.Signal
	logger  *zap.Logger

	mu           sync.Mutex
	hooks        []namedHook
	shutdownOnce sync.Once
	shutdownChan chan struct{}
	shutdownErr  error
}

// ShutdownConfig holds graceful shutdown configuration
type ShutdownConfig struct {
	// Timeout bounds the whole shutdown, hooks included
	Timeout time.Duration

	// Signals to listen for (default: SIGINT, SIGTERM)
	Signals []os.Signal
}

// NewGracefulShutdown creates a new graceful shutdown handler
func NewGracefulShutdown(server *Server, config ShutdownConfig, logger *zap.Logger) *GracefulShutdown {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if len(config.Signals) == 0 {
		config.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GracefulShutdown{
		server:       server,
		timeout:      config.Timeout,
		signals:      config.Signals,
		logger:       logger,
		shutdownChan: make(chan struct{}),
	}
}

// RegisterHook adds a hook. Hooks run in registration order.
func (gs *GracefulShutdown) RegisterHook(name string, hook ShutdownHook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.hooks = append(gs.hooks, namedHook{name: name, fn: hook})
}

// Run serves until ctx is cancelled, a signal arrives or the server fails,
// then shuts down gracefully
func (gs *GracefulShutdown) Run(ctx context.Context) error {
	if err := gs.server.Listen(); err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		gs.logger.Info("http server listening", zap.String("addr", gs.server.Addr()))
		if err := gs.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, gs.signals...)
	defer stop()

	select {
	case <-sigCtx.Done():
		gs.logger.Info("shutdown signal received")
		return gs.Shutdown()
	case err := <-errChan:
		gs.logger.Error("http server failed", zap.Error(err))
		if serr := gs.Shutdown(); serr != nil {
			return errors.Join(err, serr)
		}
		return err
	}
}

// Shutdown drains the server and runs the hooks. Safe to call more than once.
func (gs *GracefulShutdown) Shutdown() error {
	gs.shutdownOnce.Do(func() {
		defer close(gs.shutdownChan)
		gs.logger.Info("graceful shutdown started", zap.Duration("timeout", gs.timeout))

		ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
		defer cancel()

		var errs []error
		if err := gs.server.Shutdown(ctx); err != nil {
			gs.logger.Error("http server shutdown failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}

		gs.mu.Lock()
		hooks := append([]namedHook(nil), gs.hooks...)
		gs.mu.Unlock()

		for _, hook := range hooks {
			start := time.Now()
			if err := hook.fn(ctx); err != nil {
				gs.logger.Error("shutdown hook failed", zap.String("hook", hook.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", hook.name, err))
				continue
			}
			gs.logger.Debug("shutdown hook finished", zap.String("hook", hook.name), zap.Duration("duration", time.Since(start)))
		}

		gs.shutdownErr = errors.Join(errs...)
		gs.logger.Info("graceful shutdown complete")
	})

	<-gs.shutdownChan
	return gs.shutdownErr
}

// Wait blocks until shutdown is complete
func (gs *GracefulShutdown) Wait() error {
	<-gs.shutdownChan
	return gs.shutdownErr
}
