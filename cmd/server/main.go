// Package main provides the entry point for the audio split API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/audiosplit-api/internal/bootstrap"
	"github.com/maauso/audiosplit-api/internal/config"
	"github.com/maauso/audiosplit-api/internal/server"
)

// shutdownTimeout bounds connection draining plus in-flight task completion.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	logger.Info("starting audio split API", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	srv := newHTTPServer(cfg, deps, logger)

	if deps.Janitor != nil {
		deps.Janitor.Start()
		defer deps.Janitor.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return err
	}

	return shutdown(srv, deps, logger)
}

func newHTTPServer(cfg *config.Config, deps *bootstrap.Dependencies, logger *slog.Logger) *http.Server {
	handlers := server.NewHandlers(deps.TaskService, logger,
		server.WithMaxUploadBytes(cfg.MaxUploadBytes()),
		server.WithDefaults(cfg.DefaultMaxDurationMinutes, cfg.DefaultOverlapSeconds),
	)

	routerCfg := server.DefaultConfig()
	routerCfg.Metrics = deps.MetricsHandler

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.NewRouter(handlers, logger, routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Minute, // large uploads
		WriteTimeout:      10 * time.Minute, // large bundle downloads
		IdleTimeout:       60 * time.Second,
	}
}

// shutdown stops accepting requests, then waits for dispatched tasks.
// Tasks still running at the deadline are cancelled and recorded as failed.
func shutdown(srv *http.Server, deps *bootstrap.Dependencies, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("draining tasks", slog.Int("in_flight", deps.Runner.InFlight()))
	if err := deps.Runner.Shutdown(ctx); err != nil {
		logger.Warn("in-flight tasks cancelled", slog.String("error", err.Error()))
	}

	logger.Info("server stopped gracefully")
	return nil
}
