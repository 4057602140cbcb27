// Package main provides the entry point for the assessment backend server.
// It loads configuration, wires the services and serves the HTTP API and the
// dashboard socket until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assessapp/internal/config"
	"assessapp/internal/di"
	"assessapp/internal/handlers"
	"assessapp/internal/observability"
	contextutils "assessapp/internal/utils"
	"assessapp/internal/version"
)

// Application encapsulates the main application logic and can be tested
type Application struct {
	container di.ServiceContainerInterface
	server    *http.Server
}

// NewApplication creates a new application instance
func NewApplication(container di.ServiceContainerInterface) *Application {
	return &Application{
		container: container,
		server: &http.Server{
			Addr:              ":" + container.GetConfig().Server.Port,
			Handler:           container.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run starts background work and serves HTTP until ctx is cancelled or the
// listener fails
func (a *Application) Run(ctx context.Context) error {
	a.container.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErr:
		return contextutils.WrapError(err, "server failed")
	}
}

// Shutdown drains HTTP connections, then stops the container
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.container.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	providers, err := observability.SetupObservability(&cfg.OpenTelemetry, handlers.ServiceName, cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}
	logger := providers.Logger
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down telemetry: %v\n", err)
		}
	}()

	logger.Info(ctx, "Starting assessment backend", map[string]interface{}{
		"port":      cfg.Server.Port,
		"log_level": cfg.Server.LogLevel,
		"version":   version.String(),
	})

	container := di.NewServiceContainer(cfg, logger, observability.NewMetrics())
	if err := container.Initialize(ctx); err != nil {
		logger.Error(ctx, "Failed to initialize services", err)
		os.Exit(1)
	}
	if err := container.EnsureAdminUser(ctx); err != nil {
		logger.Error(ctx, "Failed to ensure admin user exists", err, map[string]interface{}{"admin_username": cfg.Server.AdminUsername})
		os.Exit(1)
	}

	app := NewApplication(container)
	runErr := app.Run(ctx)
	if runErr != nil {
		logger.Error(ctx, "Application failed", runErr)
	} else {
		logger.Info(ctx, "Received shutdown signal, shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Error during application shutdown", err)
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
	logger.Info(ctx, "Shutdown completed successfully")
}
