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

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/tendant/simple-dataspace/pkg/dataspace/api"
	"github.com/tendant/simple-dataspace/pkg/dataspace/config"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	serverConfig, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(serverConfig.Environment)
	slog.SetDefault(logger)

	if err := run(serverConfig, logger); err != nil {
		logger.Error("Server error", "err", err)
		os.Exit(1)
	}
}

func newLogger(environment string) *slog.Logger {
	if environment == "development" {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func run(serverConfig *config.ServerConfig, logger *slog.Logger) error {
	if serverConfig.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := serverConfig.Build(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to build data space runtime: %w", err)
	}
	defer rt.Close()

	opts := []api.Option{api.WithLogger(logger)}
	if rt.ActivityIndex != nil {
		opts = append(opts,
			api.WithActivityReader(rt.ActivityIndex),
			api.WithAdmins(serverConfig.AuditAdmins...),
		)
	}
	handler, err := api.NewHandler(rt.Core, opts...)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           api.NewRouter(handler, api.NewTokenAuth(serverConfig.JWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Data space server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"storage", serverConfig.Storage.Type,
			"database", serverConfig.DatabaseType,
			"activity_index", rt.ActivityIndex != nil,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exiting")
	return nil
}
