package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"interest-bank/internal/config"
	"interest-bank/internal/logging"
	"interest-bank/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run serves until ctx is done. The log sink is closed on every return path,
// so failures are logged before the process exits.
func run(ctx context.Context, cfg *config.Config) error {
	logger, closer := logging.New(cfg)
	defer closer.Close()
	slog.SetDefault(logger)

	serverInstance, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to build server", "error", err)
		return err
	}

	port, err := serverInstance.Start(cfg.ServerPort)
	if err != nil {
		logger.Error("Failed to start server", "error", err)
		return err
	}
	logger.Info("Server started successfully",
		"port", port,
		"backend", cfg.StorageBackend,
		"custody", cfg.Custody().Hex(),
		"automine", cfg.Automine,
	)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := serverInstance.Stop(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
