// Devflow orchestration server — exposes the HTTP API, runs the agent
// worker pool, and coordinates task execution across modes.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/devflow-ai/devflow/pkg/app"
	"github.com/devflow-ai/devflow/pkg/config"
	"github.com/devflow-ai/devflow/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("DEVFLOW_CONFIG", ""),
		"Path to the YAML configuration file (optional)")
	envFile := flag.String("env-file", ".env",
		"Path to an env file applied before configuration")
	flag.Parse()

	// Load the env file when present; a missing file is the normal case
	// outside local development.
	if err := godotenv.Load(*envFile); err != nil {
		slog.Debug("No env file loaded, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	// 1. Load configuration: defaults, then file, then DEVFLOW_* environment
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Structured logging per config
	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	slog.Info("Starting devflow",
		"version", version.Full(),
		"environment", cfg.Environment,
		"default_mode", cfg.DefaultMode)

	ctx := context.Background()

	// 3. Build the subsystem graph
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	// 4. Start the pipeline and the HTTP listener
	if err := a.Start(ctx); err != nil {
		slog.Error("Failed to start application", "error", err)
		a.Stop(ctx)
		os.Exit(1)
	}

	slog.Info("Devflow started successfully",
		"addr", cfg.Server.Addr(),
		"workers", cfg.Queue.Workers)

	// 5. Wait for a shutdown signal or a listener failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-a.Err():
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 6. Graceful shutdown: drain work first, stop answering last
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	a.Stop(shutdownCtx)
}
