// Package main implements the entry point for the Scribe API server,
// the task-queue backend for the knowledge-base product. It exposes the
// producer and admin endpoints used by business services and the fetch/
// complete endpoints polled by the external worker pool.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/pmartel/scribe-api/internal/config"
	"github.com/pmartel/scribe-api/internal/platform/logger"
)

// main wires configuration, logging, the database, and the queue services,
// then runs the HTTP server until a shutdown signal arrives.
func main() {
	if err := run(); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	slog.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

	db, err := setupAppDatabase(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}

	app, err := newApplication(cfg, appLogger, db)
	if err != nil {
		// newApplication does not own db until it returns successfully.
		if closeErr := db.Close(); closeErr != nil {
			appLogger.Error("failed to close database connection", "error", closeErr)
		}
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}
