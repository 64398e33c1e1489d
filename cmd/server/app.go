package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pmartel/scribe-api/internal/config"
	"github.com/pmartel/scribe-api/internal/platform/postgres"
	"github.com/pmartel/scribe-api/internal/queue"
	"github.com/pmartel/scribe-api/internal/service"
	"github.com/pmartel/scribe-api/internal/store"
)

// application holds the shared application dependencies to simplify wiring
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	taskStore store.TaskStore

	producer  queue.Producer
	scheduler queue.Scheduler
	reporter  queue.Reporter

	documentService *service.DocumentService
}

// newApplication creates an application instance with all dependencies
// initialized. Configuration, logger, and database connection must already
// be established.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.taskStore = postgres.NewPostgresTaskStore(db)

	var err error
	app.producer, err = queue.NewProducer(app.taskStore, queue.Defaults{
		Priority:             cfg.Queue.DefaultPriority,
		ConcurrencyThreshold: cfg.Queue.DefaultThreshold,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	app.scheduler, err = queue.NewScheduler(app.taskStore, cfg.Queue.ClaimRetries, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	app.reporter, err = queue.NewReporter(app.taskStore, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reporter: %w", err)
	}

	app.documentService, err = service.NewDocumentService(app.producer)
	if err != nil {
		return nil, fmt.Errorf("failed to create document service: %w", err)
	}

	logger.Info("application initialized")
	return app, nil
}

// Run starts the HTTP server and blocks until shutdown completes.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
