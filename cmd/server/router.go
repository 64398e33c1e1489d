package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pmartel/scribe-api/internal/api"
	apiMiddleware "github.com/pmartel/scribe-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(app.producer, app.scheduler, app.reporter, app.taskStore)

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.config.Auth.JWTSecret)
	workerAuthMiddleware := apiMiddleware.NewWorkerAuthMiddleware(app.config.Auth.WorkerKeyHash)

	r.Route("/api", func(r chi.Router) {
		// Producer and admin endpoints for authenticated users.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Post("/tasks", taskHandler.EnqueueTask)
			r.Get("/tasks", taskHandler.ListTasks)
			r.Get("/tasks/{id}", taskHandler.GetTask)
			r.Delete("/tasks/{id}", taskHandler.DeleteTask)
			r.Post("/tasks/{id}/cancel", taskHandler.CancelTask)
		})

		// Endpoints polled by the external worker pool.
		r.Route("/worker", func(r chi.Router) {
			r.Use(workerAuthMiddleware.Authenticate)

			r.Post("/tasks/fetch", taskHandler.FetchTask)
			r.Post("/tasks/{id}/complete", taskHandler.CompleteTask)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
