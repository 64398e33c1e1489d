package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pmartel/scribe-api/internal/api/shared"
	"github.com/pmartel/scribe-api/internal/domain"
	"github.com/pmartel/scribe-api/internal/queue"
	"github.com/pmartel/scribe-api/internal/store"
)

// EnqueueTaskRequest represents the request body for creating a new task.
type EnqueueTaskRequest struct {
	Function             string          `json:"function"              validate:"required,min=1"`
	NamespaceID          string          `json:"namespace_id"          validate:"required,uuid"`
	Priority             int             `json:"priority"              validate:"gte=0"`
	ConcurrencyThreshold int             `json:"concurrency_threshold" validate:"gte=0"`
	Input                json.RawMessage `json:"input"`
	Payload              json.RawMessage `json:"payload"`
}

// CompleteTaskRequest represents a worker's completion callback body.
// Output and exception are mutually exclusive; both are opaque to the queue.
type CompleteTaskRequest struct {
	Output    json.RawMessage `json:"output"`
	Exception json.RawMessage `json:"exception"`
	EndedAt   *time.Time      `json:"ended_at"`
}

// TaskResponse represents the response data for a task.
type TaskResponse struct {
	ID                   string          `json:"id"`
	NamespaceID          string          `json:"namespace_id"`
	UserID               *string         `json:"user_id,omitempty"`
	Function             string          `json:"function"`
	Priority             int             `json:"priority"`
	State                string          `json:"state"`
	Input                json.RawMessage `json:"input,omitempty"`
	Payload              json.RawMessage `json:"payload,omitempty"`
	Output               json.RawMessage `json:"output,omitempty"`
	Exception            json.RawMessage `json:"exception,omitempty"`
	ConcurrencyThreshold int             `json:"concurrency_threshold"`
	StartedAt            *time.Time      `json:"started_at,omitempty"`
	EndedAt              *time.Time      `json:"ended_at,omitempty"`
	CanceledAt           *time.Time      `json:"canceled_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// TaskHandler handles task-related HTTP requests: the producer surface for
// business callers, thin admin CRUD, and the fetch/complete endpoints used
// by the external worker pool.
type TaskHandler struct {
	producer  queue.Producer
	scheduler queue.Scheduler
	reporter  queue.Reporter
	tasks     store.TaskStore
	validator *validator.Validate
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(producer queue.Producer, scheduler queue.Scheduler, reporter queue.Reporter, tasks store.TaskStore) *TaskHandler {
	return &TaskHandler{
		producer:  producer,
		scheduler: scheduler,
		reporter:  reporter,
		tasks:     tasks,
		validator: validator.New(),
	}
}

// EnqueueTask handles POST /api/tasks requests.
func (h *TaskHandler) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.GetUserID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found or invalid")
		return
	}

	var req EnqueueTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	namespaceID, err := uuid.Parse(req.NamespaceID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid namespace ID")
		return
	}

	task, err := h.producer.Enqueue(r.Context(), queue.EnqueueParams{
		NamespaceID:          namespaceID,
		UserID:               uuid.NullUUID{UUID: userID, Valid: true},
		Function:             req.Function,
		Priority:             req.Priority,
		ConcurrencyThreshold: req.ConcurrencyThreshold,
		Input:                req.Input,
		Payload:              req.Payload,
	})
	if err != nil {
		h.respondQueueError(w, r, err, "Failed to enqueue task")
		return
	}

	// 202: the work itself happens asynchronously in the worker pool.
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(task))
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromURL(w, r)
	if !ok {
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to retrieve task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// ListTasks handles GET /api/tasks requests with optional namespace_id and
// state filters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var filter store.TaskFilter

	if ns := r.URL.Query().Get("namespace_id"); ns != "" {
		namespaceID, err := uuid.Parse(ns)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid namespace ID")
			return
		}
		filter.NamespaceID = &namespaceID
	}

	if s := r.URL.Query().Get("state"); s != "" {
		state, err := domain.ParseTaskState(s)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task state")
			return
		}
		filter.State = &state
	}

	tasks, err := h.tasks.List(r.Context(), filter)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to list tasks", err)
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		responses = append(responses, taskToResponse(task))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// DeleteTask handles DELETE /api/tasks/{id} requests.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromURL(w, r)
	if !ok {
		return
	}

	if err := h.tasks.Delete(r.Context(), id); err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to delete task", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CancelTask handles POST /api/tasks/{id}/cancel requests.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromURL(w, r)
	if !ok {
		return
	}

	if err := h.reporter.Cancel(r.Context(), id); err != nil {
		h.respondQueueError(w, r, err, "Failed to cancel task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// FetchTask handles POST /api/worker/tasks/fetch requests from polling
// workers. An empty queue yields 204, which the worker treats as "try
// again later", not as an error.
func (h *TaskHandler) FetchTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.scheduler.Fetch(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to fetch task", err)
		return
	}

	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// CompleteTask handles POST /api/worker/tasks/{id}/complete callbacks.
func (h *TaskHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromURL(w, r)
	if !ok {
		return
	}

	var req CompleteTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	params := queue.CompletionParams{
		TaskID:    id,
		Output:    req.Output,
		Exception: req.Exception,
	}
	if req.EndedAt != nil {
		params.EndedAt = *req.EndedAt
	}

	if err := h.reporter.ReportCompletion(r.Context(), params); err != nil {
		h.respondQueueError(w, r, err, "Failed to complete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// taskIDFromURL parses the {id} URL parameter, responding with 400 on
// malformed IDs.
func (h *TaskHandler) taskIDFromURL(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return id, true
}

// respondQueueError maps queue-service errors to HTTP status codes.
func (h *TaskHandler) respondQueueError(w http.ResponseWriter, r *http.Request, err error, userMessage string) {
	switch {
	case errors.Is(err, queue.ErrTaskNotFound):
		shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
	case errors.Is(err, domain.ErrEmptyTaskFunction),
		errors.Is(err, domain.ErrEmptyTaskNamespace),
		errors.Is(err, domain.ErrInvalidThreshold),
		errors.Is(err, domain.ErrTaskOutputAndException):
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
	default:
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, userMessage, err)
	}
}

// taskToResponse converts a domain.Task to a TaskResponse.
func taskToResponse(task *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:                   task.ID.String(),
		NamespaceID:          task.NamespaceID.String(),
		Function:             task.Function,
		Priority:             task.Priority,
		State:                string(task.State()),
		Input:                task.Input,
		Payload:              task.Payload,
		Output:               task.Output,
		Exception:            task.Exception,
		ConcurrencyThreshold: task.ConcurrencyThreshold,
		StartedAt:            task.StartedAt,
		EndedAt:              task.EndedAt,
		CanceledAt:           task.CanceledAt,
		CreatedAt:            task.CreatedAt,
	}

	if task.UserID.Valid {
		userID := task.UserID.UUID.String()
		resp.UserID = &userID
	}

	return resp
}
