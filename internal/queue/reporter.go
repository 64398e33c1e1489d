package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pmartel/scribe-api/internal/domain"
	"github.com/pmartel/scribe-api/internal/store"
)

// reporter implements the Reporter interface.
type reporter struct {
	tasks  store.TaskStore
	logger *slog.Logger
}

// NewReporter creates a new Reporter backed by the given task store.
func NewReporter(tasks store.TaskStore, logger *slog.Logger) (Reporter, error) {
	if tasks == nil {
		return nil, &QueueError{
			Operation: "create_reporter",
			Message:   "task store cannot be nil",
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &reporter{
		tasks:  tasks,
		logger: logger.With("component", "task_reporter"),
	}, nil
}

// ReportCompletion finalizes a task with the worker's result. The call is
// accepted regardless of the task's current state, and the write
// unconditionally overwrites any prior result; a duplicate callback is
// therefore visible as an overwrite, which is logged but not rejected.
// After a successful call the task is completed and will never again be
// returned by Fetch.
func (r *reporter) ReportCompletion(ctx context.Context, params CompletionParams) error {
	if params.TaskID == uuid.Nil {
		return &QueueError{
			Operation: "report_completion",
			Message:   "task ID cannot be empty",
		}
	}

	if len(params.Output) > 0 && len(params.Exception) > 0 {
		return NewQueueError("report_completion", "invalid completion",
			domain.ErrTaskOutputAndException)
	}

	endedAt := params.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}

	// Pre-read for a precise not-found error and to surface overwrites in
	// the logs. The write itself stays unconditional.
	task, err := r.tasks.GetByID(ctx, params.TaskID)
	if err != nil {
		return NewQueueError("report_completion", "failed to load task", err)
	}

	if task.State() == domain.TaskStateCompleted {
		r.logger.Warn("task already completed, overwriting prior result",
			"task_id", task.ID,
			"function", task.Function)
	}

	if err := r.tasks.Complete(ctx, params.TaskID, params.Output, params.Exception, endedAt); err != nil {
		r.logger.Error("failed to complete task",
			"error", err,
			"task_id", params.TaskID)
		return NewQueueError("report_completion", "failed to complete task", err)
	}

	r.logger.Info("task completed",
		"task_id", params.TaskID,
		"function", task.Function,
		"namespace_id", task.NamespaceID,
		"failed", len(params.Exception) > 0)

	return nil
}

// Cancel marks a pending task so it is never claimed. Canceling a task
// that has already started or reached a terminal state is a no-op success;
// canceled_at is only ever written while the task is still pending.
func (r *reporter) Cancel(ctx context.Context, taskID uuid.UUID) error {
	if taskID == uuid.Nil {
		return &QueueError{
			Operation: "cancel",
			Message:   "task ID cannot be empty",
		}
	}

	canceled, err := r.tasks.Cancel(ctx, taskID, time.Now().UTC())
	if err != nil {
		return NewQueueError("cancel", "failed to cancel task", err)
	}

	if !canceled {
		r.logger.Debug("cancel had no effect, task no longer pending",
			"task_id", taskID)
		return nil
	}

	r.logger.Info("task canceled", "task_id", taskID)
	return nil
}
