package queue

import (
	"context"
	"log/slog"

	"github.com/pmartel/scribe-api/internal/domain"
	"github.com/pmartel/scribe-api/internal/store"
)

// producer implements the Producer interface.
type producer struct {
	tasks    store.TaskStore
	defaults Defaults
	logger   *slog.Logger
}

// NewProducer creates a new Producer backed by the given task store.
// It returns an error if the task store is nil.
func NewProducer(tasks store.TaskStore, defaults Defaults, logger *slog.Logger) (Producer, error) {
	if tasks == nil {
		return nil, &QueueError{
			Operation: "create_producer",
			Message:   "task store cannot be nil",
		}
	}

	if defaults.Priority == 0 {
		defaults.Priority = domain.DefaultTaskPriority
	}
	if defaults.ConcurrencyThreshold == 0 {
		defaults.ConcurrencyThreshold = domain.DefaultConcurrencyThreshold
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &producer{
		tasks:    tasks,
		defaults: defaults,
		logger:   logger.With("component", "task_producer"),
	}, nil
}

// Enqueue validates the request, applies the configured defaults and
// durably persists a new pending task. The task record is committed before
// Enqueue returns; the queue never inspects Input or Payload contents.
func (p *producer) Enqueue(ctx context.Context, params EnqueueParams) (*domain.Task, error) {
	priority := params.Priority
	if priority == 0 {
		priority = p.defaults.Priority
	}

	threshold := params.ConcurrencyThreshold
	if threshold == 0 {
		threshold = p.defaults.ConcurrencyThreshold
	}

	task, err := domain.NewTask(domain.NewTaskParams{
		NamespaceID:          params.NamespaceID,
		UserID:               params.UserID,
		Function:             params.Function,
		Priority:             priority,
		Input:                params.Input,
		Payload:              params.Payload,
		ConcurrencyThreshold: threshold,
	})
	if err != nil {
		p.logger.Error("failed to build task",
			"error", err,
			"function", params.Function,
			"namespace_id", params.NamespaceID)
		return nil, NewQueueError("enqueue", "invalid enqueue request", err)
	}

	if err := p.tasks.Create(ctx, task); err != nil {
		p.logger.Error("failed to persist task",
			"error", err,
			"task_id", task.ID,
			"function", task.Function,
			"namespace_id", task.NamespaceID)
		return nil, NewQueueError("enqueue", "failed to persist task", err)
	}

	p.logger.Info("task enqueued",
		"task_id", task.ID,
		"function", task.Function,
		"namespace_id", task.NamespaceID,
		"priority", task.Priority,
		"concurrency_threshold", task.ConcurrencyThreshold)

	return task, nil
}
