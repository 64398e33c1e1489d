package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pmartel/scribe-api/internal/domain"
	"github.com/pmartel/scribe-api/internal/store"
)

// defaultClaimAttempts bounds the transparent retry loop when no explicit
// budget is configured.
const defaultClaimAttempts = 3

// scheduler implements the Scheduler interface.
// It is stateless and re-entrant: an arbitrary number of worker processes
// may call Fetch concurrently, each on its own polling cadence. The shared
// task store is the only shared mutable state.
type scheduler struct {
	tasks       store.TaskStore
	maxAttempts int
	logger      *slog.Logger
}

// NewScheduler creates a new Scheduler backed by the given task store.
// maxAttempts bounds the transparent retry on claim conflicts; values
// below 1 fall back to the default.
func NewScheduler(tasks store.TaskStore, maxAttempts int, logger *slog.Logger) (Scheduler, error) {
	if tasks == nil {
		return nil, &QueueError{
			Operation: "create_scheduler",
			Message:   "task store cannot be nil",
		}
	}

	if maxAttempts < 1 {
		maxAttempts = defaultClaimAttempts
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &scheduler{
		tasks:       tasks,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "task_scheduler"),
	}, nil
}

// Fetch claims the next eligible task for the calling worker.
//
// The store's ClaimNext evaluates admission control, ordering and the
// pending-to-running transition as one atomic unit, so Fetch never returns
// a task another concurrent Fetch also received. Transaction conflicts are
// expected under contention and retried transparently up to the configured
// budget; an empty queue is reported as (nil, nil), not an error.
func (s *scheduler) Fetch(ctx context.Context) (*domain.Task, error) {
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		task, err := s.tasks.ClaimNext(ctx, time.Now().UTC())
		if err == nil {
			s.logger.Debug("task fetched",
				"task_id", task.ID,
				"function", task.Function,
				"namespace_id", task.NamespaceID,
				"attempt", attempt)
			return task, nil
		}

		if errors.Is(err, store.ErrNoEligibleTask) {
			return nil, nil
		}

		if !errors.Is(err, store.ErrTransactionConflict) {
			s.logger.Error("failed to fetch task", "error", err)
			return nil, NewQueueError("fetch", "failed to claim task", err)
		}

		lastErr = err
		s.logger.Debug("claim conflict, retrying",
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
			"error", err)
	}

	s.logger.Warn("claim conflict retries exhausted",
		"max_attempts", s.maxAttempts,
		"error", lastErr)
	return nil, NewQueueError("fetch", "claim conflict retries exhausted",
		errors.Join(ErrConflictRetriesExhausted, lastErr))
}
