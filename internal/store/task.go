package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pmartel/scribe-api/internal/domain"
)

// TaskFilter narrows List results. Nil fields are ignored.
type TaskFilter struct {
	NamespaceID *uuid.UUID
	State       *domain.TaskState
	Limit       int
	Offset      int
}

// TaskStore defines the interface for persisting tasks.
// It is the single source of truth for task ordering and state: every
// mutation of a task record goes through one of these methods.
type TaskStore interface {
	// Create persists a new task. The task must be pending.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if no task exists with the given ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List retrieves tasks matching the filter, ordered by creation time
	// descending.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// Delete removes a task record.
	// Returns ErrTaskNotFound if no task exists with the given ID.
	Delete(ctx context.Context, id uuid.UUID) error

	// ClaimNext atomically selects the highest-priority eligible pending
	// task whose namespace has spare running capacity, marks it running
	// (started_at = now) and returns it. Eligibility, ordering and the
	// admission check are evaluated inside the same atomic unit as the
	// claim itself, so no two concurrent callers can claim the same task
	// and no namespace can be pushed past the concurrency threshold of
	// the task being admitted.
	//
	// Returns ErrNoEligibleTask when nothing is claimable right now;
	// that is an expected outcome, not a failure.
	ClaimNext(ctx context.Context, now time.Time) (*domain.Task, error)

	// Complete finalizes a task: it writes output and/or exception and
	// sets ended_at, unconditionally overwriting any prior result.
	// Returns ErrTaskNotFound if no task exists with the given ID.
	Complete(ctx context.Context, id uuid.UUID, output, exception json.RawMessage, endedAt time.Time) error

	// Cancel sets canceled_at on a task that is still pending so it is
	// never claimed. The returned bool reports whether the cancellation
	// took effect; it is false when the task had already started, ended
	// or been canceled. Returns ErrTaskNotFound for an unknown ID.
	Cancel(ctx context.Context, id uuid.UUID, canceledAt time.Time) (bool, error)

	// CountRunning returns the number of currently running tasks in the
	// given namespace.
	CountRunning(ctx context.Context, namespaceID uuid.UUID) (int, error)

	// WithTx returns a new TaskStore instance that uses the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) TaskStore
}
