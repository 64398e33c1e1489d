package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pmartel/scribe-api/internal/domain"
	"github.com/pmartel/scribe-api/internal/store"
)

// Common sentinel errors for the queue services.
var (
	// ErrTaskNotFound indicates that the referenced task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrConflictRetriesExhausted indicates that a claim kept colliding
	// with concurrent claims and the bounded retry budget ran out.
	ErrConflictRetriesExhausted = errors.New("claim conflict retries exhausted")
)

// EnqueueParams carries the caller-supplied fields for Producer.Enqueue.
// Priority and ConcurrencyThreshold are optional; zero means "use the
// configured default".
type EnqueueParams struct {
	NamespaceID          uuid.UUID
	UserID               uuid.NullUUID
	Function             string
	Priority             int
	ConcurrencyThreshold int
	Input                json.RawMessage
	Payload              json.RawMessage
}

// CompletionParams carries a worker's completion callback for a task.
// Output and Exception are mutually exclusive; EndedAt defaults to the
// current time when zero.
type CompletionParams struct {
	TaskID    uuid.UUID
	Output    json.RawMessage
	Exception json.RawMessage
	EndedAt   time.Time
}

// Defaults holds the producer-side policy defaults applied when an enqueue
// request leaves priority or concurrency threshold unset.
type Defaults struct {
	Priority             int
	ConcurrencyThreshold int
}

// Producer is the narrow interface through which all business logic
// enqueues work. Function names and payload shapes are opaque to the queue.
type Producer interface {
	// Enqueue durably persists a new pending task and returns it.
	Enqueue(ctx context.Context, params EnqueueParams) (*domain.Task, error)
}

// Scheduler hands out claimed tasks to polling workers.
type Scheduler interface {
	// Fetch atomically claims the next eligible task and returns it with
	// StartedAt populated. Returns (nil, nil) when nothing is eligible.
	Fetch(ctx context.Context) (*domain.Task, error)
}

// Reporter finalizes tasks on behalf of workers and cancels pending tasks.
type Reporter interface {
	// ReportCompletion writes a task's result and marks it completed.
	ReportCompletion(ctx context.Context, params CompletionParams) error

	// Cancel marks a pending task so it is never claimed. Canceling a
	// task that has already started or reached a terminal state is a
	// no-op success.
	Cancel(ctx context.Context, taskID uuid.UUID) error
}

// QueueError wraps errors from the queue services with operation context.
type QueueError struct {
	// Operation is the operation that failed (e.g., "enqueue", "fetch")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for QueueError.
func (e *QueueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("queue %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("queue %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *QueueError) Unwrap() error {
	return e.Err
}

// NewQueueError creates a new QueueError.
// Known sentinel conditions are returned directly without wrapping.
func NewQueueError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrTaskNotFound) {
		return ErrTaskNotFound
	}

	// Store-level "not found" surfaces as the queue-level sentinel.
	if errors.Is(err, store.ErrNotFound) {
		return ErrTaskNotFound
	}

	return &QueueError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
