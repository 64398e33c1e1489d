package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskState represents the lifecycle state of a task. It is derived from the
// task's timestamps rather than stored, so a record can never disagree with
// itself about which state it is in.
type TaskState string

// Possible task states
const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateCanceled  TaskState = "canceled"
)

// Defaults applied by NewTask when the caller does not choose a value.
const (
	DefaultTaskPriority         = 5
	DefaultConcurrencyThreshold = 1
)

// Common validation errors for Task
var (
	ErrEmptyTaskID            = errors.New("task ID cannot be empty")
	ErrEmptyTaskNamespace     = errors.New("task namespace ID cannot be empty")
	ErrEmptyTaskFunction      = errors.New("task function cannot be empty")
	ErrInvalidThreshold       = errors.New("task concurrency threshold must be at least 1")
	ErrTaskOutputAndException = errors.New("task cannot carry both output and exception")
)

// Task is a unit of asynchronous work handed to the external worker pool.
// The queue never interprets Function, Input, Payload, Output or Exception;
// they are opaque contracts between producers and workers.
//
// ConcurrencyThreshold is carried per-record: it caps how many tasks may be
// simultaneously running in this task's namespace at the moment this task is
// considered for admission.
type Task struct {
	ID                   uuid.UUID       `json:"id"`
	NamespaceID          uuid.UUID       `json:"namespace_id"`
	UserID               uuid.NullUUID   `json:"user_id"`
	Function             string          `json:"function"`
	Priority             int             `json:"priority"`
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

// NewTaskParams bundles the caller-supplied fields for NewTask.
// Priority and ConcurrencyThreshold are optional; zero values are replaced
// with the package defaults.
type NewTaskParams struct {
	NamespaceID          uuid.UUID
	UserID               uuid.NullUUID
	Function             string
	Priority             int
	Input                json.RawMessage
	Payload              json.RawMessage
	ConcurrencyThreshold int
}

// NewTask creates a new pending Task from the given parameters.
// It generates a new UUID, applies priority/threshold defaults and sets the
// creation timestamp. Returns an error if validation fails.
func NewTask(params NewTaskParams) (*Task, error) {
	priority := params.Priority
	if priority == 0 {
		priority = DefaultTaskPriority
	}

	threshold := params.ConcurrencyThreshold
	if threshold == 0 {
		threshold = DefaultConcurrencyThreshold
	}

	task := &Task{
		ID:                   uuid.New(),
		NamespaceID:          params.NamespaceID,
		UserID:               params.UserID,
		Function:             params.Function,
		Priority:             priority,
		Input:                params.Input,
		Payload:              params.Payload,
		ConcurrencyThreshold: threshold,
		CreatedAt:            time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.NamespaceID == uuid.Nil {
		return ErrEmptyTaskNamespace
	}

	if t.Function == "" {
		return ErrEmptyTaskFunction
	}

	if t.ConcurrencyThreshold < 1 {
		return ErrInvalidThreshold
	}

	if len(t.Output) > 0 && len(t.Exception) > 0 {
		return ErrTaskOutputAndException
	}

	return nil
}

// State derives the task's lifecycle state from its timestamps.
// A task is in exactly one state at any observation point: cancellation and
// completion are terminal, a claimed task is running, everything else is
// pending.
func (t *Task) State() TaskState {
	switch {
	case t.CanceledAt != nil:
		return TaskStateCanceled
	case t.EndedAt != nil:
		return TaskStateCompleted
	case t.StartedAt != nil:
		return TaskStateRunning
	default:
		return TaskStatePending
	}
}

// IsTerminal reports whether the task has reached a terminal state.
func (t *Task) IsTerminal() bool {
	state := t.State()
	return state == TaskStateCompleted || state == TaskStateCanceled
}

// isValidTaskState checks if the given state is a valid TaskState.
func isValidTaskState(state TaskState) bool {
	switch state {
	case TaskStatePending, TaskStateRunning, TaskStateCompleted, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// ParseTaskState converts a string into a TaskState.
// Returns an error for unknown values; used when parsing list filters.
func ParseTaskState(s string) (TaskState, error) {
	state := TaskState(s)
	if !isValidTaskState(state) {
		return "", errors.New("invalid task state: " + s)
	}
	return state, nil
}
