package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pmartel/scribe-api/internal/domain"
)

// MemoryTaskStore is an in-memory TaskStore implementation.
// A single mutex serializes every operation, which makes ClaimNext's
// check-and-claim trivially atomic. It is used by tests and exercises the
// same admission semantics as the PostgreSQL implementation.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

var _ TaskStore = (*MemoryTaskStore)(nil)

// NewMemoryTaskStore creates an empty in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

// Create persists a new task.
func (s *MemoryTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return ErrDuplicate
	}

	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetByID retrieves a task by its unique ID.
func (s *MemoryTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, ErrTaskNotFound
	}

	return cloneTask(task), nil
}

// List retrieves tasks matching the filter, newest first.
func (s *MemoryTaskStore) List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Task
	for _, task := range s.tasks {
		if filter.NamespaceID != nil && task.NamespaceID != *filter.NamespaceID {
			continue
		}
		if filter.State != nil && task.State() != *filter.State {
			continue
		}
		matched = append(matched, cloneTask(task))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

// Delete removes a task record.
func (s *MemoryTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; !exists {
		return ErrTaskNotFound
	}

	delete(s.tasks, id)
	return nil
}

// ClaimNext atomically claims the highest-priority eligible pending task.
// The whole selection runs under the store mutex, so concurrent callers can
// never claim the same task or overrun a namespace's concurrency threshold.
func (s *MemoryTaskStore) ClaimNext(ctx context.Context, now time.Time) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := make(map[uuid.UUID]int)
	for _, task := range s.tasks {
		if task.State() == domain.TaskStateRunning {
			running[task.NamespaceID]++
		}
	}

	var best *domain.Task
	for _, task := range s.tasks {
		if task.State() != domain.TaskStatePending {
			continue
		}
		if running[task.NamespaceID] >= task.ConcurrencyThreshold {
			continue
		}
		if best == nil || claimBefore(task, best) {
			best = task
		}
	}

	if best == nil {
		return nil, ErrNoEligibleTask
	}

	startedAt := now.UTC()
	best.StartedAt = &startedAt
	return cloneTask(best), nil
}

// Complete finalizes a task, unconditionally overwriting any prior result.
func (s *MemoryTaskStore) Complete(ctx context.Context, id uuid.UUID, output, exception json.RawMessage, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return ErrTaskNotFound
	}

	ended := endedAt.UTC()
	task.Output = cloneJSON(output)
	task.Exception = cloneJSON(exception)
	task.EndedAt = &ended
	return nil
}

// Cancel marks a still-pending task as canceled.
func (s *MemoryTaskStore) Cancel(ctx context.Context, id uuid.UUID, canceledAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return false, ErrTaskNotFound
	}

	if task.State() != domain.TaskStatePending {
		return false, nil
	}

	canceled := canceledAt.UTC()
	task.CanceledAt = &canceled
	return true, nil
}

// CountRunning returns the number of currently running tasks in a namespace.
func (s *MemoryTaskStore) CountRunning(ctx context.Context, namespaceID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, task := range s.tasks {
		if task.NamespaceID == namespaceID && task.State() == domain.TaskStateRunning {
			count++
		}
	}
	return count, nil
}

// WithTx returns the store itself; the in-memory store has no transactions.
func (s *MemoryTaskStore) WithTx(tx *sql.Tx) TaskStore {
	return s
}

// claimBefore reports whether a should be claimed before b:
// higher priority first, then older creation time, with the ID as a final
// deterministic tie-breaker.
func claimBefore(a, b *domain.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// cloneTask copies a task so callers never share memory with the store.
func cloneTask(t *domain.Task) *domain.Task {
	clone := *t
	clone.Input = cloneJSON(t.Input)
	clone.Payload = cloneJSON(t.Payload)
	clone.Output = cloneJSON(t.Output)
	clone.Exception = cloneJSON(t.Exception)
	clone.StartedAt = cloneTime(t.StartedAt)
	clone.EndedAt = cloneTime(t.EndedAt)
	clone.CanceledAt = cloneTime(t.CanceledAt)
	return &clone
}

func cloneJSON(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := *t
	return &ts
}
