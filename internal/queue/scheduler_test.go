package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pmartel/scribe-api/internal/domain"
	"github.com/pmartel/scribe-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// enqueue is a test helper that enqueues one task and returns it.
func enqueue(t *testing.T, producer Producer, params EnqueueParams) *domain.Task {
	t.Helper()
	task, err := producer.Enqueue(context.Background(), params)
	require.NoError(t, err)
	return task
}

func TestFetchEmptyQueue(t *testing.T) {
	_, _, scheduler, _ := newTestQueue(t)

	task, err := scheduler.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task, "empty queue should yield an empty result, not an error")
}

func TestFetchReturnsHighestPriorityFirst(t *testing.T) {
	_, producer, scheduler, _ := newTestQueue(t)
	ns := uuid.New()

	low := enqueue(t, producer, EnqueueParams{
		NamespaceID: ns, Function: "extract_tags", Priority: 5, ConcurrencyThreshold: 2,
	})
	high := enqueue(t, producer, EnqueueParams{
		NamespaceID: ns, Function: "extract_tags", Priority: 10, ConcurrencyThreshold: 2,
	})

	first, err := scheduler.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, high.ID, first.ID)
	assert.NotNil(t, first.StartedAt, "claimed task must carry started_at")

	second, err := scheduler.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, low.ID, second.ID)
}

func TestFetchBreaksPriorityTiesByAge(t *testing.T) {
	tasks, _, scheduler, _ := newTestQueue(t)
	ns := uuid.New()

	// Seed directly so the creation timestamps are unambiguous.
	older := mustTask(t, ns, "extract_tags", 5, 3)
	older.CreatedAt = time.Now().UTC().Add(-time.Minute)
	newer := mustTask(t, ns, "extract_tags", 5, 3)

	require.NoError(t, tasks.Create(context.Background(), newer))
	require.NoError(t, tasks.Create(context.Background(), older))

	first, err := scheduler.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, older.ID, first.ID, "equal priority should be claimed oldest first")
}

func TestFetchRespectsConcurrencyThreshold(t *testing.T) {
	_, producer, scheduler, reporter := newTestQueue(t)
	ns := uuid.New()
	ctx := context.Background()

	// Three tasks, threshold 1: only one may run at a time.
	for i := 0; i < 3; i++ {
		enqueue(t, producer, EnqueueParams{
			NamespaceID: ns, Function: "collect_content", ConcurrencyThreshold: 1,
		})
	}

	first, err := scheduler.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	// The namespace is saturated: a second fetch comes back empty.
	blocked, err := scheduler.Fetch(ctx)
	require.NoError(t, err)
	assert.Nil(t, blocked)

	// Completing the running task frees the slot.
	require.NoError(t, reporter.ReportCompletion(ctx, CompletionParams{
		TaskID: first.ID,
		Output: json.RawMessage(`{"ok":true}`),
	}))

	next, err := scheduler.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestFetchThresholdIsPerNamespace(t *testing.T) {
	_, producer, scheduler, _ := newTestQueue(t)
	ctx := context.Background()

	nsA := uuid.New()
	nsB := uuid.New()
	enqueue(t, producer, EnqueueParams{NamespaceID: nsA, Function: "read_file", ConcurrencyThreshold: 1})
	enqueue(t, producer, EnqueueParams{NamespaceID: nsB, Function: "read_file", ConcurrencyThreshold: 1})

	// Saturating namespace A must not block namespace B.
	first, err := scheduler.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := scheduler.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.NamespaceID, second.NamespaceID)
}

func TestFetchSkipsCanceledTasks(t *testing.T) {
	_, producer, scheduler, reporter := newTestQueue(t)
	ctx := context.Background()
	ns := uuid.New()

	canceled := enqueue(t, producer, EnqueueParams{
		NamespaceID: ns, Function: "delete_conversation", Priority: 10,
	})
	kept := enqueue(t, producer, EnqueueParams{
		NamespaceID: ns, Function: "delete_conversation", Priority: 5,
	})

	require.NoError(t, reporter.Cancel(ctx, canceled.ID))

	// The canceled id is never returned, no matter how often we poll.
	for i := 0; i < 3; i++ {
		task, err := scheduler.Fetch(ctx)
		require.NoError(t, err)
		if task == nil {
			continue
		}
		assert.Equal(t, kept.ID, task.ID)
	}
}

func TestConcurrentFetchNeverDoubleClaims(t *testing.T) {
	tasks, producer, _, _ := newTestQueue(t)
	ctx := context.Background()
	ns := uuid.New()

	const taskCount = 20
	const fetchers = 8

	for i := 0; i < taskCount; i++ {
		enqueue(t, producer, EnqueueParams{
			NamespaceID: ns, Function: "index_upsert", ConcurrencyThreshold: taskCount,
		})
	}

	claimed := make(chan uuid.UUID, taskCount*2)
	var wg sync.WaitGroup

	for i := 0; i < fetchers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler, err := NewScheduler(tasks, 3, setupTestLogger())
			if err != nil {
				t.Error(err)
				return
			}
			for {
				task, err := scheduler.Fetch(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				if task == nil {
					return
				}
				claimed <- task.ID
			}
		}()
	}

	wg.Wait()
	close(claimed)

	seen := make(map[uuid.UUID]bool)
	for id := range claimed {
		assert.False(t, seen[id], "task %s claimed twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, taskCount, "every task should be claimed exactly once")
}

func TestConcurrentFetchRespectsAdmissionInvariant(t *testing.T) {
	tasks, producer, _, _ := newTestQueue(t)
	ctx := context.Background()
	ns := uuid.New()

	// Two eligible tasks with threshold 2, five concurrent fetchers:
	// exactly two claims succeed, the rest come back empty.
	const threshold = 2
	const fetchers = 5

	for i := 0; i < threshold; i++ {
		enqueue(t, producer, EnqueueParams{
			NamespaceID: ns, Function: "collect_content", ConcurrencyThreshold: threshold,
		})
	}

	var wg sync.WaitGroup
	results := make(chan *domain.Task, fetchers)

	for i := 0; i < fetchers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler, err := NewScheduler(tasks, 3, setupTestLogger())
			if err != nil {
				t.Error(err)
				return
			}
			task, err := scheduler.Fetch(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			results <- task
		}()
	}

	wg.Wait()
	close(results)

	claimed := 0
	for task := range results {
		if task != nil {
			claimed++
		}
	}
	assert.Equal(t, threshold, claimed, "exactly threshold-many claims may succeed")

	running, err := tasks.CountRunning(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, threshold, running)
}

// conflictStore wraps a TaskStore and fails ClaimNext with transaction
// conflicts a configured number of times before delegating.
type conflictStore struct {
	store.TaskStore
	mu        sync.Mutex
	conflicts int
}

func (c *conflictStore) ClaimNext(ctx context.Context, now time.Time) (*domain.Task, error) {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return nil, store.ErrTransactionConflict
	}
	c.mu.Unlock()
	return c.TaskStore.ClaimNext(ctx, now)
}

func (c *conflictStore) WithTx(tx *sql.Tx) store.TaskStore {
	return c
}

func TestFetchRetriesOnConflict(t *testing.T) {
	inner := store.NewMemoryTaskStore()
	tasks := &conflictStore{TaskStore: inner, conflicts: 2}

	producer, err := NewProducer(inner, Defaults{}, setupTestLogger())
	require.NoError(t, err)
	scheduler, err := NewScheduler(tasks, 3, setupTestLogger())
	require.NoError(t, err)

	want := enqueue(t, producer, EnqueueParams{
		NamespaceID: uuid.New(), Function: "extract_tags",
	})

	// Two conflicts fit inside the three-attempt budget.
	got, err := scheduler.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
}

func TestFetchSurfacesExhaustedConflictRetries(t *testing.T) {
	inner := store.NewMemoryTaskStore()
	tasks := &conflictStore{TaskStore: inner, conflicts: 10}

	scheduler, err := NewScheduler(tasks, 3, setupTestLogger())
	require.NoError(t, err)

	_, err = scheduler.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflictRetriesExhausted)
}

// mustTask builds a valid pending task for direct store seeding.
func mustTask(t *testing.T, ns uuid.UUID, function string, priority, threshold int) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.NewTaskParams{
		NamespaceID:          ns,
		Function:             function,
		Priority:             priority,
		ConcurrencyThreshold: threshold,
	})
	require.NoError(t, err)
	return task
}
