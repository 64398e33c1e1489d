package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/pmartel/scribe-api/internal/domain"
	"github.com/pmartel/scribe-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// newTestQueue wires a producer, scheduler and reporter around a fresh
// in-memory store.
func newTestQueue(t *testing.T) (*store.MemoryTaskStore, Producer, Scheduler, Reporter) {
	t.Helper()

	tasks := store.NewMemoryTaskStore()
	logger := setupTestLogger()

	producer, err := NewProducer(tasks, Defaults{}, logger)
	require.NoError(t, err)

	scheduler, err := NewScheduler(tasks, 3, logger)
	require.NoError(t, err)

	reporter, err := NewReporter(tasks, logger)
	require.NoError(t, err)

	return tasks, producer, scheduler, reporter
}

func TestNewProducerRequiresStore(t *testing.T) {
	_, err := NewProducer(nil, Defaults{}, setupTestLogger())
	assert.Error(t, err)
}

func TestEnqueueAppliesDefaults(t *testing.T) {
	tasks, producer, _, _ := newTestQueue(t)

	task, err := producer.Enqueue(context.Background(), EnqueueParams{
		NamespaceID: uuid.New(),
		Function:    "extract_tags",
		Input:       json.RawMessage(`{"doc_id":"abc"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultTaskPriority, task.Priority)
	assert.Equal(t, domain.DefaultConcurrencyThreshold, task.ConcurrencyThreshold)
	assert.Equal(t, domain.TaskStatePending, task.State())

	// The record is durably pending before Enqueue returns.
	stored, err := tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatePending, stored.State())
	assert.JSONEq(t, `{"doc_id":"abc"}`, string(stored.Input))
}

func TestEnqueueHonorsExplicitValues(t *testing.T) {
	_, producer, _, _ := newTestQueue(t)

	task, err := producer.Enqueue(context.Background(), EnqueueParams{
		NamespaceID:          uuid.New(),
		UserID:               uuid.NullUUID{UUID: uuid.New(), Valid: true},
		Function:             "generate_title",
		Priority:             10,
		ConcurrencyThreshold: 4,
		Payload:              json.RawMessage(`{"conversation_id":"c1"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 10, task.Priority)
	assert.Equal(t, 4, task.ConcurrencyThreshold)
	assert.True(t, task.UserID.Valid)
}

func TestEnqueueValidation(t *testing.T) {
	_, producer, _, _ := newTestQueue(t)

	tests := []struct {
		name    string
		params  EnqueueParams
		wantErr error
	}{
		{
			name: "missing function",
			params: EnqueueParams{
				NamespaceID: uuid.New(),
			},
			wantErr: domain.ErrEmptyTaskFunction,
		},
		{
			name: "missing namespace",
			params: EnqueueParams{
				Function: "collect_content",
			},
			wantErr: domain.ErrEmptyTaskNamespace,
		},
		{
			name: "negative threshold",
			params: EnqueueParams{
				NamespaceID:          uuid.New(),
				Function:             "collect_content",
				ConcurrencyThreshold: -1,
			},
			wantErr: domain.ErrInvalidThreshold,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := producer.Enqueue(context.Background(), tc.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestEnqueueTreatsFunctionAsOpaque(t *testing.T) {
	tasks, producer, _, _ := newTestQueue(t)

	// Any function label passes through unchanged; the queue never
	// interprets it.
	for _, fn := range []string{"collect_content", "extract_tags", "generate_title", "index_upsert", "index_delete", "read_file", "delete_conversation"} {
		task, err := producer.Enqueue(context.Background(), EnqueueParams{
			NamespaceID: uuid.New(),
			Function:    fn,
		})
		require.NoError(t, err)

		stored, err := tasks.GetByID(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, fn, stored.Function)
	}
}
