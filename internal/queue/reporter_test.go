package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pmartel/scribe-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCompletionWithOutput(t *testing.T) {
	tasks, producer, scheduler, reporter := newTestQueue(t)
	ctx := context.Background()

	task := enqueue(t, producer, EnqueueParams{
		NamespaceID: uuid.New(), Function: "generate_title",
	})

	claimed, err := scheduler.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	endedAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, reporter.ReportCompletion(ctx, CompletionParams{
		TaskID:  task.ID,
		Output:  json.RawMessage(`{"title":"Quarterly Report"}`),
		EndedAt: endedAt,
	}))

	stored, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateCompleted, stored.State())
	assert.JSONEq(t, `{"title":"Quarterly Report"}`, string(stored.Output))
	assert.Empty(t, stored.Exception)
	require.NotNil(t, stored.EndedAt)
	assert.True(t, stored.EndedAt.Equal(endedAt))

	// A completed task is never handed out again.
	next, err := scheduler.Fetch(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestReportCompletionWithException(t *testing.T) {
	tasks, producer, scheduler, reporter := newTestQueue(t)
	ctx := context.Background()

	task := enqueue(t, producer, EnqueueParams{
		NamespaceID: uuid.New(), Function: "extract_tags",
	})

	_, err := scheduler.Fetch(ctx)
	require.NoError(t, err)

	require.NoError(t, reporter.ReportCompletion(ctx, CompletionParams{
		TaskID:    task.ID,
		Exception: json.RawMessage(`{"msg":"x"}`),
	}))

	stored, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateCompleted, stored.State())
	assert.Empty(t, stored.Output, "a failed completion must leave output unset")
	assert.JSONEq(t, `{"msg":"x"}`, string(stored.Exception))
}

func TestReportCompletionRejectsOutputAndException(t *testing.T) {
	_, producer, _, reporter := newTestQueue(t)

	task := enqueue(t, producer, EnqueueParams{
		NamespaceID: uuid.New(), Function: "extract_tags",
	})

	err := reporter.ReportCompletion(context.Background(), CompletionParams{
		TaskID:    task.ID,
		Output:    json.RawMessage(`{}`),
		Exception: json.RawMessage(`{}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTaskOutputAndException)
}

func TestReportCompletionUnknownTask(t *testing.T) {
	_, _, _, reporter := newTestQueue(t)

	err := reporter.ReportCompletion(context.Background(), CompletionParams{
		TaskID: uuid.New(),
		Output: json.RawMessage(`{}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestReportCompletionOverwritesPriorResult(t *testing.T) {
	// Duplicate callbacks are not guarded: the second write wins. This is
	// the observed contract, kept deliberately.
	tasks, producer, _, reporter := newTestQueue(t)
	ctx := context.Background()

	task := enqueue(t, producer, EnqueueParams{
		NamespaceID: uuid.New(), Function: "index_upsert",
	})

	require.NoError(t, reporter.ReportCompletion(ctx, CompletionParams{
		TaskID: task.ID,
		Output: json.RawMessage(`{"rev":1}`),
	}))
	require.NoError(t, reporter.ReportCompletion(ctx, CompletionParams{
		TaskID:    task.ID,
		Exception: json.RawMessage(`{"msg":"late failure"}`),
	}))

	stored, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Output)
	assert.JSONEq(t, `{"msg":"late failure"}`, string(stored.Exception))
}

func TestCancelPendingTask(t *testing.T) {
	tasks, producer, scheduler, reporter := newTestQueue(t)
	ctx := context.Background()

	task := enqueue(t, producer, EnqueueParams{
		NamespaceID: uuid.New(), Function: "read_file",
	})

	require.NoError(t, reporter.Cancel(ctx, task.ID))

	stored, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateCanceled, stored.State())
	require.NotNil(t, stored.CanceledAt)

	// The canceled task is never claimed afterwards.
	for i := 0; i < 3; i++ {
		next, err := scheduler.Fetch(ctx)
		require.NoError(t, err)
		assert.Nil(t, next)
	}
}

func TestCancelRunningTaskIsNoOp(t *testing.T) {
	tasks, producer, scheduler, reporter := newTestQueue(t)
	ctx := context.Background()

	task := enqueue(t, producer, EnqueueParams{
		NamespaceID: uuid.New(), Function: "read_file",
	})

	claimed, err := scheduler.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Policy: canceling a running task succeeds without effect.
	require.NoError(t, reporter.Cancel(ctx, task.ID))

	stored, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateRunning, stored.State())
	assert.Nil(t, stored.CanceledAt)
}

func TestCancelUnknownTask(t *testing.T) {
	_, _, _, reporter := newTestQueue(t)

	err := reporter.Cancel(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
