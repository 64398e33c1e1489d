package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pmartel/scribe-api/internal/domain"
	"github.com/pmartel/scribe-api/internal/platform/logger"
	"github.com/pmartel/scribe-api/internal/store"
)

// taskClaimLockID is the advisory lock key that serializes claim
// transactions. All fetchers contend on this single key, which keeps the
// running-count check and the claim itself one atomic unit.
const taskClaimLockID int64 = 0x5343524942 // "SCRIB"

// taskColumns is the column list shared by every SELECT/RETURNING on tasks.
const taskColumns = `id, namespace_id, user_id, function, priority, input, payload,
	output, exception, concurrency_threshold, started_at, ended_at, canceled_at, created_at`

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

// WithTx returns a new TaskStore instance that uses the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db: tx,
	}
}

// Create persists a new task to the database.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, namespace_id, user_id, function, priority, input, payload,
			output, exception, concurrency_threshold, started_at, ended_at, canceled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.NamespaceID,
		task.UserID,
		task.Function,
		task.Priority,
		nullableJSON(task.Input),
		nullableJSON(task.Payload),
		nullableJSON(task.Output),
		nullableJSON(task.Exception),
		task.ConcurrencyThreshold,
		task.StartedAt,
		task.EndedAt,
		task.CanceledAt,
		task.CreatedAt,
	)

	if err != nil {
		log.Error("failed to save task",
			"task_id", task.ID,
			"function", task.Function,
			"namespace_id", task.NamespaceID,
			"error", err)
		return MapError(fmt.Errorf("failed to save task to database: %w", err))
	}

	return nil
}

// GetByID retrieves a task by its unique ID.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(fmt.Errorf("failed to get task: %w", err))
	}

	return task, nil
}

// List retrieves tasks matching the filter, newest first.
func (s *PostgresTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conditions []string
	var args []any

	if filter.NamespaceID != nil {
		args = append(args, *filter.NamespaceID)
		conditions = append(conditions, fmt.Sprintf("namespace_id = $%d", len(args)))
	}
	if filter.State != nil {
		conditions = append(conditions, stateCondition(*filter.State))
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to list tasks", "error", err)
		return nil, MapError(fmt.Errorf("failed to list tasks: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// Delete removes a task record.
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return MapError(fmt.Errorf("failed to delete task: %w", err))
	}

	return CheckRowsAffected(result, "task")
}

// ClaimNext atomically claims the highest-priority eligible pending task.
//
// The claim must be one atomic unit: row locks alone are not enough, because
// two transactions could each read a stale running count, lock different
// candidate rows (SKIP LOCKED style) and together overrun the namespace
// threshold. Instead the whole check-and-claim runs inside a transaction
// holding a transaction-scoped advisory lock, which serializes claims across
// all fetchers while leaving enqueue and completion traffic unblocked.
//
// When the store is bound to a connection pool, ClaimNext opens its own
// transaction; when it is already running inside a caller-managed
// transaction (via WithTx), it claims directly on that transaction.
func (s *PostgresTaskStore) ClaimNext(ctx context.Context, now time.Time) (*domain.Task, error) {
	if db, ok := s.db.(*sql.DB); ok {
		var claimed *domain.Task
		err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			var err error
			claimed, err = claimNext(ctx, tx, now)
			return err
		})
		if err != nil {
			return nil, err
		}
		return claimed, nil
	}

	return claimNext(ctx, s.db, now)
}

// claimNext performs the admission-controlled claim on the given transaction.
func claimNext(ctx context.Context, db store.DBTX, now time.Time) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	if _, err := db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, taskClaimLockID); err != nil {
		return nil, MapError(fmt.Errorf("failed to acquire claim lock: %w", err))
	}

	// A pending task is admissible when its namespace's running count is
	// strictly below the threshold the task itself carries. Candidates are
	// ordered by priority (higher first) with creation time as tie-breaker.
	query := `
		UPDATE tasks
		SET started_at = $1
		WHERE id = (
			SELECT t.id
			FROM tasks AS t
			WHERE t.started_at IS NULL
			  AND t.ended_at IS NULL
			  AND t.canceled_at IS NULL
			  AND (
				SELECT COUNT(*)
				FROM tasks AS r
				WHERE r.namespace_id = t.namespace_id
				  AND r.started_at IS NOT NULL
				  AND r.ended_at IS NULL
				  AND r.canceled_at IS NULL
			  ) < t.concurrency_threshold
			ORDER BY t.priority DESC, t.created_at ASC
			LIMIT 1
		)
		RETURNING ` + taskColumns

	row := db.QueryRowContext(ctx, query, now.UTC())

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoEligibleTask
		}
		log.Error("failed to claim task", "error", err)
		return nil, MapError(fmt.Errorf("failed to claim task: %w", err))
	}

	log.Debug("task claimed",
		"task_id", task.ID,
		"function", task.Function,
		"namespace_id", task.NamespaceID,
		"priority", task.Priority)

	return task, nil
}

// Complete finalizes a task with its result. The write is unconditional:
// a second completion for the same task overwrites the first.
func (s *PostgresTaskStore) Complete(ctx context.Context, id uuid.UUID, output, exception json.RawMessage, endedAt time.Time) error {
	log := logger.FromContext(ctx)

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET output = $2, exception = $3, ended_at = $4
		WHERE id = $1
	`, id, nullableJSON(output), nullableJSON(exception), endedAt.UTC())

	if err != nil {
		log.Error("failed to complete task",
			"task_id", id,
			"error", err)
		return MapError(fmt.Errorf("failed to complete task: %w", err))
	}

	return CheckRowsAffected(result, "task")
}

// Cancel marks a still-pending task as canceled. Returns false without error
// when the task exists but has already started, ended or been canceled.
func (s *PostgresTaskStore) Cancel(ctx context.Context, id uuid.UUID, canceledAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET canceled_at = $2
		WHERE id = $1
		  AND started_at IS NULL
		  AND ended_at IS NULL
		  AND canceled_at IS NULL
	`, id, canceledAt.UTC())

	if err != nil {
		return false, MapError(fmt.Errorf("failed to cancel task: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	// Distinguish "not pending anymore" from "does not exist".
	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, MapError(fmt.Errorf("failed to check task existence: %w", err))
	}
	if !exists {
		return false, store.ErrTaskNotFound
	}

	return false, nil
}

// CountRunning returns the number of currently running tasks in a namespace.
func (s *PostgresTaskStore) CountRunning(ctx context.Context, namespaceID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM tasks
		WHERE namespace_id = $1
		  AND started_at IS NOT NULL
		  AND ended_at IS NULL
		  AND canceled_at IS NULL
	`, namespaceID).Scan(&count)

	if err != nil {
		return 0, MapError(fmt.Errorf("failed to count running tasks: %w", err))
	}

	return count, nil
}

// stateCondition translates a derived task state into its SQL predicate.
func stateCondition(state domain.TaskState) string {
	switch state {
	case domain.TaskStatePending:
		return "(started_at IS NULL AND ended_at IS NULL AND canceled_at IS NULL)"
	case domain.TaskStateRunning:
		return "(started_at IS NOT NULL AND ended_at IS NULL AND canceled_at IS NULL)"
	case domain.TaskStateCompleted:
		return "(ended_at IS NOT NULL AND canceled_at IS NULL)"
	case domain.TaskStateCanceled:
		return "(canceled_at IS NOT NULL)"
	default:
		// Unknown states match nothing rather than everything.
		return "FALSE"
	}
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row into a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var input, payload, output, exception []byte
	var startedAt, endedAt, canceledAt sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.NamespaceID,
		&t.UserID,
		&t.Function,
		&t.Priority,
		&input,
		&payload,
		&output,
		&exception,
		&t.ConcurrencyThreshold,
		&startedAt,
		&endedAt,
		&canceledAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Input = json.RawMessage(input)
	t.Payload = json.RawMessage(payload)
	t.Output = json.RawMessage(output)
	t.Exception = json.RawMessage(exception)
	t.StartedAt = nullableTime(startedAt)
	t.EndedAt = nullableTime(endedAt)
	t.CanceledAt = nullableTime(canceledAt)

	return &t, nil
}

// nullableJSON converts an empty raw message to nil so the column stays NULL.
func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// nullableTime converts a sql.NullTime into a *time.Time.
func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	ts := t.Time
	return &ts
}
