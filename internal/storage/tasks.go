package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskRepository persists Task rows and implements the lease primitives the
// enrichment queue's state machine is built on.
type TaskRepository struct {
	db Beginner
}

// BeginTx opens a transaction on the underlying pool.
func (r *TaskRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

// EnqueueBatch inserts one pending task per payload, within the caller's
// transaction. Used by the ingestion service in pages of up to 1,000 chunks,
// itself chunked into INSERT batches of 100 per spec §4.5/§5.
func (r *TaskRepository) EnqueueBatch(ctx context.Context, tx DB, payloads []TaskPayload, maxAttempts int) error {
	now := time.Now().UTC()
	const batchSize = 100
	for start := 0; start < len(payloads); start += batchSize {
		end := start + batchSize
		if end > len(payloads) {
			end = len(payloads)
		}
		query := `INSERT INTO tasks (id, queue, status, payload, attempt, max_attempts, run_after, created_at) VALUES `
		args := make([]any, 0, (end-start)*8)
		for i, p := range payloads[start:end] {
			body, err := marshalPayload(p)
			if err != nil {
				return err
			}
			if i > 0 {
				query += ","
			}
			n := len(args)
			query += fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8)
			args = append(args, uuid.New(), EnrichmentQueueName, TaskStatusPending, body, 1, maxAttempts, now, now)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("enqueue task: %w", err)
		}
	}
	return nil
}

// Claim atomically selects the oldest eligible pending task (FOR UPDATE SKIP
// LOCKED) and marks it processing under the given worker's lease. Returns
// ErrNotFound when the queue is empty.
func (r *TaskRepository) Claim(ctx context.Context, tx DB, workerID string, leaseDuration time.Duration) (Task, error) {
	now := time.Now().UTC()
	var t Task
	err := tx.QueryRowContext(ctx, `
		SELECT id, queue, status, payload, attempt, max_attempts, run_after,
		       leased_until, worker_id, created_at, completed_at
		FROM tasks
		WHERE queue = $1 AND status = $2 AND run_after <= $3
		ORDER BY run_after ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, EnrichmentQueueName, TaskStatusPending, now).Scan(
		&t.ID, &t.Queue, &t.Status, &t.Payload, &t.Attempt, &t.MaxAttempts,
		&t.RunAfter, &t.LeasedUntil, &t.WorkerID, &t.CreatedAt, &t.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("claim select: %w", err)
	}

	leasedUntil := now.Add(leaseDuration)
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET status = $1, leased_until = $2, worker_id = $3 WHERE id = $4
	`, TaskStatusProcessing, leasedUntil, workerID, t.ID)
	if err != nil {
		return Task{}, fmt.Errorf("claim update: %w", err)
	}
	t.Status = TaskStatusProcessing
	t.LeasedUntil = &leasedUntil
	t.WorkerID = &workerID
	return t, nil
}

// Get fetches a task by id.
func (r *TaskRepository) Get(ctx context.Context, tx DB, id uuid.UUID) (Task, error) {
	var t Task
	err := tx.QueryRowContext(ctx, `
		SELECT id, queue, status, payload, attempt, max_attempts, run_after,
		       leased_until, worker_id, created_at, completed_at
		FROM tasks WHERE id = $1
	`, id).Scan(&t.ID, &t.Queue, &t.Status, &t.Payload, &t.Attempt, &t.MaxAttempts,
		&t.RunAfter, &t.LeasedUntil, &t.WorkerID, &t.CreatedAt, &t.CompletedAt)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Complete marks a task completed.
func (r *TaskRepository) Complete(ctx context.Context, tx DB, id uuid.UUID) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = $1, completed_at = $2 WHERE id = $3
	`, TaskStatusCompleted, now, id)
	return err
}

// Retry returns a task to pending with a bumped attempt count and a delayed
// run_after, per the fixed 60s retry-delay policy (spec §9 Open Question,
// resolved to "keep fixed" in DESIGN.md).
func (r *TaskRepository) Retry(ctx context.Context, tx DB, id uuid.UUID, nextAttempt int, delay time.Duration) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = $1, attempt = $2, run_after = $3, leased_until = NULL, worker_id = NULL
		WHERE id = $4
	`, TaskStatusPending, nextAttempt, time.Now().UTC().Add(delay), id)
	return err
}

// Kill marks a task permanently dead (max attempts exhausted).
func (r *TaskRepository) Kill(ctx context.Context, tx DB, id uuid.UUID) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = $1, completed_at = $2 WHERE id = $3
	`, TaskStatusDead, now, id)
	return err
}

// RecoverStale moves every task with an expired lease back to pending
// without incrementing attempt, and returns how many rows were recovered.
func (r *TaskRepository) RecoverStale(ctx context.Context, tx DB) (int64, error) {
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = $1, leased_until = NULL, worker_id = NULL
		WHERE status = $2 AND leased_until < $3
	`, TaskStatusPending, TaskStatusProcessing, now)
	if err != nil {
		return 0, fmt.Errorf("recover stale leases: %w", err)
	}
	return res.RowsAffected()
}

// StatusCounts is the per-status task count returned by /enrichment/stats.
type StatusCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
	Completed  int64 `json:"completed"`
}

// Stats counts tasks by status for the enrichment queue.
func (r *TaskRepository) Stats(ctx context.Context) (StatusCounts, error) {
	var c StatusCounts
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks WHERE queue = $1 GROUP BY status
	`, EnrichmentQueueName)
	if err != nil {
		return c, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status TaskStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		switch status {
		case TaskStatusPending:
			c.Pending = n
		case TaskStatusProcessing:
			c.Processing = n
		case TaskStatusDead:
			c.Dead = n
		case TaskStatusCompleted:
			c.Completed = n
		}
	}
	return c, rows.Err()
}

// Search finds tasks by collection and an optional free-text filter over
// payload->>'text' | source | baseId | docType, with automatic ILIKE
// fallback on invalid tsquery input.
func (r *TaskRepository) Search(ctx context.Context, collection, text string) ([]Task, error) {
	rows, err := r.searchQuery(ctx, collection, text, false)
	if err != nil && isTSQuerySyntaxError(err) {
		rows, err = r.searchQuery(ctx, collection, text, true)
	}
	if err != nil {
		return nil, fmt.Errorf("task search: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Queue, &t.Status, &t.Payload, &t.Attempt,
			&t.MaxAttempts, &t.RunAfter, &t.LeasedUntil, &t.WorkerID, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TaskRepository) searchQuery(ctx context.Context, collection, text string, ilike bool) (*sql.Rows, error) {
	predicate := `to_tsvector('simple', payload->>'text' || ' ' || payload->>'source' || ' ' ||
		payload->>'baseId' || ' ' || payload->>'docType') @@ websearch_to_tsquery('simple', $2)`
	if ilike {
		predicate = `(payload->>'text' ILIKE '%' || $2 || '%' OR payload->>'source' ILIKE '%' || $2 || '%'
			OR payload->>'baseId' ILIKE '%' || $2 || '%' OR payload->>'docType' ILIKE '%' || $2 || '%')`
	}
	predicate = "($2 = '' OR " + predicate + ")"
	query := fmt.Sprintf(`
		SELECT id, queue, status, payload, attempt, max_attempts, run_after,
		       leased_until, worker_id, created_at, completed_at
		FROM tasks WHERE payload->>'collection' = $1 AND %s
		ORDER BY created_at ASC
	`, predicate)
	return r.db.QueryContext(ctx, query, collection, text)
}

// ClearStatuses is the set of statuses the /enrichment/clear bulk delete may
// target; "completed" is never included (tasks in that state are never
// deleted by this operation per spec §4.8).
var ClearStatuses = []TaskStatus{TaskStatusPending, TaskStatusProcessing, TaskStatusDead}

// Clear bulk-deletes non-completed tasks for a collection, optionally
// restricted to a caller-supplied subset of ClearStatuses.
func (r *TaskRepository) Clear(ctx context.Context, collection string, statuses []TaskStatus) (int64, error) {
	if len(statuses) == 0 {
		statuses = ClearStatuses
	}
	placeholders := ""
	args := []any{collection}
	for i, s := range statuses {
		if i > 0 {
			placeholders += ","
		}
		args = append(args, s)
		placeholders += fmt.Sprintf("$%d", len(args))
	}
	query := fmt.Sprintf(`
		DELETE FROM tasks WHERE payload->>'collection' = $1 AND status IN (%s)
	`, placeholders)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear tasks: %w", err)
	}
	return res.RowsAffected()
}

func marshalPayload(p TaskPayload) ([]byte, error) {
	return json.Marshal(p)
}
