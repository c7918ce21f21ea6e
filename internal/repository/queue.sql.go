package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const queueEntryColumns = `id, product_id, validation_id, status, priority, category, assigned_to_id,
    assigned_at, started_at, completed_at, attempts, max_attempts, queued_at, last_attempt_at,
    next_retry_at, due_date, error, auto_process, version, created_at, updated_at`

func scanQueueEntry(row interface{ Scan(...interface{}) error }) (QueueEntry, error) {
	var i QueueEntry
	err := row.Scan(
		&i.ID,
		&i.ProductID,
		&i.ValidationID,
		&i.Status,
		&i.Priority,
		&i.Category,
		&i.AssignedToID,
		&i.AssignedAt,
		&i.StartedAt,
		&i.CompletedAt,
		&i.Attempts,
		&i.MaxAttempts,
		&i.QueuedAt,
		&i.LastAttemptAt,
		&i.NextRetryAt,
		&i.DueDate,
		&i.Error,
		&i.AutoProcess,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanQueueEntries(rows *sql.Rows, err error) ([]QueueEntry, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QueueEntry
	for rows.Next() {
		i, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createQueueEntry = `-- name: CreateQueueEntry :one
INSERT INTO queue_entries (
    id, product_id, validation_id, status, priority, category,
    max_attempts, queued_at, due_date, auto_process
) VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8, $9)
RETURNING ` + queueEntryColumns

type CreateQueueEntryParams struct {
	ID           uuid.UUID `json:"id"`
	ProductID    uuid.UUID `json:"product_id"`
	ValidationID uuid.UUID `json:"validation_id"`
	Priority     int16     `json:"priority"`
	Category     string    `json:"category"`
	MaxAttempts  int32     `json:"max_attempts"`
	QueuedAt     time.Time `json:"queued_at"`
	DueDate      time.Time `json:"due_date"`
	AutoProcess  bool      `json:"auto_process"`
}

func (q *Queries) CreateQueueEntry(ctx context.Context, arg CreateQueueEntryParams) (QueueEntry, error) {
	row := q.db.QueryRowContext(ctx, createQueueEntry,
		arg.ID,
		arg.ProductID,
		arg.ValidationID,
		arg.Priority,
		arg.Category,
		arg.MaxAttempts,
		arg.QueuedAt,
		arg.DueDate,
		arg.AutoProcess,
	)
	return scanQueueEntry(row)
}

const getQueueEntry = `-- name: GetQueueEntry :one
SELECT ` + queueEntryColumns + ` FROM queue_entries WHERE id = $1`

func (q *Queries) GetQueueEntry(ctx context.Context, id uuid.UUID) (QueueEntry, error) {
	return scanQueueEntry(q.db.QueryRowContext(ctx, getQueueEntry, id))
}

const getActiveQueueEntryByProduct = `-- name: GetActiveQueueEntryByProduct :one
SELECT ` + queueEntryColumns + ` FROM queue_entries
WHERE product_id = $1 AND status IN ('pending', 'assigned', 'in_progress')`

func (q *Queries) GetActiveQueueEntryByProduct(ctx context.Context, productID uuid.UUID) (QueueEntry, error) {
	return scanQueueEntry(q.db.QueryRowContext(ctx, getActiveQueueEntryByProduct, productID))
}

const listQueueEntries = `-- name: ListQueueEntries :many
SELECT ` + queueEntryColumns + ` FROM queue_entries
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::smallint IS NULL OR priority = $2)
  AND ($3::text IS NULL OR assigned_to_id = $3)
  AND ($4::text IS NULL OR category = $4)
ORDER BY priority DESC, queued_at ASC, id
LIMIT $5 OFFSET $6`

type ListQueueEntriesParams struct {
	Status       sql.NullString `json:"status"`
	Priority     sql.NullInt16  `json:"priority"`
	AssignedToID sql.NullString `json:"assigned_to_id"`
	Category     sql.NullString `json:"category"`
	Limit        int32          `json:"limit"`
	Offset       int32          `json:"offset"`
}

func (q *Queries) ListQueueEntries(ctx context.Context, arg ListQueueEntriesParams) ([]QueueEntry, error) {
	return scanQueueEntries(q.db.QueryContext(ctx, listQueueEntries,
		arg.Status,
		arg.Priority,
		arg.AssignedToID,
		arg.Category,
		arg.Limit,
		arg.Offset,
	))
}

const countQueueEntries = `-- name: CountQueueEntries :one
SELECT COUNT(*) FROM queue_entries
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::smallint IS NULL OR priority = $2)
  AND ($3::text IS NULL OR assigned_to_id = $3)
  AND ($4::text IS NULL OR category = $4)`

type CountQueueEntriesParams struct {
	Status       sql.NullString `json:"status"`
	Priority     sql.NullInt16  `json:"priority"`
	AssignedToID sql.NullString `json:"assigned_to_id"`
	Category     sql.NullString `json:"category"`
}

func (q *Queries) CountQueueEntries(ctx context.Context, arg CountQueueEntriesParams) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countQueueEntries,
		arg.Status,
		arg.Priority,
		arg.AssignedToID,
		arg.Category,
	).Scan(&count)
	return count, err
}

const claimNextQueueEntry = `-- name: ClaimNextQueueEntry :one
SELECT ` + queueEntryColumns + ` FROM queue_entries
WHERE status = 'pending'
  AND (next_retry_at IS NULL OR next_retry_at <= $1)
  AND (NOT $2::boolean OR auto_process)
ORDER BY priority DESC, queued_at ASC, id
LIMIT 1
FOR UPDATE SKIP LOCKED`

type ClaimNextQueueEntryParams struct {
	Now           time.Time `json:"now"`
	AutomatedOnly bool      `json:"automated_only"`
}

// ClaimNextQueueEntry locks the head of the queue. Rows locked by another
// claimer are skipped, so concurrent claimers never receive the same entry.
func (q *Queries) ClaimNextQueueEntry(ctx context.Context, arg ClaimNextQueueEntryParams) (QueueEntry, error) {
	return scanQueueEntry(q.db.QueryRowContext(ctx, claimNextQueueEntry, arg.Now, arg.AutomatedOnly))
}

const updateQueueEntry = `-- name: UpdateQueueEntry :execrows
UPDATE queue_entries
SET status = $3,
    assigned_to_id = $4,
    assigned_at = $5,
    started_at = $6,
    completed_at = $7,
    attempts = $8,
    last_attempt_at = $9,
    next_retry_at = $10,
    error = $11,
    version = version + 1
WHERE id = $1 AND version = $2`

type UpdateQueueEntryParams struct {
	ID            uuid.UUID      `json:"id"`
	Version       int32          `json:"version"`
	Status        string         `json:"status"`
	AssignedToID  sql.NullString `json:"assigned_to_id"`
	AssignedAt    sql.NullTime   `json:"assigned_at"`
	StartedAt     sql.NullTime   `json:"started_at"`
	CompletedAt   sql.NullTime   `json:"completed_at"`
	Attempts      int32          `json:"attempts"`
	LastAttemptAt sql.NullTime   `json:"last_attempt_at"`
	NextRetryAt   sql.NullTime   `json:"next_retry_at"`
	Error         sql.NullString `json:"error"`
}

// UpdateQueueEntry writes the entry if its version is unchanged since it
// was read. Zero rows affected means a concurrent writer won.
func (q *Queries) UpdateQueueEntry(ctx context.Context, arg UpdateQueueEntryParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateQueueEntry,
		arg.ID,
		arg.Version,
		arg.Status,
		arg.AssignedToID,
		arg.AssignedAt,
		arg.StartedAt,
		arg.CompletedAt,
		arg.Attempts,
		arg.LastAttemptAt,
		arg.NextRetryAt,
		arg.Error,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const promoteDueRetries = `-- name: PromoteDueRetries :execrows
UPDATE queue_entries
SET next_retry_at = NULL
WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= $1`

// PromoteDueRetries clears elapsed backoffs. The version is left alone so a
// concurrent assignment of the same entry still commits.
func (q *Queries) PromoteDueRetries(ctx context.Context, now time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, promoteDueRetries, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listExpirableQueueEntries = `-- name: ListExpirableQueueEntries :many
SELECT ` + queueEntryColumns + ` FROM queue_entries
WHERE status IN ('pending', 'assigned') AND due_date < $1
ORDER BY due_date
LIMIT $2
FOR UPDATE SKIP LOCKED`

type ListExpirableQueueEntriesParams struct {
	Now   time.Time `json:"now"`
	Limit int32     `json:"limit"`
}

func (q *Queries) ListExpirableQueueEntries(ctx context.Context, arg ListExpirableQueueEntriesParams) ([]QueueEntry, error) {
	return scanQueueEntries(q.db.QueryContext(ctx, listExpirableQueueEntries, arg.Now, arg.Limit))
}

const listStaleQueueEntries = `-- name: ListStaleQueueEntries :many
SELECT ` + queueEntryColumns + ` FROM queue_entries
WHERE status = 'in_progress' AND assigned_to_id = $1 AND started_at < $2
ORDER BY started_at
LIMIT $3
FOR UPDATE SKIP LOCKED`

type ListStaleQueueEntriesParams struct {
	AssignedToID  string    `json:"assigned_to_id"`
	StartedBefore time.Time `json:"started_before"`
	Limit         int32     `json:"limit"`
}

func (q *Queries) ListStaleQueueEntries(ctx context.Context, arg ListStaleQueueEntriesParams) ([]QueueEntry, error) {
	return scanQueueEntries(q.db.QueryContext(ctx, listStaleQueueEntries, arg.AssignedToID, arg.StartedBefore, arg.Limit))
}

const countQueueEntriesByStatus = `-- name: CountQueueEntriesByStatus :many
SELECT status, COUNT(*) AS count FROM queue_entries GROUP BY status`

type CountQueueEntriesByStatusRow struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

func (q *Queries) CountQueueEntriesByStatus(ctx context.Context) ([]CountQueueEntriesByStatusRow, error) {
	rows, err := q.db.QueryContext(ctx, countQueueEntriesByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CountQueueEntriesByStatusRow
	for rows.Next() {
		var i CountQueueEntriesByStatusRow
		if err := rows.Scan(&i.Status, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countOverdueQueueEntries = `-- name: CountOverdueQueueEntries :one
SELECT COUNT(*) FROM queue_entries
WHERE due_date < $1 AND status IN ('pending', 'assigned', 'in_progress')`

func (q *Queries) CountOverdueQueueEntries(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countOverdueQueueEntries, now).Scan(&count)
	return count, err
}

const averageProcessingSeconds = `-- name: AverageProcessingSeconds :one
SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at))), 0)::float8
FROM queue_entries
WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL`

func (q *Queries) AverageProcessingSeconds(ctx context.Context) (float64, error) {
	var avg float64
	err := q.db.QueryRowContext(ctx, averageProcessingSeconds).Scan(&avg)
	return avg, err
}

const insertQueueHistory = `-- name: InsertQueueHistory :exec
INSERT INTO queue_history (queue_entry_id, action, previous_status, new_status, actor_id, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

type InsertQueueHistoryParams struct {
	QueueEntryID   uuid.UUID      `json:"queue_entry_id"`
	Action         string         `json:"action"`
	PreviousStatus sql.NullString `json:"previous_status"`
	NewStatus      string         `json:"new_status"`
	ActorID        sql.NullString `json:"actor_id"`
	Reason         sql.NullString `json:"reason"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (q *Queries) InsertQueueHistory(ctx context.Context, arg InsertQueueHistoryParams) error {
	_, err := q.db.ExecContext(ctx, insertQueueHistory,
		arg.QueueEntryID,
		arg.Action,
		arg.PreviousStatus,
		arg.NewStatus,
		arg.ActorID,
		arg.Reason,
		arg.CreatedAt,
	)
	return err
}

const listQueueHistory = `-- name: ListQueueHistory :many
SELECT id, queue_entry_id, action, previous_status, new_status, actor_id, reason, created_at
FROM queue_history
WHERE queue_entry_id = $1
ORDER BY id`

func (q *Queries) ListQueueHistory(ctx context.Context, queueEntryID uuid.UUID) ([]QueueHistory, error) {
	rows, err := q.db.QueryContext(ctx, listQueueHistory, queueEntryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QueueHistory
	for rows.Next() {
		var i QueueHistory
		if err := rows.Scan(
			&i.ID,
			&i.QueueEntryID,
			&i.Action,
			&i.PreviousStatus,
			&i.NewStatus,
			&i.ActorID,
			&i.Reason,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
