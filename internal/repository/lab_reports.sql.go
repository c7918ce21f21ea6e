package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

const createLabReport = `-- name: CreateLabReport :one
INSERT INTO lab_reports (id, product_id, laboratory, analysis)
VALUES ($1, $2, $3, $4)
RETURNING id, product_id, laboratory, analysis, received_at`

type CreateLabReportParams struct {
	ID         uuid.UUID       `json:"id"`
	ProductID  uuid.UUID       `json:"product_id"`
	Laboratory string          `json:"laboratory"`
	Analysis   json.RawMessage `json:"analysis"`
}

func (q *Queries) CreateLabReport(ctx context.Context, arg CreateLabReportParams) (LabReport, error) {
	row := q.db.QueryRowContext(ctx, createLabReport, arg.ID, arg.ProductID, arg.Laboratory, arg.Analysis)
	var i LabReport
	err := row.Scan(&i.ID, &i.ProductID, &i.Laboratory, &i.Analysis, &i.ReceivedAt)
	return i, err
}

const getLabReport = `-- name: GetLabReport :one
SELECT id, product_id, laboratory, analysis, received_at FROM lab_reports WHERE id = $1`

func (q *Queries) GetLabReport(ctx context.Context, id uuid.UUID) (LabReport, error) {
	row := q.db.QueryRowContext(ctx, getLabReport, id)
	var i LabReport
	err := row.Scan(&i.ID, &i.ProductID, &i.Laboratory, &i.Analysis, &i.ReceivedAt)
	return i, err
}

const getLatestLabReport = `-- name: GetLatestLabReport :one
SELECT id, product_id, laboratory, analysis, received_at FROM lab_reports
WHERE product_id = $1
ORDER BY received_at DESC, id DESC
LIMIT 1`

func (q *Queries) GetLatestLabReport(ctx context.Context, productID uuid.UUID) (LabReport, error) {
	row := q.db.QueryRowContext(ctx, getLatestLabReport, productID)
	var i LabReport
	err := row.Scan(&i.ID, &i.ProductID, &i.Laboratory, &i.Analysis, &i.ReceivedAt)
	return i, err
}

const listLabReportIDs = `-- name: ListLabReportIDs :many
SELECT id FROM lab_reports WHERE product_id = $1 ORDER BY received_at, id`

func (q *Queries) ListLabReportIDs(ctx context.Context, productID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, listLabReportIDs, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
