package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const validationColumns = `id, product_id, report_id, status, claims_validated, findings, verdict, remarks, reason, validator_id, validated_at, created_at, updated_at`

func scanValidation(row interface{ Scan(...interface{}) error }) (Validation, error) {
	var i Validation
	err := row.Scan(
		&i.ID,
		&i.ProductID,
		&i.ReportID,
		&i.Status,
		&i.ClaimsValidated,
		&i.Findings,
		&i.Verdict,
		pq.Array(&i.Remarks),
		&i.Reason,
		&i.ValidatorID,
		&i.ValidatedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createValidation = `-- name: CreateValidation :one
INSERT INTO validations (id, product_id, report_id, status)
VALUES ($1, $2, $3, 'pending')
RETURNING ` + validationColumns

type CreateValidationParams struct {
	ID        uuid.UUID     `json:"id"`
	ProductID uuid.UUID     `json:"product_id"`
	ReportID  uuid.NullUUID `json:"report_id"`
}

func (q *Queries) CreateValidation(ctx context.Context, arg CreateValidationParams) (Validation, error) {
	return scanValidation(q.db.QueryRowContext(ctx, createValidation, arg.ID, arg.ProductID, arg.ReportID))
}

const getValidation = `-- name: GetValidation :one
SELECT ` + validationColumns + ` FROM validations WHERE id = $1`

func (q *Queries) GetValidation(ctx context.Context, id uuid.UUID) (Validation, error) {
	return scanValidation(q.db.QueryRowContext(ctx, getValidation, id))
}

const getPendingValidationByProduct = `-- name: GetPendingValidationByProduct :one
SELECT ` + validationColumns + ` FROM validations
WHERE product_id = $1 AND status = 'pending'`

func (q *Queries) GetPendingValidationByProduct(ctx context.Context, productID uuid.UUID) (Validation, error) {
	return scanValidation(q.db.QueryRowContext(ctx, getPendingValidationByProduct, productID))
}

const getLatestTerminalValidation = `-- name: GetLatestTerminalValidation :one
SELECT ` + validationColumns + ` FROM validations
WHERE product_id = $1 AND status <> 'pending'
ORDER BY validated_at DESC NULLS LAST, created_at DESC
LIMIT 1`

func (q *Queries) GetLatestTerminalValidation(ctx context.Context, productID uuid.UUID) (Validation, error) {
	return scanValidation(q.db.QueryRowContext(ctx, getLatestTerminalValidation, productID))
}

const countTerminalValidations = `-- name: CountTerminalValidations :one
SELECT COUNT(*) FROM validations WHERE product_id = $1 AND status <> 'pending'`

func (q *Queries) CountTerminalValidations(ctx context.Context, productID uuid.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countTerminalValidations, productID).Scan(&count)
	return count, err
}

const resolveValidation = `-- name: ResolveValidation :execrows
UPDATE validations
SET status = $2,
    claims_validated = $3,
    findings = $4,
    verdict = $5,
    remarks = $6,
    reason = $7,
    validator_id = $8,
    validated_at = $9
WHERE id = $1 AND status = 'pending'`

type ResolveValidationParams struct {
	ID              uuid.UUID             `json:"id"`
	Status          string                `json:"status"`
	ClaimsValidated pqtype.NullRawMessage `json:"claims_validated"`
	Findings        pqtype.NullRawMessage `json:"findings"`
	Verdict         sql.NullString        `json:"verdict"`
	Remarks         []string              `json:"remarks"`
	Reason          string                `json:"reason"`
	ValidatorID     sql.NullString        `json:"validator_id"`
	ValidatedAt     sql.NullTime          `json:"validated_at"`
}

// ResolveValidation moves a pending validation to a terminal status.
// Terminal rows never match, so zero rows affected means the validation was
// already resolved.
func (q *Queries) ResolveValidation(ctx context.Context, arg ResolveValidationParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, resolveValidation,
		arg.ID,
		arg.Status,
		arg.ClaimsValidated,
		arg.Findings,
		arg.Verdict,
		pq.Array(arg.Remarks),
		arg.Reason,
		arg.ValidatorID,
		arg.ValidatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
