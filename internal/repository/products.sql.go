package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const productColumns = `id, sku, ean, name, category, claims, ingredients, status, qr_code, created_at, updated_at`

func scanProduct(row interface{ Scan(...interface{}) error }) (Product, error) {
	var i Product
	err := row.Scan(
		&i.ID,
		&i.Sku,
		&i.Ean,
		&i.Name,
		&i.Category,
		pq.Array(&i.Claims),
		pq.Array(&i.Ingredients),
		&i.Status,
		&i.QrCode,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createProduct = `-- name: CreateProduct :one
INSERT INTO products (id, sku, ean, name, category, claims, ingredients, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'draft')
RETURNING ` + productColumns

type CreateProductParams struct {
	ID          uuid.UUID      `json:"id"`
	Sku         string         `json:"sku"`
	Ean         sql.NullString `json:"ean"`
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Claims      []string       `json:"claims"`
	Ingredients []string       `json:"ingredients"`
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	row := q.db.QueryRowContext(ctx, createProduct,
		arg.ID,
		arg.Sku,
		arg.Ean,
		arg.Name,
		arg.Category,
		pq.Array(arg.Claims),
		pq.Array(arg.Ingredients),
	)
	return scanProduct(row)
}

const getProduct = `-- name: GetProduct :one
SELECT ` + productColumns + ` FROM products WHERE id = $1`

func (q *Queries) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return scanProduct(q.db.QueryRowContext(ctx, getProduct, id))
}

const getProductForUpdate = `-- name: GetProductForUpdate :one
SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

// GetProductForUpdate locks the product row until the transaction ends.
// Every lifecycle transition goes through this lock.
func (q *Queries) GetProductForUpdate(ctx context.Context, id uuid.UUID) (Product, error) {
	return scanProduct(q.db.QueryRowContext(ctx, getProductForUpdate, id))
}

const getProductByQRCode = `-- name: GetProductByQRCode :one
SELECT ` + productColumns + ` FROM products WHERE qr_code = $1`

func (q *Queries) GetProductByQRCode(ctx context.Context, qrCode string) (Product, error) {
	return scanProduct(q.db.QueryRowContext(ctx, getProductByQRCode, qrCode))
}

const listProducts = `-- name: ListProducts :many
SELECT ` + productColumns + ` FROM products
WHERE ($1::text IS NULL OR status = $1)
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`

type ListProductsParams struct {
	Status sql.NullString `json:"status"`
	Limit  int32          `json:"limit"`
	Offset int32          `json:"offset"`
}

func (q *Queries) ListProducts(ctx context.Context, arg ListProductsParams) ([]Product, error) {
	rows, err := q.db.QueryContext(ctx, listProducts, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Product
	for rows.Next() {
		i, err := scanProduct(rows)
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

const countProducts = `-- name: CountProducts :one
SELECT COUNT(*) FROM products WHERE ($1::text IS NULL OR status = $1)`

func (q *Queries) CountProducts(ctx context.Context, status sql.NullString) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countProducts, status).Scan(&count)
	return count, err
}

const updateProduct = `-- name: UpdateProduct :one
UPDATE products
SET name = $2, category = $3, claims = $4, ingredients = $5
WHERE id = $1
RETURNING ` + productColumns

type UpdateProductParams struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Claims      []string  `json:"claims"`
	Ingredients []string  `json:"ingredients"`
}

func (q *Queries) UpdateProduct(ctx context.Context, arg UpdateProductParams) (Product, error) {
	row := q.db.QueryRowContext(ctx, updateProduct,
		arg.ID,
		arg.Name,
		arg.Category,
		pq.Array(arg.Claims),
		pq.Array(arg.Ingredients),
	)
	return scanProduct(row)
}

const updateProductStatus = `-- name: UpdateProductStatus :exec
UPDATE products SET status = $2 WHERE id = $1`

type UpdateProductStatusParams struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

func (q *Queries) UpdateProductStatus(ctx context.Context, arg UpdateProductStatusParams) error {
	_, err := q.db.ExecContext(ctx, updateProductStatus, arg.ID, arg.Status)
	return err
}

const setProductQRCode = `-- name: SetProductQRCode :execrows
UPDATE products SET qr_code = $2 WHERE id = $1 AND qr_code IS NULL`

type SetProductQRCodeParams struct {
	ID     uuid.UUID `json:"id"`
	QrCode string    `json:"qr_code"`
}

// SetProductQRCode writes the code only if none is set yet. Zero rows
// affected means another transaction materialized it first.
func (q *Queries) SetProductQRCode(ctx context.Context, arg SetProductQRCodeParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, setProductQRCode, arg.ID, arg.QrCode)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteProduct = `-- name: DeleteProduct :exec
DELETE FROM products WHERE id = $1`

func (q *Queries) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, deleteProduct, id)
	return err
}
