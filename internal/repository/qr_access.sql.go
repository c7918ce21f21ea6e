package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sqlc-dev/pqtype"
)

const insertQRAccess = `-- name: InsertQRAccess :exec
INSERT INTO qr_accesses (qr_code, accessed_at, ip_address, user_agent, location)
VALUES ($1, $2, $3, $4, $5)`

type InsertQRAccessParams struct {
	QrCode     string         `json:"qr_code"`
	AccessedAt time.Time      `json:"accessed_at"`
	IpAddress  pqtype.Inet    `json:"ip_address"`
	UserAgent  sql.NullString `json:"user_agent"`
	Location   sql.NullString `json:"location"`
}

func (q *Queries) InsertQRAccess(ctx context.Context, arg InsertQRAccessParams) error {
	_, err := q.db.ExecContext(ctx, insertQRAccess,
		arg.QrCode,
		arg.AccessedAt,
		arg.IpAddress,
		arg.UserAgent,
		arg.Location,
	)
	return err
}

const countQRAccesses = `-- name: CountQRAccesses :one
SELECT COUNT(*) FROM qr_accesses WHERE qr_code = $1`

func (q *Queries) CountQRAccesses(ctx context.Context, qrCode string) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countQRAccesses, qrCode).Scan(&count)
	return count, err
}

const listRecentQRAccesses = `-- name: ListRecentQRAccesses :many
SELECT id, qr_code, accessed_at, ip_address, user_agent, location
FROM qr_accesses
WHERE qr_code = $1
ORDER BY accessed_at DESC, id DESC
LIMIT $2`

type ListRecentQRAccessesParams struct {
	QrCode string `json:"qr_code"`
	Limit  int32  `json:"limit"`
}

func (q *Queries) ListRecentQRAccesses(ctx context.Context, arg ListRecentQRAccessesParams) ([]QrAccess, error) {
	rows, err := q.db.QueryContext(ctx, listRecentQRAccesses, arg.QrCode, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QrAccess
	for rows.Next() {
		var i QrAccess
		if err := rows.Scan(
			&i.ID,
			&i.QrCode,
			&i.AccessedAt,
			&i.IpAddress,
			&i.UserAgent,
			&i.Location,
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
