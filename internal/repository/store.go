package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/decomontenegro/truelabel/internal/metrics"
)

// Constraint names the services translate into domain errors.
const (
	ConstraintProductSKU         = "products_sku_key"
	ConstraintProductEAN         = "products_ean_key"
	ConstraintProductQRCode      = "products_qr_code_key"
	ConstraintOnePendingPerProd  = "validations_one_pending_per_product"
	ConstraintOneActivePerProd   = "queue_entries_one_active_per_product"
	pgUniqueViolation            = "23505"
	pgForeignKeyViolation        = "23503"
	pgSerializationFailure       = "40001"
	pgDeadlockDetected           = "40P01"
	pgAdminShutdown              = "57P01"
	pgConnectionExceptionClass   = "08"
	pgInsufficientResourcesClass = "53"
)

// ErrRetryTx asks ExecTx to run the whole transaction again, for conflicts
// that a fresh attempt resolves (a generated key that collided).
var ErrRetryTx = errors.New("retry transaction")

// Store runs queries directly or inside a transaction.
type Store interface {
	Querier

	// ExecTx runs fn in a transaction. The transaction is retried when it
	// fails with a transient error, so fn must not have effects outside the
	// database.
	ExecTx(ctx context.Context, fn func(q Querier) error) error
}

// RetryConfig bounds the retries of transient transaction failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the retry settings used in production.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    1 * time.Second,
	}
}

// SQLStore is the Postgres-backed Store.
type SQLStore struct {
	*Queries
	db     *sql.DB
	retry  RetryConfig
	logger *slog.Logger
}

// NewStore wraps db. Queries outside ExecTx run on the pool.
func NewStore(db *sql.DB, retry RetryConfig, logger *slog.Logger) *SQLStore {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &SQLStore{
		Queries: New(db),
		db:      db,
		retry:   retry,
		logger:  logger,
	}
}

// ExecTx implements Store.
func (s *SQLStore) ExecTx(ctx context.Context, fn func(q Querier) error) error {
	delay := s.retry.BaseDelay
	var err error

	for attempt := 1; ; attempt++ {
		err = s.execTxOnce(ctx, fn)
		if err == nil || !IsTransient(err) || attempt >= s.retry.MaxAttempts {
			return err
		}

		metrics.StoreRetries.Inc()
		s.logger.Warn("retrying transaction after transient error",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.retry.MaxDelay {
			delay = s.retry.MaxDelay
		}
	}
}

func (s *SQLStore) execTxOnce(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.Queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// Error Classification
// =============================================================================

// IsNotFound reports whether err means a single-row query matched nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// UniqueViolation returns the violated constraint when err is a unique
// violation.
func UniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// IsTransient reports whether err is worth retrying: serialization
// failures, deadlocks, dropped connections and resource exhaustion.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRetryTx) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgSerializationFailure,
			pgErr.Code == pgDeadlockDetected,
			pgErr.Code == pgAdminShutdown,
			len(pgErr.Code) == 5 && pgErr.Code[:2] == pgConnectionExceptionClass,
			len(pgErr.Code) == 5 && pgErr.Code[:2] == pgInsufficientResourcesClass:
			return true
		}
		return false
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}
