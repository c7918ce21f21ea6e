package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/metrics"
	"github.com/decomontenegro/truelabel/internal/qrcode"
	"github.com/decomontenegro/truelabel/internal/repository"
)

// AccessRecorder appends QR accesses. Implementations must not block.
type AccessRecorder interface {
	Record(access domain.QRAccess)
}

// QRService resolves public codes to product snapshots.
type QRService interface {
	// Resolve returns the public view behind code and records the access.
	// Malformed and unknown codes report the same NotFound.
	Resolve(ctx context.Context, code string, visitor domain.QRAccess) (*domain.QRSnapshot, error)

	// Accesses returns the access log summary of a code.
	Accesses(ctx context.Context, code string, limit int32) (*domain.QRAccessStats, error)
}

type qrService struct {
	store  repository.Store
	ledger *AccessLedger
	logger *slog.Logger
	now    Clock
}

// NewQRService creates a new QRService.
func NewQRService(store repository.Store, ledger *AccessLedger, logger *slog.Logger, now Clock) QRService {
	return &qrService{
		store:  store,
		ledger: ledger,
		logger: logger,
		now:    clockOrDefault(now),
	}
}

func (s *qrService) Resolve(ctx context.Context, code string, visitor domain.QRAccess) (*domain.QRSnapshot, error) {
	const op = "QRService.Resolve"

	normalized, ok := qrcode.Normalize(code)
	if !ok {
		metrics.QRResolves.WithLabelValues("not_found").Inc()
		return nil, domain.NotFound(op, "product", code)
	}

	row, err := s.store.GetProductByQRCode(ctx, normalized)
	if err != nil {
		if repository.IsNotFound(err) {
			metrics.QRResolves.WithLabelValues("not_found").Inc()
			return nil, domain.NotFound(op, "product", code)
		}
		metrics.QRResolves.WithLabelValues("error").Inc()
		return nil, storeError(op, err)
	}
	p := productFromRow(row)

	snapshot := &domain.QRSnapshot{
		Code:     normalized,
		Name:     p.Name,
		SKU:      p.SKU,
		EAN:      p.EAN,
		Category: p.Category,
		Claims:   p.Claims,
		Status:   p.Status,
	}

	vrow, err := s.store.GetLatestTerminalValidation(ctx, p.ID)
	switch {
	case err == nil:
		v, err := validationFromRow(vrow)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to decode validation")
		}
		snapshot.Validation = &domain.ValidationSummary{
			Status:          v.Status,
			ClaimsValidated: v.ClaimsValidated,
			Remarks:         v.Remarks,
			ValidatedAt:     v.ValidatedAt,
		}
	case !repository.IsNotFound(err):
		return nil, storeError(op, err)
	}

	visitor.QRCode = normalized
	visitor.AccessedAt = s.now()
	s.ledger.Record(visitor)

	metrics.QRResolves.WithLabelValues("resolved").Inc()
	return snapshot, nil
}

func (s *qrService) Accesses(ctx context.Context, code string, limit int32) (*domain.QRAccessStats, error) {
	const op = "QRService.Accesses"

	normalized, ok := qrcode.Normalize(code)
	if !ok {
		return nil, domain.NotFound(op, "product", code)
	}
	if _, err := s.store.GetProductByQRCode(ctx, normalized); err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound(op, "product", code)
		}
		return nil, storeError(op, err)
	}
	return s.ledger.Stats(ctx, normalized, limit)
}

// materializeQRCode gives p its public code unless it already has one. It
// must run inside the transaction that validates the product. A collision
// with another product's code fails the transaction with ErrRetryTx so the
// store retries it with a fresh nonce.
func materializeQRCode(ctx context.Context, q repository.Querier, p *domain.Product, now Clock) error {
	if p.HasQRCode() {
		return nil
	}

	code, err := qrcode.Generate(p.ID, p.SKU, now())
	if err != nil {
		return fmt.Errorf("generate qr code: %w", err)
	}

	n, err := q.SetProductQRCode(ctx, repository.SetProductQRCodeParams{ID: p.ID, QrCode: code})
	if err != nil {
		if constraint, ok := repository.UniqueViolation(err); ok && constraint == repository.ConstraintProductQRCode {
			return fmt.Errorf("qr code collision: %w", repository.ErrRetryTx)
		}
		return err
	}
	if n == 0 {
		// Set by an earlier transaction; keep it.
		row, err := q.GetProduct(ctx, p.ID)
		if err != nil {
			return err
		}
		p.QRCode = domain.NullStringValue(row.QrCode)
		return nil
	}
	p.QRCode = code
	return nil
}
