package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Querier interface {
	// Products
	CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	GetProductForUpdate(ctx context.Context, id uuid.UUID) (Product, error)
	GetProductByQRCode(ctx context.Context, qrCode string) (Product, error)
	ListProducts(ctx context.Context, arg ListProductsParams) ([]Product, error)
	CountProducts(ctx context.Context, status sql.NullString) (int64, error)
	UpdateProduct(ctx context.Context, arg UpdateProductParams) (Product, error)
	UpdateProductStatus(ctx context.Context, arg UpdateProductStatusParams) error
	SetProductQRCode(ctx context.Context, arg SetProductQRCodeParams) (int64, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error

	// Lab reports
	CreateLabReport(ctx context.Context, arg CreateLabReportParams) (LabReport, error)
	GetLabReport(ctx context.Context, id uuid.UUID) (LabReport, error)
	GetLatestLabReport(ctx context.Context, productID uuid.UUID) (LabReport, error)
	ListLabReportIDs(ctx context.Context, productID uuid.UUID) ([]uuid.UUID, error)

	// Validations
	CreateValidation(ctx context.Context, arg CreateValidationParams) (Validation, error)
	GetValidation(ctx context.Context, id uuid.UUID) (Validation, error)
	GetPendingValidationByProduct(ctx context.Context, productID uuid.UUID) (Validation, error)
	GetLatestTerminalValidation(ctx context.Context, productID uuid.UUID) (Validation, error)
	CountTerminalValidations(ctx context.Context, productID uuid.UUID) (int64, error)
	ResolveValidation(ctx context.Context, arg ResolveValidationParams) (int64, error)

	// Queue
	CreateQueueEntry(ctx context.Context, arg CreateQueueEntryParams) (QueueEntry, error)
	GetQueueEntry(ctx context.Context, id uuid.UUID) (QueueEntry, error)
	GetActiveQueueEntryByProduct(ctx context.Context, productID uuid.UUID) (QueueEntry, error)
	ListQueueEntries(ctx context.Context, arg ListQueueEntriesParams) ([]QueueEntry, error)
	CountQueueEntries(ctx context.Context, arg CountQueueEntriesParams) (int64, error)
	ClaimNextQueueEntry(ctx context.Context, arg ClaimNextQueueEntryParams) (QueueEntry, error)
	UpdateQueueEntry(ctx context.Context, arg UpdateQueueEntryParams) (int64, error)
	PromoteDueRetries(ctx context.Context, now time.Time) (int64, error)
	ListExpirableQueueEntries(ctx context.Context, arg ListExpirableQueueEntriesParams) ([]QueueEntry, error)
	ListStaleQueueEntries(ctx context.Context, arg ListStaleQueueEntriesParams) ([]QueueEntry, error)
	CountQueueEntriesByStatus(ctx context.Context) ([]CountQueueEntriesByStatusRow, error)
	CountOverdueQueueEntries(ctx context.Context, now time.Time) (int64, error)
	AverageProcessingSeconds(ctx context.Context) (float64, error)
	InsertQueueHistory(ctx context.Context, arg InsertQueueHistoryParams) error
	ListQueueHistory(ctx context.Context, queueEntryID uuid.UUID) ([]QueueHistory, error)

	// QR accesses
	InsertQRAccess(ctx context.Context, arg InsertQRAccessParams) error
	CountQRAccesses(ctx context.Context, qrCode string) (int64, error)
	ListRecentQRAccesses(ctx context.Context, arg ListRecentQRAccessesParams) ([]QrAccess, error)
}

var _ Querier = (*Queries)(nil)
