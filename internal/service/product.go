package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/metrics"
	"github.com/decomontenegro/truelabel/internal/repository"
	"github.com/decomontenegro/truelabel/internal/storage"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ProductService defines the product catalogue and lifecycle operations that
// happen outside the validation queue.
type ProductService interface {
	// Create registers a product in DRAFT.
	Create(ctx context.Context, params domain.CreateProductParams) (*domain.Product, error)

	// Get retrieves a product by ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.Product, error)

	// List returns a page of products, optionally filtered by status.
	List(ctx context.Context, params domain.ListProductsParams) (*domain.ListProductsResult, error)

	// Update edits descriptive fields. Claims are locked once the product
	// left DRAFT, PENDING or REJECTED.
	Update(ctx context.Context, params domain.UpdateProductParams) (*domain.Product, error)

	// Submit moves a DRAFT product to PENDING.
	Submit(ctx context.Context, id uuid.UUID) (*domain.Product, error)

	// Suspend pulls a validated product.
	Suspend(ctx context.Context, id uuid.UUID, reason string) (*domain.Product, error)

	// Reactivate restores a suspended product to VALIDATED.
	Reactivate(ctx context.Context, id uuid.UUID) (*domain.Product, error)

	// Delete removes a product that has never been through a validation.
	Delete(ctx context.Context, id uuid.UUID) error

	// AttachLabReport records laboratory evidence for later validations.
	AttachLabReport(ctx context.Context, params domain.AttachLabReportParams) (*domain.LabReport, error)
}

// =============================================================================
// Implementation
// =============================================================================

type productService struct {
	store   repository.Store
	archive storage.Storage // optional
	logger  *slog.Logger
	now     Clock
}

// NewProductService creates a new ProductService. archive may be nil, in
// which case lab reports are only kept in the database.
func NewProductService(store repository.Store, archive storage.Storage, logger *slog.Logger, now Clock) ProductService {
	return &productService{
		store:   store,
		archive: archive,
		logger:  logger,
		now:     clockOrDefault(now),
	}
}

// Create registers a product in DRAFT.
func (s *productService) Create(ctx context.Context, params domain.CreateProductParams) (*domain.Product, error) {
	const op = "ProductService.Create"

	sku := strings.TrimSpace(params.SKU)
	name := strings.TrimSpace(params.Name)
	category := strings.TrimSpace(params.Category)

	var verr *domain.ValidationError
	if sku == "" {
		verr = addField(verr, op, "sku", "SKU is required")
	}
	if name == "" {
		verr = addField(verr, op, "name", "name is required")
	}
	if category == "" {
		verr = addField(verr, op, "category", "category is required")
	}
	if verr != nil {
		return nil, verr
	}

	row, err := s.store.CreateProduct(ctx, repository.CreateProductParams{
		ID:          uuid.New(),
		Sku:         sku,
		Ean:         domain.ToNullString(strings.TrimSpace(params.EAN)),
		Name:        name,
		Category:    category,
		Claims:      domain.NonEmpty(params.Claims),
		Ingredients: domain.NonEmpty(params.Ingredients),
	})
	if err != nil {
		if constraint, ok := repository.UniqueViolation(err); ok {
			return nil, uniqueProductError(op, constraint)
		}
		s.logger.Error("failed to create product", "error", err, "op", op)
		return nil, storeError(op, err)
	}

	metrics.ProductsCreated.Inc()
	product := productFromRow(row)
	s.logger.Info("product created", "product_id", product.ID, "sku", product.SKU)
	return product, nil
}

// Get retrieves a product by ID.
func (s *productService) Get(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	const op = "ProductService.Get"

	row, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, notFoundOr(op, err, "product", id)
	}
	return productFromRow(row), nil
}

// List returns a page of products.
func (s *productService) List(ctx context.Context, params domain.ListProductsParams) (*domain.ListProductsResult, error) {
	const op = "ProductService.List"

	if params.Status != "" && !params.Status.IsValid() {
		return nil, domain.NewValidationError(op, "status", fmt.Sprintf("unknown status %q", params.Status))
	}
	limit := clampLimit(params.Limit)
	offset := max(params.Offset, 0)
	status := domain.ToNullString(string(params.Status))

	rows, err := s.store.ListProducts(ctx, repository.ListProductsParams{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, storeError(op, err)
	}
	total, err := s.store.CountProducts(ctx, status)
	if err != nil {
		return nil, storeError(op, err)
	}

	products := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, *productFromRow(r))
	}
	return &domain.ListProductsResult{
		Products: products,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}, nil
}

// Update edits descriptive fields under the product row lock.
func (s *productService) Update(ctx context.Context, params domain.UpdateProductParams) (*domain.Product, error) {
	const op = "ProductService.Update"

	var updated *domain.Product
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		row, err := q.GetProductForUpdate(ctx, params.ID)
		if err != nil {
			return notFoundOr(op, err, "product", params.ID)
		}
		p := productFromRow(row)

		if params.Name != nil {
			if p.Name = strings.TrimSpace(*params.Name); p.Name == "" {
				return domain.NewValidationError(op, "name", "name cannot be empty")
			}
		}
		if params.Category != nil {
			if p.Category = strings.TrimSpace(*params.Category); p.Category == "" {
				return domain.NewValidationError(op, "category", "category cannot be empty")
			}
		}
		if params.Claims != nil {
			claims := domain.NonEmpty(params.Claims)
			if !slices.Equal(claims, p.Claims) && !p.Status.ClaimsMutable() {
				return domain.Conflict(op, fmt.Sprintf("claims cannot change while the product is %s", p.Status))
			}
			p.Claims = claims
		}
		if params.Ingredients != nil {
			p.Ingredients = domain.NonEmpty(params.Ingredients)
		}

		out, err := q.UpdateProduct(ctx, repository.UpdateProductParams{
			ID:          p.ID,
			Name:        p.Name,
			Category:    p.Category,
			Claims:      p.Claims,
			Ingredients: p.Ingredients,
		})
		if err != nil {
			return err
		}
		updated = productFromRow(out)
		return nil
	})
	if err != nil {
		return nil, storeError(op, err)
	}

	s.logger.Info("product updated", "product_id", updated.ID)
	return updated, nil
}

// Submit moves a DRAFT product to PENDING.
func (s *productService) Submit(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.transition(ctx, "ProductService.Submit", id, domain.ProductStatusPending, domain.TransitionInput{})
}

// Suspend pulls a validated product.
func (s *productService) Suspend(ctx context.Context, id uuid.UUID, reason string) (*domain.Product, error) {
	return s.transition(ctx, "ProductService.Suspend", id, domain.ProductStatusSuspended, domain.TransitionInput{Reason: reason})
}

// Reactivate restores a suspended product.
func (s *productService) Reactivate(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.transition(ctx, "ProductService.Reactivate", id, domain.ProductStatusValidated, domain.TransitionInput{})
}

// transition applies one owner-driven lifecycle edge under the row lock.
// The queue drives every other edge.
func (s *productService) transition(ctx context.Context, op string, id uuid.UUID, target domain.ProductStatus, in domain.TransitionInput) (*domain.Product, error) {
	var product *domain.Product
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		row, err := q.GetProductForUpdate(ctx, id)
		if err != nil {
			return notFoundOr(op, err, "product", id)
		}
		p := productFromRow(row)
		from := p.Status
		if err := p.TransitionTo(target, in, s.now()); err != nil {
			return err
		}
		if err := q.UpdateProductStatus(ctx, repository.UpdateProductStatusParams{ID: p.ID, Status: string(p.Status)}); err != nil {
			return err
		}
		s.logger.Info("product status changed",
			"product_id", p.ID,
			"from", from,
			"to", p.Status,
			"reason", strings.TrimSpace(in.Reason),
		)
		product = p
		return nil
	})
	if err != nil {
		return nil, storeError(op, err)
	}
	return product, nil
}

// Delete removes a product with no validation history. Its archived lab
// reports are removed after the row is gone.
func (s *productService) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "ProductService.Delete"

	var reportIDs []uuid.UUID
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		row, err := q.GetProductForUpdate(ctx, id)
		if err != nil {
			return notFoundOr(op, err, "product", id)
		}
		if row.Status == string(domain.ProductStatusInValidation) {
			return domain.Conflict(op, "product has a validation in progress")
		}
		terminal, err := q.CountTerminalValidations(ctx, id)
		if err != nil {
			return err
		}
		if terminal > 0 {
			return domain.Conflict(op, "product has completed validations and cannot be deleted")
		}
		reportIDs, err = q.ListLabReportIDs(ctx, id)
		if err != nil {
			return err
		}
		if err := q.DeleteProduct(ctx, id); err != nil {
			if repository.IsForeignKeyViolation(err) {
				return domain.Conflict(op, "product is still referenced")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return storeError(op, err)
	}

	if s.archive != nil {
		for _, rid := range reportIDs {
			key := storage.LabReportKey(id, rid)
			if err := s.archive.Delete(ctx, key); err != nil {
				s.logger.Warn("failed to remove archived lab report", "key", key, "error", err)
			}
		}
	}

	s.logger.Info("product deleted", "product_id", id, "reports", len(reportIDs))
	return nil
}

// AttachLabReport stores the analysis and archives the submitted document.
func (s *productService) AttachLabReport(ctx context.Context, params domain.AttachLabReportParams) (*domain.LabReport, error) {
	const op = "ProductService.AttachLabReport"

	lab := strings.TrimSpace(params.Laboratory)
	if lab == "" {
		return nil, domain.NewValidationError(op, "laboratory", "laboratory is required")
	}
	if params.Analysis.IsEmpty() {
		return nil, domain.NewValidationError(op, "analysis", "analysis must contain at least one measurement")
	}
	analysis, err := json.Marshal(params.Analysis)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode analysis")
	}

	row, err := s.store.CreateLabReport(ctx, repository.CreateLabReportParams{
		ID:         uuid.New(),
		ProductID:  params.ProductID,
		Laboratory: lab,
		Analysis:   analysis,
	})
	if err != nil {
		if repository.IsForeignKeyViolation(err) {
			return nil, domain.NotFound(op, "product", params.ProductID.String())
		}
		return nil, storeError(op, err)
	}
	report, err := labReportFromRow(row)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to decode lab report")
	}

	if s.archive != nil {
		key := storage.LabReportKey(report.ProductID, report.ID)
		if err := s.archive.Put(ctx, key, bytes.NewReader(analysis), storage.PutOptions{}); err != nil {
			// The database row is authoritative.
			s.logger.Warn("failed to archive lab report", "key", key, "error", err)
		}
	}

	s.logger.Info("lab report attached",
		"product_id", report.ProductID,
		"report_id", report.ID,
		"laboratory", report.Laboratory,
	)
	return report, nil
}

// =============================================================================
// Helpers
// =============================================================================

func uniqueProductError(op, constraint string) error {
	switch constraint {
	case repository.ConstraintProductSKU:
		return domain.Conflict(op, "a product with this SKU already exists")
	case repository.ConstraintProductEAN:
		return domain.Conflict(op, "a product with this EAN already exists")
	}
	return domain.Conflict(op, "product already exists")
}

func addField(verr *domain.ValidationError, op, field, msg string) *domain.ValidationError {
	if verr == nil {
		return domain.NewValidationError(op, field, msg)
	}
	verr.Fields[field] = msg
	return verr
}
