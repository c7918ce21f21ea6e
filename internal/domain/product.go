// Package domain contains core business types and interfaces.
//
// This file defines the Product domain type and its lifecycle: the set of
// legal status edges and the guards each edge requires.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Product Status
// =============================================================================

// ProductStatus represents the lifecycle state of a product.
type ProductStatus string

const (
	// ProductStatusDraft is the initial state. Claims and ingredients are
	// still being recorded by the owner.
	ProductStatusDraft ProductStatus = "draft"

	// ProductStatusPending means the owner submitted the product and it is
	// waiting for a validation request.
	ProductStatusPending ProductStatus = "pending"

	// ProductStatusInValidation means exactly one validation is in flight.
	ProductStatusInValidation ProductStatus = "in_validation"

	// ProductStatusValidated means every claim was confirmed.
	ProductStatusValidated ProductStatus = "validated"

	// ProductStatusValidatedWithRemarks means the claims hold with caveats.
	ProductStatusValidatedWithRemarks ProductStatus = "validated_with_remarks"

	// ProductStatusRejected means the last validation refused the claims.
	// Claims are editable again and a new validation may be requested.
	ProductStatusRejected ProductStatus = "rejected"

	// ProductStatusSuspended means a previously validated product was pulled.
	ProductStatusSuspended ProductStatus = "suspended"
)

// productTransitions is the complete lifecycle graph. Any edge missing here
// is rejected with InvalidTransition.
var productTransitions = map[ProductStatus][]ProductStatus{
	ProductStatusDraft:                {ProductStatusPending},
	ProductStatusPending:              {ProductStatusInValidation},
	ProductStatusInValidation:         {ProductStatusValidated, ProductStatusValidatedWithRemarks, ProductStatusRejected},
	ProductStatusValidated:            {ProductStatusSuspended},
	ProductStatusValidatedWithRemarks: {ProductStatusSuspended},
	ProductStatusRejected:             {ProductStatusInValidation},
	ProductStatusSuspended:            {ProductStatusValidated},
}

// AllProductStatuses lists every status in lifecycle order.
func AllProductStatuses() []ProductStatus {
	return []ProductStatus{
		ProductStatusDraft,
		ProductStatusPending,
		ProductStatusInValidation,
		ProductStatusValidated,
		ProductStatusValidatedWithRemarks,
		ProductStatusRejected,
		ProductStatusSuspended,
	}
}

// String returns the string representation of the status.
func (s ProductStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s ProductStatus) IsValid() bool {
	_, ok := productTransitions[s]
	return ok
}

// CanTransitionTo reports whether target is a legal next state.
func (s ProductStatus) CanTransitionTo(target ProductStatus) bool {
	for _, next := range productTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// ClaimsMutable reports whether the owner may still edit claims.
func (s ProductStatus) ClaimsMutable() bool {
	switch s {
	case ProductStatusDraft, ProductStatusPending, ProductStatusRejected:
		return true
	}
	return false
}

// IsValidated reports whether the status is one of the validated states.
func (s ProductStatus) IsValidated() bool {
	return s == ProductStatusValidated || s == ProductStatusValidatedWithRemarks
}

// =============================================================================
// Product Domain Type
// =============================================================================

// Product is a consumer product whose marketed claims are validated against
// laboratory evidence.
type Product struct {
	ID          uuid.UUID
	SKU         string
	EAN         string // Optional barcode, unique when present
	Name        string
	Category    string
	Claims      []string // Ordered marketed assertions
	Ingredients []string
	Status      ProductStatus
	QRCode      string // Empty until the first successful validation
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasQRCode returns true once the public code has been materialized.
func (p *Product) HasQRCode() bool {
	return p.QRCode != ""
}

// TransitionInput carries the evidence some lifecycle guards need.
type TransitionInput struct {
	Reason   string
	Remarks  []string
	Claims   map[string]ClaimResult
	Findings []Finding
}

// TransitionTo moves the product to target if the edge exists and its guard
// holds. On error the product is left unchanged.
func (p *Product) TransitionTo(target ProductStatus, in TransitionInput, now time.Time) error {
	const op = "product.transition"

	if !p.Status.CanTransitionTo(target) {
		return InvalidTransition(op, p.Status, target)
	}

	switch target {
	case ProductStatusPending:
		if len(p.Claims) == 0 {
			return NewValidationError(op, "claims", "at least one claim is required")
		}
		if len(p.Ingredients) == 0 {
			return NewValidationError(op, "ingredients", "at least one ingredient is required")
		}
	case ProductStatusInValidation:
		if len(p.Claims) == 0 {
			return NewValidationError(op, "claims", "at least one claim is required")
		}
	case ProductStatusValidated:
		// Reactivation carries no new evidence.
		if p.Status == ProductStatusSuspended {
			break
		}
		for _, claim := range p.Claims {
			res, ok := in.Claims[claim]
			if !ok || res.Outcome != OutcomePass {
				return NewValidationError(op, "claims", "every claim must be resolved with outcome pass")
			}
		}
		if hasFailedFinding(in.Findings) {
			return NewValidationError(op, "findings", "a product with a failed finding cannot be validated")
		}
	case ProductStatusValidatedWithRemarks:
		if len(NonEmpty(in.Remarks)) == 0 {
			return NewValidationError(op, "remarks", "at least one remark is required")
		}
		for _, res := range in.Claims {
			if res.Outcome == OutcomeFail {
				return NewValidationError(op, "claims", "a failed claim cannot be validated with remarks")
			}
		}
		if hasFailedFinding(in.Findings) {
			return NewValidationError(op, "findings", "a failed finding cannot be validated with remarks")
		}
	case ProductStatusRejected, ProductStatusSuspended:
		if strings.TrimSpace(in.Reason) == "" {
			return NewValidationError(op, "reason", "reason is required")
		}
	}

	p.Status = target
	p.UpdatedAt = now
	return nil
}

func hasFailedFinding(findings []Finding) bool {
	for _, f := range findings {
		if f.Outcome == OutcomeFail {
			return true
		}
	}
	return false
}

// NonEmpty returns the trimmed, non-blank entries of list.
func NonEmpty(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// Product Service Parameters
// =============================================================================

// CreateProductParams contains validated parameters for creating a product.
type CreateProductParams struct {
	SKU         string
	EAN         string
	Name        string
	Category    string
	Claims      []string
	Ingredients []string
}

// UpdateProductParams contains parameters for updating a product.
// Nil fields are left unchanged.
type UpdateProductParams struct {
	ID          uuid.UUID
	Name        *string
	Category    *string
	Claims      []string
	Ingredients []string
}

// ListProductsParams contains parameters for listing products.
type ListProductsParams struct {
	Status ProductStatus // Optional filter
	Limit  int32
	Offset int32
}

// ListProductsResult contains a page of products.
type ListProductsResult struct {
	Products []Product
	Total    int64
	Limit    int32
	Offset   int32
}

// =============================================================================
// Lab Report
// =============================================================================

// LabReport is structured laboratory evidence attached to a product.
type LabReport struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	Laboratory string
	Analysis   AnalysisBundle
	ReceivedAt time.Time
}

// AttachLabReportParams contains parameters for recording lab evidence.
type AttachLabReportParams struct {
	ProductID  uuid.UUID
	Laboratory string
	Analysis   AnalysisBundle
}
