package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Validation Status
// =============================================================================

// ValidationStatus represents the state of one certification attempt.
type ValidationStatus string

const (
	ValidationStatusPending  ValidationStatus = "pending"
	ValidationStatusApproved ValidationStatus = "approved"
	ValidationStatusRejected ValidationStatus = "rejected"
	ValidationStatusPartial  ValidationStatus = "partial"
)

// String returns the string representation of the status.
func (s ValidationStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s ValidationStatus) IsValid() bool {
	switch s {
	case ValidationStatusPending, ValidationStatusApproved,
		ValidationStatusRejected, ValidationStatusPartial:
		return true
	}
	return false
}

// IsTerminal returns true for every status except pending.
// Terminal validations are immutable.
func (s ValidationStatus) IsTerminal() bool {
	return s.IsValid() && s != ValidationStatusPending
}

// CanTransitionTo checks if the validation can move to target.
// Only pending validations move, and only to a terminal status.
func (s ValidationStatus) CanTransitionTo(target ValidationStatus) bool {
	return s == ValidationStatusPending && target.IsTerminal()
}

// ProductTarget returns the product status a terminal decision leads to.
func (s ValidationStatus) ProductTarget() ProductStatus {
	switch s {
	case ValidationStatusApproved:
		return ProductStatusValidated
	case ValidationStatusPartial:
		return ProductStatusValidatedWithRemarks
	case ValidationStatusRejected:
		return ProductStatusRejected
	}
	return ""
}

// ValidationStatusForVerdict maps an engine verdict onto a decision.
func ValidationStatusForVerdict(v Verdict) ValidationStatus {
	switch v {
	case VerdictApproved:
		return ValidationStatusApproved
	case VerdictPartial:
		return ValidationStatusPartial
	}
	return ValidationStatusRejected
}

// =============================================================================
// Validation Domain Type
// =============================================================================

// Validation is one attempt to certify a product's claims.
type Validation struct {
	ID              uuid.UUID
	ProductID       uuid.UUID
	ReportID        *uuid.UUID
	Status          ValidationStatus
	ClaimsValidated map[string]ClaimResult
	Findings        []Finding
	Verdict         Verdict // Engine recommendation, empty for purely manual reviews
	Remarks         []string
	Reason          string
	ValidatorID     string
	ValidatedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ValidationResult is the decision a reviewer or the automated lane submits
// when completing a queue entry.
type ValidationResult struct {
	Decision        ValidationStatus       `json:"decision" validate:"required,oneof=approved partial rejected"`
	ClaimsValidated map[string]ClaimResult `json:"claimsValidated,omitempty"`
	Findings        []Finding              `json:"findings,omitempty"`
	Verdict         Verdict                `json:"verdict,omitempty"`
	Remarks         []string               `json:"remarks,omitempty"`
	Reason          string                 `json:"reason,omitempty"`
}

// ResultFromCompliance builds the decision the engine recommends.
func ResultFromCompliance(res *ComplianceResult) ValidationResult {
	out := ValidationResult{
		Decision:        ValidationStatusForVerdict(res.Verdict),
		ClaimsValidated: res.Claims,
		Findings:        res.Findings,
		Verdict:         res.Verdict,
	}
	switch out.Decision {
	case ValidationStatusPartial:
		out.Remarks = res.Remarks()
	case ValidationStatusRejected:
		out.Reason = res.RejectionReason()
	}
	return out
}

// Resolve applies a terminal decision to a pending validation.
func (v *Validation) Resolve(result ValidationResult, validatorID string, now time.Time) error {
	const op = "validation.resolve"

	if !v.Status.CanTransitionTo(result.Decision) {
		return InvalidTransition(op, v.Status, result.Decision)
	}
	if result.Decision == ValidationStatusRejected && strings.TrimSpace(result.Reason) == "" {
		return NewValidationError(op, "reason", "reason is required to reject a validation")
	}

	v.Status = result.Decision
	v.ClaimsValidated = result.ClaimsValidated
	v.Findings = result.Findings
	v.Verdict = result.Verdict
	v.Remarks = NonEmpty(result.Remarks)
	v.Reason = strings.TrimSpace(result.Reason)
	v.ValidatorID = validatorID
	v.ValidatedAt = &now
	v.UpdatedAt = now
	return nil
}

func sortedClaimKeys(m map[string]ClaimResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
