package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Outcome is the result of checking one measured parameter or one claim.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeWarn Outcome = "warn"
	OutcomeFail Outcome = "fail"
)

// Worse returns the more severe of two outcomes.
func (o Outcome) Worse(other Outcome) Outcome {
	if o.rank() >= other.rank() {
		return o
	}
	return other
}

func (o Outcome) rank() int {
	switch o {
	case OutcomeFail:
		return 2
	case OutcomeWarn:
		return 1
	}
	return 0
}

// Verdict is the engine's recommended outcome for a whole analysis.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictPartial  Verdict = "partial" // conditional approval
	VerdictRejected Verdict = "rejected"
)

// IsValid returns true if the verdict is a recognized value.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictApproved, VerdictPartial, VerdictRejected:
		return true
	}
	return false
}

// VerdictFor folds outcomes into a verdict: any fail rejects, any warn
// makes it conditional, otherwise approved.
func VerdictFor(outcomes ...Outcome) Verdict {
	worst := OutcomePass
	for _, o := range outcomes {
		worst = worst.Worse(o)
	}
	switch worst {
	case OutcomeFail:
		return VerdictRejected
	case OutcomeWarn:
		return VerdictPartial
	}
	return VerdictApproved
}

// Analysis categories.
const (
	CategoryMicrobiological = "microbiological"
	CategoryHeavyMetals     = "heavy_metals"
	CategoryPesticides      = "pesticides"
	CategoryMycotoxins      = "mycotoxins"
	CategoryNutritional     = "nutritional"
	CategoryAllergens       = "allergens"
)

// Finding reason codes.
const (
	ReasonWithinLimit     = "within_limit"
	ReasonWarnThreshold   = "warn_threshold"
	ReasonLimitExceeded   = "limit_exceeded"
	ReasonBelowMinimum    = "below_minimum"
	ReasonOutOfRange      = "out_of_range"
	ReasonPresent         = "present"
	ReasonAbsent          = "absent"
	ReasonUnitMismatch    = "unit_mismatch"
	ReasonRuleGap         = "rule_gap"
	ReasonUnregulated     = "unregulated"
	ReasonNoDeclaredValue = "no_declared_value"
	ReasonOutOfTolerance  = "out_of_tolerance"
)

// AnalysisItem is one measured parameter from a lab report.
type AnalysisItem struct {
	Parameter string           `json:"parameter" yaml:"parameter" validate:"required"`
	Value     decimal.Decimal  `json:"value" yaml:"value"`
	Unit      string           `json:"unit" yaml:"unit"`
	Declared  *decimal.Decimal `json:"declared,omitempty" yaml:"declared,omitempty"` // Label value for nutritional items
}

// AnalysisBundle groups measured parameters by category.
type AnalysisBundle struct {
	Microbiological []AnalysisItem `json:"microbiological,omitempty" validate:"dive"`
	HeavyMetals     []AnalysisItem `json:"heavyMetals,omitempty" validate:"dive"`
	Pesticides      []AnalysisItem `json:"pesticides,omitempty" validate:"dive"`
	Mycotoxins      []AnalysisItem `json:"mycotoxins,omitempty" validate:"dive"`
	Nutritional     []AnalysisItem `json:"nutritional,omitempty" validate:"dive"`
	Allergens       []AnalysisItem `json:"allergens,omitempty" validate:"dive"`
}

// Categories returns the bundle's items keyed by category.
func (b AnalysisBundle) Categories() map[string][]AnalysisItem {
	return map[string][]AnalysisItem{
		CategoryMicrobiological: b.Microbiological,
		CategoryHeavyMetals:     b.HeavyMetals,
		CategoryPesticides:      b.Pesticides,
		CategoryMycotoxins:      b.Mycotoxins,
		CategoryNutritional:     b.Nutritional,
		CategoryAllergens:       b.Allergens,
	}
}

// IsEmpty returns true when the bundle carries no measurement.
func (b AnalysisBundle) IsEmpty() bool {
	for _, items := range b.Categories() {
		if len(items) > 0 {
			return false
		}
	}
	return true
}

// Finding is the per-parameter result of a compliance check.
type Finding struct {
	Category  string          `json:"category"`
	Parameter string          `json:"parameter"`
	Value     decimal.Decimal `json:"value"`
	Unit      string          `json:"unit"`
	Threshold string          `json:"threshold,omitempty"`
	Outcome   Outcome         `json:"outcome"`
	Reason    string          `json:"reason"`
	Rationale string          `json:"rationale"`
	Source    string          `json:"source,omitempty"`
}

// ClaimResult is the folded outcome of the findings that back one claim.
type ClaimResult struct {
	Validated bool    `json:"validated"`
	Outcome   Outcome `json:"outcome"`
	Note      string  `json:"note,omitempty"`
}

// ComplianceResult is the full output of one engine evaluation.
type ComplianceResult struct {
	Verdict        Verdict                `json:"verdict"`
	Findings       []Finding              `json:"findings"`
	Claims         map[string]ClaimResult `json:"claims,omitempty"`
	RulesetVersion string                 `json:"rulesetVersion"`
	Summary        ComplianceSummary      `json:"summary"`
}

// ComplianceSummary counts findings by outcome.
type ComplianceSummary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Remarks returns a human-readable line for every warn finding and claim.
func (r *ComplianceResult) Remarks() []string {
	var out []string
	for _, f := range r.Findings {
		if f.Outcome == OutcomeWarn {
			out = append(out, f.Parameter+": "+f.Rationale)
		}
	}
	for _, claim := range sortedClaimKeys(r.Claims) {
		res := r.Claims[claim]
		if res.Outcome == OutcomeWarn {
			out = append(out, claim+": "+res.Note)
		}
	}
	return out
}

// RejectionReason joins the rationale of every fail finding, then the note
// of every failed claim.
func (r *ComplianceResult) RejectionReason() string {
	var parts []string
	for _, f := range r.Findings {
		if f.Outcome == OutcomeFail {
			parts = append(parts, f.Parameter+": "+f.Rationale)
		}
	}
	for _, claim := range sortedClaimKeys(r.Claims) {
		if res := r.Claims[claim]; res.Outcome == OutcomeFail {
			parts = append(parts, claim+": "+res.Note)
		}
	}
	return strings.Join(parts, "; ")
}
