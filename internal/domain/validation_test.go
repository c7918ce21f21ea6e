package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdictFor(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []Outcome
		want     Verdict
	}{
		{"no findings", nil, VerdictApproved},
		{"all pass", []Outcome{OutcomePass, OutcomePass}, VerdictApproved},
		{"one warn", []Outcome{OutcomePass, OutcomeWarn}, VerdictPartial},
		{"warn and fail", []Outcome{OutcomeWarn, OutcomeFail, OutcomePass}, VerdictRejected},
		{"single fail", []Outcome{OutcomeFail}, VerdictRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerdictFor(tt.outcomes...))
		})
	}
}

func TestValidationStatus_Transitions(t *testing.T) {
	assert.True(t, ValidationStatusPending.CanTransitionTo(ValidationStatusApproved))
	assert.True(t, ValidationStatusPending.CanTransitionTo(ValidationStatusPartial))
	assert.True(t, ValidationStatusPending.CanTransitionTo(ValidationStatusRejected))
	assert.False(t, ValidationStatusPending.CanTransitionTo(ValidationStatusPending))

	for _, s := range []ValidationStatus{ValidationStatusApproved, ValidationStatusPartial, ValidationStatusRejected} {
		assert.True(t, s.IsTerminal())
		assert.False(t, s.CanTransitionTo(ValidationStatusApproved), s.String())
		assert.False(t, s.CanTransitionTo(ValidationStatusRejected), s.String())
	}
}

func TestValidation_Resolve(t *testing.T) {
	now := time.Now()

	v := &Validation{Status: ValidationStatusPending}
	err := v.Resolve(ValidationResult{Decision: ValidationStatusRejected}, "r", now)
	assert.Equal(t, EINVALID, ErrorCode(err))
	assert.Equal(t, ValidationStatusPending, v.Status)

	require.NoError(t, v.Resolve(ValidationResult{
		Decision: ValidationStatusRejected,
		Reason:   " lead above limit ",
	}, "r", now))
	assert.Equal(t, ValidationStatusRejected, v.Status)
	assert.Equal(t, "lead above limit", v.Reason)
	assert.Equal(t, "r", v.ValidatorID)
	require.NotNil(t, v.ValidatedAt)

	err = v.Resolve(ValidationResult{Decision: ValidationStatusApproved}, "r", now)
	assert.Equal(t, EINVALIDTRANSITION, ErrorCode(err))
	assert.Equal(t, ValidationStatusRejected, v.Status)
}

func TestResultFromCompliance(t *testing.T) {
	res := &ComplianceResult{
		Verdict: VerdictRejected,
		Findings: []Finding{
			{Parameter: "lead", Outcome: OutcomeFail, Rationale: "0.5 mg/kg exceeds 0.1 mg/kg"},
			{Parameter: "sodium", Outcome: OutcomeWarn, Rationale: "close to limit"},
		},
	}

	out := ResultFromCompliance(res)
	assert.Equal(t, ValidationStatusRejected, out.Decision)
	assert.Equal(t, "lead: 0.5 mg/kg exceeds 0.1 mg/kg", out.Reason)
	assert.Empty(t, out.Remarks)

	res.Verdict = VerdictPartial
	res.Findings = res.Findings[1:]
	res.Claims = map[string]ClaimResult{"Baixo Sódio": {Outcome: OutcomeWarn, Note: "no data"}}
	out = ResultFromCompliance(res)
	assert.Equal(t, ValidationStatusPartial, out.Decision)
	assert.Equal(t, []string{"sodium: close to limit", "Baixo Sódio: no data"}, out.Remarks)
}

func TestErrorCode_ValidationError(t *testing.T) {
	err := NewValidationError("product.create", "sku", "sku is required")
	assert.Equal(t, EINVALID, ErrorCode(err))
	assert.Equal(t, "sku: sku is required", ErrorMessage(err))
	assert.Equal(t, "product.create", ErrorOp(err))
}
