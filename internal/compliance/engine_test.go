package compliance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decomontenegro/truelabel/internal/domain"
)

const testRules = `
version: test-1
rules:
  - {category: heavy_metals, parameter: lead, aliases: [chumbo, pb], operator: max, limit: "0.1", unit: mg/kg, source: "test table"}
  - {category: heavy_metals, parameter: cadmium, operator: max, limit: "0.1", warn_at: "0.08", unit: mg/kg}
  - {category: allergens, parameter: gluten, operator: max, limit: "20", warn_at: "10", unit: mg/kg}
  - {category: mycotoxins, parameter: aflatoxin_b1, operator: max, limit: "5", unit: μg/kg}
  - {category: nutritional, parameter: protein, operator: tolerance, tolerance: "0.20", unit: g}
  - {category: nutritional, parameter: sodium, operator: tolerance, tolerance: "0.20", upper_only: true, unit: mg}
  - {category: nutritional, parameter: ph, operator: range, min: "3.5", max: "4.5", unit: pH}
  - {category: microbiological, parameter: salmonella, operator: absent, unit: /25g}
claims:
  - claim: "Sem Glúten"
    aliases: ["gluten free"]
    requires: [{category: allergens, parameter: gluten}]
  - claim: "Livre de Metais Pesados"
    requires:
      - {category: heavy_metals, parameter: lead}
      - {category: heavy_metals, parameter: cadmium}
`

func mustRuleset(t *testing.T, raw string) *Ruleset {
	t.Helper()
	doc, err := Parse([]byte(raw))
	require.NoError(t, err)
	return Compile(doc)
}

func item(param, value, unit string) domain.AnalysisItem {
	return domain.AnalysisItem{Parameter: param, Value: decimal.RequireFromString(value), Unit: unit}
}

func declared(param, value, decl, unit string) domain.AnalysisItem {
	it := item(param, value, unit)
	d := decimal.RequireFromString(decl)
	it.Declared = &d
	return it
}

func TestEvaluate_GlutenFreeApproved(t *testing.T) {
	rs := mustRuleset(t, testRules)
	bundle := domain.AnalysisBundle{Allergens: []domain.AnalysisItem{item("Gluten", "5", "mg/kg")}}

	res := rs.Evaluate(bundle, []string{"Sem Glúten"})

	assert.Equal(t, domain.VerdictApproved, res.Verdict)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, domain.ReasonWithinLimit, res.Findings[0].Reason)
	assert.Equal(t, "test-1", res.RulesetVersion)

	claim := res.Claims["Sem Glúten"]
	assert.True(t, claim.Validated)
	assert.Equal(t, domain.OutcomePass, claim.Outcome)
}

func TestEvaluate_LeadAboveLimitRejected(t *testing.T) {
	rs := mustRuleset(t, testRules)
	bundle := domain.AnalysisBundle{HeavyMetals: []domain.AnalysisItem{
		item("Chumbo", "0.5", "mg/kg"),
		item("cadmium", "0.01", "mg/kg"),
	}}

	res := rs.Evaluate(bundle, []string{"Livre de Metais Pesados"})

	assert.Equal(t, domain.VerdictRejected, res.Verdict)
	assert.Equal(t, 1, res.Summary.Fail)
	assert.Equal(t, 1, res.Summary.Pass)

	var lead domain.Finding
	for _, f := range res.Findings {
		if f.Parameter == "lead" {
			lead = f
		}
	}
	assert.Equal(t, domain.OutcomeFail, lead.Outcome)
	assert.Equal(t, domain.ReasonLimitExceeded, lead.Reason)
	assert.Equal(t, "<= 0.1 mg/kg", lead.Threshold)
	assert.Equal(t, "test table", lead.Source)

	claim := res.Claims["Livre de Metais Pesados"]
	assert.False(t, claim.Validated)
	assert.Equal(t, domain.OutcomeFail, claim.Outcome)
	assert.Contains(t, res.RejectionReason(), "lead")
}

func TestEvaluate_MaxBoundaries(t *testing.T) {
	rs := mustRuleset(t, testRules)

	tests := []struct {
		name    string
		param   string
		value   string
		outcome domain.Outcome
		reason  string
	}{
		{"exactly at limit", "lead", "0.1", domain.OutcomePass, domain.ReasonWithinLimit},
		{"just above limit", "lead", "0.1000000000000000001", domain.OutcomeFail, domain.ReasonLimitExceeded},
		{"at warn threshold", "cadmium", "0.08", domain.OutcomePass, domain.ReasonWithinLimit},
		{"above warn threshold", "cadmium", "0.09", domain.OutcomeWarn, domain.ReasonWarnThreshold},
		{"zero", "lead", "0", domain.OutcomePass, domain.ReasonWithinLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rs.Evaluate(domain.AnalysisBundle{
				HeavyMetals: []domain.AnalysisItem{item(tt.param, tt.value, "mg/kg")},
			}, nil)
			require.Len(t, res.Findings, 1)
			assert.Equal(t, tt.outcome, res.Findings[0].Outcome)
			assert.Equal(t, tt.reason, res.Findings[0].Reason)
		})
	}
}

func TestEvaluate_OrderIndependent(t *testing.T) {
	rs := mustRuleset(t, testRules)
	items := []domain.AnalysisItem{
		item("lead", "0.05", "mg/kg"),
		item("cadmium", "0.09", "mg/kg"),
		item("zinc", "3", "mg/kg"),
		item("lead", "0.2", "mg/kg"),
	}
	reversed := make([]domain.AnalysisItem, len(items))
	for i := range items {
		reversed[len(items)-1-i] = items[i]
	}
	claims := []string{"Livre de Metais Pesados", "gluten free"}

	a := rs.Evaluate(domain.AnalysisBundle{HeavyMetals: items}, claims)
	b := rs.Evaluate(domain.AnalysisBundle{HeavyMetals: reversed}, []string{claims[1], claims[0]})

	assert.Equal(t, a, b)
}

func TestEvaluate_Units(t *testing.T) {
	rs := mustRuleset(t, testRules)

	t.Run("different unit is a mismatch, never converted", func(t *testing.T) {
		res := rs.Evaluate(domain.AnalysisBundle{
			HeavyMetals: []domain.AnalysisItem{item("lead", "0.01", "μg/kg")},
		}, nil)
		require.Len(t, res.Findings, 1)
		assert.Equal(t, domain.OutcomeFail, res.Findings[0].Outcome)
		assert.Equal(t, domain.ReasonUnitMismatch, res.Findings[0].Reason)
		assert.Equal(t, domain.VerdictRejected, res.Verdict)
	})

	t.Run("micro sign equals greek mu", func(t *testing.T) {
		res := rs.Evaluate(domain.AnalysisBundle{
			Mycotoxins: []domain.AnalysisItem{item("aflatoxin_b1", "2", "µg/kg")},
		}, nil)
		require.Len(t, res.Findings, 1)
		assert.Equal(t, domain.OutcomePass, res.Findings[0].Outcome)
	})

	t.Run("case and spacing are ignored", func(t *testing.T) {
		res := rs.Evaluate(domain.AnalysisBundle{
			HeavyMetals: []domain.AnalysisItem{item("lead", "0.01", " MG / KG ")},
		}, nil)
		assert.Equal(t, domain.OutcomePass, res.Findings[0].Outcome)
	})
}

func TestEvaluate_UnregulatedParameter(t *testing.T) {
	rs := mustRuleset(t, testRules)

	res := rs.Evaluate(domain.AnalysisBundle{
		HeavyMetals: []domain.AnalysisItem{item("Zinc", "30", "mg/kg")},
	}, nil)

	require.Len(t, res.Findings, 1)
	assert.Equal(t, domain.OutcomePass, res.Findings[0].Outcome)
	assert.Equal(t, domain.ReasonUnregulated, res.Findings[0].Reason)
	assert.Equal(t, domain.VerdictApproved, res.Verdict)
}

func TestEvaluate_RuleGaps(t *testing.T) {
	tests := []struct {
		name  string
		rules string
	}{
		{
			name: "malformed limit",
			rules: `
version: broken
rules:
  - {category: heavy_metals, parameter: lead, operator: max, limit: "half", unit: mg/kg}
`,
		},
		{
			name: "unknown operator",
			rules: `
version: broken
rules:
  - {category: heavy_metals, parameter: lead, operator: below, limit: "0.1", unit: mg/kg}
`,
		},
		{
			name: "alias claimed twice",
			rules: `
version: broken
rules:
  - {category: heavy_metals, parameter: lead, aliases: [pb], operator: max, limit: "0.1", unit: mg/kg}
  - {category: heavy_metals, parameter: plumbum, aliases: [pb], operator: max, limit: "0.3", unit: mg/kg}
`,
		},
		{
			name: "duplicate definition",
			rules: `
version: broken
rules:
  - {category: heavy_metals, parameter: lead, operator: max, limit: "0.1", unit: mg/kg}
  - {category: heavy_metals, parameter: Lead, operator: max, limit: "0.3", unit: mg/kg}
`,
		},
		{
			name: "warn threshold beyond limit",
			rules: `
version: broken
rules:
  - {category: heavy_metals, parameter: lead, operator: max, limit: "0.1", warn_at: "0.2", unit: mg/kg}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := mustRuleset(t, tt.rules)
			assert.NotEmpty(t, rs.Problems())

			res := rs.Evaluate(domain.AnalysisBundle{
				HeavyMetals: []domain.AnalysisItem{item("lead", "0", "mg/kg")},
			}, nil)
			require.Len(t, res.Findings, 1)
			assert.Equal(t, domain.OutcomeFail, res.Findings[0].Outcome)
			assert.Equal(t, domain.ReasonRuleGap, res.Findings[0].Reason)
			assert.Equal(t, domain.VerdictRejected, res.Verdict)
		})
	}
}

func TestEvaluate_Claims(t *testing.T) {
	rs := mustRuleset(t, testRules)

	t.Run("mapped claim without data", func(t *testing.T) {
		res := rs.Evaluate(domain.AnalysisBundle{
			HeavyMetals: []domain.AnalysisItem{item("lead", "0.01", "mg/kg")},
		}, []string{"gluten free"})

		claim := res.Claims["gluten free"]
		assert.False(t, claim.Validated)
		assert.Equal(t, domain.OutcomeWarn, claim.Outcome)
		assert.Equal(t, "no data", claim.Note)
		assert.Equal(t, domain.VerdictPartial, res.Verdict)
	})

	t.Run("partially measured claim", func(t *testing.T) {
		res := rs.Evaluate(domain.AnalysisBundle{
			HeavyMetals: []domain.AnalysisItem{item("lead", "0.01", "mg/kg")},
		}, []string{"Livre de Metais Pesados"})

		claim := res.Claims["Livre de Metais Pesados"]
		assert.False(t, claim.Validated)
		assert.Equal(t, "no data", claim.Note)
	})

	t.Run("unmapped claim", func(t *testing.T) {
		res := rs.Evaluate(domain.AnalysisBundle{}, []string{"Vegano"})

		claim := res.Claims["Vegano"]
		assert.False(t, claim.Validated)
		assert.Equal(t, domain.OutcomeWarn, claim.Outcome)
		assert.Equal(t, domain.VerdictPartial, res.Verdict)
	})

	t.Run("warn finding keeps the claim validated", func(t *testing.T) {
		res := rs.Evaluate(domain.AnalysisBundle{
			Allergens: []domain.AnalysisItem{item("gluten", "15", "mg/kg")},
		}, []string{"Sem Glúten"})

		claim := res.Claims["Sem Glúten"]
		assert.True(t, claim.Validated)
		assert.Equal(t, domain.OutcomeWarn, claim.Outcome)
		assert.Equal(t, domain.VerdictPartial, res.Verdict)
		assert.NotEmpty(t, res.Remarks())
	})

	t.Run("claim spelling is normalized", func(t *testing.T) {
		res := rs.Evaluate(domain.AnalysisBundle{
			Allergens: []domain.AnalysisItem{item("gluten", "1", "mg/kg")},
		}, []string{"SEM GLUTEN"})
		assert.True(t, res.Claims["SEM GLUTEN"].Validated)
	})
}

func TestEvaluate_Tolerance(t *testing.T) {
	rs := mustRuleset(t, testRules)

	tests := []struct {
		name    string
		item    domain.AnalysisItem
		outcome domain.Outcome
		reason  string
	}{
		{"on label", declared("protein", "10", "10", "g"), domain.OutcomePass, domain.ReasonWithinLimit},
		{"above tolerance", declared("protein", "13", "10", "g"), domain.OutcomeFail, domain.ReasonOutOfTolerance},
		{"below tolerance", declared("protein", "7.9", "10", "g"), domain.OutcomeFail, domain.ReasonOutOfTolerance},
		{"near upper bound", declared("protein", "11.9", "10", "g"), domain.OutcomeWarn, domain.ReasonWarnThreshold},
		{"no declared value", item("protein", "10", "g"), domain.OutcomeWarn, domain.ReasonNoDeclaredValue},
		{"upper only accepts low values", declared("sodium", "20", "100", "mg"), domain.OutcomePass, domain.ReasonWithinLimit},
		{"upper only rejects high values", declared("sodium", "125", "100", "mg"), domain.OutcomeFail, domain.ReasonOutOfTolerance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rs.Evaluate(domain.AnalysisBundle{Nutritional: []domain.AnalysisItem{tt.item}}, nil)
			require.Len(t, res.Findings, 1)
			assert.Equal(t, tt.outcome, res.Findings[0].Outcome)
			assert.Equal(t, tt.reason, res.Findings[0].Reason)
		})
	}
}

func TestEvaluate_RangeAndPresence(t *testing.T) {
	rs := mustRuleset(t, testRules)

	tests := []struct {
		name    string
		bundle  domain.AnalysisBundle
		outcome domain.Outcome
		reason  string
	}{
		{"range inside", domain.AnalysisBundle{Nutritional: []domain.AnalysisItem{item("ph", "4", "pH")}}, domain.OutcomePass, domain.ReasonWithinLimit},
		{"range below", domain.AnalysisBundle{Nutritional: []domain.AnalysisItem{item("ph", "3.4", "pH")}}, domain.OutcomeFail, domain.ReasonOutOfRange},
		{"salmonella not detected", domain.AnalysisBundle{Microbiological: []domain.AnalysisItem{item("Salmonella", "0", "/25g")}}, domain.OutcomePass, domain.ReasonAbsent},
		{"salmonella detected", domain.AnalysisBundle{Microbiological: []domain.AnalysisItem{item("Salmonella", "1", "/25g")}}, domain.OutcomeFail, domain.ReasonPresent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rs.Evaluate(tt.bundle, nil)
			require.Len(t, res.Findings, 1)
			assert.Equal(t, tt.outcome, res.Findings[0].Outcome)
			assert.Equal(t, tt.reason, res.Findings[0].Reason)
		})
	}
}

func TestEvaluate_EmptyBundle(t *testing.T) {
	rs := mustRuleset(t, testRules)

	res := rs.Evaluate(domain.AnalysisBundle{}, nil)

	assert.Equal(t, domain.VerdictApproved, res.Verdict)
	assert.Empty(t, res.Findings)
	assert.NotNil(t, res.Findings)
}
