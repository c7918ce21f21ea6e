package compliance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/shopspring/decimal"
)

// Evaluate checks every measured item of the bundle against the ruleset and
// folds the findings over the product claims.
//
// The result depends only on the inputs: items are evaluated independently
// and findings are sorted canonically, so reordering the bundle does not
// change the output. Business data never makes Evaluate fail; unusable
// rules degrade to fail findings with reason rule_gap.
func (rs *Ruleset) Evaluate(bundle domain.AnalysisBundle, claims []string) *domain.ComplianceResult {
	findings := make([]domain.Finding, 0)
	measured := make(map[ruleKey][]domain.Finding)

	for category, items := range bundle.Categories() {
		for _, item := range items {
			key := rs.resolve(category, item.Parameter)
			f := rs.evaluateItem(key, item)
			findings = append(findings, f)
			measured[key] = append(measured[key], f)
		}
	}
	sortFindings(findings)

	result := &domain.ComplianceResult{
		Findings:       findings,
		RulesetVersion: rs.version,
	}

	outcomes := make([]domain.Outcome, 0, len(findings)+len(claims))
	for _, f := range findings {
		outcomes = append(outcomes, f.Outcome)
		switch f.Outcome {
		case domain.OutcomePass:
			result.Summary.Pass++
		case domain.OutcomeWarn:
			result.Summary.Warn++
		case domain.OutcomeFail:
			result.Summary.Fail++
		}
	}

	if len(claims) > 0 {
		result.Claims = make(map[string]domain.ClaimResult, len(claims))
		for _, claim := range claims {
			res := rs.foldClaim(claim, measured)
			result.Claims[claim] = res
			outcomes = append(outcomes, res.Outcome)
		}
	}

	result.Verdict = domain.VerdictFor(outcomes...)
	return result
}

func (rs *Ruleset) evaluateItem(key ruleKey, item domain.AnalysisItem) domain.Finding {
	f := domain.Finding{
		Category:  key.Category,
		Parameter: key.Parameter,
		Value:     item.Value,
		Unit:      item.Unit,
	}

	if gap, ok := rs.gaps[key]; ok {
		f.Outcome = domain.OutcomeFail
		f.Reason = domain.ReasonRuleGap
		f.Rationale = "rule is unusable: " + gap
		return f
	}

	rule, ok := rs.rules[key]
	if !ok {
		f.Outcome = domain.OutcomePass
		f.Reason = domain.ReasonUnregulated
		f.Rationale = "no rule regulates this parameter"
		return f
	}

	f.Threshold = rule.Threshold()
	f.Source = rule.Source

	if rule.Unit != "" && normalizeUnit(item.Unit) != rule.Unit {
		f.Outcome = domain.OutcomeFail
		f.Reason = domain.ReasonUnitMismatch
		f.Rationale = fmt.Sprintf("measured in %q but the rule is declared in %q", item.Unit, rule.RawUnit)
		return f
	}

	f.Outcome, f.Reason, f.Rationale = rule.check(item)
	return f
}

// check applies the rule operator. The value is compared exactly; no
// floating point rounding happens at the threshold.
func (r *Rule) check(item domain.AnalysisItem) (domain.Outcome, string, string) {
	v := item.Value
	pass := domain.OutcomePass

	switch r.Operator {
	case OperatorMax:
		if v.GreaterThan(r.Limit) {
			return r.Severity, domain.ReasonLimitExceeded,
				fmt.Sprintf("%s %s exceeds the maximum of %s %s", v, item.Unit, r.Limit, r.RawUnit)
		}
		if r.WarnAt != nil && v.GreaterThan(*r.WarnAt) {
			return domain.OutcomeWarn, domain.ReasonWarnThreshold,
				fmt.Sprintf("%s %s is above the warning threshold of %s %s", v, item.Unit, r.WarnAt, r.RawUnit)
		}
		return pass, domain.ReasonWithinLimit, "within the maximum limit"

	case OperatorMin:
		if v.LessThan(r.Limit) {
			return r.Severity, domain.ReasonBelowMinimum,
				fmt.Sprintf("%s %s is below the minimum of %s %s", v, item.Unit, r.Limit, r.RawUnit)
		}
		if r.WarnAt != nil && v.LessThan(*r.WarnAt) {
			return domain.OutcomeWarn, domain.ReasonWarnThreshold,
				fmt.Sprintf("%s %s is below the warning threshold of %s %s", v, item.Unit, r.WarnAt, r.RawUnit)
		}
		return pass, domain.ReasonWithinLimit, "above the minimum limit"

	case OperatorRange:
		if v.LessThan(r.Min) || v.GreaterThan(r.Max) {
			return r.Severity, domain.ReasonOutOfRange,
				fmt.Sprintf("%s %s is outside %s..%s %s", v, item.Unit, r.Min, r.Max, r.RawUnit)
		}
		return pass, domain.ReasonWithinLimit, "within the allowed range"

	case OperatorAbsent:
		if v.IsPositive() {
			return r.Severity, domain.ReasonPresent, "detected but must be absent"
		}
		return pass, domain.ReasonAbsent, "absent"

	case OperatorPresent:
		if !v.IsPositive() {
			return r.Severity, domain.ReasonAbsent, "not detected but must be present"
		}
		return pass, domain.ReasonPresent, "present"

	case OperatorTolerance:
		return r.checkTolerance(item)
	}

	// Compile rejects unknown operators, so this only guards future additions.
	return domain.OutcomeFail, domain.ReasonRuleGap, fmt.Sprintf("operator %q is not supported", r.Operator)
}

func (r *Rule) checkTolerance(item domain.AnalysisItem) (domain.Outcome, string, string) {
	if item.Declared == nil {
		return domain.OutcomeWarn, domain.ReasonNoDeclaredValue, "no declared label value to compare against"
	}

	declared := *item.Declared
	one := decimal.NewFromInt(1)
	upper := declared.Mul(one.Add(r.Tolerance))
	lower := declared.Mul(one.Sub(r.Tolerance))
	if r.UpperOnly {
		lower = decimal.Zero
	}

	v := item.Value
	if v.GreaterThan(upper) || v.LessThan(lower) {
		return r.Severity, domain.ReasonOutOfTolerance,
			fmt.Sprintf("%s %s is outside the tolerance of declared %s (allowed %s..%s)",
				v, item.Unit, declared, lower.StringFixed(2), upper.StringFixed(2))
	}

	nearUpper := upper.Mul(one.Sub(r.WarnMargin))
	nearLower := lower.Mul(one.Add(r.WarnMargin))
	if v.GreaterThan(nearUpper) || (!r.UpperOnly && v.LessThan(nearLower)) {
		return domain.OutcomeWarn, domain.ReasonWarnThreshold,
			fmt.Sprintf("%s %s is near the tolerance limits of declared %s", v, item.Unit, declared)
	}
	return domain.OutcomePass, domain.ReasonWithinLimit,
		fmt.Sprintf("within tolerance of declared %s", declared)
}

// foldClaim combines the findings of every parameter a claim depends on.
func (rs *Ruleset) foldClaim(claim string, measured map[ruleKey][]domain.Finding) domain.ClaimResult {
	mapping, ok := rs.claims[normalizeName(claim)]
	if !ok {
		return domain.ClaimResult{Validated: false, Outcome: domain.OutcomeWarn, Note: "no rule maps this claim"}
	}

	worst := domain.OutcomePass
	var missing []string
	var notes []string
	for _, key := range mapping.Requires {
		fs, ok := measured[key]
		if !ok {
			missing = append(missing, key.Parameter)
			continue
		}
		for _, f := range fs {
			worst = worst.Worse(f.Outcome)
			if f.Outcome != domain.OutcomePass {
				notes = append(notes, f.Parameter+": "+f.Rationale)
			}
		}
	}

	switch {
	case worst == domain.OutcomeFail:
		return domain.ClaimResult{Validated: false, Outcome: domain.OutcomeFail, Note: joinNotes(notes)}
	case len(missing) > 0:
		return domain.ClaimResult{Validated: false, Outcome: domain.OutcomeWarn, Note: "no data"}
	case worst == domain.OutcomeWarn:
		return domain.ClaimResult{Validated: true, Outcome: domain.OutcomeWarn, Note: joinNotes(notes)}
	}
	return domain.ClaimResult{Validated: true, Outcome: domain.OutcomePass, Note: "confirmed by lab analysis"}
}

func joinNotes(notes []string) string {
	sort.Strings(notes)
	return strings.Join(notes, "; ")
}

func sortFindings(fs []domain.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Parameter != b.Parameter {
			return a.Parameter < b.Parameter
		}
		if c := a.Value.Cmp(b.Value); c != 0 {
			return c < 0
		}
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		if a.Outcome != b.Outcome {
			return a.Outcome < b.Outcome
		}
		return a.Rationale < b.Rationale
	})
}
