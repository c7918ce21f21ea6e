// Package compliance evaluates structured lab analyses against a declarative
// regulatory rule table.
//
// The rule table is a YAML document keyed by (category, parameter). It is
// compiled once into a Ruleset, which is immutable and safe to share between
// goroutines. Evaluation is a pure function of the Ruleset, the analysis
// bundle and the product claims.
package compliance

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Document Schema
// =============================================================================

// Operator is the comparison a rule applies to a measured value.
type Operator string

const (
	OperatorMax       Operator = "max"       // value <= limit
	OperatorMin       Operator = "min"       // value >= limit
	OperatorRange     Operator = "range"     // min <= value <= max
	OperatorAbsent    Operator = "absent"    // value must be zero
	OperatorPresent   Operator = "present"   // value must be above zero
	OperatorTolerance Operator = "tolerance" // value within +/- tolerance of the declared label value
)

// Document is the on-disk form of a rule table.
type Document struct {
	Version string     `yaml:"version"`
	Rules   []RuleDoc  `yaml:"rules"`
	Claims  []ClaimDoc `yaml:"claims"`
}

// RuleDoc is one regulated parameter. Numbers are kept as strings so that a
// malformed value becomes a rule gap instead of a parse failure of the whole
// document.
type RuleDoc struct {
	Category    string   `yaml:"category"`
	Parameter   string   `yaml:"parameter"`
	Aliases     []string `yaml:"aliases,omitempty"`
	Operator    Operator `yaml:"operator"`
	Limit       string   `yaml:"limit,omitempty"`
	Min         string   `yaml:"min,omitempty"`
	Max         string   `yaml:"max,omitempty"`
	WarnAt      string   `yaml:"warn_at,omitempty"`
	Tolerance   string   `yaml:"tolerance,omitempty"`
	WarnMargin  string   `yaml:"warn_margin,omitempty"`
	UpperOnly   bool     `yaml:"upper_only,omitempty"`
	Unit        string   `yaml:"unit"`
	Severity    string   `yaml:"severity,omitempty"`
	Source      string   `yaml:"source,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// ClaimDoc maps a marketed claim onto the parameters that back it.
type ClaimDoc struct {
	Claim    string         `yaml:"claim"`
	Aliases  []string       `yaml:"aliases,omitempty"`
	Requires []ParameterRef `yaml:"requires"`
}

// ParameterRef points at a rule by category and parameter name.
type ParameterRef struct {
	Category  string `yaml:"category"`
	Parameter string `yaml:"parameter"`
}

// Parse decodes a YAML rule table. Unknown fields are rejected.
func Parse(raw []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rule table: %w", err)
	}
	return &doc, nil
}

// =============================================================================
// Compiled Ruleset
// =============================================================================

// Rule is a compiled, validated RuleDoc.
type Rule struct {
	Category   string
	Parameter  string
	Operator   Operator
	Limit      decimal.Decimal
	Min        decimal.Decimal
	Max        decimal.Decimal
	WarnAt     *decimal.Decimal
	Tolerance  decimal.Decimal
	WarnMargin decimal.Decimal
	UpperOnly  bool
	Unit       string // normalized
	RawUnit    string
	Severity   domain.Outcome
	Source     string
}

// Problem describes a rule that could not be compiled.
type Problem struct {
	Category  string `json:"category"`
	Parameter string `json:"parameter"`
	Message   string `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s/%s: %s", p.Category, p.Parameter, p.Message)
}

type claimMapping struct {
	Claim    string
	Requires []ruleKey
}

type ruleKey struct {
	Category  string
	Parameter string
}

func (k ruleKey) String() string {
	return k.Category + "/" + k.Parameter
}

// Ruleset is an immutable compiled rule table.
type Ruleset struct {
	version  string
	rules    map[ruleKey]*Rule
	gaps     map[ruleKey]string
	aliases  map[ruleKey]string // alias -> canonical parameter
	claims   map[string]claimMapping
	problems []Problem
}

// Version returns the rule table version label.
func (rs *Ruleset) Version() string {
	return rs.version
}

// Problems returns every rule that failed to compile.
func (rs *Ruleset) Problems() []Problem {
	return rs.problems
}

// RuleCount returns the number of usable rules.
func (rs *Ruleset) RuleCount() int {
	return len(rs.rules)
}

// Compile validates a document. Invalid or ambiguous rules do not abort
// compilation: they are recorded as gaps so that any measurement of that
// parameter fails with reason rule_gap.
func Compile(doc *Document) *Ruleset {
	rs := &Ruleset{
		version: strings.TrimSpace(doc.Version),
		rules:   make(map[ruleKey]*Rule),
		gaps:    make(map[ruleKey]string),
		aliases: make(map[ruleKey]string),
		claims:  make(map[string]claimMapping),
	}
	if rs.version == "" {
		rs.version = "unversioned"
	}

	owners := make(map[ruleKey]string)
	for _, rd := range doc.Rules {
		category := normalizeName(rd.Category)
		canonical := normalizeName(rd.Parameter)
		if category == "" || canonical == "" {
			rs.addProblem(rd.Category, rd.Parameter, "category and parameter are required")
			continue
		}
		key := ruleKey{category, canonical}

		names := append([]string{rd.Parameter}, rd.Aliases...)
		for _, name := range names {
			alias := ruleKey{category, normalizeName(name)}
			if alias.Parameter == "" {
				continue
			}
			if owner, taken := owners[alias]; taken && owner != canonical {
				rs.gaps[key] = fmt.Sprintf("name %q is claimed by more than one rule", name)
				rs.gaps[ruleKey{category, owner}] = rs.gaps[key]
				rs.addProblem(rd.Category, rd.Parameter, rs.gaps[key])
				continue
			}
			owners[alias] = canonical
			rs.aliases[alias] = canonical
		}

		if _, dup := rs.rules[key]; dup {
			rs.gaps[key] = "parameter is defined more than once"
			rs.addProblem(rd.Category, rd.Parameter, rs.gaps[key])
			continue
		}
		if _, gap := rs.gaps[key]; gap {
			continue
		}

		rule, err := compileRule(category, canonical, rd)
		if err != nil {
			rs.gaps[key] = err.Error()
			rs.addProblem(rd.Category, rd.Parameter, err.Error())
			continue
		}
		rs.rules[key] = rule
	}

	// A gap always wins over a rule compiled before the conflict was seen.
	for key := range rs.gaps {
		delete(rs.rules, key)
	}

	for _, cd := range doc.Claims {
		mapping := claimMapping{Claim: strings.TrimSpace(cd.Claim)}
		for _, ref := range cd.Requires {
			k := rs.resolve(normalizeName(ref.Category), ref.Parameter)
			mapping.Requires = append(mapping.Requires, k)
		}
		if mapping.Claim == "" || len(mapping.Requires) == 0 {
			rs.addProblem("claims", cd.Claim, "claim needs a name and at least one required parameter")
			continue
		}
		for _, name := range append([]string{cd.Claim}, cd.Aliases...) {
			if n := normalizeName(name); n != "" {
				rs.claims[n] = mapping
			}
		}
	}

	sort.Slice(rs.problems, func(i, j int) bool {
		return rs.problems[i].String() < rs.problems[j].String()
	})
	return rs
}

func (rs *Ruleset) addProblem(category, parameter, msg string) {
	rs.problems = append(rs.problems, Problem{Category: category, Parameter: parameter, Message: msg})
}

// resolve maps a raw parameter name onto its canonical rule key.
func (rs *Ruleset) resolve(category, parameter string) ruleKey {
	key := ruleKey{category, normalizeName(parameter)}
	if canonical, ok := rs.aliases[key]; ok {
		key.Parameter = canonical
	}
	return key
}

func compileRule(category, parameter string, rd RuleDoc) (*Rule, error) {
	r := &Rule{
		Category:  category,
		Parameter: parameter,
		Operator:  Operator(strings.ToLower(strings.TrimSpace(string(rd.Operator)))),
		UpperOnly: rd.UpperOnly,
		Unit:      normalizeUnit(rd.Unit),
		RawUnit:   strings.TrimSpace(rd.Unit),
		Source:    strings.TrimSpace(rd.Source),
	}

	switch strings.ToLower(strings.TrimSpace(rd.Severity)) {
	case "", "fail":
		r.Severity = domain.OutcomeFail
	case "warn":
		r.Severity = domain.OutcomeWarn
	default:
		return nil, fmt.Errorf("unknown severity %q", rd.Severity)
	}

	if r.Unit == "" && r.Operator != OperatorAbsent && r.Operator != OperatorPresent {
		return nil, fmt.Errorf("unit is required")
	}

	var err error
	switch r.Operator {
	case OperatorMax, OperatorMin:
		if r.Limit, err = requireDecimal("limit", rd.Limit); err != nil {
			return nil, err
		}
		if rd.WarnAt != "" {
			w, err := requireDecimal("warn_at", rd.WarnAt)
			if err != nil {
				return nil, err
			}
			if (r.Operator == OperatorMax && w.GreaterThan(r.Limit)) ||
				(r.Operator == OperatorMin && w.LessThan(r.Limit)) {
				return nil, fmt.Errorf("warn_at %s lies beyond the limit %s", w, r.Limit)
			}
			r.WarnAt = &w
		}
	case OperatorRange:
		if r.Min, err = requireDecimal("min", rd.Min); err != nil {
			return nil, err
		}
		if r.Max, err = requireDecimal("max", rd.Max); err != nil {
			return nil, err
		}
		if r.Min.GreaterThan(r.Max) {
			return nil, fmt.Errorf("min %s is greater than max %s", r.Min, r.Max)
		}
	case OperatorTolerance:
		if r.Tolerance, err = requireDecimal("tolerance", rd.Tolerance); err != nil {
			return nil, err
		}
		if r.Tolerance.IsNegative() {
			return nil, fmt.Errorf("tolerance must not be negative")
		}
		r.WarnMargin = decimal.NewFromFloat(0.05)
		if rd.WarnMargin != "" {
			if r.WarnMargin, err = requireDecimal("warn_margin", rd.WarnMargin); err != nil {
				return nil, err
			}
		}
	case OperatorAbsent, OperatorPresent:
	default:
		return nil, fmt.Errorf("unknown operator %q", rd.Operator)
	}

	return r, nil
}

func requireDecimal(field, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q is not a number", field, raw)
	}
	return d, nil
}

// Threshold renders the rule's bound for findings.
func (r *Rule) Threshold() string {
	unit := r.RawUnit
	switch r.Operator {
	case OperatorMax:
		return fmt.Sprintf("<= %s %s", r.Limit, unit)
	case OperatorMin:
		return fmt.Sprintf(">= %s %s", r.Limit, unit)
	case OperatorRange:
		return fmt.Sprintf("%s..%s %s", r.Min, r.Max, unit)
	case OperatorAbsent:
		return "absent"
	case OperatorPresent:
		return "present"
	case OperatorTolerance:
		pct := r.Tolerance.Mul(decimal.NewFromInt(100))
		if r.UpperOnly {
			return fmt.Sprintf("declared +%s%%", pct)
		}
		return fmt.Sprintf("declared +/-%s%%", pct)
	}
	return ""
}
