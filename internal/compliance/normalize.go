package compliance

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizeName folds a parameter, category or claim name into a lookup key:
// accents stripped, case folded, and runs of non-alphanumerics collapsed to a
// single underscore. "Sem Glúten" and "sem-gluten" map to "sem_gluten".
func normalizeName(s string) string {
	// Transformers and casers carry state, so they are built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, "_")
}

// normalizeUnit canonicalizes the spelling of a unit without converting it.
// NFKC maps the micro sign onto the Greek mu, so "µg/kg" equals "μg/kg";
// case and whitespace are ignored. "mg/kg" never equals "μg/kg".
func normalizeUnit(s string) string {
	u := norm.NFKC.String(strings.TrimSpace(s))
	u = cases.Fold().String(u)
	return strings.Join(strings.Fields(u), "")
}
