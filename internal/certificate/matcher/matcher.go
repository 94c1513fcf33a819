// Package matcher fuzzy-compares legal entity names.
//
// Certificates carry the subject's registered name in whatever shape the tax
// authority printed it ("ACME SA DE CV"), while tenants register the name
// with punctuation and corporate-form decoration ("Acme, S.A. de C.V.").
// Both are normalized before a sequence-similarity ratio decides whether they
// refer to the same legal entity. A below-threshold ratio blocks certificate
// onboarding, so the normalization errs on the side of stripping decoration
// rather than inventing equivalences.
package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the minimum similarity ratio considered a match.
// Tuned against real tenant/certificate pairs; callers needing a stricter
// policy pass their own threshold to New.
const DefaultThreshold = 0.85

// diacritics removes combining marks so "Compañía" and "Compania" compare equal.
var diacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// legalSuffixes matches trailing corporate-form abbreviations after
// punctuation has been stripped. Longest alternatives first.
var legalSuffixes = regexp.MustCompile(
	`\s+(S\s+DE\s+RL\s+DE\s+CV|SAPI\s+DE\s+CV|SAB\s+DE\s+CV|SA\s+DE\s+CV|S\s+DE\s+RL|SRL\s+DE\s+CV|SRL|SAPI|SAB|SA|SC|AC)$`,
)

var punctuation = strings.NewReplacer(".", "", "'", "", "’", "", ",", " ", ";", " ", "&", " ", "-", " ", "_", " ", "(", " ", ")", " ", "/", " ", "\"", " ")

// Matcher computes normalized name similarity.
type Matcher struct {
	threshold float64
}

// New returns a matcher with the given threshold; pass DefaultThreshold
// unless a tenant-specific policy says otherwise.
func New(threshold float64) *Matcher {
	return &Matcher{threshold: threshold}
}

// Similarity returns a ratio in [0,1] between the normalized forms of a and
// b. The ratio is symmetric and order-sensitive (longest-matching-blocks over
// the rune sequences).
func (m *Matcher) Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" && nb == "" {
		// Normalization stripped both names to nothing (punctuation-only
		// input); compare the raw trimmed forms so identical inputs still
		// score 1.
		na, nb = strings.TrimSpace(a), strings.TrimSpace(b)
	}
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}
	sm := difflib.NewMatcher(strings.Split(na, ""), strings.Split(nb, ""))
	return sm.Ratio()
}

// Matches reports whether the two names are similar enough to be treated as
// the same legal entity.
func (m *Matcher) Matches(a, b string) bool {
	return m.Similarity(a, b) >= m.threshold
}

// Normalize folds diacritics, removes punctuation, strips trailing
// corporate-form suffixes, collapses whitespace, and uppercases.
func Normalize(name string) string {
	folded, _, err := transform.String(diacritics, name)
	if err != nil {
		folded = name
	}
	cleaned := strings.ToUpper(punctuation.Replace(folded))
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	stripped := legalSuffixes.ReplaceAllString(cleaned, "")
	stripped = strings.TrimSpace(stripped)
	if stripped == "" {
		// Name was nothing but a corporate form; keep the cleaned form so
		// Similarity still has something to compare.
		return cleaned
	}
	return stripped
}
