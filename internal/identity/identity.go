// Package identity derives deterministic bundle identities.
//
// An identity is the four logical fields of a bundle (scheme, name, output
// file name, region), each normalised and joined with "_" in that fixed
// order:
//
//	Build("gdpr", "Privacy Report", "privacy_out", "EU")
//	// "gdpr_privacy_report_privacy_out_eu"
//
// Normalisation is NFKC compatibility folding, removal of combining marks,
// lower-casing, and collapsing every run of characters other than letters,
// digits and '-' into a single '_'. Two inputs that differ only in case,
// accents, whitespace or punctuation produce the same identity.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/docseed/internal/bundle"
)

// Separator joins fields and replaces collapsed punctuation.
const Separator = "_"

// Build returns the identity for the given logical fields.
// Returns a VALIDATION error if any field is empty after normalisation.
func Build(scheme, name, outFileName, region string) (bundle.Identity, error) {
	fields := []struct {
		label string
		value string
	}{
		{"scheme", scheme},
		{"name", name},
		{"outFileName", outFileName},
		{"region", region},
	}

	parts := make([]string, len(fields))
	for i, f := range fields {
		n, err := Normalize(f.value)
		if err != nil {
			return "", bundle.Validationf("cannot build identity: %s: %v", f.label, err)
		}
		if n == "" {
			return "", bundle.Validationf("cannot build identity: %s is empty after normalization", f.label)
		}
		parts[i] = n
	}

	return bundle.Identity(strings.Join(parts, Separator)), nil
}

// MustBuild is like Build but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustBuild(scheme, name, outFileName, region string) bundle.Identity {
	id, err := Build(scheme, name, outFileName, region)
	if err != nil {
		panic(err)
	}
	return id
}

// Normalize folds a single field. Transformers are built per call: neither
// transform.Chain nor cases.Caser may be shared between goroutines.
func Normalize(s string) (string, error) {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		return "", err
	}
	folded = cases.Lower(language.Und).String(folded)

	var b strings.Builder
	b.Grow(len(folded))
	pending := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			if pending && b.Len() > 0 {
				b.WriteString(Separator)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String(), nil
}
