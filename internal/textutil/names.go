package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// corporateMarkers are legal-form decorations that differ between how news
// articles and the registry spell the same company.
var corporateMarkers = []string{
	"주식회사", "(주)", "㈜", "(유)", "유한회사", "(재)", "재단법인", "(사)", "사단법인",
	"CO.,LTD.", "CO.,LTD", "CO.LTD", "INC.", "INC", "CORP.", "CORP", "LTD.", "LTD",
}

// NormalizeName folds full-width characters, removes all whitespace, and
// upper-cases the result. Two names are considered an exact registry match
// when their normalized forms are equal.
func NormalizeName(name string) string {
	folded := norm.NFKC.String(name)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// StripCorporateMarkers removes legal-form prefixes and suffixes from a
// normalized name. It is used for fuzzy candidate search only; exact matching
// keeps the markers.
func StripCorporateMarkers(normalized string) string {
	out := normalized
	for changed := true; changed; {
		changed = false
		for _, marker := range corporateMarkers {
			if trimmed := strings.TrimPrefix(out, marker); trimmed != out {
				out, changed = trimmed, true
			}
			if trimmed := strings.TrimSuffix(out, marker); trimmed != out {
				out, changed = trimmed, true
			}
		}
	}
	out = strings.Trim(out, ".,")
	if out == "" {
		return normalized
	}
	return out
}
