// CLAUDE:SUMMARY Canonical name/address/city normalization used by matching and stored as norm_* columns.
package dedup

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// addressAbbrev unifies common street words so "Main Street" matches "Main St.".
var addressAbbrev = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"av":        "ave",
	"road":      "rd",
	"boulevard": "blvd",
	"drive":     "dr",
	"lane":      "ln",
	"place":     "pl",
	"square":    "sq",
	"strasse":   "str",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
	"rue":       "r",
}

// NormalizeName lowercases, removes diacritics and punctuation, and collapses
// whitespace.
func NormalizeName(s string) string {
	return strings.Join(tokens(s), " ")
}

// NormalizeCity is NormalizeName; kept separate so the rules can diverge.
func NormalizeCity(s string) string {
	return NormalizeName(s)
}

// NormalizeAddress is NormalizeName plus street-word abbreviation. A German
// street suffix glued to the name ("Kastanienstraße", "Kastanienstr.") is
// split off as "str".
func NormalizeAddress(s string) string {
	toks := tokens(s)
	for i, t := range toks {
		if a, ok := addressAbbrev[t]; ok {
			toks[i] = a
			continue
		}
		for _, suf := range []string{"strasse", "str"} {
			if strings.HasSuffix(t, suf) && len(t) > len(suf)+2 {
				toks[i] = strings.TrimSuffix(t, suf) + " str"
				break
			}
		}
	}
	return strings.Join(strings.Fields(strings.Join(toks, " ")), " ")
}

func tokens(s string) []string {
	s = strings.ToLower(strings.ReplaceAll(s, "ß", "ss"))
	if folded, _, err := transform.String(foldMarks(), s); err == nil {
		s = folded
	}
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// foldMarks strips combining marks: "café" → "cafe". A transformer is
// stateful, so each call gets a fresh chain.
func foldMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// NamesSimilar reports whether two normalized names plausibly denote the same
// venue: one token set contains the other, or their Jaccard index reaches min.
func NamesSimilar(a, b string, min float64) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	ta, tb := tokenSet(a), tokenSet(b)
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	if inter == 0 {
		return false
	}
	if inter == len(ta) || inter == len(tb) {
		return true
	}
	union := len(ta) + len(tb) - inter
	return float64(inter)/float64(union) >= min
}

// AddressesCompatible reports whether two normalized addresses can describe
// the same place: equal, or every token of one appears in the other
// ("kastanienallee 5" and "kastanienallee 5 berlin"). Differing house numbers
// are never compatible.
func AddressesCompatible(a, b string) bool {
	if a == "" || b == "" || a == b {
		return true
	}
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	for t := range ta {
		if !tb[t] {
			return false
		}
	}
	return true
}

func tokenSet(s string) map[string]bool {
	m := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		m[t] = true
	}
	return m
}
