package utils

import (
	"sort"
	"strings"
	"unicode"

	"github.com/facette/natsort"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripDiacritics turns "José" into "Jose".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// SearchKey normalizes text for substring search: no diacritics, lowercase, single spaces.
func SearchKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(StripDiacritics(s))), " ")
}

// NaturalSort orders strings the way people expect file names ("img2" before "img10").
func NaturalSort(items []string) {
	sort.SliceStable(items, func(i, j int) bool {
		return natsort.Compare(items[i], items[j])
	})
}

// NaturalLess is NaturalSort's comparison, for sorting structs by a string field.
func NaturalLess(a, b string) bool {
	return natsort.Compare(a, b)
}
