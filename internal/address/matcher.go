// Package address compares free-text French addresses for the DPE match
// validation step. Matching is binary: strict on the house number, flexible
// on the street name.
package address

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Articles and connectors that carry no street identity.
var fillerWords = map[string]bool{
	"de": true, "du": true, "des": true,
	"le": true, "la": true, "les": true, "l": true,
	"et": true, "en": true, "sur": true,
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips diacritics and replaces punctuation with
// token boundaries, collapsing repeated whitespace.
func Normalize(s string) string {
	lower := strings.ToLower(s)
	stripped, _, err := transform.String(deaccent, lower)
	if err != nil {
		stripped = lower
	}

	var b strings.Builder
	pendingSpace := false
	for _, r := range stripped {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// Matches reports whether a candidate address refers to the same building as
// the input address within the given locality. The locality must appear in
// the candidate, the leading house numbers must agree, and the input street
// name must be contained in the candidate street name (candidates are
// typically more verbose than listing addresses).
func Matches(input, candidate, locality string) bool {
	in := Normalize(input)
	cand := Normalize(candidate)
	loc := compact(Normalize(locality))

	if !strings.Contains(compact(cand), loc) {
		return false
	}

	inNumber := houseNumber(in)
	candNumber := houseNumber(cand)
	if inNumber == "" || candNumber == "" || inNumber != candNumber {
		return false
	}

	return strings.Contains(streetKey(cand), streetKey(in))
}

// houseNumber returns the first contiguous digit run of the address, capped
// at three digits so postal codes and years cannot leak into the comparison.
func houseNumber(normalized string) string {
	var b strings.Builder
	for _, r := range normalized {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == 3 {
				break
			}
			continue
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}

// streetKey reduces a normalized address to its street identity: digits and
// filler words removed, remaining tokens joined.
func streetKey(normalized string) string {
	var parts []string
	for _, token := range strings.Fields(normalized) {
		var b strings.Builder
		for _, r := range token {
			if r < '0' || r > '9' {
				b.WriteRune(r)
			}
		}
		word := b.String()
		if word == "" || fillerWords[word] {
			continue
		}
		parts = append(parts, word)
	}
	return strings.Join(parts, "")
}

func compact(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
