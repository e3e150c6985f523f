// Package names provides entity-name normalization and similarity scoring
// used for resolving extraction candidates against the existing graph.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizer strips diacritics: decompose, drop combining marks, recompose.
var normalizer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize returns the canonical comparison form of an entity name:
// diacritics removed, lowercased, inner whitespace collapsed to single
// spaces. Matching and alias lookups always operate on normalized forms.
func Normalize(name string) string {
	out, _, err := transform.String(normalizer, name)
	if err != nil {
		out = name // fall back to the raw string on malformed input
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// Similarity returns a score in [0,1] for two already-normalized names using
// the Jaro-Winkler metric. Identical strings score 1.0; disjoint strings
// score 0.0.
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0.0
		}
		return 1.0
	}
	j := jaro(a, b)
	if j == 0 {
		return 0
	}

	// Winkler prefix bonus: up to 4 common leading characters.
	prefix := 0
	for i := 0; i < len(a) && i < len(b) && i < 4; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return j + float64(prefix)*0.1*(1.0-j)
}

// jaro computes the plain Jaro similarity between two strings.
func jaro(a, b string) float64 {
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}

	window := max(la, lb)/2 - 1
	if window < 0 {
		window = 0
	}

	matchedA := make([]bool, la)
	matchedB := make([]bool, lb)

	matches := 0
	for i := 0; i < la; i++ {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		hi := i + window + 1
		if hi > lb {
			hi = lb
		}
		for j := lo; j < hi; j++ {
			if matchedB[j] || a[i] != b[j] {
				continue
			}
			matchedA[i] = true
			matchedB[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0
	}

	// Count transpositions between the matched sequences.
	transpositions := 0
	j := 0
	for i := 0; i < la; i++ {
		if !matchedA[i] {
			continue
		}
		for !matchedB[j] {
			j++
		}
		if a[i] != b[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	t := float64(transpositions) / 2.0
	return (m/float64(la) + m/float64(lb) + (m-t)/m) / 3.0
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
