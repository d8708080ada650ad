// Package similarity provides text tokenization and similarity utilities.
package similarity

import (
	"math"
	"strings"
)

// DefaultMinWordLength is the shortest word that counts as a term.
const DefaultMinWordLength = 4

// DefaultStopwords covers common English function words plus support-ticket
// boilerplate that carries no category signal.
var DefaultStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"for": true, "from": true, "with": true, "about": true, "into": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"it": true, "its": true, "which": true, "who": true, "what": true,
	"when": true, "where": true, "how": true, "why": true,
	"issue": true, "resolution": true, "customer": true, "please": true,
	"ticket": true, "thanks": true, "hello": true, "regards": true,
}

// Tokenize splits text into lowercase alphanumeric words.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})
}

// CountTerms tokenizes text and counts terms, dropping stopwords and any
// word shorter than minLength. A nil stopwords map means DefaultStopwords;
// minLength <= 0 means DefaultMinWordLength.
func CountTerms(text string, stopwords map[string]bool, minLength int) map[string]int {
	if stopwords == nil {
		stopwords = DefaultStopwords
	}
	if minLength <= 0 {
		minLength = DefaultMinWordLength
	}

	counts := make(map[string]int)
	for _, word := range Tokenize(text) {
		if len(word) >= minLength && !stopwords[word] {
			counts[word]++
		}
	}
	return counts
}

// TermSet returns the distinct terms of text as a set, with the same
// filtering rules as CountTerms.
func TermSet(text string, stopwords map[string]bool, minLength int) map[string]bool {
	counts := CountTerms(text, stopwords, minLength)
	set := make(map[string]bool, len(counts))
	for term := range counts {
		set[term] = true
	}
	return set
}

// Jaccard calculates the Jaccard similarity between two sets.
// Returns a value between 0 (no overlap) and 1 (identical).
func Jaccard[T comparable](set1, set2 map[T]bool) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for v := range set1 {
		if set2[v] {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// Cosine computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}

	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
