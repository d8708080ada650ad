// Package search provides hybrid similar-document lookup over the
// vector store: dense cosine ranking fused with sparse term-overlap
// ranking.
package search

import "sort"

// ScoredDoc pairs a document id with a composite search score.
type ScoredDoc struct {
	DocID string
	Score float64
}

// RRF fuses multiple ranked lists using Reciprocal Rank Fusion (k=60).
// Each input list must be sorted descending by score (best first).
//
// Weighting rules:
//   - First two lists in the variadic args receive 2x weight multiplier
//   - Top-rank bonuses: rank=0 -> +0.05, rank<=2 -> +0.02
//
// Returns a deduplicated list sorted by fused score descending.
func RRF(lists ...[]ScoredDoc) []ScoredDoc {
	scores := make(map[string]float64)
	var order []string

	for listIdx, list := range lists {
		weight := 1.0
		if listIdx < 2 {
			weight = 2.0
		}
		for rank, item := range list {
			rankBonus := 0.0
			if rank == 0 {
				rankBonus = 0.05
			} else if rank <= 2 {
				rankBonus = 0.02
			}
			contrib := weight/(60.0+float64(rank)+1) + rankBonus
			if _, exists := scores[item.DocID]; !exists {
				order = append(order, item.DocID)
			}
			scores[item.DocID] += contrib
		}
	}

	result := make([]ScoredDoc, 0, len(scores))
	for _, id := range order {
		result = append(result, ScoredDoc{DocID: id, Score: scores[id]})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	return result
}
