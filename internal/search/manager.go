package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/taxon/internal/embedding"
	"github.com/thebtf/taxon/internal/vector/sqlitevec"
	"github.com/thebtf/taxon/pkg/models"
	"github.com/thebtf/taxon/pkg/similarity"
)

// DefaultLimit is the number of matches returned when none is requested.
const DefaultLimit = 10

// candidateFactor widens each per-signal ranking beyond the requested
// limit so fusion has overlap to work with.
const candidateFactor = 3

// Match is one similar document with its fused score.
type Match struct {
	Document models.Document `json:"document"`
	Score    float64         `json:"score"`
}

// Manager runs hybrid lookups against the vector store.
type Manager struct {
	store    *sqlitevec.Client
	embedder embedding.Embedder
}

// NewManager creates a search manager.
func NewManager(store *sqlitevec.Client, embedder embedding.Embedder) *Manager {
	return &Manager{store: store, embedder: embedder}
}

// Similar finds the documents most similar to the query text. Dense
// cosine ranking and sparse term-overlap ranking are fused with RRF, so
// a match found by both signals outranks one found by either alone.
func (m *Manager) Similar(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	dense, err := m.denseRanking(ctx, query, limit*candidateFactor)
	if err != nil {
		return nil, fmt.Errorf("dense ranking: %w", err)
	}
	sparse, byID, err := m.sparseRanking(ctx, query, limit*candidateFactor)
	if err != nil {
		return nil, fmt.Errorf("sparse ranking: %w", err)
	}

	fused := RRF(dense, sparse)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	matches := make([]Match, 0, len(fused))
	for _, sd := range fused {
		rec, ok := byID[sd.DocID]
		if !ok {
			continue
		}
		matches = append(matches, Match{
			Document: models.Document{ID: rec.DocID, Text: rec.Text, Metadata: rec.Metadata},
			Score:    sd.Score,
		})
	}

	log.Debug().
		Int("dense", len(dense)).
		Int("sparse", len(sparse)).
		Int("matches", len(matches)).
		Msg("Hybrid search complete")
	return matches, nil
}

func (m *Manager) denseRanking(ctx context.Context, query string, limit int) ([]ScoredDoc, error) {
	vectors, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := m.store.Search(ctx, vectors[0], limit)
	if err != nil {
		return nil, err
	}

	ranked := make([]ScoredDoc, len(results))
	for i, r := range results {
		ranked[i] = ScoredDoc{DocID: r.DocID, Score: r.Similarity}
	}
	return ranked, nil
}

func (m *Manager) sparseRanking(ctx context.Context, query string, limit int) ([]ScoredDoc, map[string]sqlitevec.Record, error) {
	records, err := m.store.All(ctx)
	if err != nil {
		return nil, nil, err
	}

	queryTerms := similarity.TermSet(query, nil, 0)
	byID := make(map[string]sqlitevec.Record, len(records))
	ranked := make([]ScoredDoc, 0, len(records))
	for _, rec := range records {
		byID[rec.DocID] = rec
		score := similarity.Jaccard(queryTerms, similarity.TermSet(rec.Text, nil, 0))
		if score > 0 {
			ranked = append(ranked, ScoredDoc{DocID: rec.DocID, Score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, byID, nil
}
