// Package index maintains the durable document -> embedding mapping.
package index

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/taxon/internal/embedding"
	"github.com/thebtf/taxon/internal/vector/sqlitevec"
	"github.com/thebtf/taxon/pkg/models"
)

// Default indexing parameters.
const (
	DefaultBatchSize = 64
	DefaultMaxTokens = 8192
)

// Indexer embeds documents in fixed-size batches and appends them to the
// persisted vector store. Batches are strictly sequential: batch N+1
// begins only after batch N is committed, so an interrupted run leaves
// the store valid and a re-run picks up where it stopped.
type Indexer struct {
	store     *sqlitevec.Client
	embedder  embedding.Embedder
	codec     tokenizer.Codec
	batchSize int
	maxTokens int
}

// Options tune batching and the per-document token budget.
type Options struct {
	BatchSize int
	MaxTokens int
}

// New creates an indexer over the given store and embedder.
func New(store *sqlitevec.Client, embedder embedding.Embedder, opts Options) (*Indexer, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	return &Indexer{
		store:     store,
		embedder:  embedder,
		codec:     codec,
		batchSize: opts.BatchSize,
		maxTokens: opts.MaxTokens,
	}, nil
}

// Index embeds the given documents and persists their vectors.
// Documents whose ids are already in the store are skipped (document-level
// dedup), so calling Index twice on an unchanged corpus is a no-op that
// reports the existing count. forceReindex discards the collection first
// and re-embeds everything. Returns the number of vectors persisted for
// this corpus.
func (ix *Indexer) Index(ctx context.Context, docs []models.Document, forceReindex bool) (int, error) {
	if forceReindex {
		if err := ix.store.DeleteAll(ctx); err != nil {
			return 0, fmt.Errorf("index: %w", err)
		}
		log.Info().Msg("Force reindex: dropped existing vectors")
	}

	existing, err := ix.store.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("index: %w", err)
	}

	pending := make([]models.Document, 0, len(docs))
	skipped := 0
	for _, doc := range docs {
		if !doc.HasText() {
			log.Warn().Str("docId", doc.ID).Msg("Skipping document with empty text")
			skipped++
			continue
		}
		if existing[doc.ID] {
			continue
		}
		pending = append(pending, doc)
	}

	if len(pending) == 0 {
		count, err := ix.store.Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("index: %w", err)
		}
		log.Info().Int64("count", count).Msg("Index up to date, nothing to embed")
		return int(count), nil
	}

	for start := 0; start < len(pending); start += ix.batchSize {
		end := min(start+ix.batchSize, len(pending))
		if err := ix.indexBatch(ctx, pending[start:end]); err != nil {
			return 0, fmt.Errorf("index batch %d-%d: %w", start, end, err)
		}
		log.Debug().Int("from", start).Int("to", end).Msg("Batch committed")
	}

	count, err := ix.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("index: %w", err)
	}
	log.Info().
		Int("embedded", len(pending)).
		Int("skipped", skipped).
		Int64("total", count).
		Msg("Indexing complete")
	return int(count), nil
}

func (ix *Indexer) indexBatch(ctx context.Context, batch []models.Document) error {
	texts := make([]string, len(batch))
	for i, doc := range batch {
		texts[i] = ix.truncate(doc.ID, doc.Text)
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
	}

	records := make([]sqlitevec.Record, len(batch))
	for i, doc := range batch {
		records[i] = sqlitevec.Record{
			DocID:    doc.ID,
			Vector:   vectors[i],
			Text:     doc.Text,
			Metadata: doc.Metadata,
		}
	}
	return ix.store.Add(ctx, records)
}

// truncate caps a text at the model token budget so one oversized record
// cannot blow the context window.
func (ix *Indexer) truncate(docID, text string) string {
	ids, _, err := ix.codec.Encode(text)
	if err != nil || len(ids) <= ix.maxTokens {
		return text
	}

	clipped, err := ix.codec.Decode(ids[:ix.maxTokens])
	if err != nil {
		return text
	}
	log.Warn().
		Str("docId", docID).
		Int("tokens", len(ids)).
		Int("budget", ix.maxTokens).
		Msg("Truncated oversized document")
	return clipped
}
