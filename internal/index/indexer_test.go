package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/taxon/internal/embedding"
	"github.com/thebtf/taxon/internal/vector/sqlitevec"
	"github.com/thebtf/taxon/pkg/models"
)

// countingEmbedder wraps the hash embedder and records how many texts it
// was asked to embed.
type countingEmbedder struct {
	*embedding.Hash
	embedded int
	failAt   int // fail when embedded would exceed this; 0 = never
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.failAt > 0 && c.embedded+len(texts) > c.failAt {
		return nil, errors.New("embedder unavailable")
	}
	c.embedded += len(texts)
	return c.Hash.Embed(ctx, texts)
}

func testIndexer(t *testing.T, opts Options) (*Indexer, *sqlitevec.Client, *countingEmbedder) {
	t.Helper()

	store, err := sqlitevec.Open(filepath.Join(t.TempDir(), "vectors.db"), "hash/fnv64a-v1")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	emb := &countingEmbedder{Hash: embedding.NewHash(64)}
	ix, err := New(store, emb, opts)
	require.NoError(t, err)

	return ix, store, emb
}

func docs(ids ...string) []models.Document {
	out := make([]models.Document, len(ids))
	for i, id := range ids {
		out[i] = models.Document{ID: id, Text: "Issue: broken " + id + " | Resolution: fixed"}
	}
	return out
}

func TestIndex_EmbedsAll(t *testing.T) {
	ix, store, emb := testIndexer(t, Options{})

	count, err := ix.Index(context.Background(), docs("a", "b", "c"), false)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, emb.embedded)

	stored, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored)
}

func TestIndex_Idempotent(t *testing.T) {
	ix, _, emb := testIndexer(t, Options{})
	corpus := docs("a", "b", "c")

	first, err := ix.Index(context.Background(), corpus, false)
	require.NoError(t, err)

	second, err := ix.Index(context.Background(), corpus, false)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 3, emb.embedded, "second call must not re-embed")
}

func TestIndex_SkipsEmptyText(t *testing.T) {
	ix, _, emb := testIndexer(t, Options{})

	corpus := append(docs("a", "b"), models.Document{ID: "empty", Text: "   "})
	count, err := ix.Index(context.Background(), corpus, false)
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, 2, emb.embedded)
}

func TestIndex_ResumesAfterPartialRun(t *testing.T) {
	ix, store, emb := testIndexer(t, Options{BatchSize: 2})
	corpus := docs("a", "b", "c", "d", "e")

	// First batch succeeds, second fails: the two committed vectors stay
	emb.failAt = 2
	_, err := ix.Index(context.Background(), corpus, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index batch")

	stored, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored)

	// Re-run embeds only the remaining three
	emb.failAt = 0
	count, err := ix.Index(context.Background(), corpus, false)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, 5, emb.embedded)
}

func TestIndex_ForceReindex(t *testing.T) {
	ix, store, _ := testIndexer(t, Options{})
	ctx := context.Background()

	corpus := docs("a", "b", "c")
	_, err := ix.Index(ctx, corpus, false)
	require.NoError(t, err)

	before, err := store.All(ctx)
	require.NoError(t, err)

	// Mutate one document's text and force a rebuild
	corpus[1].Text = "Issue: totally different failure mode on the core switch"
	count, err := ix.Index(ctx, corpus, true)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "total vector count unchanged")

	after, err := store.All(ctx)
	require.NoError(t, err)

	vecByID := func(recs []sqlitevec.Record, id string) []float32 {
		for _, r := range recs {
			if r.DocID == id {
				return r.Vector
			}
		}
		return nil
	}
	assert.NotEqual(t, vecByID(before, "b"), vecByID(after, "b"), "mutated doc re-embedded")
	assert.Equal(t, vecByID(before, "a"), vecByID(after, "a"), "unchanged doc unchanged")
}

func TestIndex_BatchesSequentially(t *testing.T) {
	ix, _, emb := testIndexer(t, Options{BatchSize: 2})

	count, err := ix.Index(context.Background(), docs("a", "b", "c", "d", "e"), false)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, 5, emb.embedded)
}
