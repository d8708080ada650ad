package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/taxon/pkg/similarity"
)

// DefaultHashDimensions is the vector size of the hashing backend.
const DefaultHashDimensions = 256

// Hash is a deterministic feature-hashing embedder: each token is hashed
// into one of D buckets with a sign bit, and the resulting bag-of-words
// vector is L2-normalized. Texts sharing vocabulary land close in cosine
// space, disjoint vocabularies land near-orthogonal. No model download,
// no network, byte-identical output across runs — the offline and test
// backend.
type Hash struct {
	dimensions int
}

var _ Embedder = (*Hash)(nil)

// NewHash creates a hashing embedder. dimensions <= 0 selects the default.
func NewHash(dimensions int) *Hash {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	log.Info().
		Str("model", "feature-hash").
		Str("device", "cpu").
		Int("dimensions", dimensions).
		Msg("Embedding backend ready")
	return &Hash{dimensions: dimensions}
}

// Embed generates one vector per input text.
func (h *Hash) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = h.embedOne(text)
	}
	return vectors, nil
}

func (h *Hash) embedOne(text string) []float32 {
	vec := make([]float32, h.dimensions)
	for _, token := range similarity.Tokenize(text) {
		hasher := fnv.New64a()
		hasher.Write([]byte(token))
		sum := hasher.Sum64()

		idx := int(sum % uint64(h.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// Dimensions returns the embedding vector size.
func (h *Hash) Dimensions() int { return h.dimensions }

// ModelVersion identifies the hashing scheme.
func (h *Hash) ModelVersion() string { return "hash/fnv64a-v1" }

// Device reports the compute device.
func (h *Hash) Device() string { return "cpu" }

// Close releases resources.
func (h *Hash) Close() error { return nil }
