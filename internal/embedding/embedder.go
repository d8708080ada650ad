// Package embedding provides text embedding backends for taxon.
package embedding

import "context"

// Embedder generates fixed-length vector embeddings from text.
// Implementations choose their compute device once at construction and
// never change it per batch.
type Embedder interface {
	// Embed generates one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size fixed by the model.
	Dimensions() int

	// ModelVersion identifies the model producing the vectors. Persisted
	// alongside vectors so a model swap can be detected.
	ModelVersion() string

	// Device reports the compute device selected at construction
	// ("gpu" or "cpu").
	Device() string

	// Close releases resources.
	Close() error
}
