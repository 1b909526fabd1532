package port

import (
	"context"

	"codesearch/internal/domain"
)

// Embedder generates L2-normalized vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for the given texts.
	// Returns one result per input text; a failed item carries its error
	// instead of a vector. The returned error is reserved for failures that
	// affect the whole call, such as a model that cannot be loaded.
	EmbedBatch(ctx context.Context, texts []string) ([]domain.EmbedResult, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorStore stores and searches embedding vectors.
type VectorStore interface {
	// Upsert adds or replaces vectors in the store.
	Upsert(ctx context.Context, items []domain.VectorItem) error

	// SimilaritySearch ranks stored vectors against query and returns one page of at most k matches.
	SimilaritySearch(ctx context.Context, query []float32, k int, q domain.VectorQuery) (domain.VectorPage, error)

	// DeleteByFile removes every vector belonging to path.
	DeleteByFile(ctx context.Context, path string) error

	// Count returns the number of vectors in the store.
	Count(ctx context.Context) (int, error)

	// Clear removes all vectors.
	Clear(ctx context.Context) error
}
