package retriever

import (
	"context"
	"fmt"

	"codesearch/internal/domain"
	"codesearch/internal/port"
)

type SemanticRetriever struct {
	vectorStore port.VectorStore
	embedder    port.Embedder
}

func NewSemanticRetriever(vectorStore port.VectorStore, embedder port.Embedder) *SemanticRetriever {
	return &SemanticRetriever{
		vectorStore: vectorStore,
		embedder:    embedder,
	}
}

// Search embeds the query and returns the k nearest chunks as semantic hits.
// Embedder errors, including *domain.ModelLoadError, are returned unchanged
// so the caller can decide to degrade.
func (r *SemanticRetriever) Search(ctx context.Context, query string, k int, filter domain.VectorFilter) ([]domain.SearchHit, error) {
	if r.vectorStore == nil || r.embedder == nil {
		return nil, fmt.Errorf("semantic search not available: embeddings not configured")
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	page, err := r.vectorStore.SimilaritySearch(ctx, vec, k, domain.VectorQuery{Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits := make([]domain.SearchHit, 0, len(page.Matches))
	for _, m := range page.Matches {
		hits = append(hits, domain.SearchHit{
			ChunkID:      m.ChunkID,
			FilePath:     m.FilePath,
			StartLine:    m.StartLine,
			EndLine:      m.EndLine,
			Score:        m.Score,
			Source:       domain.SourceSemantic,
			MatchedSpans: []domain.LineRange{{Start: m.StartLine, End: m.EndLine}},
			Coverage:     1,
		})
	}
	return hits, nil
}
