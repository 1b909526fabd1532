package usecase

import (
	"context"
	"fmt"

	"codesearch/internal/domain"
	"codesearch/internal/port"
)

// ContextExpander attaches the neighbouring chunks of the same file to a result.
type ContextExpander struct {
	store port.ChunkStore
}

func NewContextExpander(store port.ChunkStore) *ContextExpander {
	return &ContextExpander{store: store}
}

// Expand returns the chunk with the chunks directly above and below it in line
// order. Above is nil for the first chunk of a file and Below for the last.
func (e *ContextExpander) Expand(ctx context.Context, chunkID string) (domain.ChunkContext, error) {
	chunk, err := e.store.GetChunk(ctx, chunkID)
	if err != nil {
		return domain.ChunkContext{}, err
	}

	siblings, err := e.store.ChunksByFile(ctx, chunk.FilePath)
	if err != nil {
		return domain.ChunkContext{}, fmt.Errorf("failed to load chunks of %s: %w", chunk.FilePath, err)
	}

	result := domain.ChunkContext{Chunk: chunk}
	for i, c := range siblings {
		if c.ID != chunkID {
			continue
		}
		if i > 0 {
			above := siblings[i-1]
			result.Above = &above
		}
		if i+1 < len(siblings) {
			below := siblings[i+1]
			result.Below = &below
		}
		break
	}
	return result, nil
}
