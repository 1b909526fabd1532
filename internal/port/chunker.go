package port

import "codesearch/internal/domain"

// Chunker splits file content into line-bounded chunks.
type Chunker interface {
	Chunk(path, content string) ([]domain.Chunk, error)
}
