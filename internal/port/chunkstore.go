package port

import (
	"context"

	"codesearch/internal/domain"
)

// ChunkStore persists chunks grouped by file.
type ChunkStore interface {
	// ReplaceFile deletes every chunk of path and inserts chunks in one transaction.
	ReplaceFile(ctx context.Context, path, hash string, chunks []domain.Chunk) error

	DeleteFile(ctx context.Context, path string) error

	GetChunk(ctx context.Context, id string) (domain.Chunk, error)

	// ChunksByFile returns the chunks of path ordered by start line.
	ChunksByFile(ctx context.Context, path string) ([]domain.Chunk, error)

	// ChunkAt returns the chunk of path covering line, preferring the narrowest one.
	ChunkAt(ctx context.Context, path string, line int) (domain.Chunk, error)

	// FileHash returns the content hash recorded for path.
	FileHash(ctx context.Context, path string) (string, bool, error)

	ListFiles(ctx context.Context) ([]domain.FileRecord, error)

	Stats(ctx context.Context) (domain.Stats, error)

	Clear(ctx context.Context) error

	// Generation increases on every write.
	Generation() uint64
}
