package port

import (
	"context"

	"codesearch/internal/domain"
)

type BackendKind string

const (
	BackendAuto       BackendKind = "auto"
	BackendIndexed    BackendKind = "indexed"
	BackendFilesystem BackendKind = "filesystem"
)

// TextSearcher is a lexical search backend. Hits are line-level; ChunkID is left empty.
type TextSearcher interface {
	Search(ctx context.Context, q domain.TextQuery) ([]domain.SearchHit, error)

	// IndexFile is idempotent: unchanged content is a no-op.
	IndexFile(ctx context.Context, path, content string) error

	RemoveFile(ctx context.Context, path string) error

	ClearIndex(ctx context.Context) error

	// DocCount reports the number of indexed documents, zero for stateless backends.
	DocCount() (uint64, error)

	Kind() BackendKind

	Close() error
}
