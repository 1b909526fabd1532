package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"codesearch/internal/adapter/cache"
	"codesearch/internal/adapter/metrics"
	"codesearch/internal/domain"
	"codesearch/internal/port"
)

const defaultWorkers = 4

// IndexUseCase keeps the chunk store, vector store and text backend in step
// with the source files.
type IndexUseCase struct {
	chunker  port.Chunker
	chunks   port.ChunkStore
	vectors  port.VectorStore
	text     port.TextSearcher
	embedder port.Embedder
	cache    *cache.EmbeddingCache
	walker   port.FileWalker
	reader   port.FileReader

	workers  int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	progress func(done, total int)
}

// IndexDeps are the collaborators of an IndexUseCase. Cache may be nil.
type IndexDeps struct {
	Chunker  port.Chunker
	Chunks   port.ChunkStore
	Vectors  port.VectorStore
	Text     port.TextSearcher
	Embedder port.Embedder
	Cache    *cache.EmbeddingCache
	Walker   port.FileWalker
	Reader   port.FileReader
}

type IndexOption func(*IndexUseCase)

func WithWorkers(n int) IndexOption {
	return func(u *IndexUseCase) {
		if n > 0 {
			u.workers = n
		}
	}
}

func WithIndexLogger(l *slog.Logger) IndexOption {
	return func(u *IndexUseCase) { u.logger = l }
}

func WithIndexMetrics(m *metrics.Metrics) IndexOption {
	return func(u *IndexUseCase) { u.metrics = m }
}

func NewIndexUseCase(deps IndexDeps, opts ...IndexOption) *IndexUseCase {
	u := &IndexUseCase{
		chunker:  deps.Chunker,
		chunks:   deps.Chunks,
		vectors:  deps.Vectors,
		text:     deps.Text,
		embedder: deps.Embedder,
		cache:    deps.Cache,
		walker:   deps.Walker,
		reader:   deps.Reader,
		workers:  defaultWorkers,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// SetProgress registers a callback invoked after each file is processed.
// It must not be called while an index run is in progress.
func (u *IndexUseCase) SetProgress(fn func(done, total int)) {
	u.progress = fn
}

// IndexResult contains the results of an indexing operation.
type IndexResult struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesDeleted  int
	ChunksCreated int
	EmbedFailures int
	Errors        []string
}

func (r *IndexResult) merge(o *IndexResult) {
	r.FilesIndexed += o.FilesIndexed
	r.FilesSkipped += o.FilesSkipped
	r.FilesDeleted += o.FilesDeleted
	r.ChunksCreated += o.ChunksCreated
	r.EmbedFailures += o.EmbedFailures
	r.Errors = append(r.Errors, o.Errors...)
}

// IndexDir walks root, indexes every new or changed file and removes files
// that are no longer present. Paths are stored relative to root.
func (u *IndexUseCase) IndexDir(ctx context.Context, root string) (*IndexResult, error) {
	files, err := u.walker.Walk(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sources := make([]domain.SourceFile, 0, len(files))
	seen := make(map[string]bool, len(files))
	result := &IndexResult{}
	for _, f := range files {
		content, err := u.reader.ReadFile(f.Path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to read %s: %v", f.RelPath, err))
			continue
		}
		seen[f.RelPath] = true
		sources = append(sources, domain.SourceFile{Path: f.RelPath, Content: content})
	}

	indexed, err := u.Index(ctx, sources)
	if err != nil {
		return nil, err
	}
	result.merge(indexed)

	existing, err := u.chunks.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed files: %w", err)
	}
	var gone []string
	for _, rec := range existing {
		if !seen[rec.Path] {
			gone = append(gone, rec.Path)
		}
	}
	removed, err := u.Remove(ctx, gone)
	if err != nil {
		return nil, err
	}
	result.merge(removed)

	return result, nil
}

// Index processes sources on a bounded worker pool. Per-file failures are
// collected in the result; a model that cannot be loaded aborts the run.
func (u *IndexUseCase) Index(ctx context.Context, sources []domain.SourceFile) (*IndexResult, error) {
	result := &IndexResult{}
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)

	for _, src := range sources {
		g.Go(func() error {
			fileResult, err := u.indexFile(gctx, src)

			mu.Lock()
			defer mu.Unlock()
			done++
			if u.progress != nil {
				u.progress(done, len(sources))
			}

			var loadErr *domain.ModelLoadError
			if errors.As(err, &loadErr) {
				return err
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result.Errors = append(result.Errors, fmt.Sprintf("failed to index %s: %v", src.Path, err))
				return nil
			}
			result.merge(fileResult)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

func (u *IndexUseCase) indexFile(ctx context.Context, src domain.SourceFile) (*IndexResult, error) {
	hash := domain.ContentHash(src.Content)
	old, ok, err := u.chunks.FileHash(ctx, src.Path)
	if err != nil {
		return nil, err
	}
	if ok && old == hash {
		return &IndexResult{FilesSkipped: 1}, nil
	}

	chunks, err := u.chunker.Chunk(src.Path, src.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk: %w", err)
	}

	embedded, err := u.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	items := make([]domain.VectorItem, 0, len(chunks))
	failures := 0
	for i, r := range embedded {
		if r.Err != nil {
			var loadErr *domain.ModelLoadError
			if errors.As(r.Err, &loadErr) {
				return nil, r.Err
			}
			failures++
			u.logger.Warn("chunk left out of vector index", "path", src.Path,
				"start_line", chunks[i].StartLine, "error", r.Err)
			continue
		}
		c := chunks[i]
		items = append(items, domain.VectorItem{
			ChunkID:   c.ID,
			FilePath:  c.FilePath,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Vector:    r.Vector,
			Metadata:  map[string]string{"kind": string(c.Kind)},
		})
	}

	// The chunk store holds the file hash and must be written last.
	if err := u.vectors.DeleteByFile(ctx, src.Path); err != nil {
		return nil, err
	}
	if err := u.vectors.Upsert(ctx, items); err != nil {
		return nil, err
	}
	if err := u.text.IndexFile(ctx, src.Path, src.Content); err != nil {
		return nil, fmt.Errorf("failed to update text index: %w", err)
	}
	if err := u.chunks.ReplaceFile(ctx, src.Path, hash, chunks); err != nil {
		return nil, err
	}

	u.metrics.FileIndexed(len(chunks))
	u.logger.Debug("indexed file", "path", src.Path, "chunks", len(chunks), "vectors", len(items))
	return &IndexResult{FilesIndexed: 1, ChunksCreated: len(chunks), EmbedFailures: failures}, nil
}

// embed resolves chunk vectors through the cache, keyed by content hash.
func (u *IndexUseCase) embed(ctx context.Context, chunks []domain.Chunk) ([]domain.EmbedResult, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	keys := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		keys[i] = c.ContentHash
	}
	if u.cache == nil {
		return u.embedder.EmbedBatch(ctx, texts)
	}
	return u.cache.GetOrComputeBatch(ctx, keys, texts, u.embedder.EmbedBatch)
}

// Remove deletes paths from every store.
func (u *IndexUseCase) Remove(ctx context.Context, paths []string) (*IndexResult, error) {
	result := &IndexResult{}
	for _, path := range paths {
		err := errors.Join(
			u.chunks.DeleteFile(ctx, path),
			u.vectors.DeleteByFile(ctx, path),
			u.text.RemoveFile(ctx, path),
		)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete %s: %v", path, err))
			continue
		}
		result.FilesDeleted++
	}
	return result, nil
}

// ApplyChanges indexes changed files and removes deleted ones. A removed path
// that names a directory removes every indexed file below it.
func (u *IndexUseCase) ApplyChanges(ctx context.Context, changed []domain.SourceFile, removed []string) (*IndexResult, error) {
	result, err := u.Index(ctx, changed)
	if err != nil {
		return result, err
	}
	if len(removed) == 0 {
		return result, nil
	}

	existing, err := u.chunks.ListFiles(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list indexed files: %w", err)
	}
	var paths []string
	for _, rec := range existing {
		for _, r := range removed {
			if rec.Path == r || strings.HasPrefix(rec.Path, r+"/") {
				paths = append(paths, rec.Path)
				break
			}
		}
	}
	deleted, err := u.Remove(ctx, paths)
	if err != nil {
		return result, err
	}
	result.merge(deleted)
	return result, nil
}

// Clear empties the chunk store, the vector store, the text index and the
// embedding cache.
func (u *IndexUseCase) Clear(ctx context.Context) error {
	errs := []error{
		u.chunks.Clear(ctx),
		u.vectors.Clear(ctx),
		u.text.ClearIndex(ctx),
	}
	if u.cache != nil {
		errs = append(errs, u.cache.Clear())
	}
	return errors.Join(errs...)
}

// Stats reports what is currently indexed.
func (u *IndexUseCase) Stats(ctx context.Context) (domain.Stats, error) {
	stats, err := u.chunks.Stats(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	if stats.TotalVectors, err = u.vectors.Count(ctx); err != nil {
		return domain.Stats{}, err
	}
	if stats.TextDocs, err = u.text.DocCount(); err != nil {
		return domain.Stats{}, err
	}
	return stats, nil
}
