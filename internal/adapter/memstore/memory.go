package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"codesearch/internal/adapter/store"
	"codesearch/internal/domain"
)

// MemoryStore is a ChunkStore held entirely in memory.
type MemoryStore struct {
	mu         sync.RWMutex
	chunks     map[string]domain.Chunk
	fileChunks map[string][]string
	files      map[string]domain.FileRecord
	gen        uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks:     make(map[string]domain.Chunk),
		fileChunks: make(map[string][]string),
		files:      make(map[string]domain.FileRecord),
	}
}

func (s *MemoryStore) ReplaceFile(_ context.Context, path, hash string, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(path)
	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		s.chunks[chunk.ID] = chunk
		ids = append(ids, chunk.ID)
	}
	s.fileChunks[path] = ids
	s.files[path] = domain.FileRecord{Path: path, Hash: hash, Chunks: len(chunks), IndexedAt: time.Now().UTC()}
	s.gen++
	return nil
}

func (s *MemoryStore) deleteLocked(path string) {
	for _, id := range s.fileChunks[path] {
		delete(s.chunks, id)
	}
	delete(s.fileChunks, path)
	delete(s.files, path)
}

func (s *MemoryStore) DeleteFile(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(path)
	s.gen++
	return nil
}

func (s *MemoryStore) GetChunk(_ context.Context, id string) (domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunk, ok := s.chunks[id]
	if !ok {
		return domain.Chunk{}, fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}
	return chunk, nil
}

func (s *MemoryStore) ChunksByFile(_ context.Context, path string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.fileChunks[path]
	chunks := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := s.chunks[id]; ok {
			chunks = append(chunks, chunk)
		}
	}
	store.SortByLine(chunks)
	return chunks, nil
}

func (s *MemoryStore) ChunkAt(ctx context.Context, path string, line int) (domain.Chunk, error) {
	chunks, err := s.ChunksByFile(ctx, path)
	if err != nil {
		return domain.Chunk{}, err
	}
	return store.NarrowestAt(chunks, path, line)
}

func (s *MemoryStore) FileHash(_ context.Context, path string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[path]
	return rec.Hash, ok, nil
}

func (s *MemoryStore) ListFiles(_ context.Context) ([]domain.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := make([]domain.FileRecord, 0, len(s.files))
	for _, rec := range s.files {
		files = append(files, rec)
	}
	return files, nil
}

func (s *MemoryStore) Stats(_ context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Stats{TotalFiles: len(s.files), TotalChunks: len(s.chunks)}, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[string]domain.Chunk)
	s.fileChunks = make(map[string][]string)
	s.files = make(map[string]domain.FileRecord)
	s.gen++
	return nil
}

func (s *MemoryStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *MemoryStore) Close() error {
	return nil
}

// VectorStore is a brute-force VectorStore held in memory.
type VectorStore struct {
	dimension int

	mu      sync.RWMutex
	items   map[string]domain.VectorItem
	byFile  map[string][]string
	gen     uint64
	cursors *lru.Cache[string, cursor]
}

type cursor struct {
	gen     uint64
	matches []domain.VectorMatch
	offset  int
	k       int
}

func NewVectorStore(dimension int) *VectorStore {
	cursors, _ := lru.New[string, cursor](64)
	return &VectorStore{
		dimension: dimension,
		items:     make(map[string]domain.VectorItem),
		byFile:    make(map[string][]string),
		cursors:   cursors,
	}
}

func (v *VectorStore) Upsert(_ context.Context, items []domain.VectorItem) error {
	for _, item := range items {
		if len(item.Vector) != v.dimension {
			return &domain.VectorStoreError{Op: "upsert", Err: domain.ErrDimensionMismatch}
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, item := range items {
		if _, exists := v.items[item.ChunkID]; !exists {
			v.byFile[item.FilePath] = append(v.byFile[item.FilePath], item.ChunkID)
		}
		v.items[item.ChunkID] = item
	}
	v.gen++
	return nil
}

func (v *VectorStore) DeleteByFile(_ context.Context, path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range v.byFile[path] {
		delete(v.items, id)
	}
	delete(v.byFile, path)
	v.gen++
	return nil
}

func (v *VectorStore) SimilaritySearch(_ context.Context, query []float32, k int, q domain.VectorQuery) (domain.VectorPage, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if q.Cursor != "" {
		c, ok := v.cursors.Get(q.Cursor)
		if !ok || c.gen != v.gen {
			return domain.VectorPage{}, &domain.VectorStoreError{Op: "search", Err: domain.ErrCursorExpired}
		}
		if k <= 0 {
			k = c.k
		}
		return v.page(c.matches, c.offset, k), nil
	}
	if len(query) != v.dimension {
		return domain.VectorPage{}, &domain.VectorStoreError{Op: "search", Err: domain.ErrDimensionMismatch}
	}
	if k <= 0 {
		return domain.VectorPage{}, nil
	}

	var matches []domain.VectorMatch
	for id, item := range v.items {
		if !store.MatchesFilter(item.FilePath, q.Filter) {
			continue
		}
		score := store.Dot(query, item.Vector)
		if score < q.Filter.MinScore {
			continue
		}
		matches = append(matches, domain.VectorMatch{
			ChunkID:   id,
			FilePath:  item.FilePath,
			StartLine: item.StartLine,
			EndLine:   item.EndLine,
			Score:     score,
		})
	}
	store.SortMatches(matches)
	return v.page(matches, q.Offset, k), nil
}

func (v *VectorStore) page(matches []domain.VectorMatch, offset, k int) domain.VectorPage {
	offset = max(0, min(offset, len(matches)))
	end := min(offset+k, len(matches))

	out := domain.VectorPage{
		Matches: append([]domain.VectorMatch(nil), matches[offset:end]...),
		Total:   len(matches),
	}
	if end < len(matches) {
		token := uuid.NewString()
		v.cursors.Add(token, cursor{gen: v.gen, matches: matches, offset: end, k: k})
		out.NextCursor = token
	}
	return out
}

func (v *VectorStore) Count(_ context.Context) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.items), nil
}

func (v *VectorStore) Clear(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = make(map[string]domain.VectorItem)
	v.byFile = make(map[string][]string)
	v.cursors.Purge()
	v.gen++
	return nil
}
