package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.etcd.io/bbolt"

	"codesearch/internal/domain"
)

var (
	bucketVectors     = []byte("vectors")
	bucketFileVectors = []byte("file_vectors")
)

const defaultCursorCacheSize = 64

// BoltVectorStore persists chunk vectors in bbolt and searches an in-memory
// mirror by brute force.
type BoltVectorStore struct {
	db        *bbolt.DB
	dimension int

	mu      sync.RWMutex
	vectors map[string]vectorEntry
	gen     uint64

	cursors *lru.Cache[string, *cursorState]
}

type vectorEntry struct {
	path      string
	startLine int
	endLine   int
	vector    []float32
	metadata  map[string]string
}

type storedVector struct {
	Path      string            `json:"p"`
	StartLine int               `json:"s"`
	EndLine   int               `json:"e"`
	Vector    []float32         `json:"v"`
	Metadata  map[string]string `json:"m,omitempty"`
}

// cursorState is a ranking computed once and paged through without rescanning.
type cursorState struct {
	gen     uint64
	matches []domain.VectorMatch
	offset  int
	k       int
}

func NewBoltVectorStore(db *bbolt.DB, dimension int) (*BoltVectorStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketVectors, bucketFileVectors} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &domain.VectorStoreError{Op: "init", Err: err}
	}

	cursors, err := lru.New[string, *cursorState](defaultCursorCacheSize)
	if err != nil {
		return nil, err
	}

	s := &BoltVectorStore{
		db:        db,
		dimension: dimension,
		vectors:   make(map[string]vectorEntry),
		cursors:   cursors,
	}
	if err := s.loadVectors(); err != nil {
		return nil, &domain.VectorStoreError{Op: "load", Err: err}
	}
	return s, nil
}

// loadVectors fills the in-memory mirror. Entries of another dimension are
// left over from a different model and are ignored.
func (s *BoltVectorStore) loadVectors() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil
			}
			if len(stored.Vector) != s.dimension {
				return nil
			}
			s.vectors[string(k)] = entryFromStored(stored)
			return nil
		})
	})
}

func entryFromStored(v storedVector) vectorEntry {
	return vectorEntry{
		path:      v.Path,
		startLine: v.StartLine,
		endLine:   v.EndLine,
		vector:    v.Vector,
		metadata:  v.Metadata,
	}
}

// Upsert writes items in one transaction. The in-memory mirror changes only
// after the commit succeeds.
func (s *BoltVectorStore) Upsert(ctx context.Context, items []domain.VectorItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, item := range items {
		if len(item.Vector) != s.dimension {
			return &domain.VectorStoreError{
				Op:  "upsert",
				Err: fmt.Errorf("%w: expected %d, got %d for %s", domain.ErrDimensionMismatch, s.dimension, len(item.Vector), item.ChunkID),
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]storedVector, len(items))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		vb := tx.Bucket(bucketVectors)
		fb := tx.Bucket(bucketFileVectors)

		byFile := make(map[string][]string)
		for _, item := range items {
			stored := storedVector{
				Path:      item.FilePath,
				StartLine: item.StartLine,
				EndLine:   item.EndLine,
				Vector:    item.Vector,
				Metadata:  item.Metadata,
			}
			data, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			if err := vb.Put([]byte(item.ChunkID), data); err != nil {
				return err
			}
			staged[item.ChunkID] = stored
			byFile[item.FilePath] = append(byFile[item.FilePath], item.ChunkID)
		}

		for path, ids := range byFile {
			existing, err := fileVectorIDs(fb, path)
			if err != nil {
				return err
			}
			merged := mergeIDs(existing, ids)
			data, err := json.Marshal(merged)
			if err != nil {
				return err
			}
			if err := fb.Put([]byte(path), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &domain.VectorStoreError{Op: "upsert", Err: err}
	}

	for id, stored := range staged {
		s.vectors[id] = entryFromStored(stored)
	}
	s.gen++
	return nil
}

func fileVectorIDs(b *bbolt.Bucket, path string) ([]string, error) {
	data := b.Get([]byte(path))
	if data == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func mergeIDs(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (s *BoltVectorStore) DeleteByFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		fb := tx.Bucket(bucketFileVectors)
		ids, err := fileVectorIDs(fb, path)
		if err != nil {
			return err
		}
		vb := tx.Bucket(bucketVectors)
		for _, id := range ids {
			if err := vb.Delete([]byte(id)); err != nil {
				return err
			}
		}
		removed = ids
		return fb.Delete([]byte(path))
	})
	if err != nil {
		return &domain.VectorStoreError{Op: "delete", Err: err}
	}

	for _, id := range removed {
		delete(s.vectors, id)
	}
	if len(removed) > 0 {
		s.gen++
	}
	return nil
}

// SimilaritySearch scores every stored vector against query by dot product.
// A non-empty q.Cursor continues a previous ranking; it expires as soon as the
// store is written to.
func (s *BoltVectorStore) SimilaritySearch(ctx context.Context, query []float32, k int, q domain.VectorQuery) (domain.VectorPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.VectorPage{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.Cursor != "" {
		state, ok := s.cursors.Get(q.Cursor)
		if !ok || state.gen != s.gen {
			s.cursors.Remove(q.Cursor)
			return domain.VectorPage{}, &domain.VectorStoreError{Op: "search", Err: domain.ErrCursorExpired}
		}
		if k <= 0 {
			k = state.k
		}
		return s.page(state.matches, state.offset, k), nil
	}

	if len(query) != s.dimension {
		return domain.VectorPage{}, &domain.VectorStoreError{
			Op:  "search",
			Err: fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, s.dimension, len(query)),
		}
	}
	if k <= 0 {
		return domain.VectorPage{}, nil
	}

	matches := make([]domain.VectorMatch, 0, len(s.vectors))
	for id, entry := range s.vectors {
		if !MatchesFilter(entry.path, q.Filter) {
			continue
		}
		score := Dot(query, entry.vector)
		if score < q.Filter.MinScore {
			continue
		}
		matches = append(matches, domain.VectorMatch{
			ChunkID:   id,
			FilePath:  entry.path,
			StartLine: entry.startLine,
			EndLine:   entry.endLine,
			Score:     score,
		})
	}

	SortMatches(matches)
	return s.page(matches, q.Offset, k), nil
}

// page slices one page out of a ranking and registers a cursor for the rest.
func (s *BoltVectorStore) page(matches []domain.VectorMatch, offset, k int) domain.VectorPage {
	if offset < 0 {
		offset = 0
	}
	if offset > len(matches) {
		offset = len(matches)
	}
	end := offset + k
	if end > len(matches) {
		end = len(matches)
	}

	out := domain.VectorPage{
		Matches: append([]domain.VectorMatch(nil), matches[offset:end]...),
		Total:   len(matches),
	}
	if end < len(matches) {
		token := uuid.NewString()
		s.cursors.Add(token, &cursorState{gen: s.gen, matches: matches, offset: end, k: k})
		out.NextCursor = token
	}
	return out
}

// SortMatches orders matches by score, then path, then start line.
func SortMatches(matches []domain.VectorMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].FilePath != matches[j].FilePath {
			return matches[i].FilePath < matches[j].FilePath
		}
		return matches[i].StartLine < matches[j].StartLine
	})
}

// MatchesFilter applies the path filters of f. MinScore is checked by the caller.
func MatchesFilter(path string, f domain.VectorFilter) bool {
	slashed := filepath.ToSlash(path)
	if f.PathPrefix != "" && !strings.HasPrefix(slashed, filepath.ToSlash(f.PathPrefix)) {
		return false
	}
	if f.PathGlob != "" {
		ok, err := doublestar.Match(f.PathGlob, slashed)
		if err != nil || !ok {
			return false
		}
	}
	if len(f.FileTypes) > 0 && !HasFileType(slashed, f.FileTypes) {
		return false
	}
	return true
}

// HasFileType reports whether the extension of path is one of types. Types may
// be given with or without the leading dot.
func HasFileType(path string, types []string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, t := range types {
		if strings.ToLower(strings.TrimPrefix(t, ".")) == ext {
			return true
		}
	}
	return false
}

func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func (s *BoltVectorStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

func (s *BoltVectorStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketVectors, bucketFileVectors} {
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &domain.VectorStoreError{Op: "clear", Err: err}
	}

	s.vectors = make(map[string]vectorEntry)
	s.cursors.Purge()
	s.gen++
	return nil
}
