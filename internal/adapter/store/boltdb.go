package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"codesearch/internal/domain"
)

var (
	bucketChunks     = []byte("chunks")
	bucketFileChunks = []byte("file_chunks")
	bucketFiles      = []byte("files")
	bucketMeta       = []byte("meta")
)

// BoltStore keeps chunks and per-file records in a bbolt database. The same
// *bbolt.DB is shared with BoltVectorStore.
type BoltStore struct {
	db  *bbolt.DB
	gen atomic.Uint64
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketChunks, bucketFileChunks, bucketFiles, bucketMeta}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

// ReplaceFile deletes every chunk previously stored for path and inserts
// chunks, all in one transaction.
func (s *BoltStore) ReplaceFile(ctx context.Context, path, hash string, chunks []domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteFileTx(tx, path); err != nil {
			return err
		}

		cb := tx.Bucket(bucketChunks)
		ids := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			data, err := json.Marshal(chunk)
			if err != nil {
				return err
			}
			if err := cb.Put([]byte(chunk.ID), data); err != nil {
				return err
			}
			ids = append(ids, chunk.ID)
		}

		idData, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketFileChunks).Put([]byte(path), idData); err != nil {
			return err
		}

		rec, err := json.Marshal(domain.FileRecord{
			Path:      path,
			Hash:      hash,
			Chunks:    len(chunks),
			IndexedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFiles).Put([]byte(path), rec)
	})
	if err != nil {
		return fmt.Errorf("failed to replace chunks of %s: %w", path, err)
	}
	s.gen.Add(1)
	return nil
}

func deleteFileTx(tx *bbolt.Tx, path string) error {
	fcb := tx.Bucket(bucketFileChunks)
	data := fcb.Get([]byte(path))
	if data != nil {
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}
		cb := tx.Bucket(bucketChunks)
		for _, id := range ids {
			if err := cb.Delete([]byte(id)); err != nil {
				return err
			}
		}
		if err := fcb.Delete([]byte(path)); err != nil {
			return err
		}
	}
	return tx.Bucket(bucketFiles).Delete([]byte(path))
}

func (s *BoltStore) DeleteFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return deleteFileTx(tx, path)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	s.gen.Add(1)
	return nil
}

func (s *BoltStore) GetChunk(_ context.Context, id string) (domain.Chunk, error) {
	var chunk domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChunks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
		}
		return json.Unmarshal(data, &chunk)
	})
	return chunk, err
}

func (s *BoltStore) ChunksByFile(_ context.Context, path string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFileChunks).Get([]byte(path))
		if data == nil {
			return nil
		}
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}

		cb := tx.Bucket(bucketChunks)
		for _, id := range ids {
			raw := cb.Get([]byte(id))
			if raw == nil {
				continue
			}
			var chunk domain.Chunk
			if err := json.Unmarshal(raw, &chunk); err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	SortByLine(chunks)
	return chunks, nil
}

func (s *BoltStore) ChunkAt(ctx context.Context, path string, line int) (domain.Chunk, error) {
	chunks, err := s.ChunksByFile(ctx, path)
	if err != nil {
		return domain.Chunk{}, err
	}
	return NarrowestAt(chunks, path, line)
}

func (s *BoltStore) FileHash(_ context.Context, path string) (string, bool, error) {
	var hash string
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(path))
		if data == nil {
			return nil
		}
		var rec domain.FileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		hash, found = rec.Hash, true
		return nil
	})
	return hash, found, err
}

func (s *BoltStore) ListFiles(_ context.Context) ([]domain.FileRecord, error) {
	var files []domain.FileRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			var rec domain.FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			files = append(files, rec)
			return nil
		})
	})
	return files, err
}

func (s *BoltStore) Stats(_ context.Context) (domain.Stats, error) {
	var stats domain.Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.TotalFiles = tx.Bucket(bucketFiles).Stats().KeyN
		stats.TotalChunks = tx.Bucket(bucketChunks).Stats().KeyN
		return nil
	})
	return stats, err
}

// Clear removes all chunks and file records. Schema info is kept.
func (s *BoltStore) Clear(_ context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChunks, bucketFileChunks, bucketFiles} {
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
		return fmt.Errorf("failed to clear chunk store: %w", err)
	}
	s.gen.Add(1)
	return nil
}

func (s *BoltStore) Generation() uint64 {
	return s.gen.Load()
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SortByLine orders chunks by start line, then end line.
func SortByLine(chunks []domain.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].StartLine != chunks[j].StartLine {
			return chunks[i].StartLine < chunks[j].StartLine
		}
		return chunks[i].EndLine < chunks[j].EndLine
	})
}

// NarrowestAt picks the smallest chunk covering line from chunks sorted by line.
func NarrowestAt(chunks []domain.Chunk, path string, line int) (domain.Chunk, error) {
	best := -1
	for i, c := range chunks {
		if !c.Contains(line) {
			continue
		}
		if best < 0 || c.EndLine-c.StartLine < chunks[best].EndLine-chunks[best].StartLine {
			best = i
		}
	}
	if best < 0 {
		return domain.Chunk{}, fmt.Errorf("no chunk at %s:%d: %w", path, line, domain.ErrNotFound)
	}
	return chunks[best], nil
}
