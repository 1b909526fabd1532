package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"codesearch/internal/domain"
)

var errCorruptEntry = errors.New("corrupt cache entry")

// DiskTier persists embeddings in a bbolt file, one bucket per model and
// dimension. Only keys are read at open; vectors are decoded on demand.
type DiskTier struct {
	db     *bbolt.DB
	bucket []byte
	dim    int
	logger *slog.Logger

	mu    sync.RWMutex
	index map[string]struct{}
}

// OpenDiskTier opens or creates the cache file at path for model at dimension dim.
func OpenDiskTier(path, model string, dim int, logger *slog.Logger) (*DiskTier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}

	d := &DiskTier{
		db:     db,
		bucket: []byte(fmt.Sprintf("%s@%d", model, dim)),
		dim:    dim,
		logger: logger,
		index:  make(map[string]struct{}),
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(d.bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	if err := d.loadIndex(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

func (d *DiskTier) loadIndex() error {
	return d.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(d.bucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			d.index[string(k)] = struct{}{}
		}
		return nil
	})
}

// Has reports whether key is indexed on disk.
func (d *DiskTier) Has(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.index[key]
	return ok
}

// Get loads and validates the vector for key. A corrupt entry is removed and
// reported as a miss.
func (d *DiskTier) Get(key string) ([]float32, bool, error) {
	if !d.Has(key) {
		return nil, false, nil
	}

	var vec []float32
	var decodeErr error
	err := d.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(d.bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		vec, decodeErr = decodeVector(data, d.dim)
		return nil
	})
	if err != nil {
		return nil, false, &domain.CacheIOError{Op: "read", Key: key, Err: err}
	}

	if decodeErr != nil {
		d.logger.Warn("skipping corrupt embedding cache entry", "key", key, "error", decodeErr)
		d.drop(key)
		return nil, false, nil
	}
	if vec == nil {
		d.mu.Lock()
		delete(d.index, key)
		d.mu.Unlock()
		return nil, false, nil
	}
	return vec, true, nil
}

// Put writes the vector for key.
func (d *DiskTier) Put(key string, vec []float32) error {
	if len(vec) != d.dim {
		return &domain.CacheIOError{Op: "write", Key: key, Err: domain.ErrDimensionMismatch}
	}
	err := d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(d.bucket).Put([]byte(key), encodeVector(vec))
	})
	if err != nil {
		return &domain.CacheIOError{Op: "write", Key: key, Err: err}
	}

	d.mu.Lock()
	d.index[key] = struct{}{}
	d.mu.Unlock()
	return nil
}

func (d *DiskTier) drop(key string) {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(d.bucket).Delete([]byte(key))
	})
	if err != nil {
		d.logger.Warn("failed to delete corrupt cache entry", "key", key, "error", err)
	}
	d.mu.Lock()
	delete(d.index, key)
	d.mu.Unlock()
}

// Len returns the number of indexed entries.
func (d *DiskTier) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.index)
}

// Clear removes every entry of this model.
func (d *DiskTier) Clear() error {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(d.bucket); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(d.bucket)
		return err
	})
	if err != nil {
		return &domain.CacheIOError{Op: "clear", Err: err}
	}
	d.mu.Lock()
	d.index = make(map[string]struct{})
	d.mu.Unlock()
	return nil
}

func (d *DiskTier) Close() error {
	return d.db.Close()
}

// Entry layout: uint32 dim | dim x float32 | uint32 crc32 of the preceding bytes. Little endian.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4+4*len(vec)+4)
	binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(f))
	}
	body := buf[:len(buf)-4]
	binary.LittleEndian.PutUint32(buf[len(buf)-4:], crc32.ChecksumIEEE(body))
	return buf
}

func decodeVector(data []byte, dim int) ([]float32, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes", errCorruptEntry, len(data))
	}
	body := data[:len(data)-4]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(data[len(data)-4:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", errCorruptEntry)
	}
	n := int(binary.LittleEndian.Uint32(body))
	if n != dim || len(body) != 4+4*n {
		return nil, fmt.Errorf("%w: dimension %d, want %d", errCorruptEntry, n, dim)
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4+4*i:]))
	}
	return vec, nil
}
