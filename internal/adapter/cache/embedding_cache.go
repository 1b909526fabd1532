package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"codesearch/internal/adapter/metrics"
	"codesearch/internal/domain"
	"codesearch/internal/port"
)

// DefaultCapacity is the number of embeddings kept in memory at low pressure.
const DefaultCapacity = 10000

// ComputeFunc produces the embedding for one key.
type ComputeFunc func(ctx context.Context) ([]float32, error)

// BatchComputeFunc produces one result per text.
type BatchComputeFunc func(ctx context.Context, texts []string) ([]domain.EmbedResult, error)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	DiskHits    uint64
	Entries     int
	Ceiling     int
	Capacity    int
	DiskEntries int
	Pressure    port.PressureLevel
}

// EmbeddingCache is a content-addressed LRU in front of an embedder. Entries
// evicted from memory stay on disk. Concurrent requests for the same key share
// one computation.
type EmbeddingCache struct {
	mu       sync.Mutex
	hot      *lru.Cache[string, []float32]
	base     int
	ceiling  int
	pressure port.PressureLevel

	disk    *DiskTier
	flights flightGroup
	logger  *slog.Logger
	metrics *metrics.Metrics

	hits     atomic.Uint64
	misses   atomic.Uint64
	diskHits atomic.Uint64
}

// Option configures an EmbeddingCache.
type Option func(*EmbeddingCache)

// WithDisk enables write-through persistence.
func WithDisk(d *DiskTier) Option {
	return func(c *EmbeddingCache) { c.disk = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *EmbeddingCache) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *EmbeddingCache) { c.metrics = m }
}

func NewEmbeddingCache(capacity int, opts ...Option) (*EmbeddingCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	hot, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, err
	}

	c := &EmbeddingCache{
		hot:     hot,
		base:    capacity,
		ceiling: capacity,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.SetCacheCeiling(capacity)
	return c, nil
}

// Get returns a copy of the cached vector, consulting disk on a memory miss.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	if v, ok := c.hot.Get(key); ok {
		c.hits.Add(1)
		c.metrics.CacheHit()
		return clone(v), true
	}

	if c.disk != nil {
		v, ok, err := c.disk.Get(key)
		if err != nil {
			c.logger.Warn("embedding cache read failed", "key", key, "error", err)
		}
		if ok {
			c.diskHits.Add(1)
			c.metrics.CacheDiskHit()
			c.add(key, v)
			return clone(v), true
		}
	}

	c.misses.Add(1)
	c.metrics.CacheMiss()
	return nil, false
}

// Put stores a vector in memory and on disk. Disk failures are logged and absorbed.
func (c *EmbeddingCache) Put(key string, v []float32) {
	v = clone(v)
	c.add(key, v)
	if c.disk != nil {
		if err := c.disk.Put(key, v); err != nil {
			c.logger.Warn("embedding cache write failed", "key", key, "error", err)
		}
	}
}

// add inserts into the hot tier, evicting least recently used entries down to the ceiling.
func (c *EmbeddingCache) add(key string, v []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hot.Contains(key) {
		c.hot.Add(key, v)
		return
	}
	for c.hot.Len() >= c.ceiling {
		if _, _, ok := c.hot.RemoveOldest(); !ok {
			break
		}
	}
	c.hot.Add(key, v)
}

// claim registers the caller for key. A computation may have stored key
// between the caller's miss and its claim; then the stored vector is returned
// as a hit and no flight is left open.
func (c *EmbeddingCache) claim(key string) (v []float32, hit bool, fl *call, owner bool) {
	fl, owner = c.flights.claim(key)
	if !owner {
		return nil, false, fl, false
	}
	if cached, ok := c.hot.Peek(key); ok {
		c.flights.finish(key, fl, cached, nil)
		return cached, true, nil, false
	}
	return nil, false, fl, true
}

// GetOrCompute returns the cached vector for key or computes it. At most one
// compute runs per key; other callers wait for its result.
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) ([]float32, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, hit, fl, owner := c.claim(key)
	if hit {
		return clone(v), nil
	}
	if !owner {
		v, err := fl.wait(ctx)
		return clone(v), err
	}

	v, err := compute(ctx)
	if err == nil {
		c.Put(key, v)
	}
	c.flights.finish(key, fl, v, err)
	return clone(v), err
}

// GetOrComputeBatch resolves keys[i] (the hash of texts[i]) from the cache and
// computes all misses this caller owns in one call to compute. Keys already
// being computed elsewhere are awaited. Per-item failures are returned in
// place and not cached.
func (c *EmbeddingCache) GetOrComputeBatch(ctx context.Context, keys, texts []string, compute BatchComputeFunc) ([]domain.EmbedResult, error) {
	if len(keys) != len(texts) {
		return nil, errors.New("keys and texts length mismatch")
	}

	results := make([]domain.EmbedResult, len(keys))

	type owned struct {
		idx  int
		call *call
	}
	var mine []owned
	var waits []owned

	for i, key := range keys {
		if v, ok := c.Get(key); ok {
			results[i] = domain.EmbedResult{Vector: v}
			continue
		}
		v, hit, fl, owner := c.claim(key)
		if hit {
			results[i] = domain.EmbedResult{Vector: clone(v)}
			continue
		}
		if owner {
			mine = append(mine, owned{idx: i, call: fl})
		} else {
			waits = append(waits, owned{idx: i, call: fl})
		}
	}

	if len(mine) > 0 {
		batch := make([]string, len(mine))
		for j, m := range mine {
			batch[j] = texts[m.idx]
		}

		computed, err := compute(ctx, batch)
		if err == nil && len(computed) != len(batch) {
			err = errors.New("compute returned wrong number of results")
		}
		if err != nil {
			for _, m := range mine {
				c.flights.finish(keys[m.idx], m.call, nil, err)
			}
			return nil, err
		}

		for j, m := range mine {
			r := computed[j]
			if r.Err == nil {
				c.Put(keys[m.idx], r.Vector)
			}
			c.flights.finish(keys[m.idx], m.call, r.Vector, r.Err)
			results[m.idx] = r
		}
	}

	for _, w := range waits {
		v, err := w.call.wait(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, err
		}
		results[w.idx] = domain.EmbedResult{Vector: clone(v), Err: err}
	}

	return results, nil
}

// SetPressure adjusts the memory ceiling to the level's share of the base
// capacity. Lowering it evicts nothing immediately; later insertions do.
func (c *EmbeddingCache) SetPressure(level port.PressureLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ceiling := int(float64(c.base) * level.Multiplier())
	if ceiling < 1 {
		ceiling = 1
	}
	if ceiling != c.ceiling {
		c.logger.Info("embedding cache ceiling changed", "pressure", level.String(), "from", c.ceiling, "to", ceiling)
	}
	c.ceiling = ceiling
	c.pressure = level
	c.metrics.SetCacheCeiling(ceiling)
}

// Clear empties memory and disk.
func (c *EmbeddingCache) Clear() error {
	c.hot.Purge()
	if c.disk != nil {
		return c.disk.Clear()
	}
	return nil
}

func (c *EmbeddingCache) Len() int {
	return c.hot.Len()
}

func (c *EmbeddingCache) Stats() Stats {
	c.mu.Lock()
	ceiling, pressure := c.ceiling, c.pressure
	c.mu.Unlock()

	s := Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		DiskHits: c.diskHits.Load(),
		Entries:  c.hot.Len(),
		Ceiling:  ceiling,
		Capacity: c.base,
		Pressure: pressure,
	}
	if c.disk != nil {
		s.DiskEntries = c.disk.Len()
	}
	return s
}

func (c *EmbeddingCache) Close() error {
	if c.disk != nil {
		return c.disk.Close()
	}
	return nil
}

func clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
