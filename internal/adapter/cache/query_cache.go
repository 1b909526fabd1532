package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"codesearch/internal/domain"
	"codesearch/internal/port"
)

// QueryCache holds recent query responses. Entries expire after the TTL or
// when the index generation they were computed against is no longer current.
type QueryCache struct {
	entries *lru.Cache[string, *cacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	response  domain.QueryResponse
	timestamp time.Time
	indexGen  uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	entries, _ := lru.New[string, *cacheEntry](maxSize)
	return &QueryCache{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(query string, opts domain.QueryOptions) string {
	fileTypes := append([]string(nil), opts.FileTypes...)
	sort.Strings(fileTypes)

	threshold := "default"
	if opts.ScoreThreshold != nil {
		threshold = fmt.Sprintf("%g", *opts.ScoreThreshold)
	}

	data := fmt.Sprintf("%s\x00%d\x00%s\x00%s\x00%s\x00%t",
		query, opts.MaxResults, threshold, strings.Join(fileTypes, ","), opts.PathGlob, opts.Fuzzy)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}

// Get returns the response cached for query and opts if it is still valid at generation gen.
func (c *QueryCache) Get(query string, opts domain.QueryOptions, gen uint64) (domain.QueryResponse, bool) {
	key := cacheKey(query, opts)
	entry, exists := c.entries.Get(key)
	if !exists {
		return domain.QueryResponse{}, false
	}

	if c.now().Sub(entry.timestamp) > c.ttl || entry.indexGen != gen {
		c.entries.Remove(key)
		return domain.QueryResponse{}, false
	}

	return entry.response, true
}

func (c *QueryCache) Put(query string, opts domain.QueryOptions, gen uint64, resp domain.QueryResponse) {
	c.entries.Add(cacheKey(query, opts), &cacheEntry{
		response:  resp,
		timestamp: c.now(),
		indexGen:  gen,
	})
}

func (c *QueryCache) Invalidate() {
	c.entries.Purge()
}

func (c *QueryCache) Size() int {
	return c.entries.Len()
}

// CachedSearcher serves repeated queries from a QueryCache. Degraded and
// partial responses are never stored.
type CachedSearcher struct {
	searcher   port.Searcher
	cache      *QueryCache
	generation func() uint64
}

func NewCachedSearcher(searcher port.Searcher, cache *QueryCache, generation func() uint64) *CachedSearcher {
	return &CachedSearcher{
		searcher:   searcher,
		cache:      cache,
		generation: generation,
	}
}

func (s *CachedSearcher) Search(ctx context.Context, query string, opts domain.QueryOptions) (domain.QueryResponse, error) {
	gen := s.generation()
	if resp, hit := s.cache.Get(query, opts, gen); hit {
		resp.Meta.FromCache = true
		return resp, nil
	}

	resp, err := s.searcher.Search(ctx, query, opts)
	if err != nil {
		return resp, err
	}

	if !resp.Meta.Degraded && !resp.Meta.Partial {
		s.cache.Put(query, opts, gen, resp)
	}

	return resp, nil
}
