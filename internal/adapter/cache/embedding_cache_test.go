package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"codesearch/internal/domain"
	"codesearch/internal/port"
)

func vec(x float32) []float32 { return []float32{x, 0, 0, 0} }

func openDisk(t *testing.T, path string) *DiskTier {
	t.Helper()
	d, err := OpenDiskTier(path, "test-model", 4, nil)
	require.NoError(t, err)
	return d
}

func TestStrictLRUEviction(t *testing.T) {
	c, err := NewEmbeddingCache(2)
	require.NoError(t, err)

	c.Put("a", vec(1))
	c.Put("b", vec(2))
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Put("c", vec(3))

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used and should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestGetReturnsCopy(t *testing.T) {
	c, err := NewEmbeddingCache(4)
	require.NoError(t, err)

	c.Put("a", vec(1))
	v, _ := c.Get("a")
	v[0] = 99

	again, _ := c.Get("a")
	assert.Equal(t, float32(1), again[0])
}

func TestPressureLowersCeilingLazily(t *testing.T) {
	c, err := NewEmbeddingCache(8)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		c.Put(fmt.Sprintf("k%d", i), vec(float32(i)))
	}
	c.SetPressure(port.PressureCritical)

	assert.Equal(t, 8, c.Len(), "shrinking must not evict synchronously")
	assert.Equal(t, 2, c.Stats().Ceiling)

	c.Put("new", vec(42))
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("new")
	assert.True(t, ok)
	_, ok = c.Get("k7")
	assert.True(t, ok, "most recent older entry survives")

	c.SetPressure(port.PressureMedium)
	assert.Equal(t, 6, c.Stats().Ceiling)
}

func TestDiskSurvivesRestartAndLoadsLazily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.db")

	disk := openDisk(t, path)
	c, err := NewEmbeddingCache(4, WithDisk(disk))
	require.NoError(t, err)
	c.Put("hash-1", vec(0.5))
	require.NoError(t, c.Close())

	disk = openDisk(t, path)
	assert.Equal(t, 1, disk.Len())
	assert.True(t, disk.Has("hash-1"))

	c, err = NewEmbeddingCache(4, WithDisk(disk))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 0, c.Len(), "vectors are not loaded at startup")

	v, ok := c.Get("hash-1")
	require.True(t, ok)
	assert.Equal(t, vec(0.5), v)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.DiskHits)
	assert.Equal(t, 1, stats.Entries)
}

func TestMemoryEvictionKeepsDisk(t *testing.T) {
	disk := openDisk(t, filepath.Join(t.TempDir(), "embeddings.db"))
	c, err := NewEmbeddingCache(1, WithDisk(disk))
	require.NoError(t, err)
	defer c.Close()

	c.Put("a", vec(1))
	c.Put("b", vec(2))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 2, disk.Len())

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, vec(1), v)
}

func TestCorruptDiskEntryIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.db")
	disk := openDisk(t, path)

	require.NoError(t, disk.Put("good", vec(1)))
	err := disk.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(disk.bucket).Put([]byte("bad"), []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	})
	require.NoError(t, err)
	require.NoError(t, disk.Close())

	disk = openDisk(t, path)
	c, err := NewEmbeddingCache(4, WithDisk(disk))
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get("bad")
	assert.False(t, ok)
	assert.False(t, disk.Has("bad"))

	v, ok := c.Get("good")
	assert.True(t, ok)
	assert.Equal(t, vec(1), v)
}

func TestDiskBucketsArePerModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.db")

	disk := openDisk(t, path)
	require.NoError(t, disk.Put("k", vec(1)))
	require.NoError(t, disk.Close())

	other, err := OpenDiskTier(path, "other-model", 4, nil)
	require.NoError(t, err)
	defer other.Close()
	assert.Equal(t, 0, other.Len())
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	c, err := NewEmbeddingCache(16)
	require.NoError(t, err)

	var computes atomic.Int32
	release := make(chan struct{})
	compute := func(ctx context.Context) ([]float32, error) {
		computes.Add(1)
		<-release
		return vec(7), nil
	}

	var wg sync.WaitGroup
	results := make([][]float32, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), "same", compute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return computes.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), computes.Load())
	for _, v := range results {
		assert.Equal(t, vec(7), v)
	}
	assert.Equal(t, 0, c.flights.inflight())
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c, err := NewEmbeddingCache(4)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = c.GetOrCompute(context.Background(), "k", func(context.Context) ([]float32, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrCompute(context.Background(), "k", func(context.Context) ([]float32, error) { return vec(1), nil })
	require.NoError(t, err)
	assert.Equal(t, vec(1), v)
}

func TestGetOrComputeBatch(t *testing.T) {
	c, err := NewEmbeddingCache(16)
	require.NoError(t, err)
	c.Put("cached", vec(9))

	var seen [][]string
	compute := func(_ context.Context, texts []string) ([]domain.EmbedResult, error) {
		seen = append(seen, append([]string(nil), texts...))
		out := make([]domain.EmbedResult, len(texts))
		for i, t := range texts {
			if t == "broken" {
				out[i] = domain.EmbedResult{Err: &domain.InferenceError{Index: i, Err: errors.New("nope")}}
				continue
			}
			out[i] = domain.EmbedResult{Vector: vec(float32(len(t)))}
		}
		return out, nil
	}

	keys := []string{"cached", "k1", "k2", "k1", "kb"}
	texts := []string{"cached", "a", "bb", "a", "broken"}
	results, err := c.GetOrComputeBatch(context.Background(), keys, texts, compute)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, []string{"a", "bb", "broken"}, seen[0])

	assert.Equal(t, vec(9), results[0].Vector)
	assert.Equal(t, vec(1), results[1].Vector)
	assert.Equal(t, vec(2), results[2].Vector)
	assert.Equal(t, vec(1), results[3].Vector)
	assert.Error(t, results[4].Err)

	_, ok := c.Get("kb")
	assert.False(t, ok, "failed items are not cached")
	_, ok = c.Get("k2")
	assert.True(t, ok)
}

func TestGetOrComputeBatchWaitsForSingleFlight(t *testing.T) {
	c, err := NewEmbeddingCache(16)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.GetOrCompute(context.Background(), "shared", func(context.Context) ([]float32, error) {
			close(started)
			<-release
			return vec(3), nil
		})
		assert.NoError(t, err)
	}()
	<-started

	var batchTexts []string
	batchDone := make(chan []domain.EmbedResult)
	go func() {
		res, err := c.GetOrComputeBatch(context.Background(), []string{"shared", "own"}, []string{"s", "o"},
			func(_ context.Context, texts []string) ([]domain.EmbedResult, error) {
				batchTexts = texts
				return []domain.EmbedResult{{Vector: vec(5)}}, nil
			})
		assert.NoError(t, err)
		batchDone <- res
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	res := <-batchDone
	<-done

	assert.Equal(t, []string{"o"}, batchTexts)
	assert.Equal(t, vec(3), res[0].Vector)
	assert.Equal(t, vec(5), res[1].Vector)
}

func TestClaimSeesVectorStoredAfterMiss(t *testing.T) {
	c, err := NewEmbeddingCache(16)
	require.NoError(t, err)

	_, ok := c.Get("late")
	require.False(t, ok)
	c.add("late", vec(7))

	v, hit, fl, owner := c.claim("late")
	assert.True(t, hit)
	assert.False(t, owner)
	assert.Nil(t, fl)
	assert.Equal(t, vec(7), v)
	assert.Zero(t, c.flights.inflight(), "no flight left open")

	_, hit, fl, owner = c.claim("fresh")
	assert.False(t, hit)
	assert.True(t, owner)
	c.flights.finish("fresh", fl, nil, errors.New("unused"))
}

func TestGetOrComputeBatchComputesEachKeyOnce(t *testing.T) {
	c, err := NewEmbeddingCache(64)
	require.NoError(t, err)

	var mu sync.Mutex
	computed := make(map[string]int)
	compute := func(_ context.Context, texts []string) ([]domain.EmbedResult, error) {
		mu.Lock()
		for _, t := range texts {
			computed[t]++
		}
		mu.Unlock()
		out := make([]domain.EmbedResult, len(texts))
		for i, t := range texts {
			out[i] = domain.EmbedResult{Vector: vec(float32(len(t)))}
		}
		return out, nil
	}

	keys := make([]string, 16)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.GetOrComputeBatch(context.Background(), keys, keys, compute)
			assert.NoError(t, err)
			for i, r := range res {
				assert.Equal(t, vec(float32(len(keys[i]))), r.Vector)
			}
		}()
	}
	wg.Wait()

	for _, k := range keys {
		assert.Equal(t, 1, computed[k], "key %s", k)
	}
}

type fixedSource struct {
	level port.PressureLevel
	err   error
}

func (s fixedSource) Level(context.Context) (port.PressureLevel, error) { return s.level, s.err }

func TestMonitorCheck(t *testing.T) {
	c, err := NewEmbeddingCache(100)
	require.NoError(t, err)

	NewMonitor(c, fixedSource{level: port.PressureHigh}, time.Second, nil).Check(context.Background())
	assert.Equal(t, 50, c.Stats().Ceiling)

	NewMonitor(c, fixedSource{err: errors.New("unavailable")}, time.Second, nil).Check(context.Background())
	assert.Equal(t, 50, c.Stats().Ceiling, "a failed poll keeps the current ceiling")
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	c, err := NewEmbeddingCache(100)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewMonitor(c, fixedSource{level: port.PressureMedium}, 5*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.Stats().Ceiling == 75 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
