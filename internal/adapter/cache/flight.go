package cache

import (
	"context"
	"sync"
)

// call is one in-flight computation for a key.
type call struct {
	done chan struct{}
	val  []float32
	err  error
}

func (c *call) wait(ctx context.Context) ([]float32, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flightGroup tracks at most one computation per key. Unlike
// x/sync/singleflight, a caller can claim many keys first and compute them
// together in a single batch.
type flightGroup struct {
	mu sync.Mutex
	m  map[string]*call
}

// claim returns the call for key and whether the caller owns it. The owner
// must call finish exactly once.
func (g *flightGroup) claim(key string) (*call, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.m == nil {
		g.m = make(map[string]*call)
	}
	if c, ok := g.m[key]; ok {
		return c, false
	}
	c := &call{done: make(chan struct{})}
	g.m[key] = c
	return c, true
}

func (g *flightGroup) finish(key string, c *call, val []float32, err error) {
	c.val, c.err = val, err
	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
	close(c.done)
}

func (g *flightGroup) inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
