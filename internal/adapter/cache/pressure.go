package cache

import (
	"context"
	"log/slog"
	"time"

	"codesearch/internal/port"
)

// Monitor polls a memory pressure source and resizes the cache ceiling.
type Monitor struct {
	cache    *EmbeddingCache
	source   port.MemoryPressureSource
	interval time.Duration
	logger   *slog.Logger
}

func NewMonitor(cache *EmbeddingCache, source port.MemoryPressureSource, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cache:    cache,
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Check polls the source once and applies the level.
func (m *Monitor) Check(ctx context.Context) {
	level, err := m.source.Level(ctx)
	if err != nil {
		m.logger.Debug("memory pressure poll failed", "error", err)
		return
	}
	m.cache.SetPressure(level)
}

// Run polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
