package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"codesearch/config"
	"codesearch/internal/adapter/cache"
	"codesearch/internal/adapter/chunker"
	"codesearch/internal/adapter/embedding"
	"codesearch/internal/adapter/fs"
	"codesearch/internal/adapter/metrics"
	"codesearch/internal/adapter/retriever"
	"codesearch/internal/adapter/store"
	"codesearch/internal/adapter/sysmem"
	"codesearch/internal/adapter/textsearch"
	"codesearch/internal/port"
	"codesearch/internal/usecase"
)

// openMode says what to do with an index built under another configuration.
type openMode int

const (
	// modeWrite clears a stale index so it can be rebuilt.
	modeWrite openMode = iota
	// modeRead refuses to use a stale index.
	modeRead
)

// engine holds every store and service of one project root.
type engine struct {
	root     string
	cfg      *config.Config
	store    *store.BoltStore
	vectors  *store.BoltVectorStore
	text     port.TextSearcher
	embedder *embedding.Service
	cache    *cache.EmbeddingCache
	walker   *fs.Walker
	index    *usecase.IndexUseCase
	search   *usecase.SearchUseCase
	searcher port.Searcher
	metrics  *metrics.Metrics
}

func openEngine(ctx context.Context, root string, cfg *config.Config, mode openMode, m *metrics.Metrics) (*engine, error) {
	dbPath := config.IndexDBPath(root)
	if mode == modeRead {
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no index found. Run 'codesearch index' first")
		}
	}
	if err := config.EnsureDataDir(root); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", config.DataDirName, err)
	}

	st, err := store.NewBoltStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	e := &engine{root: root, cfg: cfg, store: st, metrics: m}

	migration, err := st.CheckMigration(cfg)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to check migration: %w", err)
	}
	if migration.NeedsRebuild && mode == modeRead {
		e.Close()
		return nil, fmt.Errorf("index needs a rebuild (%s). Run 'codesearch index'", migration.Reason)
	}

	e.vectors, err = store.NewBoltVectorStore(st.DB(), cfg.Embedding.Dimension)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	e.walker = fs.NewWalker(fs.Options{
		Includes:     cfg.Index.Includes,
		Excludes:     cfg.Index.Excludes,
		IncludeTests: cfg.Index.IncludeTests,
		MaxFileBytes: cfg.Index.MaxFileBytes,
	})

	e.text, err = textsearch.Open(textsearch.Options{
		Kind:          port.BackendKind(cfg.Search.Backend),
		IndexDir:      config.TextIndexPath(root),
		Root:          root,
		Walker:        e.walker,
		CaseSensitive: cfg.Search.CaseSensitive,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to open text backend: %w", err)
	}

	e.embedder, err = embedding.NewFromConfig(cfg.Embedding, embedding.WithLogger(logger), embedding.WithMetrics(m))
	if err != nil {
		e.Close()
		return nil, err
	}

	cacheOpts := []cache.Option{cache.WithLogger(logger), cache.WithMetrics(m)}
	if cfg.Cache.Persist {
		disk, err := cache.OpenDiskTier(config.CacheDBPath(root), e.embedder.ModelName(), e.embedder.Dimension(), logger)
		if err != nil {
			logger.Warn("embedding cache persistence disabled", "error", err)
		} else {
			cacheOpts = append(cacheOpts, cache.WithDisk(disk))
		}
	}
	e.cache, err = cache.NewEmbeddingCache(cfg.Cache.Capacity, cacheOpts...)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	e.index = usecase.NewIndexUseCase(usecase.IndexDeps{
		Chunker: chunker.NewRegexChunker(chunker.Options{
			WindowLines:   cfg.Chunking.WindowLines,
			WindowOverlap: cfg.Chunking.WindowOverlap,
			MaxChunkLines: cfg.Chunking.MaxChunkLines,
		}),
		Chunks:   st,
		Vectors:  e.vectors,
		Text:     e.text,
		Embedder: e.embedder,
		Cache:    e.cache,
		Walker:   e.walker,
		Reader:   fs.Reader{},
	},
		usecase.WithWorkers(cfg.Index.Workers),
		usecase.WithIndexLogger(logger),
		usecase.WithIndexMetrics(m),
	)

	if migration.NeedsRebuild {
		logger.Warn("rebuilding index", "reason", migration.Reason)
		if err := e.index.Clear(ctx); err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to clear stale index: %w", err)
		}
	}
	if migration.NeedsRebuild || migration.NeedsMigration {
		if err := st.Migrate(cfg); err != nil {
			e.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	e.search = usecase.NewSearchUseCase(
		e.text,
		retriever.NewSemanticRetriever(e.vectors, e.embedder),
		st,
		retriever.NewFusion(retriever.WeightsFromConfig(cfg.Fusion)),
		usecase.SearchSettings{
			MaxResults:    cfg.Query.MaxResults,
			Timeout:       cfg.Query.Timeout,
			CandidatePool: cfg.Query.CandidatePool,
			Fuzzy:         cfg.Search.Fuzzy,
			MaxEdits:      cfg.Search.MaxEdits,
		},
		logger,
		m,
	)
	e.searcher = cache.NewCachedSearcher(e.search,
		cache.NewQueryCache(cfg.Cache.QueryCacheSize, cfg.Cache.QueryCacheTTL),
		st.Generation,
	)

	return e, nil
}

// startMonitor resizes the embedding cache under memory pressure until ctx
// is done.
func (e *engine) startMonitor(ctx context.Context) {
	if !e.cfg.Cache.AdaptiveSizing {
		return
	}
	monitor := cache.NewMonitor(e.cache, sysmem.NewSource(sysmem.DefaultThresholds()), e.cfg.Cache.PressurePoll, logger)
	go monitor.Run(ctx)
}

func (e *engine) Close() error {
	var errs []error
	if e.text != nil {
		errs = append(errs, e.text.Close())
	}
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}
