package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"codesearch/config"
	"codesearch/internal/adapter/cache"
	"codesearch/internal/adapter/chunker"
	"codesearch/internal/adapter/embedding"
	"codesearch/internal/adapter/fs"
	"codesearch/internal/adapter/memstore"
	"codesearch/internal/adapter/retriever"
	"codesearch/internal/adapter/textsearch"
	"codesearch/internal/domain"
	"codesearch/internal/port"
	"codesearch/internal/usecase"
)

func main() {
	dir := flag.String("dir", ".", "Directory to index")
	queries := flag.String("q", "", "Queries to run, separated by ';'")
	backend := flag.String("backend", "indexed", "Text backend: indexed or filesystem")
	runs := flag.Int("n", 20, "Runs per query")
	topK := flag.Int("k", 10, "Number of results")
	expect := flag.String("expect", "", "Relevant files per query, ';' between queries and ',' between files")
	flag.Parse()

	if *queries == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir ./project -q \"calculate_sum;parse config~\"")
		fmt.Println("\nIndexes the directory in memory, then reports:")
		fmt.Println("  1. Indexing throughput")
		fmt.Println("  2. Query latency percentiles per query")
		fmt.Println("  3. Top result per query")
		fmt.Println("  4. Precision, recall and reciprocal rank when -expect is given")
		os.Exit(1)
	}
	if *runs < 1 {
		*runs = 1
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	root, err := filepath.Abs(*dir)
	if err != nil {
		fatal("invalid directory", err)
	}
	cfg, err := config.LoadFromDir(root)
	if err != nil {
		fatal("loading config", err)
	}

	tmp, err := os.MkdirTemp("", "codesearch-bench")
	if err != nil {
		fatal("creating temp dir", err)
	}
	defer os.RemoveAll(tmp)

	walker := fs.NewWalker(fs.Options{
		Includes:     cfg.Index.Includes,
		Excludes:     cfg.Index.Excludes,
		IncludeTests: cfg.Index.IncludeTests,
		MaxFileBytes: cfg.Index.MaxFileBytes,
	})
	text, err := textsearch.Open(textsearch.Options{
		Kind:     port.BackendKind(*backend),
		IndexDir: filepath.Join(tmp, "text.bleve"),
		Root:     root,
		Walker:   walker,
	})
	if err != nil {
		fatal("opening text backend", err)
	}
	defer text.Close()

	embedder, err := embedding.NewFromConfig(cfg.Embedding)
	if err != nil {
		fatal("creating embedder", err)
	}
	embCache, err := cache.NewEmbeddingCache(cfg.Cache.Capacity)
	if err != nil {
		fatal("creating cache", err)
	}

	chunks := memstore.NewMemoryStore()
	vectors := memstore.NewVectorStore(embedder.Dimension())
	indexUC := usecase.NewIndexUseCase(usecase.IndexDeps{
		Chunker:  chunker.NewRegexChunker(chunker.Options{WindowLines: cfg.Chunking.WindowLines, WindowOverlap: cfg.Chunking.WindowOverlap, MaxChunkLines: cfg.Chunking.MaxChunkLines}),
		Chunks:   chunks,
		Vectors:  vectors,
		Text:     text,
		Embedder: embedder,
		Cache:    embCache,
		Walker:   walker,
		Reader:   fs.Reader{},
	}, usecase.WithWorkers(cfg.Index.Workers))

	fmt.Println("CODESEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))

	ctx := context.Background()
	start := time.Now()
	result, err := indexUC.IndexDir(ctx, root)
	if err != nil {
		fatal("indexing", err)
	}
	elapsed := time.Since(start)
	fmt.Printf("Indexed %d files, %d chunks in %s (%.1f files/s)\n",
		result.FilesIndexed, result.ChunksCreated, elapsed.Round(time.Millisecond),
		float64(result.FilesIndexed)/elapsed.Seconds())
	fmt.Printf("Backend: %s, model: %s (%d dimensions)\n\n", text.Kind(), embedder.ModelName(), embedder.Dimension())

	search := usecase.NewSearchUseCase(
		text,
		retriever.NewSemanticRetriever(vectors, embedder),
		chunks,
		retriever.NewFusion(retriever.WeightsFromConfig(cfg.Fusion)),
		usecase.SearchSettings{
			MaxResults:    *topK,
			Timeout:       cfg.Query.Timeout,
			CandidatePool: cfg.Query.CandidatePool,
			Fuzzy:         cfg.Search.Fuzzy,
			MaxEdits:      cfg.Search.MaxEdits,
		},
		nil,
		nil,
	)

	var relevant [][]string
	if *expect != "" {
		for _, group := range strings.Split(*expect, ";") {
			var files []string
			for _, f := range strings.Split(group, ",") {
				if f = strings.TrimSpace(f); f != "" {
					files = append(files, filepath.ToSlash(f))
				}
			}
			relevant = append(relevant, files)
		}
	}

	var sumRR float64
	var scored int
	for i, q := range strings.Split(*queries, ";") {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		var want []string
		if i < len(relevant) {
			want = relevant[i]
		}
		rr, ok := benchmarkQuery(ctx, search, q, *runs, want)
		if ok {
			sumRR += rr
			scored++
		}
	}
	if scored > 0 {
		fmt.Printf("MRR over %d queries: %.3f\n", scored, sumRR/float64(scored))
	}
}

func benchmarkQuery(ctx context.Context, search *usecase.SearchUseCase, query string, runs int, relevant []string) (float64, bool) {
	fmt.Printf("Query: %q\n", query)
	fmt.Println(strings.Repeat("-", 70))

	latencies := make([]time.Duration, 0, runs)
	var last domain.QueryResponse
	for i := 0; i < runs; i++ {
		start := time.Now()
		resp, err := search.Search(ctx, query, domain.QueryOptions{})
		if err != nil {
			fmt.Printf("  error: %v\n\n", err)
			return 0, false
		}
		latencies = append(latencies, time.Since(start))
		last = resp
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("  p50 %s  p90 %s  p99 %s  max %s\n",
		percentile(latencies, 0.50), percentile(latencies, 0.90),
		percentile(latencies, 0.99), latencies[len(latencies)-1])
	fmt.Printf("  results: %d (lexical hits %d, semantic hits %d)\n",
		len(last.Results), last.Meta.LexicalHits, last.Meta.SemanticHits)
	if len(last.Results) > 0 {
		top := last.Results[0]
		fmt.Printf("  top: %s:L%d-%d score %.3f %v\n",
			top.Chunk.FilePath, top.Chunk.StartLine, top.Chunk.EndLine, top.FinalScore, top.Sources)
	}
	if len(relevant) == 0 {
		fmt.Println()
		return 0, false
	}

	files := make([]string, len(last.Results))
	for i, r := range last.Results {
		files[i] = r.Chunk.FilePath
	}
	rr := retriever.ReciprocalRank(files, relevant)
	fmt.Printf("  precision %.3f  recall %.3f  reciprocal rank %.3f\n\n",
		retriever.PrecisionAtK(files, relevant), retriever.RecallAtK(files, relevant), rr)
	return rr, true
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx].Round(time.Microsecond)
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", what, err)
	os.Exit(1)
}
