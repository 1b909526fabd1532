package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"codesearch/internal/adapter/analyzer"
	"codesearch/internal/adapter/metrics"
	"codesearch/internal/adapter/retriever"
	"codesearch/internal/adapter/store"
	"codesearch/internal/domain"
	"codesearch/internal/port"
)

// SearchSettings are the query defaults applied when QueryOptions leaves a
// field unset.
type SearchSettings struct {
	MaxResults    int
	Timeout       time.Duration
	CandidatePool int
	Fuzzy         bool
	MaxEdits      int
}

// SearchUseCase runs the lexical and semantic sides of a query concurrently
// and fuses them.
type SearchUseCase struct {
	text     port.TextSearcher
	semantic *retriever.SemanticRetriever
	chunks   port.ChunkStore
	fusion   *retriever.Fusion
	expander *ContextExpander
	settings SearchSettings
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewSearchUseCase(
	text port.TextSearcher,
	semantic *retriever.SemanticRetriever,
	chunks port.ChunkStore,
	fusion *retriever.Fusion,
	settings SearchSettings,
	logger *slog.Logger,
	m *metrics.Metrics,
) *SearchUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.MaxResults <= 0 {
		settings.MaxResults = 10
	}
	if settings.CandidatePool < settings.MaxResults {
		settings.CandidatePool = max(100, settings.MaxResults)
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	return &SearchUseCase{
		text:     text,
		semantic: semantic,
		chunks:   chunks,
		fusion:   fusion,
		expander: NewContextExpander(chunks),
		settings: settings,
		logger:   logger,
		metrics:  m,
	}
}

type sideResult struct {
	hits []domain.SearchHit
	err  error
}

// Search answers a query. When one side fails the other side's results are
// returned with Degraded set; when one side runs out of time the response is
// Partial. ErrQueryTimeout is returned only if neither side finished.
func (u *SearchUseCase) Search(ctx context.Context, query string, opts domain.QueryOptions) (domain.QueryResponse, error) {
	start := time.Now()
	opts = u.withDefaults(opts)
	meta := domain.QueryMeta{
		QueryID:  uuid.NewString(),
		Backend:  string(u.text.Kind()),
		IndexGen: u.chunks.Generation(),
	}

	qctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	filter := domain.VectorFilter{PathGlob: opts.PathGlob, FileTypes: opts.FileTypes}

	lexCh := make(chan sideResult, 1)
	semCh := make(chan sideResult, 1)
	go func() {
		hits, err := u.lexical(qctx, query, opts, filter)
		lexCh <- sideResult{hits: hits, err: err}
	}()
	go func() {
		hits, err := u.semantic.Search(qctx, query, u.settings.CandidatePool, filter)
		semCh <- sideResult{hits: hits, err: err}
	}()

	var lex, sem *sideResult
	for lex == nil || sem == nil {
		select {
		case r := <-lexCh:
			lex = &r
		case r := <-semCh:
			sem = &r
		case <-qctx.Done():
			if err := ctx.Err(); err != nil {
				return domain.QueryResponse{}, err
			}
			if lex == nil && sem == nil {
				u.metrics.Query(time.Since(start), true)
				return domain.QueryResponse{}, fmt.Errorf("%w after %s", domain.ErrQueryTimeout, opts.Timeout)
			}
			meta.Partial = true
			if lex == nil {
				meta.Notes = append(meta.Notes, "lexical search timed out")
				lex = &sideResult{}
			}
			if sem == nil {
				meta.Notes = append(meta.Notes, "semantic search timed out")
				sem = &sideResult{}
			}
		}
	}

	if lex.err != nil && sem.err != nil {
		u.metrics.Query(time.Since(start), true)
		return domain.QueryResponse{}, errors.Join(
			fmt.Errorf("lexical search failed: %w", lex.err),
			fmt.Errorf("semantic search failed: %w", sem.err),
		)
	}
	if lex.err != nil {
		meta.Degraded = true
		meta.Notes = append(meta.Notes, "lexical search failed; semantic results only")
		u.logger.Warn("lexical search failed", "query_id", meta.QueryID, "error", lex.err)
	}
	if sem.err != nil {
		meta.Degraded = true
		var loadErr *domain.ModelLoadError
		if errors.As(sem.err, &loadErr) {
			meta.Notes = append(meta.Notes, "embedding model unavailable; lexical results only")
		} else {
			meta.Notes = append(meta.Notes, "semantic search failed; lexical results only")
		}
		u.logger.Warn("semantic search failed", "query_id", meta.QueryID, "error", sem.err)
	}
	meta.LexicalHits = len(lex.hits)
	meta.SemanticHits = len(sem.hits)

	fusion := u.fusion
	if opts.ScoreThreshold != nil {
		fusion = fusion.WithMinScore(*opts.ScoreThreshold)
	}
	fused := fusion.Fuse(lex.hits, sem.hits, opts.MaxResults)

	results := make([]domain.FusedResult, 0, len(fused))
	for _, hit := range fused {
		cc, err := u.expander.Expand(ctx, hit.ChunkID)
		if err != nil {
			u.logger.Debug("dropping result whose chunk is gone", "chunk_id", hit.ChunkID, "error", err)
			continue
		}
		results = append(results, domain.FusedResult{
			Chunk:        cc.Chunk,
			AboveContext: cc.Above,
			BelowContext: cc.Below,
			FinalScore:   hit.Score,
			Rank:         len(results) + 1,
			Sources:      hit.Sources,
		})
	}

	meta.Elapsed = time.Since(start)
	u.metrics.Query(meta.Elapsed, meta.Degraded)
	u.logger.Debug("query finished", "query_id", meta.QueryID, "results", len(results),
		"lexical_hits", meta.LexicalHits, "semantic_hits", meta.SemanticHits, "elapsed", meta.Elapsed)

	return domain.QueryResponse{Query: query, Results: results, Meta: meta}, nil
}

func (u *SearchUseCase) withDefaults(opts domain.QueryOptions) domain.QueryOptions {
	if opts.MaxResults <= 0 {
		opts.MaxResults = u.settings.MaxResults
	}
	if opts.Timeout <= 0 {
		opts.Timeout = u.settings.Timeout
	}
	if u.settings.Fuzzy {
		opts.Fuzzy = true
	}
	return opts
}

// lexical runs the text backend and folds its line hits into chunk hits. A
// chunk's coverage is the share of distinct query terms matched on any of its
// lines.
func (u *SearchUseCase) lexical(ctx context.Context, query string, opts domain.QueryOptions, filter domain.VectorFilter) ([]domain.SearchHit, error) {
	maxEdits := u.settings.MaxEdits
	lines, err := u.text.Search(ctx, domain.TextQuery{
		Text:     query,
		Fuzzy:    opts.Fuzzy,
		MaxEdits: &maxEdits,
		Limit:    u.settings.CandidatePool * 20,
	})
	if err != nil {
		return nil, err
	}

	total := countTerms(query)
	if total == 0 {
		return nil, nil
	}

	type agg struct {
		hit   domain.SearchHit
		terms map[string]struct{}
		fuzzy bool
	}
	byChunk := make(map[string]*agg)
	var order []string
	fileChunks := make(map[string][]domain.Chunk)

	for _, line := range lines {
		if !store.MatchesFilter(line.FilePath, filter) {
			continue
		}
		chunks, ok := fileChunks[line.FilePath]
		if !ok {
			chunks, err = u.chunks.ChunksByFile(ctx, line.FilePath)
			if err != nil {
				return nil, err
			}
			fileChunks[line.FilePath] = chunks
		}
		chunk, err := store.NarrowestAt(chunks, line.FilePath, line.StartLine)
		if err != nil {
			continue
		}

		a, ok := byChunk[chunk.ID]
		if !ok {
			a = &agg{
				hit: domain.SearchHit{
					ChunkID:   chunk.ID,
					FilePath:  chunk.FilePath,
					StartLine: chunk.StartLine,
					EndLine:   chunk.EndLine,
				},
				terms: make(map[string]struct{}),
			}
			byChunk[chunk.ID] = a
			order = append(order, chunk.ID)
		}
		a.hit.MatchedSpans = append(a.hit.MatchedSpans, domain.LineRange{Start: line.StartLine, End: line.EndLine})
		for _, t := range line.MatchedTerms {
			a.terms[t] = struct{}{}
		}
		if line.Source == domain.SourceFuzzy {
			a.fuzzy = true
		}
	}

	hits := make([]domain.SearchHit, 0, len(order))
	for _, id := range order {
		a := byChunk[id]
		for t := range a.terms {
			a.hit.MatchedTerms = append(a.hit.MatchedTerms, t)
		}
		a.hit.Coverage = min(1, float64(len(a.terms))/float64(total))
		a.hit.Score = a.hit.Coverage
		a.hit.Source = domain.SourceExact
		if a.fuzzy {
			a.hit.Source = domain.SourceFuzzy
		}
		hits = append(hits, a.hit)
	}
	return hits, nil
}

// countTerms counts the distinct terms the text backends search for.
func countTerms(query string) int {
	seen := make(map[string]struct{})
	for _, t := range analyzer.ParseQuery(query) {
		seen[strings.ToLower(t.Text)] = struct{}{}
	}
	return len(seen)
}
