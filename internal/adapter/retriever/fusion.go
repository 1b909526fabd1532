package retriever

import (
	"sort"

	"codesearch/config"
	"codesearch/internal/domain"
)

// Weights scale each signal before fusion.
type Weights struct {
	Exact    float64
	Fuzzy    float64
	Semantic float64
	MinScore float64
}

func WeightsFromConfig(cfg config.FusionConfig) Weights {
	return Weights{
		Exact:    cfg.ExactWeight,
		Fuzzy:    cfg.FuzzyWeight,
		Semantic: cfg.SemanticWeight,
		MinScore: cfg.MinScore,
	}
}

// Fusion merges chunk-level lexical and semantic hits into one ranking.
type Fusion struct {
	weights Weights
}

func NewFusion(w Weights) *Fusion {
	return &Fusion{weights: w}
}

// WithMinScore returns a copy of f that drops hits below min.
func (f *Fusion) WithMinScore(min float64) *Fusion {
	w := f.weights
	w.MinScore = min
	return &Fusion{weights: w}
}

func (f *Fusion) Weights() Weights { return f.weights }

type fused struct {
	hit      domain.FusedHit
	lexical  float64
	semantic float64
	sources  map[domain.MatchSource]struct{}
}

// Fuse scores every chunk as weight(source) * coverage for its best lexical
// hit plus cosine * semantic weight for its best semantic hit. Chunks below
// the minimum score are dropped before the top k are taken. Ties are broken by
// file path, then start line.
func (f *Fusion) Fuse(lexical, semantic []domain.SearchHit, k int) []domain.FusedHit {
	byChunk := make(map[string]*fused)
	get := func(h domain.SearchHit) *fused {
		e, ok := byChunk[h.ChunkID]
		if !ok {
			e = &fused{
				hit: domain.FusedHit{
					ChunkID:   h.ChunkID,
					FilePath:  h.FilePath,
					StartLine: h.StartLine,
					EndLine:   h.EndLine,
				},
				sources: make(map[domain.MatchSource]struct{}),
			}
			byChunk[h.ChunkID] = e
		}
		return e
	}

	for _, h := range lexical {
		if h.ChunkID == "" {
			continue
		}
		base := f.weights.Exact
		if h.Source == domain.SourceFuzzy {
			base = f.weights.Fuzzy
		}
		e := get(h)
		e.lexical = max(e.lexical, base*h.Coverage)
		e.sources[h.Source] = struct{}{}
	}
	for _, h := range semantic {
		if h.ChunkID == "" {
			continue
		}
		e := get(h)
		e.semantic = max(e.semantic, h.Score*f.weights.Semantic)
		e.sources[domain.SourceSemantic] = struct{}{}
	}

	out := make([]domain.FusedHit, 0, len(byChunk))
	for _, e := range byChunk {
		e.hit.Score = e.lexical + e.semantic
		if e.hit.Score < f.weights.MinScore {
			continue
		}
		e.hit.Sources = orderedSources(e.sources)
		out = append(out, e.hit)
	}

	SortFused(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// SortFused orders by score descending, then file path and start line ascending.
func SortFused(hits []domain.FusedHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].FilePath != hits[j].FilePath {
			return hits[i].FilePath < hits[j].FilePath
		}
		return hits[i].StartLine < hits[j].StartLine
	})
}

func orderedSources(set map[domain.MatchSource]struct{}) []domain.MatchSource {
	var out []domain.MatchSource
	for _, s := range []domain.MatchSource{domain.SourceExact, domain.SourceFuzzy, domain.SourceSemantic} {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
