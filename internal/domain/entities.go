package domain

import "time"

type ChunkKind string

const (
	KindFunction ChunkKind = "function"
	KindClass    ChunkKind = "class"
	KindModule   ChunkKind = "module"
	KindGeneric  ChunkKind = "generic"
)

// Chunk is a contiguous, line-bounded unit of source text. Lines are 1-based and inclusive.
type Chunk struct {
	ID          string    `json:"id"`
	FilePath    string    `json:"file_path"`
	StartLine   int       `json:"start_line"`
	EndLine     int       `json:"end_line"`
	Content     string    `json:"content"`
	Kind        ChunkKind `json:"kind"`
	ContentHash string    `json:"content_hash"`
}

// Contains reports whether line falls inside the chunk's range.
func (c Chunk) Contains(line int) bool {
	return line >= c.StartLine && line <= c.EndLine
}

type Embedding struct {
	ChunkHash string
	Vector    []float32
	ModelID   string
	CreatedAt time.Time
}

// EmbedResult is one item of a batch embedding call. Exactly one of Vector or Err is set.
type EmbedResult struct {
	Vector []float32
	Err    error
}

// SourceFile is an ingestion input.
type SourceFile struct {
	Path    string
	Content string
}

type MatchSource string

const (
	SourceExact    MatchSource = "exact"
	SourceFuzzy    MatchSource = "fuzzy"
	SourceSemantic MatchSource = "semantic"
)

type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SearchHit is a single lexical or semantic match. Text backends emit line-level hits with an
// empty ChunkID; the query engine resolves them to chunks.
type SearchHit struct {
	ChunkID      string
	FilePath     string
	StartLine    int
	EndLine      int
	Score        float64
	Source       MatchSource
	MatchedSpans []LineRange
	MatchedTerms []string
	Coverage     float64
	Line         string
}

// TextQuery is the input to a text search backend.
type TextQuery struct {
	Text  string
	Fuzzy bool
	// MaxEdits bounds fuzzy edit distance. Nil means the backend maximum;
	// zero turns fuzzy terms into exact ones.
	MaxEdits *int
	Limit    int
}

// FusedHit is a fused ranking entry before chunk hydration.
type FusedHit struct {
	ChunkID   string
	FilePath  string
	StartLine int
	EndLine   int
	Score     float64
	Sources   []MatchSource
}

type ChunkContext struct {
	Above *Chunk
	Chunk Chunk
	Below *Chunk
}

type FusedResult struct {
	Chunk        Chunk
	AboveContext *Chunk
	BelowContext *Chunk
	FinalScore   float64
	Rank         int
	Sources      []MatchSource
}

// ResultView is the serialized shape of a FusedResult.
type ResultView struct {
	Rank         int           `json:"rank"`
	FilePath     string        `json:"file_path"`
	StartLine    int           `json:"start_line"`
	EndLine      int           `json:"end_line"`
	Kind         ChunkKind     `json:"kind"`
	Content      string        `json:"content"`
	AboveContext *Chunk        `json:"above_context,omitempty"`
	BelowContext *Chunk        `json:"below_context,omitempty"`
	Score        float64       `json:"score"`
	Sources      []MatchSource `json:"sources"`
}

func (r FusedResult) View() ResultView {
	return ResultView{
		Rank:         r.Rank,
		FilePath:     r.Chunk.FilePath,
		StartLine:    r.Chunk.StartLine,
		EndLine:      r.Chunk.EndLine,
		Kind:         r.Chunk.Kind,
		Content:      r.Chunk.Content,
		AboveContext: r.AboveContext,
		BelowContext: r.BelowContext,
		Score:        r.FinalScore,
		Sources:      r.Sources,
	}
}

type QueryOptions struct {
	MaxResults int
	// ScoreThreshold overrides the configured minimum score when non-nil.
	ScoreThreshold *float64
	FileTypes      []string
	PathGlob       string
	Fuzzy          bool
	Timeout        time.Duration
}

type QueryMeta struct {
	QueryID      string        `json:"query_id"`
	Degraded     bool          `json:"degraded"`
	Partial      bool          `json:"partial"`
	Notes        []string      `json:"notes,omitempty"`
	LexicalHits  int           `json:"lexical_hits"`
	SemanticHits int           `json:"semantic_hits"`
	Elapsed      time.Duration `json:"elapsed"`
	Backend      string        `json:"backend"`
	FromCache    bool          `json:"from_cache"`
	IndexGen     uint64        `json:"-"`
}

type QueryResponse struct {
	Query   string        `json:"query"`
	Results []FusedResult `json:"-"`
	Meta    QueryMeta     `json:"meta"`
}

// VectorItem is a chunk vector with the metadata needed for filtering.
type VectorItem struct {
	ChunkID   string
	FilePath  string
	StartLine int
	EndLine   int
	Vector    []float32
	Metadata  map[string]string
}

type VectorFilter struct {
	PathPrefix string
	PathGlob   string
	FileTypes  []string
	MinScore   float64
}

type VectorQuery struct {
	Filter VectorFilter
	Offset int
	Cursor string
}

type VectorMatch struct {
	ChunkID   string
	FilePath  string
	StartLine int
	EndLine   int
	Score     float64
}

type VectorPage struct {
	Matches    []VectorMatch
	NextCursor string
	Total      int
}

// FileRecord tracks what was indexed for a file.
type FileRecord struct {
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}

type Stats struct {
	TotalFiles   int
	TotalChunks  int
	TotalVectors int
	TextDocs     uint64
}
