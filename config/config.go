package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DataDirName is the per-project directory holding all persistent state.
const DataDirName = ".codesearch"

// Config holds all configuration for codesearch.
type Config struct {
	Index     IndexConfig     `yaml:"index"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Query     QueryConfig     `yaml:"query"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Watch     WatchConfig     `yaml:"watch"`
}

// IndexConfig holds file selection and worker settings.
type IndexConfig struct {
	Includes     []string `yaml:"includes"`
	Excludes     []string `yaml:"excludes"`
	IncludeTests bool     `yaml:"include_tests"`
	Workers      int      `yaml:"workers"`
	MaxFileBytes int64    `yaml:"max_file_bytes"`
}

// ChunkingConfig controls structural and window chunking.
type ChunkingConfig struct {
	WindowLines   int `yaml:"window_lines"`
	WindowOverlap int `yaml:"window_overlap"`
	MaxChunkLines int `yaml:"max_chunk_lines"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "local", "openai"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`    // OpenAI-compatible endpoint, e.g. Ollama
	APIKeyEnv string `yaml:"api_key_env"` // Environment variable for API key
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	Capacity       int           `yaml:"capacity"`
	Persist        bool          `yaml:"persist"`
	PressurePoll   time.Duration `yaml:"pressure_poll"`
	AdaptiveSizing bool          `yaml:"adaptive_sizing"`
	QueryCacheSize int           `yaml:"query_cache_size"`
	QueryCacheTTL  time.Duration `yaml:"query_cache_ttl"`
}

// SearchConfig selects and tunes the text search backend.
type SearchConfig struct {
	Backend       string `yaml:"backend"` // "auto", "indexed", "filesystem"
	CaseSensitive bool   `yaml:"case_sensitive"`
	MaxEdits      int    `yaml:"max_edits"`
	Fuzzy         bool   `yaml:"fuzzy"`
}

// FusionConfig holds the score fusion weights.
type FusionConfig struct {
	ExactWeight    float64 `yaml:"exact_weight"`
	FuzzyWeight    float64 `yaml:"fuzzy_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	MinScore       float64 `yaml:"min_score"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	MaxResults    int           `yaml:"max_results"`
	Timeout       time.Duration `yaml:"timeout"`
	CandidatePool int           `yaml:"candidate_pool"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text", "json"
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Includes: []string{
				"**/*.go", "**/*.rs", "**/*.py", "**/*.js", "**/*.jsx", "**/*.mjs", "**/*.cjs",
				"**/*.ts", "**/*.tsx", "**/*.java", "**/*.kt", "**/*.c", "**/*.h", "**/*.cpp",
				"**/*.cc", "**/*.hpp", "**/*.cs", "**/*.rb", "**/*.php", "**/*.swift",
				"**/*.scala", "**/*.sql", "**/*.md", "**/*.txt",
			},
			Excludes:     []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/target/**", "**/dist/**", "**/build/**", "**/__pycache__/**", "**/*.min.js"},
			IncludeTests: true,
			Workers:      4,
			MaxFileBytes: 1 << 20,
		},
		Chunking: ChunkingConfig{
			WindowLines:   40,
			WindowOverlap: 5,
			MaxChunkLines: 100,
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Model:     "hashing-v1",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 384,
			BatchSize: 32,
		},
		Cache: CacheConfig{
			Capacity:       10000,
			Persist:        true,
			PressurePoll:   5 * time.Second,
			AdaptiveSizing: true,
			QueryCacheSize: 256,
			QueryCacheTTL:  5 * time.Minute,
		},
		Search: SearchConfig{
			Backend:  "auto",
			MaxEdits: 2,
		},
		Fusion: FusionConfig{
			ExactWeight:    1.0,
			FuzzyWeight:    0.9,
			SemanticWeight: 0.8,
			MinScore:       0.1,
		},
		Query: QueryConfig{
			MaxResults:    10,
			Timeout:       10 * time.Second,
			CandidatePool: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for codesearch.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "codesearch.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, DataDirName, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Search.Backend {
	case "auto", "indexed", "filesystem":
	default:
		errs = append(errs, fmt.Errorf("search.backend must be auto, indexed or filesystem, got %q", c.Search.Backend))
	}
	if c.Search.MaxEdits < 0 || c.Search.MaxEdits > 2 {
		errs = append(errs, fmt.Errorf("search.max_edits must be between 0 and 2, got %d", c.Search.MaxEdits))
	}
	switch c.Embedding.Provider {
	case "local", "openai":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be local or openai, got %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity))
	}
	if c.Chunking.WindowLines <= 0 {
		errs = append(errs, fmt.Errorf("chunking.window_lines must be positive, got %d", c.Chunking.WindowLines))
	}
	if c.Chunking.WindowOverlap < 0 || c.Chunking.WindowOverlap >= c.Chunking.WindowLines {
		errs = append(errs, fmt.Errorf("chunking.window_overlap must be in [0, window_lines), got %d", c.Chunking.WindowOverlap))
	}
	if c.Chunking.MaxChunkLines <= 0 {
		errs = append(errs, fmt.Errorf("chunking.max_chunk_lines must be positive, got %d", c.Chunking.MaxChunkLines))
	}
	if c.Index.Workers <= 0 {
		errs = append(errs, fmt.Errorf("index.workers must be positive, got %d", c.Index.Workers))
	}

	return errors.Join(errs...)
}

// DataDir returns the codesearch state directory for a project root.
func DataDir(dir string) string {
	return filepath.Join(dir, DataDirName)
}

// IndexDBPath returns the path to the chunk and vector database.
func IndexDBPath(dir string) string {
	return filepath.Join(dir, DataDirName, "index.db")
}

// CacheDBPath returns the path to the persistent embedding cache.
func CacheDBPath(dir string) string {
	return filepath.Join(dir, DataDirName, "embeddings.db")
}

// TextIndexPath returns the directory of the bleve text index.
func TextIndexPath(dir string) string {
	return filepath.Join(dir, DataDirName, "text.bleve")
}

// EnsureDataDir ensures the .codesearch directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(DataDir(dir), 0755)
}
