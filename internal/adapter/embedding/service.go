package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"codesearch/config"
	"codesearch/internal/adapter/metrics"
	"codesearch/internal/domain"
)

// DefaultBatchSize caps the number of texts sent to the model in one call.
const DefaultBatchSize = 32

// Model computes raw, possibly unnormalized, embeddings. A nil or
// wrong-sized vector in the result marks that item as failed.
type Model interface {
	EmbedRaw(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// Loader constructs a Model. A Service calls it at most once.
type Loader func(ctx context.Context) (Model, error)

// Service is the process-wide embedder handle. The model is loaded lazily on
// first use; concurrent first callers wait for the same load and a failed
// load is remembered as a ModelLoadError.
type Service struct {
	name      string
	dim       int
	batchSize int
	load      Loader
	logger    *slog.Logger
	metrics   *metrics.Metrics

	once    sync.Once
	model   Model
	loadErr error
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewService wraps load. name and dim describe the model before it is loaded;
// dim never changes, and a model reporting another dimension fails to load.
func NewService(name string, dim int, load Loader, opts ...Option) *Service {
	s := &Service{
		name:      name,
		dim:       dim,
		batchSize: DefaultBatchSize,
		load:      load,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig builds the Service for the configured provider.
func NewFromConfig(cfg config.EmbeddingConfig, opts ...Option) (*Service, error) {
	switch cfg.Provider {
	case "local", "":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = LocalDimension
		}
		opts = append([]Option{WithBatchSize(cfg.BatchSize)}, opts...)
		return NewService("local:hashing-v1", dim, func(context.Context) (Model, error) {
			return NewHashingModel(dim), nil
		}, opts...), nil
	case "openai":
		opts = append([]Option{WithBatchSize(cfg.BatchSize)}, opts...)
		return NewService("openai:"+cfg.Model, cfg.Dimension, func(context.Context) (Model, error) {
			return NewOpenAIModel(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL, cfg.Dimension)
		}, opts...), nil
	}
	return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
}

func (s *Service) ensureLoaded(ctx context.Context) (Model, error) {
	s.once.Do(func() {
		model, err := s.load(ctx)
		if err != nil {
			s.loadErr = &domain.ModelLoadError{Model: s.name, Err: err}
			s.logger.Error("embedding model failed to load", "model", s.name, "error", err)
			return
		}
		if model.Dimension() != s.dim {
			s.loadErr = &domain.ModelLoadError{
				Model: s.name,
				Err:   fmt.Errorf("%w: model reports %d, configured %d", domain.ErrDimensionMismatch, model.Dimension(), s.dim),
			}
			return
		}
		s.model = model
		s.logger.Debug("embedding model loaded", "model", s.name, "dimension", s.dim)
	})
	return s.model, s.loadErr
}

// Embed returns the normalized embedding of text. It runs the same code path
// as a one-item EmbedBatch.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if results[0].Err != nil {
		return nil, results[0].Err
	}
	return results[0].Vector, nil
}

// EmbedBatch embeds texts in chunks of the batch size. When a batch call
// fails, or leaves an item without a valid vector, every affected item is
// retried once on its own. Items that still fail carry an InferenceError.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]domain.EmbedResult, error) {
	model, err := s.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]domain.EmbedResult, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := s.embedChunk(ctx, model, texts, start, end, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *Service) embedChunk(ctx context.Context, model Model, texts []string, start, end int, results []domain.EmbedResult) error {
	s.metrics.EmbedBatch()
	vectors, err := model.EmbedRaw(ctx, texts[start:end])
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.Warn("embedding batch failed, retrying items individually",
			"size", end-start, "error", err)
	}

	for i := start; i < end; i++ {
		var v []float32
		if err == nil && i-start < len(vectors) {
			v = vectors[i-start]
		}
		if s.valid(v) {
			l2normalize(v)
			results[i] = domain.EmbedResult{Vector: v}
			continue
		}

		retryErr := s.retryOne(ctx, model, texts[i], &results[i])
		if retryErr == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.metrics.InferenceFailure()
		s.logger.Warn("embedding failed after retry", "index", i, "error", retryErr)
		results[i] = domain.EmbedResult{Err: &domain.InferenceError{Index: i, Err: retryErr}}
	}
	return nil
}

func (s *Service) retryOne(ctx context.Context, model Model, text string, out *domain.EmbedResult) error {
	vectors, err := model.EmbedRaw(ctx, []string{text})
	if err != nil {
		return err
	}
	if len(vectors) != 1 {
		return errors.New("model returned no vector")
	}
	v := vectors[0]
	if len(v) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(v), s.dim)
	}
	l2normalize(v)
	*out = domain.EmbedResult{Vector: v}
	return nil
}

func (s *Service) valid(v []float32) bool {
	return v != nil && len(v) == s.dim
}

// Dimension returns the dimension fixed at construction.
func (s *Service) Dimension() int {
	return s.dim
}

func (s *Service) ModelName() string {
	return s.name
}
