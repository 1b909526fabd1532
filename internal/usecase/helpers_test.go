package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

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
)

const testDim = 64

const calcPy = `def calculate_sum(a, b):
    return a + b


def calculate_product(a, b):
    return a * b


def main():
    print(calculate_sum(1, 2))
`

// testModel wraps the hashing model. Texts containing failOn get no vector.
type testModel struct {
	inner   *embedding.HashingModel
	failOn  string
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (m *testModel) EmbedRaw(ctx context.Context, texts []string) ([][]float32, error) {
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	out, err := m.inner.EmbedRaw(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, text := range texts {
		if m.failOn != "" && strings.Contains(text, m.failOn) {
			out[i] = nil
		}
	}
	return out, nil
}

func (m *testModel) Dimension() int { return testDim }
func (m *testModel) Name() string   { return "test" }

func (m *testModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestModel() *testModel {
	return &testModel{inner: embedding.NewHashingModel(testDim)}
}

func serviceFor(model *testModel) *embedding.Service {
	return embedding.NewService("test", testDim, func(context.Context) (embedding.Model, error) {
		return model, nil
	})
}

func brokenService() *embedding.Service {
	return embedding.NewService("broken", testDim, func(context.Context) (embedding.Model, error) {
		return nil, errors.New("weights not found")
	})
}

type testEnv struct {
	chunks  *memstore.MemoryStore
	vectors *memstore.VectorStore
	text    port.TextSearcher
	index   *IndexUseCase
}

func newTestEnv(t *testing.T, embedder port.Embedder) *testEnv {
	t.Helper()
	return newTestEnvWithText(t, embedder, nil)
}

// newTestEnvWithText lets wrap replace the bleve backend the indexer writes to.
func newTestEnvWithText(t *testing.T, embedder port.Embedder, wrap func(port.TextSearcher) port.TextSearcher) *testEnv {
	t.Helper()

	var text port.TextSearcher
	bleveText, err := textsearch.OpenBleve(filepath.Join(t.TempDir(), "text.bleve"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bleveText.Close() })
	text = bleveText
	if wrap != nil {
		text = wrap(text)
	}

	embCache, err := cache.NewEmbeddingCache(1000)
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		chunks:  memstore.NewMemoryStore(),
		vectors: memstore.NewVectorStore(testDim),
		text:    text,
	}
	env.index = NewIndexUseCase(IndexDeps{
		Chunker:  chunker.NewRegexChunker(chunker.DefaultOptions()),
		Chunks:   env.chunks,
		Vectors:  env.vectors,
		Text:     text,
		Embedder: embedder,
		Cache:    embCache,
		Walker:   fs.NewWalker(fs.Options{Includes: []string{"**/*.py", "**/*.go"}}),
		Reader:   fs.Reader{},
	}, WithWorkers(2))
	return env
}

func (e *testEnv) search(embedder port.Embedder, text port.TextSearcher) *SearchUseCase {
	if text == nil {
		text = e.text
	}
	fusion := retriever.NewFusion(retriever.WeightsFromConfig(config.DefaultConfig().Fusion))
	return NewSearchUseCase(
		text,
		retriever.NewSemanticRetriever(e.vectors, embedder),
		e.chunks,
		fusion,
		SearchSettings{MaxResults: 10, CandidatePool: 50, MaxEdits: 2},
		nil,
		nil,
	)
}

func mustIndex(t *testing.T, u *IndexUseCase, files ...domain.SourceFile) *IndexResult {
	t.Helper()
	result, err := u.Index(context.Background(), files)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected index errors: %v", result.Errors)
	}
	return result
}

// blockingText never answers until release is closed.
type blockingText struct {
	release chan struct{}
}

func (b blockingText) Search(ctx context.Context, _ domain.TextQuery) ([]domain.SearchHit, error) {
	<-b.release
	return nil, nil
}
func (blockingText) IndexFile(context.Context, string, string) error { return nil }
func (blockingText) RemoveFile(context.Context, string) error        { return nil }
func (blockingText) ClearIndex(context.Context) error                { return nil }
func (blockingText) DocCount() (uint64, error)                       { return 0, nil }
func (blockingText) Kind() port.BackendKind                          { return "blocking" }
func (blockingText) Close() error                                    { return nil }

// failingText fails every search.
type failingText struct{ blockingText }

func (failingText) Search(context.Context, domain.TextQuery) ([]domain.SearchHit, error) {
	return nil, errors.New("index corrupted")
}

// flakyText fails the first failures calls to IndexFile.
type flakyText struct {
	port.TextSearcher

	mu       sync.Mutex
	failures int
}

func (f *flakyText) IndexFile(ctx context.Context, path, content string) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("disk full")
	}
	f.mu.Unlock()
	return f.TextSearcher.IndexFile(ctx, path, content)
}
