package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codesearch/internal/domain"
	"codesearch/internal/port"
)

func TestIndexReplacesChunksOfChangedFile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, serviceFor(newTestModel()))

	mustIndex(t, env.index, domain.SourceFile{Path: "calc.py", Content: calcPy})
	before, err := env.chunks.ChunksByFile(ctx, "calc.py")
	if err != nil {
		t.Fatal(err)
	}
	if len(before) < 3 {
		t.Fatalf("expected a chunk per function, got %d", len(before))
	}

	updated := "def calculate_total(items):\n    return sum(items)\n"
	result := mustIndex(t, env.index, domain.SourceFile{Path: "calc.py", Content: updated})
	if result.FilesIndexed != 1 {
		t.Errorf("FilesIndexed = %d, want 1", result.FilesIndexed)
	}

	after, err := env.chunks.ChunksByFile(ctx, "calc.py")
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 {
		t.Fatalf("expected old chunks to be replaced, got %d chunks", len(after))
	}
	if !strings.Contains(after[0].Content, "calculate_total") {
		t.Errorf("unexpected chunk content %q", after[0].Content)
	}
	for _, c := range before {
		if _, err := env.chunks.GetChunk(ctx, c.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("stale chunk %s still present: %v", c.ID, err)
		}
	}

	count, err := env.vectors.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("vector count = %d, want 1", count)
	}

	hits, err := env.text.Search(ctx, domain.TextQuery{Text: "calculate_product"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("text index still holds removed lines: %+v", hits)
	}
}

func TestIndexSkipsUnchangedFiles(t *testing.T) {
	model := newTestModel()
	env := newTestEnv(t, serviceFor(model))

	mustIndex(t, env.index, domain.SourceFile{Path: "calc.py", Content: calcPy})
	calls := model.callCount()

	result := mustIndex(t, env.index, domain.SourceFile{Path: "calc.py", Content: calcPy})
	if result.FilesSkipped != 1 || result.FilesIndexed != 0 {
		t.Errorf("got indexed=%d skipped=%d, want 0 and 1", result.FilesIndexed, result.FilesSkipped)
	}
	if model.callCount() != calls {
		t.Errorf("unchanged file was embedded again")
	}
}

func TestIndexDirPrunesDeletedFiles(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, serviceFor(newTestModel()))

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "calc.py"), []byte(calcPy), 0644); err != nil {
		t.Fatal(err)
	}
	mathGo := "package pkg\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n"
	if err := os.WriteFile(filepath.Join(root, "pkg", "math.go"), []byte(mathGo), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := env.index.IndexDir(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesIndexed != 2 {
		t.Fatalf("FilesIndexed = %d, want 2 (errors: %v)", result.FilesIndexed, result.Errors)
	}
	if _, ok, _ := env.chunks.FileHash(ctx, "pkg/math.go"); !ok {
		t.Fatal("files should be keyed by slash-separated relative path")
	}

	if err := os.Remove(filepath.Join(root, "calc.py")); err != nil {
		t.Fatal(err)
	}
	result, err = env.index.IndexDir(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesDeleted != 1 || result.FilesSkipped != 1 {
		t.Errorf("got deleted=%d skipped=%d, want 1 and 1", result.FilesDeleted, result.FilesSkipped)
	}

	files, err := env.chunks.ListFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Path != "pkg/math.go" {
		t.Errorf("unexpected files after prune: %+v", files)
	}
	stats, err := env.index.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalVectors != stats.TotalChunks {
		t.Errorf("vectors %d out of step with chunks %d", stats.TotalVectors, stats.TotalChunks)
	}
}

func TestIndexAbortsWhenModelCannotLoad(t *testing.T) {
	env := newTestEnv(t, brokenService())

	_, err := env.index.Index(context.Background(), []domain.SourceFile{{Path: "calc.py", Content: calcPy}})
	var loadErr *domain.ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
	if _, ok, _ := env.chunks.FileHash(context.Background(), "calc.py"); ok {
		t.Error("file should not be recorded when embedding is impossible")
	}
}

func TestIndexLeavesFailedEmbeddingsOutOfVectors(t *testing.T) {
	ctx := context.Background()
	model := newTestModel()
	model.failOn = "calculate_product(a, b):"
	env := newTestEnv(t, serviceFor(model))

	result := mustIndex(t, env.index, domain.SourceFile{Path: "calc.py", Content: calcPy})
	if result.EmbedFailures != 1 {
		t.Errorf("EmbedFailures = %d, want 1", result.EmbedFailures)
	}

	chunks, err := env.chunks.ChunksByFile(ctx, "calc.py")
	if err != nil {
		t.Fatal(err)
	}
	count, err := env.vectors.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != len(chunks)-1 {
		t.Errorf("vector count = %d, want %d", count, len(chunks)-1)
	}

	hits, err := env.text.Search(ctx, domain.TextQuery{Text: "calculate_product"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Error("failed chunk should stay searchable by text")
	}
}

func TestApplyChangesRemovesDirectories(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, serviceFor(newTestModel()))
	mustIndex(t, env.index,
		domain.SourceFile{Path: "calc.py", Content: calcPy},
		domain.SourceFile{Path: "lib/a.py", Content: "def a():\n    return 1\n"},
		domain.SourceFile{Path: "lib/sub/b.py", Content: "def b():\n    return 2\n"},
		domain.SourceFile{Path: "library.py", Content: "def lib():\n    return 3\n"},
	)

	result, err := env.index.ApplyChanges(ctx,
		[]domain.SourceFile{{Path: "calc.py", Content: "def calculate_total(items):\n    return sum(items)\n"}},
		[]string{"lib"},
	)
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesIndexed != 1 || result.FilesDeleted != 2 {
		t.Errorf("got indexed=%d deleted=%d, want 1 and 2", result.FilesIndexed, result.FilesDeleted)
	}

	files, err := env.chunks.ListFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, f := range files {
		got[f.Path] = true
	}
	if len(got) != 2 || !got["calc.py"] || !got["library.py"] {
		t.Errorf("unexpected files %v", got)
	}
}

func TestIndexClear(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, serviceFor(newTestModel()))
	mustIndex(t, env.index, domain.SourceFile{Path: "calc.py", Content: calcPy})

	if err := env.index.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	stats, err := env.index.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalFiles != 0 || stats.TotalChunks != 0 || stats.TotalVectors != 0 || stats.TextDocs != 0 {
		t.Errorf("index not empty after clear: %+v", stats)
	}
}

func TestContextExpanderBoundaries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, serviceFor(newTestModel()))
	mustIndex(t, env.index, domain.SourceFile{Path: "calc.py", Content: calcPy})

	chunks, err := env.chunks.ChunksByFile(ctx, "calc.py")
	if err != nil {
		t.Fatal(err)
	}
	expander := NewContextExpander(env.chunks)

	first, err := expander.Expand(ctx, chunks[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Above != nil {
		t.Errorf("first chunk should have no above context, got %+v", first.Above)
	}
	if first.Below == nil || first.Below.ID != chunks[1].ID {
		t.Errorf("first chunk below = %+v, want %s", first.Below, chunks[1].ID)
	}

	last, err := expander.Expand(ctx, chunks[len(chunks)-1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if last.Below != nil {
		t.Errorf("last chunk should have no below context, got %+v", last.Below)
	}
	if last.Above == nil || last.Above.ID != chunks[len(chunks)-2].ID {
		t.Errorf("last chunk above = %+v", last.Above)
	}

	if _, err := expander.Expand(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIndexRetriesFileAfterTextIndexFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvWithText(t, serviceFor(newTestModel()), func(inner port.TextSearcher) port.TextSearcher {
		return &flakyText{TextSearcher: inner, failures: 1}
	})
	src := domain.SourceFile{Path: "calc.py", Content: calcPy}

	first, err := env.index.Index(ctx, []domain.SourceFile{src})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Errors) != 1 {
		t.Fatalf("expected one index error, got %v", first.Errors)
	}
	if _, ok, _ := env.chunks.FileHash(ctx, "calc.py"); ok {
		t.Error("file hash recorded although the text index write failed")
	}

	second := mustIndex(t, env.index, src)
	if second.FilesIndexed != 1 || second.FilesSkipped != 0 {
		t.Errorf("second run indexed=%d skipped=%d, want 1 and 0", second.FilesIndexed, second.FilesSkipped)
	}

	hits, err := env.text.Search(ctx, domain.TextQuery{Text: "calculate_sum"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Error("calculate_sum missing from the text index after retry")
	}
	count, err := env.vectors.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	chunks, _ := env.chunks.ChunksByFile(ctx, "calc.py")
	if count != len(chunks) {
		t.Errorf("vector count = %d, want %d", count, len(chunks))
	}
}
