package store

import (
	"context"
	"errors"
	"testing"

	"codesearch/internal/domain"
)

func openVectors(t *testing.T) (*BoltStore, *BoltVectorStore) {
	t.Helper()
	s := openStore(t)
	vs, err := NewBoltVectorStore(s.DB(), 3)
	if err != nil {
		t.Fatalf("open vector store: %v", err)
	}
	return s, vs
}

func item(id, path string, start int, v ...float32) domain.VectorItem {
	return domain.VectorItem{ChunkID: id, FilePath: path, StartLine: start, EndLine: start + 1, Vector: v}
}

func ids(matches []domain.VectorMatch) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ChunkID
	}
	return out
}

func TestSimilaritySearchRanksByDotProduct(t *testing.T) {
	_, vs := openVectors(t)
	ctx := context.Background()

	err := vs.Upsert(ctx, []domain.VectorItem{
		item("far", "a.go", 1, 0, 1, 0),
		item("near", "a.go", 5, 1, 0, 0),
		item("mid", "b.go", 1, 0.6, 0.8, 0),
	})
	if err != nil {
		t.Fatal(err)
	}

	page, err := vs.SimilaritySearch(ctx, []float32{1, 0, 0}, 2, domain.VectorQuery{})
	if err != nil {
		t.Fatal(err)
	}
	got := ids(page.Matches)
	if len(got) != 2 || got[0] != "near" || got[1] != "mid" {
		t.Errorf("expected [near mid], got %v", got)
	}
	if page.Total != 3 {
		t.Errorf("expected total 3, got %d", page.Total)
	}
}

func TestSimilaritySearchFilters(t *testing.T) {
	_, vs := openVectors(t)
	ctx := context.Background()

	vs.Upsert(ctx, []domain.VectorItem{
		item("go", "src/a.go", 1, 1, 0, 0),
		item("py", "src/b.py", 1, 1, 0, 0),
		item("test", "test/c.go", 1, 1, 0, 0),
		item("weak", "src/d.go", 1, 0.05, 0.99, 0),
	})
	query := []float32{1, 0, 0}

	cases := []struct {
		name   string
		filter domain.VectorFilter
		want   int
	}{
		{"prefix", domain.VectorFilter{PathPrefix: "src/"}, 3},
		{"glob", domain.VectorFilter{PathGlob: "**/*.go"}, 3},
		{"types", domain.VectorFilter{FileTypes: []string{".py"}}, 1},
		{"min score", domain.VectorFilter{MinScore: 0.5}, 3},
		{"combined", domain.VectorFilter{PathPrefix: "src/", FileTypes: []string{"go"}, MinScore: 0.5}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := vs.SimilaritySearch(ctx, query, 10, domain.VectorQuery{Filter: tc.filter})
			if err != nil {
				t.Fatal(err)
			}
			if len(page.Matches) != tc.want {
				t.Errorf("expected %d matches, got %v", tc.want, ids(page.Matches))
			}
		})
	}
}

func TestCursorPagination(t *testing.T) {
	_, vs := openVectors(t)
	ctx := context.Background()

	vs.Upsert(ctx, []domain.VectorItem{
		item("a", "x.go", 1, 1, 0, 0),
		item("b", "x.go", 3, 0.9, 0.1, 0),
		item("c", "x.go", 5, 0.8, 0.2, 0),
		item("d", "x.go", 7, 0.7, 0.3, 0),
		item("e", "x.go", 9, 0.6, 0.4, 0),
	})
	query := []float32{1, 0, 0}

	first, err := vs.SimilaritySearch(ctx, query, 2, domain.VectorQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if first.NextCursor == "" {
		t.Fatal("expected a cursor for the next page")
	}

	second, err := vs.SimilaritySearch(ctx, nil, 2, domain.VectorQuery{Cursor: first.NextCursor})
	if err != nil {
		t.Fatal(err)
	}
	byOffset, err := vs.SimilaritySearch(ctx, query, 2, domain.VectorQuery{Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	got, want := ids(second.Matches), ids(byOffset.Matches)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("cursor page %v differs from offset page %v", got, want)
	}

	third, err := vs.SimilaritySearch(ctx, nil, 2, domain.VectorQuery{Cursor: second.NextCursor})
	if err != nil {
		t.Fatal(err)
	}
	if len(third.Matches) != 1 || third.NextCursor != "" {
		t.Errorf("expected a final page of one, got %v next=%q", ids(third.Matches), third.NextCursor)
	}
}

func TestCursorExpiresOnWrite(t *testing.T) {
	_, vs := openVectors(t)
	ctx := context.Background()

	vs.Upsert(ctx, []domain.VectorItem{item("a", "x.go", 1, 1, 0, 0), item("b", "x.go", 3, 0, 1, 0)})
	page, err := vs.SimilaritySearch(ctx, []float32{1, 0, 0}, 1, domain.VectorQuery{})
	if err != nil {
		t.Fatal(err)
	}

	vs.Upsert(ctx, []domain.VectorItem{item("c", "y.go", 1, 0, 0, 1)})

	_, err = vs.SimilaritySearch(ctx, nil, 1, domain.VectorQuery{Cursor: page.NextCursor})
	if !errors.Is(err, domain.ErrCursorExpired) {
		t.Errorf("expected ErrCursorExpired, got %v", err)
	}
	var vsErr *domain.VectorStoreError
	if !errors.As(err, &vsErr) {
		t.Errorf("expected VectorStoreError, got %T", err)
	}
}

func TestDeleteByFileAndReload(t *testing.T) {
	s, vs := openVectors(t)
	ctx := context.Background()

	vs.Upsert(ctx, []domain.VectorItem{
		item("a1", "a.go", 1, 1, 0, 0),
		item("a2", "a.go", 5, 0, 1, 0),
		item("b1", "b.go", 1, 0, 0, 1),
	})
	if err := vs.DeleteByFile(ctx, "a.go"); err != nil {
		t.Fatal(err)
	}
	if n, _ := vs.Count(ctx); n != 1 {
		t.Errorf("expected 1 vector after delete, got %d", n)
	}

	reopened, err := NewBoltVectorStore(s.DB(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := reopened.Count(ctx); n != 1 {
		t.Errorf("expected 1 vector after reload, got %d", n)
	}
	page, _ := reopened.SimilaritySearch(ctx, []float32{0, 0, 1}, 5, domain.VectorQuery{})
	if len(page.Matches) != 1 || page.Matches[0].FilePath != "b.go" {
		t.Errorf("expected b.go to survive, got %+v", page.Matches)
	}
}

func TestDimensionMismatch(t *testing.T) {
	_, vs := openVectors(t)
	ctx := context.Background()

	err := vs.Upsert(ctx, []domain.VectorItem{item("bad", "a.go", 1, 1, 0)})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on upsert, got %v", err)
	}
	if n, _ := vs.Count(ctx); n != 0 {
		t.Errorf("a rejected batch must not be stored, got %d", n)
	}

	_, err = vs.SimilaritySearch(ctx, []float32{1}, 1, domain.VectorQuery{})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on search, got %v", err)
	}
}

func TestVectorClear(t *testing.T) {
	_, vs := openVectors(t)
	ctx := context.Background()

	vs.Upsert(ctx, []domain.VectorItem{item("a", "a.go", 1, 1, 0, 0)})
	if err := vs.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := vs.Count(ctx); n != 0 {
		t.Errorf("expected empty store, got %d", n)
	}
}
