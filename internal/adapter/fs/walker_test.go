package fs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func relPaths(t *testing.T, w *Walker, root string) []string {
	t.Helper()
	files, err := w.Walk(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, f := range files {
		out = append(out, f.RelPath)
	}
	sort.Strings(out)
	return out
}

func TestWalkerHonorsGitignoreAndSkipDirs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":            "generated/\n*.log\n",
		"main.go":               "package main",
		"debug.log":             "noise",
		"generated/api.go":      "package generated",
		"node_modules/lib/x.js": "x",
		".hidden/secret.go":     "package hidden",
		"pkg/util.go":           "package pkg",
		"pkg/.gitignore":        "local.go\n",
		"pkg/local.go":          "package pkg",
		"target/debug/build.rs": "fn main() {}",
	})

	w := NewWalker(Options{Includes: []string{"**/*"}, IncludeTests: true})
	got := relPaths(t, w, root)

	expected := []string{".gitignore", "main.go", "pkg/.gitignore", "pkg/util.go"}
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("expected %s at %d, got %s", expected[i], i, got[i])
		}
	}
}

func TestWalkerIncludeExclude(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":           "package a",
		"b.py":           "print(1)",
		"vendor/c.go":    "package c",
		"docs/readme.md": "# hi",
	})

	w := NewWalker(Options{
		Includes:     []string{"**/*.go", "**/*.py"},
		Excludes:     []string{"vendor/**"},
		IncludeTests: true,
	})
	got := relPaths(t, w, root)

	if len(got) != 2 || got[0] != "a.go" || got[1] != "b.py" {
		t.Errorf("expected [a.go b.py], got %v", got)
	}
}

func TestWalkerSkipsTestsWhenConfigured(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"calc.go":         "package calc",
		"calc_test.go":    "package calc",
		"tests/helper.py": "x = 1",
		"web/app.spec.ts": "it()",
	})

	w := NewWalker(Options{Includes: []string{"**/*"}, IncludeTests: false})
	got := relPaths(t, w, root)

	if len(got) != 1 || got[0] != "calc.go" {
		t.Errorf("expected only calc.go, got %v", got)
	}
}

func TestWalkerMaxFileBytes(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"small.go": "package a",
		"big.go":   string(make([]byte, 2048)),
	})

	w := NewWalker(Options{Includes: []string{"**/*.go"}, IncludeTests: true, MaxFileBytes: 1024})
	got := relPaths(t, w, root)

	if len(got) != 1 || got[0] != "small.go" {
		t.Errorf("expected only small.go, got %v", got)
	}
}

func TestWalkerAllowed(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore": "out/\n",
		"main.go":    "package main",
	})

	w := NewWalker(Options{Includes: []string{"**/*.go"}, IncludeTests: false})
	if w.Allowed(filepath.Join(root, "main.go")) {
		t.Error("expected Allowed to be false before the first walk")
	}
	relPaths(t, w, root)

	cases := map[string]bool{
		"main.go":           true,
		"new.go":            true,
		"out/gen.go":        false,
		"node_modules/x.go": false,
		"new_test.go":       false,
		"notes.txt":         false,
	}
	for rel, want := range cases {
		if got := w.Allowed(filepath.Join(root, rel)); got != want {
			t.Errorf("Allowed(%s) = %v, want %v", rel, got, want)
		}
	}
}

func TestIsTestFile(t *testing.T) {
	cases := map[string]bool{
		"calc_test.go":       true,
		"test_calc.py":       true,
		"src/app.test.js":    true,
		"src/app.spec.ts":    true,
		"src/CalcTest.java":  true,
		"tests/fixtures.py":  true,
		"src/__tests__/a.js": true,
		"src/calc.go":        false,
		"src/contest.go":     false,
		"src/Latest.java":    false,
	}
	for path, want := range cases {
		if got := IsTestFile(path); got != want {
			t.Errorf("IsTestFile(%s) = %v, want %v", path, got, want)
		}
	}
}
