package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chunking.WindowLines != 40 {
		t.Errorf("expected WindowLines=40, got %d", cfg.Chunking.WindowLines)
	}
	if cfg.Chunking.WindowOverlap != 5 {
		t.Errorf("expected WindowOverlap=5, got %d", cfg.Chunking.WindowOverlap)
	}
	if cfg.Embedding.BatchSize != 32 {
		t.Errorf("expected BatchSize=32, got %d", cfg.Embedding.BatchSize)
	}
	if cfg.Cache.Capacity != 10000 {
		t.Errorf("expected Capacity=10000, got %d", cfg.Cache.Capacity)
	}
	if cfg.Search.MaxEdits != 2 {
		t.Errorf("expected MaxEdits=2, got %d", cfg.Search.MaxEdits)
	}
	if cfg.Fusion.FuzzyWeight != 0.9 {
		t.Errorf("expected FuzzyWeight=0.9, got %f", cfg.Fusion.FuzzyWeight)
	}
	if cfg.Fusion.SemanticWeight != 0.8 {
		t.Errorf("expected SemanticWeight=0.8, got %f", cfg.Fusion.SemanticWeight)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "codesearch.yaml")

	content := `
chunking:
  window_lines: 20
  window_overlap: 2
search:
  backend: filesystem
query:
  timeout: 2s
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Chunking.WindowLines != 20 {
		t.Errorf("expected WindowLines=20, got %d", cfg.Chunking.WindowLines)
	}
	if cfg.Search.Backend != "filesystem" {
		t.Errorf("expected Backend=filesystem, got %s", cfg.Search.Backend)
	}
	if cfg.Query.Timeout != 2*time.Second {
		t.Errorf("expected Timeout=2s, got %v", cfg.Query.Timeout)
	}
	if cfg.Embedding.Dimension != 384 {
		t.Errorf("expected unset Dimension to keep default 384, got %d", cfg.Embedding.Dimension)
	}
}

func TestLoad_InvalidMaxEdits(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "codesearch.yaml")

	if err := os.WriteFile(configPath, []byte("search:\n  max_edits: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for max_edits=3")
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := EnsureDataDir(tmpDir); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(tmpDir, DataDirName, "config.yaml")

	content := `
fusion:
  min_score: 0.25
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Fusion.MinScore != 0.25 {
		t.Errorf("expected MinScore=0.25, got %f", cfg.Fusion.MinScore)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "codesearch.yaml")

	cfg := DefaultConfig()
	cfg.Search.Backend = "indexed"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Search.Backend != "indexed" {
		t.Errorf("expected Backend=indexed, got %s", loaded.Search.Backend)
	}
}

func TestPaths(t *testing.T) {
	root := "/home/user/project"
	cases := map[string]string{
		IndexDBPath(root):   filepath.Join(root, ".codesearch", "index.db"),
		CacheDBPath(root):   filepath.Join(root, ".codesearch", "embeddings.db"),
		TextIndexPath(root): filepath.Join(root, ".codesearch", "text.bleve"),
	}
	for got, expected := range cases {
		if got != expected {
			t.Errorf("expected %s, got %s", expected, got)
		}
	}
}
