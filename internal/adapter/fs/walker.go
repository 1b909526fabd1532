package fs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"codesearch/internal/port"
)

// skipDirs are never descended into.
var skipDirs = map[string]struct{}{
	"node_modules": {},
	"target":       {},
	"dist":         {},
	"build":        {},
	"__pycache__":  {},
}

type Walker struct {
	includes     []string
	excludes     []string
	includeTests bool
	maxBytes     int64

	mu       sync.RWMutex
	root     string
	matchers []gitignoreMatcher
}

// gitignoreMatcher applies one .gitignore below its directory.
type gitignoreMatcher struct {
	matcher *ignore.GitIgnore
	baseDir string // slash path relative to the walk root, "" for the root
}

// Options controls which files a Walker yields.
type Options struct {
	Includes     []string
	Excludes     []string
	IncludeTests bool
	MaxFileBytes int64
}

func NewWalker(opts Options) *Walker {
	includes := opts.Includes
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes:     includes,
		excludes:     opts.Excludes,
		includeTests: opts.IncludeTests,
		maxBytes:     opts.MaxFileBytes,
	}
}

// Walk returns every file under root that passes the include and exclude
// globs, the .gitignore files found on the way, and the test-file filter.
func (w *Walker) Walk(ctx context.Context, root string) ([]port.FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []port.FileInfo
	var matchers []gitignoreMatcher

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if path == root {
				matchers = loadGitignore(matchers, path, "")
				return nil
			}
			if skipDir(d.Name()) || w.shouldExclude(relPath+"/") || ignoredBy(matchers, relPath, true) {
				return filepath.SkipDir
			}
			matchers = loadGitignore(matchers, path, relPath)
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if !w.shouldInclude(relPath) || w.shouldExclude(relPath) || ignoredBy(matchers, relPath, false) {
			return nil
		}
		if !w.includeTests && IsTestFile(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if w.maxBytes > 0 && info.Size() > w.maxBytes {
			return nil
		}

		files = append(files, port.FileInfo{
			Path:    path,
			RelPath: relPath,
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.root = root
	w.matchers = matchers
	w.mu.Unlock()

	return files, nil
}

// Allowed applies the same filters as Walk to a single path below the last
// walked root, using the .gitignore files seen during that walk.
func (w *Walker) Allowed(path string) bool {
	w.mu.RLock()
	root, matchers := w.root, w.matchers
	w.mu.RUnlock()
	if root == "" {
		return false
	}

	relPath, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return false
	}
	relPath = filepath.ToSlash(relPath)

	parts := strings.Split(relPath, "/")
	for i, dir := range parts[:len(parts)-1] {
		if skipDir(dir) || ignoredBy(matchers, strings.Join(parts[:i+1], "/"), true) {
			return false
		}
	}

	if !w.shouldInclude(relPath) || w.shouldExclude(relPath) || ignoredBy(matchers, relPath, false) {
		return false
	}
	return w.includeTests || !IsTestFile(relPath)
}

func skipDir(name string) bool {
	if strings.HasPrefix(name, ".") && name != "." {
		return true
	}
	_, ok := skipDirs[name]
	return ok
}

func loadGitignore(matchers []gitignoreMatcher, dir, relDir string) []gitignoreMatcher {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		return matchers
	}
	return append(matchers, gitignoreMatcher{matcher: gi, baseDir: relDir})
}

func ignoredBy(matchers []gitignoreMatcher, relPath string, isDir bool) bool {
	for _, m := range matchers {
		p := relPath
		if m.baseDir != "" {
			if !strings.HasPrefix(relPath, m.baseDir+"/") {
				continue
			}
			p = strings.TrimPrefix(relPath, m.baseDir+"/")
		}
		if isDir {
			p += "/"
		}
		if m.matcher.MatchesPath(p) {
			return true
		}
	}
	return false
}

func (w *Walker) shouldInclude(path string) bool {
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// IsTestFile reports whether path looks like a test file or lives in a test directory.
func IsTestFile(path string) bool {
	path = filepath.ToSlash(path)
	base := filepath.Base(path)
	baseNoExt := strings.TrimSuffix(base, filepath.Ext(base))

	if strings.HasSuffix(baseNoExt, "_test") || strings.HasPrefix(baseNoExt, "test_") ||
		strings.HasSuffix(baseNoExt, ".test") || strings.HasSuffix(baseNoExt, ".spec") ||
		(strings.HasSuffix(baseNoExt, "Test") && filepath.Ext(base) == ".java") {
		return true
	}

	slashed := "/" + path
	return strings.Contains(slashed, "/test/") || strings.Contains(slashed, "/tests/") ||
		strings.Contains(slashed, "/__tests__/")
}

// ReadFile reads a file as text.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Reader adapts ReadFile to port.FileReader.
type Reader struct{}

func (Reader) ReadFile(path string) (string, error) {
	return ReadFile(path)
}
