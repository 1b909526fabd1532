package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"codesearch/internal/domain"
	"codesearch/internal/port"
)

// DefaultDebounce is used when no debounce interval is configured.
const DefaultDebounce = 500 * time.Millisecond

// Filter decides whether a file below the watched root should be indexed.
// fs.Walker satisfies it.
type Filter interface {
	Allowed(path string) bool
}

// Batch is one debounced set of changes. Paths are slash-separated and
// relative to the watched root.
type Batch struct {
	Changed []domain.SourceFile
	Removed []string
}

func (b Batch) Empty() bool {
	return len(b.Changed) == 0 && len(b.Removed) == 0
}

// Handler applies a batch. An error is logged and watching continues.
type Handler func(ctx context.Context, batch Batch) error

type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	filter   Filter
	reader   port.FileReader
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

func New(root string, filter Filter, reader port.FileReader, opts ...Option) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     root,
		fsw:      fsw,
		filter:   filter,
		reader:   reader,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches the root until ctx is done, calling handle once per quiet
// period of the debounce interval.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	defer w.fsw.Close()

	if err := w.addRecursive(w.root, false); err != nil {
		return err
	}
	w.logger.Info("watching for changes", "root", w.root, "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			batch := w.flush()
			if batch.Empty() {
				continue
			}
			w.logger.Debug("applying changes", "changed", len(batch.Changed), "removed", len(batch.Removed))
			if err := handle(ctx, batch); err != nil {
				w.logger.Error("failed to apply changes", "error", err)
			}
		}
	}
}

// addRecursive watches dir and every directory below it that the walker
// would descend into. With enqueue set, files found on the way are queued;
// they may have been written before the watch was in place.
func (w *Watcher) addRecursive(dir string, enqueue bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != w.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", "path", path, "error", err)
			}
			return nil
		}
		if enqueue {
			w.enqueue(path)
		}
		return nil
	})
}

// handleEvent records the path of event and reports whether anything was
// queued.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name, true); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return true
		}
	}

	w.enqueue(event.Name)
	return true
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	w.pending[path] = struct{}{}
	w.mu.Unlock()
}

// flush turns the queued paths into a batch. A path that still exists is a
// change if the filter accepts it; a path that is gone is a removal.
func (w *Watcher) flush() Batch {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()
	sort.Strings(paths)

	var batch Batch
	for _, path := range paths {
		rel, err := filepath.Rel(w.root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)

		info, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			batch.Removed = append(batch.Removed, rel)
			continue
		}
		if err != nil || info.IsDir() {
			continue
		}
		if !w.filter.Allowed(path) {
			continue
		}
		content, err := w.reader.ReadFile(path)
		if err != nil {
			w.logger.Warn("failed to read changed file", "path", rel, "error", err)
			continue
		}
		batch.Changed = append(batch.Changed, domain.SourceFile{Path: rel, Content: content})
	}
	return batch
}
