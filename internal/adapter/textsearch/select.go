package textsearch

import (
	"errors"
	"fmt"
	"log/slog"

	"codesearch/internal/adapter/metrics"
	"codesearch/internal/domain"
	"codesearch/internal/port"
)

// Options configures backend selection.
type Options struct {
	Kind          port.BackendKind
	IndexDir      string
	Root          string
	Walker        port.FileWalker
	CaseSensitive bool
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Open returns the text backend for opts.Kind. Under BackendAuto an index that
// cannot be initialized falls back to the filesystem backend. A forced
// BackendIndexed returns the init error.
func Open(opts Options) (port.TextSearcher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Kind {
	case port.BackendFilesystem:
		return NewFilesystem(opts.Walker, opts.Root, opts.CaseSensitive), nil

	case port.BackendIndexed:
		return OpenBleve(opts.IndexDir, logger)

	case port.BackendAuto, "":
		idx, err := OpenBleve(opts.IndexDir, logger)
		if err == nil {
			return idx, nil
		}
		var initErr *domain.IndexBackendInitError
		if !errors.As(err, &initErr) {
			return nil, err
		}
		logger.Warn("text index unavailable, using filesystem search", "dir", opts.IndexDir, "error", err)
		opts.Metrics.BackendFallback()
		return NewFilesystem(opts.Walker, opts.Root, opts.CaseSensitive), nil
	}

	return nil, fmt.Errorf("unknown text backend %q", opts.Kind)
}
