package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"codesearch/internal/adapter/fs"
	"codesearch/internal/adapter/metrics"
	"codesearch/internal/adapter/watcher"
)

var (
	watchMetricsAddr string
	watchDebounce    time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Index a directory and keep the index up to date",
	Long: `Index the directory, then re-index files as they change.

Examples:
  codesearch watch
  codesearch watch --metrics-addr :9464   # also serve Prometheus metrics`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve /metrics on this address (default from config when enabled)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period before applying changes (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	path, err := resolvePath(args)
	if err != nil {
		return err
	}
	cfg := GetConfig()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	m := metrics.New()
	addr := watchMetricsAddr
	if addr == "" && cfg.Metrics.Enabled {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		go func() {
			if err := m.Serve(ctx, addr, logger); err != nil {
				logger.Error("metrics server stopped", "addr", addr, "error", err)
			}
		}()
	}

	eng, err := openEngine(ctx, path, cfg, modeWrite, m)
	if err != nil {
		return err
	}
	defer eng.Close()
	eng.startMonitor(ctx)

	fmt.Printf("Indexing %s...\n", path)
	result, err := eng.index.IndexDir(ctx, path)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	printIndexResult(result)

	debounce := cfg.Watch.Debounce
	if watchDebounce > 0 {
		debounce = watchDebounce
	}
	w, err := watcher.New(path, eng.walker, fs.Reader{},
		watcher.WithDebounce(debounce),
		watcher.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	fmt.Println("\nWatching for changes. Press Ctrl+C to stop.")
	return w.Run(ctx, func(ctx context.Context, batch watcher.Batch) error {
		result, err := eng.index.ApplyChanges(ctx, batch.Changed, batch.Removed)
		if err != nil {
			return err
		}
		logger.Info("index updated",
			"indexed", result.FilesIndexed,
			"skipped", result.FilesSkipped,
			"deleted", result.FilesDeleted,
			"chunks", result.ChunksCreated,
			"errors", len(result.Errors))
		for _, e := range result.Errors {
			logger.Warn("index update problem", "detail", e)
		}
		return nil
	})
}
