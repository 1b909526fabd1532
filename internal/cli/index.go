package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"codesearch/config"
	"codesearch/internal/usecase"
)

var (
	indexWorkers int
	indexRebuild bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index files for search",
	Long: `Index files in the specified directory for later search.
Chunks, vectors and the text index are stored in .codesearch/ within the target
directory. Unchanged files are skipped and deleted files are removed.

Examples:
  codesearch index                    # Index current directory
  codesearch index /path/to/project   # Index specific directory
  codesearch index --rebuild          # Drop the index and start over`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().IntVarP(&indexWorkers, "workers", "w", 0, "parallel file workers (default from config)")
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false, "clear the index before indexing")
}

// resolvePath returns the directory named by args, or the root directory.
func resolvePath(args []string) (string, error) {
	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return "", fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", path)
	}
	return path, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	path, err := resolvePath(args)
	if err != nil {
		return err
	}

	cfg := GetConfig()
	if indexWorkers > 0 {
		cfg.Index.Workers = indexWorkers
	}

	ctx := cmd.Context()
	eng, err := openEngine(ctx, path, cfg, modeWrite, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	if indexRebuild {
		fmt.Println("Clearing existing index...")
		if err := eng.index.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	}

	fmt.Printf("Scanning %s...\n", path)

	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var startTime time.Time

	progress := func(done, total int) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		_ = bar.Set(done)

		elapsed := time.Since(startTime)
		rate := float64(done) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(total-done)/rate) * time.Second
			bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
		}
	}
	eng.index.SetProgress(progress)

	start := time.Now()
	result, err := eng.index.IndexDir(ctx, path)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	printIndexResult(result)
	fmt.Printf("\nIndexed in %s. Index stored at: %s\n", formatDuration(time.Since(start)), config.DataDir(path))
	return nil
}

func printIndexResult(result *usecase.IndexResult) {
	fmt.Printf("\nIndexing complete:\n")
	fmt.Printf("  Files indexed:  %d\n", result.FilesIndexed)
	fmt.Printf("  Files skipped:  %d (unchanged)\n", result.FilesSkipped)
	fmt.Printf("  Files deleted:  %d (removed)\n", result.FilesDeleted)
	fmt.Printf("  Chunks created: %d\n", result.ChunksCreated)
	if result.EmbedFailures > 0 {
		fmt.Printf("  Embed failures: %d (text search only)\n", result.EmbedFailures)
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
