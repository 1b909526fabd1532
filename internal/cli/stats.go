package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"codesearch/config"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what is indexed",
	RunE:  runStats,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every chunk, vector, text index entry and cached embedding",
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

type statsOutput struct {
	Root          string `json:"root"`
	Backend       string `json:"backend"`
	Model         string `json:"model"`
	Dimension     int    `json:"dimension"`
	Files         int    `json:"files"`
	Chunks        int    `json:"chunks"`
	Vectors       int    `json:"vectors"`
	TextDocs      uint64 `json:"text_docs"`
	CachedVectors int    `json:"cached_vectors"`
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	eng, err := openEngine(ctx, GetRootDir(), GetConfig(), modeRead, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	stats, err := eng.index.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	out := statsOutput{
		Root:          eng.root,
		Backend:       string(eng.text.Kind()),
		Model:         eng.embedder.ModelName(),
		Dimension:     eng.embedder.Dimension(),
		Files:         stats.TotalFiles,
		Chunks:        stats.TotalChunks,
		Vectors:       stats.TotalVectors,
		TextDocs:      stats.TextDocs,
		CachedVectors: eng.cache.Stats().DiskEntries,
	}
	if statsJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Index at %s\n", config.DataDir(out.Root))
	fmt.Printf("  Text backend:   %s\n", out.Backend)
	fmt.Printf("  Model:          %s (%d dimensions)\n", out.Model, out.Dimension)
	fmt.Printf("  Files:          %d\n", out.Files)
	fmt.Printf("  Chunks:         %d\n", out.Chunks)
	fmt.Printf("  Vectors:        %d\n", out.Vectors)
	fmt.Printf("  Text documents: %d\n", out.TextDocs)
	fmt.Printf("  Cached vectors: %d\n", out.CachedVectors)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	eng, err := openEngine(ctx, GetRootDir(), GetConfig(), modeWrite, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.index.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	fmt.Println("Index cleared.")
	return nil
}
