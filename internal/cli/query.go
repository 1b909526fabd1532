package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"codesearch/internal/domain"
	"codesearch/internal/port"
)

var (
	queryTopK        int
	queryJSON        bool
	queryFuzzy       bool
	queryTypes       []string
	queryGlob        string
	queryThreshold   float64
	queryTimeout     time.Duration
	queryContext     bool
	queryInteractive bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search the index",
	Long: `Search indexed code with exact, fuzzy and semantic matching.

A trailing ~ marks a term fuzzy and ~N sets its edit distance (at most 2).

Examples:
  codesearch query "calculate_sum"
  codesearch query "calculat_sum~1" --json
  codesearch query "open database" --type go --glob "internal/**"
  codesearch query -i                     # read queries from stdin`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryFuzzy, "fuzzy", false, "treat every term as fuzzy")
	queryCmd.Flags().StringSliceVarP(&queryTypes, "type", "t", nil, "restrict to file extensions, e.g. go,py")
	queryCmd.Flags().StringVarP(&queryGlob, "glob", "g", "", "restrict to paths matching a glob")
	queryCmd.Flags().Float64Var(&queryThreshold, "threshold", -1, "minimum fused score (default from config)")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 0, "query timeout (default from config)")
	queryCmd.Flags().BoolVarP(&queryContext, "context", "C", false, "print the neighbouring chunks")
	queryCmd.Flags().BoolVarP(&queryInteractive, "interactive", "i", false, "read one query per line from stdin")
}

func queryOptions() domain.QueryOptions {
	opts := domain.QueryOptions{
		MaxResults: queryTopK,
		FileTypes:  queryTypes,
		PathGlob:   queryGlob,
		Fuzzy:      queryFuzzy,
		Timeout:    queryTimeout,
	}
	if queryThreshold >= 0 {
		threshold := queryThreshold
		opts.ScoreThreshold = &threshold
	}
	return opts
}

func runQuery(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" && !queryInteractive {
		return fmt.Errorf("a query is required")
	}

	ctx := cmd.Context()
	eng, err := openEngine(ctx, GetRootDir(), GetConfig(), modeRead, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	out := cmd.OutOrStdout()
	if !queryInteractive {
		return runOneQuery(cmd, eng.searcher, text, out)
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runOneQuery(cmd, eng.searcher, line, out); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func runOneQuery(cmd *cobra.Command, searcher port.Searcher, text string, out io.Writer) error {
	resp, err := searcher.Search(cmd.Context(), text, queryOptions())
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if queryJSON {
		return writeJSON(out, resp)
	}
	writeText(out, resp)
	return nil
}

type queryOutput struct {
	Query   string              `json:"query"`
	Results []domain.ResultView `json:"results"`
	Meta    domain.QueryMeta    `json:"meta"`
}

func writeJSON(out io.Writer, resp domain.QueryResponse) error {
	views := make([]domain.ResultView, len(resp.Results))
	for i, r := range resp.Results {
		views[i] = r.View()
		if !queryContext {
			views[i].AboveContext = nil
			views[i].BelowContext = nil
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(queryOutput{Query: resp.Query, Results: views, Meta: resp.Meta})
}

func writeText(out io.Writer, resp domain.QueryResponse) {
	for _, note := range resp.Meta.Notes {
		fmt.Fprintf(out, "note: %s\n", note)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}

	fmt.Fprintf(out, "Found %d results for: %s (%s", len(resp.Results), resp.Query, resp.Meta.Elapsed.Round(time.Millisecond))
	if resp.Meta.FromCache {
		fmt.Fprint(out, ", cached")
	}
	fmt.Fprint(out, ")\n\n")

	for _, r := range resp.Results {
		sources := make([]string, len(r.Sources))
		for i, s := range r.Sources {
			sources[i] = string(s)
		}
		fmt.Fprintf(out, "--- [%d] %s:L%d-%d (score: %.2f, %s) ---\n",
			r.Rank, r.Chunk.FilePath, r.Chunk.StartLine, r.Chunk.EndLine, r.FinalScore, strings.Join(sources, "+"))

		if queryContext && r.AboveContext != nil {
			fmt.Fprintln(out, indent(truncate(r.AboveContext.Content, 300), "  | "))
		}
		fmt.Fprintln(out, truncate(r.Chunk.Content, 500))
		if queryContext && r.BelowContext != nil {
			fmt.Fprintln(out, indent(truncate(r.BelowContext.Content, 300), "  | "))
		}
		fmt.Fprintln(out)
	}
}

func truncate(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
