package cmd

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/loreweave/loreweave/internal/chunker"
	"github.com/loreweave/loreweave/internal/rag"
	"github.com/loreweave/loreweave/internal/reranker"
	"github.com/spf13/cobra"
)

var (
	searchType      string
	searchLimit     int
	searchThreshold float64
	searchExact     bool
	searchRerank    string
	noKeywordBoost  bool
	noMetadataBoost bool
)

var searchCmd = &cobra.Command{
	Use:   "search [story] [query]",
	Short: "Search story content by semantic similarity",
	Long: `Search a story's indexed content by semantic similarity.

The query is embedded and matched against stored chunks; results come back
ordered by descending similarity. An optional reranking pass re-scores
results with keyword, metadata, and content-type signals.

Examples:
  loreweave search my-novel "What does Mira look like?"
  loreweave search my-novel "the siege of Thornkeep" --type scene --limit 10
  loreweave search my-novel "Who betrayed the king?" --rerank hybrid
  loreweave search my-novel "exact recall check" --exact --threshold 0.5`,
	Args: cobra.ExactArgs(2),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVar(&searchType, "type", "", "Restrict to one content type (outline, scene, character, setting, event)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum results (default 5)")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "Minimum similarity (default 0.7)")
	searchCmd.Flags().BoolVar(&searchExact, "exact", false, "Bypass the approximate index and scan exhaustively")
	searchCmd.Flags().StringVar(&searchRerank, "rerank", "", "Rerank results: semantic, keyword, metadata, or hybrid")
	searchCmd.Flags().BoolVar(&noKeywordBoost, "no-keyword-boost", false, "Disable the keyword boost during hybrid reranking")
	searchCmd.Flags().BoolVar(&noMetadataBoost, "no-metadata-boost", false, "Disable the metadata boost during hybrid reranking")
}

func runSearch(cmd *cobra.Command, args []string) error {
	story := args[0]
	query := args[1]
	ctx := context.Background()

	svc, cleanup, err := newService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := svc.SearchStoryContent(ctx, story, query, rag.SearchOptions{
		Type:      chunker.ChunkType(searchType),
		Limit:     searchLimit,
		Threshold: searchThreshold,
		ExactScan: searchExact,
	})
	if err != nil {
		return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Query:"))
	fmt.Println(accentStyle.Render(query))
	fmt.Println()

	if len(results) == 0 {
		fmt.Println(mutedStyle.Render("No matching content above the similarity threshold."))
		return nil
	}

	if searchRerank != "" {
		rr := reranker.New(reranker.Config{
			EnableKeywordBoost:  !noKeywordBoost,
			EnableMetadataBoost: !noMetadataBoost,
		})
		for i, r := range rr.Rerank(query, results, reranker.Strategy(searchRerank)) {
			printResultHeader(i+1, string(r.Type), r.Score)
			fmt.Println(mutedStyle.Render(fmt.Sprintf("   similarity %.3f · %s", r.OriginalSimilarity, r.Reason)))
			printResultBody(r.Content)
		}
		return nil
	}

	for i, r := range results {
		printResultHeader(i+1, string(r.Type), r.Similarity)
		printResultBody(r.Content)
	}
	return nil
}

func printResultHeader(rank int, chunkType string, score float64) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("%d. [%s] %.3f", rank, chunkType, score)))
}

func printResultBody(content string) {
	fmt.Println(bodyStyle.Render(truncateExcerpt(strings.TrimSpace(content), 400)))
	fmt.Println()
}

// truncateExcerpt cuts s to at most max bytes on a rune boundary, appending
// an ellipsis when anything was dropped.
func truncateExcerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
