package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/loreweave/loreweave/internal/chunker"
	"github.com/spf13/cobra"
)

var (
	contextChapter int
	contextScene   int
	contextTypes   string
)

var contextCmd = &cobra.Command{
	Use:   "context [story]",
	Short: "Assemble generation context for a chapter",
	Long: `Assemble a prompt-ready context block for generating a chapter.

The block combines up to four labeled sections in fixed order: character
context, setting context, plot context (outlines of the preceding chapters),
and the most recent story events. Sections without content are omitted.

Examples:
  loreweave context my-novel --chapter 5
  loreweave context my-novel --chapter 5 --scene 2 --types character,setting`,
	Args: cobra.ExactArgs(1),
	RunE: runContext,
}

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.Flags().IntVar(&contextChapter, "chapter", 0, "Chapter being generated")
	contextCmd.Flags().IntVar(&contextScene, "scene", 0, "Scene being generated (optional)")
	contextCmd.Flags().StringVar(&contextTypes, "types", "", "Comma-separated content types to include (default all)")
}

func runContext(cmd *cobra.Command, args []string) error {
	if contextChapter <= 0 {
		return fmt.Errorf("--chapter is required and must be positive")
	}

	var types []chunker.ChunkType
	if contextTypes != "" {
		for _, name := range strings.Split(contextTypes, ",") {
			types = append(types, chunker.ChunkType(strings.TrimSpace(name)))
		}
	}

	ctx := context.Background()
	svc, cleanup, err := newService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := svc.GetGenerationContext(ctx, args[0], contextChapter, contextScene, types)
	if err != nil {
		return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
	}
	if result == "" {
		fmt.Println(mutedStyle.Render("No indexed content available for context."))
		return nil
	}

	fmt.Println()
	fmt.Println(headerStyle.Render(fmt.Sprintf("Context for chapter %d:", contextChapter)))
	fmt.Println()
	fmt.Println(bodyStyle.Render(result))
	fmt.Println()
	return nil
}
