package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/loreweave/loreweave/internal/chunker"
	"github.com/spf13/cobra"
)

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "List indexed stories",
	Long: `List every story known to the vector store, with creation and update
timestamps.

Examples:
  loreweave stories
  loreweave stories summary my-novel
  loreweave stories delete my-novel`,
	RunE: runStories,
}

var storiesSummaryCmd = &cobra.Command{
	Use:   "summary [story]",
	Short: "Show per-type chunk counts for a story",
	Args:  cobra.ExactArgs(1),
	RunE:  runStorySummary,
}

var storiesDeleteCmd = &cobra.Command{
	Use:   "delete [story]",
	Short: "Delete a story and all its indexed content",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoryDelete,
}

func init() {
	rootCmd.AddCommand(storiesCmd)
	storiesCmd.AddCommand(storiesSummaryCmd, storiesDeleteCmd)
}

func runStories(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStore(ctx, embedDimension)
	if err != nil {
		return err
	}
	defer store.Close()

	stories, err := store.ListStories(ctx)
	if err != nil {
		return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
	}
	if len(stories) == 0 {
		fmt.Println(mutedStyle.Render("No stories indexed yet."))
		return nil
	}

	const (
		idWidth   = 14
		nameWidth = 32
		dateWidth = 20
	)

	cellHeader := headerStyle.Padding(0, 1)
	borderStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))

	headers := []string{
		cellHeader.Width(idWidth).Render("ID"),
		cellHeader.Width(nameWidth).Render("STORY"),
		cellHeader.Width(dateWidth).Render("CREATED"),
		cellHeader.Width(dateWidth).Render("UPDATED"),
	}
	fmt.Println(strings.Join(headers, borderStyle.Render("│")))

	separatorParts := []string{
		strings.Repeat("─", idWidth),
		strings.Repeat("─", nameWidth),
		strings.Repeat("─", dateWidth),
		strings.Repeat("─", dateWidth),
	}
	fmt.Println(borderStyle.Render(strings.Join(separatorParts, "┼")))

	idStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#BD93F9")).Padding(0, 1).Width(idWidth)
	nameStyle := bodyStyle.Padding(0, 1).Width(nameWidth)
	dateStyle := mutedStyle.Padding(0, 1).Width(dateWidth)

	for _, story := range stories {
		cells := []string{
			idStyle.Render(fmt.Sprintf("%d", story.ID)),
			nameStyle.Render(story.Name),
			dateStyle.Render(story.CreatedAt.Format("Jan 02 2006, 15:04")),
			dateStyle.Render(story.UpdatedAt.Format("Jan 02 2006, 15:04")),
		}
		fmt.Println(strings.Join(cells, borderStyle.Render("│")))
	}

	fmt.Println()
	fmt.Println(accentStyle.Render(fmt.Sprintf("Total: %d stories", len(stories))))
	return nil
}

func runStorySummary(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, cleanup, err := newService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := svc.StorySummary(ctx, args[0])
	if err != nil {
		return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
	}

	fmt.Println()
	fmt.Println(headerStyle.Render(summary.Story.Name))
	fmt.Println()

	types := make([]chunker.ChunkType, 0, len(summary.ContentCounts))
	for chunkType := range summary.ContentCounts {
		types = append(types, chunkType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, chunkType := range types {
		fmt.Printf("  %s %s\n",
			bodyStyle.Render(fmt.Sprintf("%-12s", string(chunkType))),
			accentStyle.Render(fmt.Sprintf("%d", summary.ContentCounts[chunkType])))
	}
	fmt.Println()
	fmt.Println(successStyle.Render(fmt.Sprintf("Total: %d chunks", summary.TotalChunks)))
	return nil
}

func runStoryDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, cleanup, err := newService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	storyID, err := svc.ResolveStory(ctx, args[0])
	if err != nil {
		return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
	}
	deleted, err := svc.DeleteStory(ctx, storyID)
	if err != nil {
		return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("✓ Deleted story %q (%d chunks removed)", args[0], deleted)))
	return nil
}
