package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	indexChapterNumber int
	indexChapterTitle  string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index story content into the vector store",
	Long: `Index story content into the vector store.

Content is chunked, embedded, and stored per story. Re-indexing an outline,
chapter, character, or setting replaces the previously indexed version;
events are append-only.

Examples:
  loreweave index outline my-novel outline-ch3.md --chapter 3
  loreweave index chapter my-novel chapter3.md --chapter 3 --title "The Siege"
  loreweave index character my-novel "Mira Voss" mira.md
  loreweave index setting my-novel "Thornkeep" thornkeep.md
  loreweave index event my-novel "Mira discovered the hidden passage"`,
}

var indexOutlineCmd = &cobra.Command{
	Use:   "outline [story] [file]",
	Short: "Index a chapter outline (replaces the chapter's previous outline)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if indexChapterNumber <= 0 {
			return fmt.Errorf("--chapter is required and must be positive")
		}
		content, err := readContent(args[1])
		if err != nil {
			return err
		}

		ctx := context.Background()
		svc, cleanup, err := newService(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		ids, err := svc.IndexOutline(ctx, args[0], indexChapterNumber, content, nil)
		if err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("✓ Indexed chapter %d outline as %d chunk(s)", indexChapterNumber, len(ids))))
		return nil
	},
}

var indexChapterCmd = &cobra.Command{
	Use:   "chapter [story] [file]",
	Short: "Index chapter prose split into scenes (replaces the chapter's previous scenes)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if indexChapterNumber <= 0 {
			return fmt.Errorf("--chapter is required and must be positive")
		}
		content, err := readContent(args[1])
		if err != nil {
			return err
		}

		ctx := context.Background()
		svc, cleanup, err := newService(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		title := indexChapterTitle
		if title == "" {
			title = fmt.Sprintf("Chapter %d", indexChapterNumber)
		}
		ids, err := svc.IndexChapter(ctx, args[0], indexChapterNumber, title, content, nil)
		if err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("✓ Indexed chapter %d as %d chunk(s)", indexChapterNumber, len(ids))))
		return nil
	},
}

var indexCharacterCmd = &cobra.Command{
	Use:   "character [story] [name] [file]",
	Short: "Index a character sheet (replaces the character's previous sheet)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent(args[2])
		if err != nil {
			return err
		}

		ctx := context.Background()
		svc, cleanup, err := newService(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		ids, err := svc.IndexCharacter(ctx, args[0], args[1], content, nil)
		if err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("✓ Indexed character %q as %d chunk(s)", args[1], len(ids))))
		return nil
	},
}

var indexSettingCmd = &cobra.Command{
	Use:   "setting [story] [location] [file]",
	Short: "Index a setting description (replaces the location's previous description)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent(args[2])
		if err != nil {
			return err
		}

		ctx := context.Background()
		svc, cleanup, err := newService(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		ids, err := svc.IndexSetting(ctx, args[0], args[1], content, nil)
		if err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("✓ Indexed setting %q as %d chunk(s)", args[1], len(ids))))
		return nil
	},
}

var indexEventCmd = &cobra.Command{
	Use:   "event [story] [description...]",
	Short: "Append a story event to the event log",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		description := strings.Join(args[1:], " ")

		ctx := context.Background()
		svc, cleanup, err := newService(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		ids, err := svc.IndexEvent(ctx, args[0], description, nil)
		if err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("✓ Recorded event as %d chunk(s)", len(ids))))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexOutlineCmd, indexChapterCmd, indexCharacterCmd, indexSettingCmd, indexEventCmd)

	indexOutlineCmd.Flags().IntVar(&indexChapterNumber, "chapter", 0, "Chapter number the outline belongs to")
	indexChapterCmd.Flags().IntVar(&indexChapterNumber, "chapter", 0, "Chapter number of the prose")
	indexChapterCmd.Flags().StringVar(&indexChapterTitle, "title", "", "Chapter title (default \"Chapter N\")")
}
