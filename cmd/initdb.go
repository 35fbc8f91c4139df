package cmd

import (
	"context"
	"fmt"

	"github.com/loreweave/loreweave/internal/rag"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the vector store schema",
	Long: `Initialize the vector store for the selected backend.

For Postgres this creates the pgvector extension, tables, and indexes.
Milvus collections are created on first connection, so init only verifies
connectivity there. The in-memory backend needs no setup.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	switch backendName() {
	case "postgres":
		config := rag.DefaultPostgresConfig()
		config.Dimension = embedDimension
		store, err := rag.NewPostgresStore(ctx, config)
		if err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
		defer store.Close()

		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
		fmt.Println(successStyle.Render("✓ Postgres schema ready"))

	case "milvus":
		config := rag.DefaultMilvusConfig()
		config.Dimension = embedDimension
		store, err := rag.NewMilvusStore(ctx, config)
		if err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
		defer store.Close()
		fmt.Println(successStyle.Render("✓ Milvus collections ready"))

	case "memory":
		fmt.Println(mutedStyle.Render("The in-memory backend needs no initialization."))

	default:
		return fmt.Errorf("unknown backend %q (want postgres, milvus, or memory)", backendName())
	}
	return nil
}
