package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/loreweave/loreweave/internal/rag"
	"github.com/spf13/cobra"
)

var (
	backend        string
	embedModel     string
	embedDimension int
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "loreweave",
	Short: "Loreweave - story content indexing and retrieval",
	Long: `Loreweave indexes narrative content (outlines, chapters, character sheets,
setting descriptions, and story events) into a vector store and retrieves
the most relevant context for AI-assisted story generation.

Required environment variables:
  OPENAI_API_KEY          - OpenAI API key for embeddings

Backend selection (--backend or LOREWEAVE_BACKEND):
  postgres (default)      - Postgres with pgvector; LOREWEAVE_DATABASE_URL
  milvus                  - Milvus; MILVUS_ADDRESS (default localhost:19530)
  memory                  - In-process store, for experiments only`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Vector store backend: postgres, milvus, or memory")
	rootCmd.PersistentFlags().StringVar(&embedModel, "embed-model", rag.DefaultEmbeddingModel, "Embedding model identifier")
	rootCmd.PersistentFlags().IntVar(&embedDimension, "embed-dimension", rag.DefaultEmbeddingDimension, "Embedding vector dimension")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Show debug logging")
}

// Execute runs the root command
func Execute() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
