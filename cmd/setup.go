package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/loreweave/loreweave/internal/rag"
)

// Shared styling
var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F780FF")).Bold(true)
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")).Italic(true)
	bodyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E9E9F4"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
)

func backendName() string {
	name := backend
	if name == "" {
		name = os.Getenv("LOREWEAVE_BACKEND")
	}
	if name == "" {
		name = "postgres"
	}
	return name
}

func openStore(ctx context.Context, dimension int) (rag.VectorStore, error) {
	switch backendName() {
	case "postgres":
		config := rag.DefaultPostgresConfig()
		config.Dimension = dimension
		return rag.NewPostgresStore(ctx, config)
	case "milvus":
		config := rag.DefaultMilvusConfig()
		config.Dimension = dimension
		return rag.NewMilvusStore(ctx, config)
	case "memory":
		return rag.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want postgres, milvus, or memory)", backendName())
	}
}

// newService wires the embedder and the selected store into a retrieval
// service. The returned cleanup closes the store connection.
func newService(ctx context.Context) (*rag.Service, func(), error) {
	embedder, err := rag.NewOpenAIEmbedder(embedModel, embedDimension)
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(ctx, embedder.Dimension())
	if err != nil {
		return nil, nil, err
	}

	svc, err := rag.NewService(embedder, store, nil, rag.Config{})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return svc, func() { store.Close() }, nil
}

// readContent reads the content argument: a file path, or stdin for "-".
func readContent(arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", arg, err)
	}
	return string(data), nil
}
