package rag

import (
	"context"
	"os"
	"testing"
)

func TestNewOpenAIEmbedder_MissingAPIKey(t *testing.T) {
	// Save original API key
	originalKey := os.Getenv("OPENAI_API_KEY")
	defer os.Setenv("OPENAI_API_KEY", originalKey)

	// Unset API key
	os.Unsetenv("OPENAI_API_KEY")

	_, err := NewOpenAIEmbedder(DefaultEmbeddingModel, DefaultEmbeddingDimension)
	if err != ErrMissingAPIKey {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewOpenAIEmbedder_Defaults(t *testing.T) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	embedder, err := NewOpenAIEmbedder("", 0)
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}
	if embedder.Model() != DefaultEmbeddingModel {
		t.Errorf("Model() = %q, want %q", embedder.Model(), DefaultEmbeddingModel)
	}
	if embedder.Dimension() != DefaultEmbeddingDimension {
		t.Errorf("Dimension() = %d, want %d", embedder.Dimension(), DefaultEmbeddingDimension)
	}
}

func TestOpenAIEmbedder_EmptyTexts(t *testing.T) {
	// Skip if no API key
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	embedder, err := NewOpenAIEmbedder(DefaultEmbeddingModel, DefaultEmbeddingDimension)
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}

	_, err = embedder.Embed(context.Background(), []string{})
	if err != ErrEmptyTexts {
		t.Errorf("expected ErrEmptyTexts, got %v", err)
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	// Skip if no API key
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	embedder, err := NewOpenAIEmbedder(DefaultEmbeddingModel, DefaultEmbeddingDimension)
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}

	texts := []string{"hello world", "test embedding"}
	vectors, err := embedder.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(vectors) != len(texts) {
		t.Errorf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	for i, vector := range vectors {
		if len(vector) != DefaultEmbeddingDimension {
			t.Errorf("vector[%d] dimension = %d, want %d", i, len(vector), DefaultEmbeddingDimension)
		}
	}
}
