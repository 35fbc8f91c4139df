package rag

import (
	"context"
	"os"
	"testing"
)

func TestStoryIdentifierFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/home/writer/novels/my-novel.md", "my-novel"},
		{"my-novel.md", "my-novel"},
		{"my-novel", "my-novel"},
		{"./drafts/the.sequel.txt", "the.sequel"},
	}

	for _, tt := range tests {
		if got := StoryIdentifierFromPath(tt.path); got != tt.want {
			t.Errorf("StoryIdentifierFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestPathWrappersShareStory(t *testing.T) {
	svc, err := NewService(vocabularyEmbedder(), NewMemoryStore(), nil, Config{})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.IndexChapterFromPath(ctx, "/drafts/my-novel.md", 1, "Chapter 1", "The dragon woke.", nil); err != nil {
		t.Fatalf("IndexChapterFromPath failed: %v", err)
	}

	// Identifier-keyed search must see content indexed via the path wrapper.
	results, err := svc.SearchStoryContent(ctx, "my-novel", "dragon", SearchOptions{Threshold: 0.1})
	if err != nil {
		t.Fatalf("SearchStoryContent failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected the path-indexed chunk, got %d results", len(results))
	}
}

func TestDefaultPostgresConfig(t *testing.T) {
	originalApp := os.Getenv("LOREWEAVE_DATABASE_URL")
	originalGeneric := os.Getenv("DATABASE_URL")
	defer func() {
		os.Setenv("LOREWEAVE_DATABASE_URL", originalApp)
		os.Setenv("DATABASE_URL", originalGeneric)
	}()

	os.Unsetenv("LOREWEAVE_DATABASE_URL")
	os.Unsetenv("DATABASE_URL")
	config := DefaultPostgresConfig()
	if config.DSN != "postgres://localhost:5432/loreweave?sslmode=disable" {
		t.Errorf("DSN = %q, want local default", config.DSN)
	}
	if config.Dimension != DefaultEmbeddingDimension {
		t.Errorf("Dimension = %d, want %d", config.Dimension, DefaultEmbeddingDimension)
	}

	os.Setenv("DATABASE_URL", "postgres://db/generic")
	if got := DefaultPostgresConfig().DSN; got != "postgres://db/generic" {
		t.Errorf("DSN = %q, want generic env fallback", got)
	}

	os.Setenv("LOREWEAVE_DATABASE_URL", "postgres://db/app")
	if got := DefaultPostgresConfig().DSN; got != "postgres://db/app" {
		t.Errorf("DSN = %q, want app-specific env to win", got)
	}
}
