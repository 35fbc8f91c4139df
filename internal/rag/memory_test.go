package rag

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/loreweave/loreweave/internal/chunker"
)

func TestMemoryStoreCreateStoryIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.CreateStory(ctx, "novel", "novel")
	if err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}
	second, err := store.CreateStory(ctx, "novel", "novel")
	if err != nil {
		t.Fatalf("second CreateStory failed: %v", err)
	}
	if first != second {
		t.Errorf("same name produced distinct ids: %d, %d", first, second)
	}

	stories, err := store.ListStories(ctx)
	if err != nil {
		t.Fatalf("ListStories failed: %v", err)
	}
	if len(stories) != 1 {
		t.Errorf("expected 1 story, got %d", len(stories))
	}
}

func TestMemoryStoreGetStoryInfoNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.GetStoryInfo(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreDeleteContentByTypeAndMetadata(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	storyID, err := store.CreateStory(ctx, "meta", "meta")
	if err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}

	embed := []float32{1, 0}
	chunks := []chunker.Chunk{
		{Type: chunker.TypeScene, Content: "a", Metadata: map[string]any{"chapter_number": 1}},
		{Type: chunker.TypeScene, Content: "b", Metadata: map[string]any{"chapter_number": 2}},
		{Type: chunker.TypeEvent, Content: "c", Metadata: map[string]any{"chapter_number": 1}},
	}
	for _, chunk := range chunks {
		if _, err := store.StoreEmbedding(ctx, storyID, chunk, embed); err != nil {
			t.Fatalf("StoreEmbedding failed: %v", err)
		}
	}

	deleted, err := store.DeleteContentByTypeAndMetadata(ctx, storyID, chunker.TypeScene, map[string]string{"chapter_number": "1"})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1 (type filter must apply)", deleted)
	}

	remaining, err := store.GetStoryContent(ctx, storyID, ContentFilter{})
	if err != nil {
		t.Fatalf("GetStoryContent failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("remaining = %d chunks, want 2", len(remaining))
	}
}

func TestMemoryStoreDeleteStoryCascades(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	storyID, err := store.CreateStory(ctx, "gone", "gone")
	if err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.StoreEmbedding(ctx, storyID, chunker.Chunk{Type: chunker.TypeScene, Content: "x"}, []float32{1}); err != nil {
			t.Fatalf("StoreEmbedding failed: %v", err)
		}
	}

	deleted, err := store.DeleteStory(ctx, storyID)
	if err != nil {
		t.Fatalf("DeleteStory failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d chunks, want 3", deleted)
	}
	if _, err := store.GetStoryInfo(ctx, storyID); !errors.Is(err, ErrNotFound) {
		t.Errorf("story should be gone, got %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetadataMatches(t *testing.T) {
	metadata := map[string]any{
		"character_name": "Mira",
		"chapter_number": 3,
	}

	if !MetadataMatches(metadata, map[string]string{"character_name": "Mira"}) {
		t.Error("string value should match")
	}
	if !MetadataMatches(metadata, map[string]string{"chapter_number": "3"}) {
		t.Error("numeric value should match its string form")
	}
	if MetadataMatches(metadata, map[string]string{"character_name": "Bren"}) {
		t.Error("mismatched value should not match")
	}
	if MetadataMatches(metadata, map[string]string{"missing_key": "x"}) {
		t.Error("missing key should not match")
	}
	if !MetadataMatches(metadata, nil) {
		t.Error("empty filter should match everything")
	}
}

func TestMetadataInt(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
		ok    bool
	}{
		{"int", 7, 7, true},
		{"int64", int64(9), 9, true},
		{"float64 from json", float64(4), 4, true},
		{"string", "5", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MetadataInt(tt.value)
			if got != tt.want || ok != tt.ok {
				t.Errorf("MetadataInt(%v) = (%d, %v), want (%d, %v)", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}
