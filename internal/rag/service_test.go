package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/loreweave/loreweave/internal/chunker"
)

type mockEmbedder struct {
	embedFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return m.embedFunc(ctx, texts)
}

func (m *mockEmbedder) Model() string  { return "mock-embedding-model" }
func (m *mockEmbedder) Dimension() int { return 4 }

// vocabularyEmbedder maps text onto fixed axes by keyword, so cosine
// similarity in tests reflects shared vocabulary.
func vocabularyEmbedder() *mockEmbedder {
	axes := []string{"dragon", "ocean", "castle"}
	return &mockEmbedder{embedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			v := make([]float32, len(axes)+1)
			lower := strings.ToLower(text)
			hit := false
			for j, axis := range axes {
				if strings.Contains(lower, axis) {
					v[j] = 1
					hit = true
				}
			}
			if !hit {
				v[len(axes)] = 1
			}
			vectors[i] = v
		}
		return vectors, nil
	}}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(vocabularyEmbedder(), NewMemoryStore(), nil, Config{})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(nil, NewMemoryStore(), nil, Config{}); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewService(vocabularyEmbedder(), nil, nil, Config{}); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestResolveStoryIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.ResolveStory(ctx, "fantasy-epic")
	if err != nil {
		t.Fatalf("ResolveStory failed: %v", err)
	}
	second, err := svc.ResolveStory(ctx, "fantasy-epic")
	if err != nil {
		t.Fatalf("second ResolveStory failed: %v", err)
	}
	if first != second {
		t.Errorf("identifier resolved to different ids: %d, %d", first, second)
	}

	other, err := svc.ResolveStory(ctx, "space-opera")
	if err != nil {
		t.Fatalf("ResolveStory for second story failed: %v", err)
	}
	if other == first {
		t.Error("distinct identifiers resolved to the same story id")
	}

	if _, err := svc.ResolveStory(ctx, ""); err == nil {
		t.Error("expected error for empty identifier")
	}
}

func TestIndexAndSearchRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	storyID, err := svc.ResolveStory(ctx, "roundtrip")
	if err != nil {
		t.Fatalf("ResolveStory failed: %v", err)
	}

	chunks := []chunker.Chunk{
		{Type: chunker.TypeScene, Content: "The dragon circled above the valley."},
		{Type: chunker.TypeScene, Content: "Waves crashed against the ocean cliffs."},
	}
	ids, err := svc.IndexChunks(ctx, storyID, chunks)
	if err != nil {
		t.Fatalf("IndexChunks failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 chunk ids, got %d", len(ids))
	}

	results, err := svc.SearchSimilar(ctx, storyID, "tell me about the dragon", SearchOptions{Threshold: 0.5})
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result above threshold, got %d", len(results))
	}
	if !strings.Contains(results[0].Content, "dragon") {
		t.Errorf("wrong chunk returned: %q", results[0].Content)
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("expected near-identical similarity, got %v", results[0].Similarity)
	}
}

func TestSearchOrderingMonotonic(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	storyID, err := svc.ResolveStory(ctx, "ordering")
	if err != nil {
		t.Fatalf("ResolveStory failed: %v", err)
	}
	chunks := []chunker.Chunk{
		{Type: chunker.TypeScene, Content: "dragon"},
		{Type: chunker.TypeScene, Content: "dragon castle"},
		{Type: chunker.TypeScene, Content: "ocean"},
	}
	if _, err := svc.IndexChunks(ctx, storyID, chunks); err != nil {
		t.Fatalf("IndexChunks failed: %v", err)
	}

	results, err := svc.SearchSimilar(ctx, storyID, "dragon", SearchOptions{Threshold: 0.01, Limit: 10})
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("expected at least 2 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results out of order at %d: %v > %v", i, results[i].Similarity, results[i-1].Similarity)
		}
	}
	if !strings.Contains(results[0].Content, "dragon") {
		t.Errorf("best match should mention dragon, got %q", results[0].Content)
	}
}

func TestSearchScopedToStory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.IndexEvent(ctx, "story-a", "the dragon attacked", nil); err != nil {
		t.Fatalf("IndexEvent failed: %v", err)
	}
	if _, err := svc.IndexEvent(ctx, "story-b", "another dragon attacked elsewhere", nil); err != nil {
		t.Fatalf("IndexEvent failed: %v", err)
	}

	results, err := svc.SearchStoryContent(ctx, "story-a", "dragon", SearchOptions{Threshold: 0.1})
	if err != nil {
		t.Fatalf("SearchStoryContent failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result scoped to story-a, got %d", len(results))
	}
}

func TestIndexChunksBatching(t *testing.T) {
	var batchSizes []int
	embedder := &mockEmbedder{embedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
		batchSizes = append(batchSizes, len(texts))
		vectors := make([][]float32, len(texts))
		for i := range texts {
			vectors[i] = []float32{1, 0, 0, 0}
		}
		return vectors, nil
	}}

	svc, err := NewService(embedder, NewMemoryStore(), nil, Config{EmbedBatchSize: 10})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	chunks := make([]chunker.Chunk, 25)
	for i := range chunks {
		chunks[i] = chunker.Chunk{Type: chunker.TypeScene, Content: fmt.Sprintf("scene %d", i)}
	}
	ids, err := svc.IndexChunks(context.Background(), 1, chunks)
	if err != nil {
		t.Fatalf("IndexChunks failed: %v", err)
	}
	if len(ids) != 25 {
		t.Errorf("expected 25 ids, got %d", len(ids))
	}

	want := []int{10, 10, 5}
	if len(batchSizes) != len(want) {
		t.Fatalf("expected %d batches, got %v", len(want), batchSizes)
	}
	for i, size := range want {
		if batchSizes[i] != size {
			t.Errorf("batch %d: size %d, want %d", i, batchSizes[i], size)
		}
	}
}

func TestIndexContentEmbeddingFailure(t *testing.T) {
	embedder := &mockEmbedder{embedFunc: func(_ context.Context, _ []string) ([][]float32, error) {
		return nil, errors.New("provider unavailable")
	}}
	svc, err := NewService(embedder, NewMemoryStore(), nil, Config{})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	_, err = svc.IndexContent(context.Background(), 1, chunker.Chunk{Type: chunker.TypeScene, Content: "text"})
	if !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestIndexOutlineReplacesChapter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.IndexOutline(ctx, "serial", 3, "The dragon is introduced.", nil); err != nil {
		t.Fatalf("first IndexOutline failed: %v", err)
	}
	if _, err := svc.IndexOutline(ctx, "serial", 3, "The dragon is defeated.", nil); err != nil {
		t.Fatalf("second IndexOutline failed: %v", err)
	}
	// Another chapter's outline must survive re-indexing of chapter 3.
	if _, err := svc.IndexOutline(ctx, "serial", 4, "The castle celebrates.", nil); err != nil {
		t.Fatalf("IndexOutline for chapter 4 failed: %v", err)
	}

	summary, err := svc.StorySummary(ctx, "serial")
	if err != nil {
		t.Fatalf("StorySummary failed: %v", err)
	}
	if summary.ContentCounts[chunker.TypeOutline] != 2 {
		t.Errorf("expected 2 outline chunks after replacement, got %d", summary.ContentCounts[chunker.TypeOutline])
	}

	results, err := svc.SearchStoryContent(ctx, "serial", "dragon", SearchOptions{Threshold: 0.1, Limit: 10})
	if err != nil {
		t.Fatalf("SearchStoryContent failed: %v", err)
	}
	for _, r := range results {
		if strings.Contains(r.Content, "introduced") {
			t.Error("stale chapter 3 outline survived re-indexing")
		}
	}
}

func TestIndexEventAppendOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.IndexEvent(ctx, "log", "the dragon awoke", nil); err != nil {
		t.Fatalf("IndexEvent failed: %v", err)
	}
	if _, err := svc.IndexEvent(ctx, "log", "the dragon flew to the castle", nil); err != nil {
		t.Fatalf("IndexEvent failed: %v", err)
	}

	summary, err := svc.StorySummary(ctx, "log")
	if err != nil {
		t.Fatalf("StorySummary failed: %v", err)
	}
	if summary.ContentCounts[chunker.TypeEvent] != 2 {
		t.Errorf("expected 2 events, got %d", summary.ContentCounts[chunker.TypeEvent])
	}
}

func TestGetContextForGenerationSections(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	id := "context-story"

	if _, err := svc.IndexCharacter(ctx, id, "Mira", "Mira is a cautious dragon rider.", nil); err != nil {
		t.Fatalf("IndexCharacter failed: %v", err)
	}
	if _, err := svc.IndexSetting(ctx, id, "Thornkeep", "Thornkeep is a castle on the coast.", nil); err != nil {
		t.Fatalf("IndexSetting failed: %v", err)
	}
	for ch := 1; ch <= 4; ch++ {
		content := fmt.Sprintf("Outline of chapter %d events.", ch)
		if _, err := svc.IndexOutline(ctx, id, ch, content, nil); err != nil {
			t.Fatalf("IndexOutline chapter %d failed: %v", ch, err)
		}
	}
	for i := 1; i <= 7; i++ {
		if _, err := svc.IndexEvent(ctx, id, fmt.Sprintf("event number %d happened", i), nil); err != nil {
			t.Fatalf("IndexEvent %d failed: %v", i, err)
		}
	}

	result, err := svc.GetGenerationContext(ctx, id, 5, 1, nil)
	if err != nil {
		t.Fatalf("GetGenerationContext failed: %v", err)
	}

	// All four labeled sections, in fixed order.
	labels := []string{"CHARACTER CONTEXT:", "SETTING CONTEXT:", "PLOT CONTEXT:", "RECENT EVENTS:"}
	last := -1
	for _, label := range labels {
		pos := strings.Index(result, label)
		if pos < 0 {
			t.Fatalf("missing section %q in context:\n%s", label, result)
		}
		if pos < last {
			t.Errorf("section %q out of order", label)
		}
		last = pos
	}

	// Plot context keeps the last three prior chapters only.
	if strings.Contains(result, "Outline of chapter 1") {
		t.Error("chapter 1 outline should be dropped from plot context")
	}
	for ch := 2; ch <= 4; ch++ {
		if !strings.Contains(result, fmt.Sprintf("Outline of chapter %d", ch)) {
			t.Errorf("chapter %d outline missing from plot context", ch)
		}
	}

	// Recent events keep the latest five only.
	if strings.Contains(result, "event number 1 happened") || strings.Contains(result, "event number 2 happened") {
		t.Error("oldest events should be dropped from recent events")
	}
	if !strings.Contains(result, "event number 7 happened") {
		t.Error("latest event missing from recent events")
	}
}

func TestGetContextForGenerationChapterFallback(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	id := "fallback-story"

	// Character sheet carries no chapter scoping; a chapter-5 request must
	// still surface it through the all-chapters fallback.
	if _, err := svc.IndexCharacter(ctx, id, "Bren", "Bren guards the castle gate.", nil); err != nil {
		t.Fatalf("IndexCharacter failed: %v", err)
	}

	result, err := svc.GetGenerationContext(ctx, id, 5, 1, []chunker.ChunkType{chunker.TypeCharacter})
	if err != nil {
		t.Fatalf("GetGenerationContext failed: %v", err)
	}
	if !strings.Contains(result, "Bren guards the castle gate.") {
		t.Errorf("character content missing despite fallback:\n%s", result)
	}
	if strings.Contains(result, "SETTING CONTEXT:") || strings.Contains(result, "RECENT EVENTS:") {
		t.Error("content type restriction ignored")
	}
}

func TestGetContextForGenerationEmptyStory(t *testing.T) {
	svc := newTestService(t)

	result, err := svc.GetGenerationContext(context.Background(), "empty-story", 1, 1, nil)
	if err != nil {
		t.Fatalf("GetGenerationContext failed: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty context for empty story, got %q", result)
	}
}

func TestStorySummaryCounts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	id := "summary-story"

	if _, err := svc.IndexCharacter(ctx, id, "Ana", "Ana sails the ocean.", nil); err != nil {
		t.Fatalf("IndexCharacter failed: %v", err)
	}
	if _, err := svc.IndexEvent(ctx, id, "the voyage began", nil); err != nil {
		t.Fatalf("IndexEvent failed: %v", err)
	}

	summary, err := svc.StorySummary(ctx, id)
	if err != nil {
		t.Fatalf("StorySummary failed: %v", err)
	}
	if summary.Story == nil || summary.Story.Name != id {
		t.Errorf("summary story = %+v, want name %q", summary.Story, id)
	}
	if summary.ContentCounts[chunker.TypeCharacter] != 1 {
		t.Errorf("character count = %d, want 1", summary.ContentCounts[chunker.TypeCharacter])
	}
	if summary.ContentCounts[chunker.TypeEvent] != 1 {
		t.Errorf("event count = %d, want 1", summary.ContentCounts[chunker.TypeEvent])
	}
	if summary.TotalChunks != 2 {
		t.Errorf("total = %d, want 2", summary.TotalChunks)
	}
}

func TestDeleteStoryEvictsIdentifierCache(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.ResolveStory(ctx, "doomed")
	if err != nil {
		t.Fatalf("ResolveStory failed: %v", err)
	}
	if _, err := svc.IndexEvent(ctx, "doomed", "something happened", nil); err != nil {
		t.Fatalf("IndexEvent failed: %v", err)
	}

	deleted, err := svc.DeleteStory(ctx, first)
	if err != nil {
		t.Fatalf("DeleteStory failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d chunks, want 1", deleted)
	}

	// A fresh resolution must create a new story, not serve the stale id.
	second, err := svc.ResolveStory(ctx, "doomed")
	if err != nil {
		t.Fatalf("ResolveStory after delete failed: %v", err)
	}
	if second == first {
		t.Error("identifier cache served a deleted story id")
	}
}

func TestSearchTypeFilter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	id := "typed"

	if _, err := svc.IndexCharacter(ctx, id, "Rook", "Rook tames the dragon.", nil); err != nil {
		t.Fatalf("IndexCharacter failed: %v", err)
	}
	if _, err := svc.IndexEvent(ctx, id, "the dragon escaped", nil); err != nil {
		t.Fatalf("IndexEvent failed: %v", err)
	}

	results, err := svc.SearchStoryContent(ctx, id, "dragon", SearchOptions{Type: chunker.TypeEvent, Threshold: 0.1})
	if err != nil {
		t.Fatalf("SearchStoryContent failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 event result, got %d", len(results))
	}
	if results[0].Type != chunker.TypeEvent {
		t.Errorf("result type = %s, want event", results[0].Type)
	}
}
