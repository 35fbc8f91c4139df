package reranker

import (
	"math"
	"strings"
	"testing"

	"github.com/loreweave/loreweave/internal/chunker"
	"github.com/loreweave/loreweave/internal/rag"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRerankSemanticIsNoOp(t *testing.T) {
	s := New(DefaultConfig())
	results := []rag.SearchResult{
		{ChunkID: 1, Type: chunker.TypeScene, Content: "first", Similarity: 0.4},
		{ChunkID: 2, Type: chunker.TypeScene, Content: "second", Similarity: 0.9},
		{ChunkID: 3, Type: chunker.TypeScene, Content: "third", Similarity: 0.6},
	}

	reranked := s.Rerank("anything at all", results, StrategySemantic)
	if len(reranked) != 3 {
		t.Fatalf("expected 3 results, got %d", len(reranked))
	}

	wantOrder := []int64{2, 3, 1}
	for i, r := range reranked {
		if r.ChunkID != wantOrder[i] {
			t.Errorf("position %d: chunk %d, want %d", i, r.ChunkID, wantOrder[i])
		}
		if !almostEqual(r.Score, r.OriginalSimilarity) {
			t.Errorf("chunk %d: score %v != original similarity %v", r.ChunkID, r.Score, r.OriginalSimilarity)
		}
	}
}

func TestRerankHybridKeywordBoost(t *testing.T) {
	s := New(DefaultConfig())

	// Content over the length cap containing every query word: keyword
	// score 1.0. No metadata, and a content type outside every vocabulary.
	content := "The ancient sword gleamed. " + strings.Repeat("Filler prose sentence here. ", 40)
	if len(content) < 1000 {
		t.Fatalf("test content must exceed the length cap, got %d", len(content))
	}

	results := []rag.SearchResult{
		{ChunkID: 1, Type: chunker.TypeScene, Content: content, Similarity: 0.5},
	}
	reranked := s.Rerank("ancient sword", results, StrategyHybrid)
	if len(reranked) != 1 {
		t.Fatalf("expected 1 result, got %d", len(reranked))
	}

	// 0.5 + 0.3*1.0, no other boosts.
	if !almostEqual(reranked[0].Score, 0.8) {
		t.Errorf("score = %v, want 0.8", reranked[0].Score)
	}
	if !strings.Contains(reranked[0].Reason, "keyword boost") {
		t.Errorf("reason = %q, want keyword boost mention", reranked[0].Reason)
	}
}

func TestRerankHybridClipsToOne(t *testing.T) {
	s := New(DefaultConfig())
	content := "dragon castle siege " + strings.Repeat("and more of the siege unfolds here. ", 40)
	results := []rag.SearchResult{
		{ChunkID: 1, Type: chunker.TypeScene, Content: content, Metadata: map[string]any{"title": "dragon castle siege"}, Similarity: 0.95},
	}

	reranked := s.Rerank("dragon castle siege", results, StrategyHybrid)
	if reranked[0].Score > 1.0 {
		t.Errorf("score %v exceeds 1.0", reranked[0].Score)
	}
	if !almostEqual(reranked[0].Score, 1.0) {
		t.Errorf("score = %v, want clipped 1.0", reranked[0].Score)
	}
}

func TestRerankKeywordStrategy(t *testing.T) {
	s := New(DefaultConfig())
	results := []rag.SearchResult{
		{ChunkID: 1, Type: chunker.TypeScene, Content: "no matching terms in this text", Similarity: 0.9},
		{ChunkID: 2, Type: chunker.TypeScene, Content: "the dragon guarded the mountain pass", Similarity: 0.1},
	}

	reranked := s.Rerank("dragon mountain", results, StrategyKeyword)
	if reranked[0].ChunkID != 2 {
		t.Errorf("keyword strategy should rank the matching chunk first, got chunk %d", reranked[0].ChunkID)
	}
	for _, r := range reranked {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("chunk %d: keyword score %v outside [0,1]", r.ChunkID, r.Score)
		}
	}
}

func TestRerankMetadataStrategy(t *testing.T) {
	s := New(DefaultConfig())

	tests := []struct {
		name     string
		metadata map[string]any
		minScore float64
		maxScore float64
	}{
		{"empty metadata scores zero", nil, 0, 0},
		{"full substring match", map[string]any{"character_name": "Sarah Chen"}, 0.3, 1},
		{"list member match", map[string]any{"tags": []any{"sarah chen", "pilot"}}, 0.2, 1},
		{"unrelated metadata", map[string]any{"character_name": "Tomas"}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := []rag.SearchResult{{ChunkID: 1, Type: chunker.TypeCharacter, Content: "text", Metadata: tt.metadata, Similarity: 0.5}}
			reranked := s.Rerank("sarah chen", results, StrategyMetadata)
			score := reranked[0].Score
			if score < tt.minScore-1e-9 || score > tt.maxScore+1e-9 {
				t.Errorf("score = %v, want within [%v, %v]", score, tt.minScore, tt.maxScore)
			}
		})
	}
}

func TestRerankContentTypeBoost(t *testing.T) {
	s := New(Config{}) // keyword and metadata boosts disabled

	results := []rag.SearchResult{
		{ChunkID: 1, Type: chunker.TypeCharacter, Content: "a character study", Similarity: 0.5},
		{ChunkID: 2, Type: chunker.TypeScene, Content: "a scene", Similarity: 0.5},
	}
	reranked := s.Rerank("what is the personality of the hero", results, StrategyHybrid)

	var character, scene RerankedResult
	for _, r := range reranked {
		if r.ChunkID == 1 {
			character = r
		} else {
			scene = r
		}
	}
	if !almostEqual(character.Score, 0.5+0.1*0.3) {
		t.Errorf("character score = %v, want %v", character.Score, 0.5+0.1*0.3)
	}
	if !almostEqual(scene.Score, 0.5) {
		t.Errorf("scene score = %v, want 0.5", scene.Score)
	}
}

func TestRerankDisabledBoostsOmitted(t *testing.T) {
	s := New(Config{EnableKeywordBoost: false, EnableMetadataBoost: false})
	content := "the dragon guarded the mountain pass"
	results := []rag.SearchResult{
		{ChunkID: 1, Type: chunker.TypeScene, Content: content, Metadata: map[string]any{"title": "dragon mountain"}, Similarity: 0.4},
	}

	reranked := s.Rerank("dragon mountain", results, StrategyHybrid)
	if !almostEqual(reranked[0].Score, 0.4) {
		t.Errorf("score = %v, want 0.4 with all boosts disabled", reranked[0].Score)
	}
	if reranked[0].Reason != "no boost applied" {
		t.Errorf("reason = %q", reranked[0].Reason)
	}
}

func TestRerankUnknownStrategyFallsBackToHybrid(t *testing.T) {
	s := New(DefaultConfig())
	results := []rag.SearchResult{
		{ChunkID: 1, Type: chunker.TypeScene, Content: "alpha", Similarity: 0.2},
		{ChunkID: 2, Type: chunker.TypeScene, Content: "beta", Similarity: 0.7},
	}

	reranked := s.Rerank("query", results, Strategy("nonsense"))
	if len(reranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(reranked))
	}
	if reranked[0].ChunkID != 2 {
		t.Errorf("expected hybrid ordering by similarity, got chunk %d first", reranked[0].ChunkID)
	}
}

func TestRerankDropsMalformedResults(t *testing.T) {
	s := New(DefaultConfig())
	results := []rag.SearchResult{
		{ChunkID: 0, Content: "", Similarity: 0.9}, // malformed
		{ChunkID: 2, Type: chunker.TypeScene, Content: "real content", Similarity: 0.5},
	}

	reranked := s.Rerank("query", results, StrategySemantic)
	if len(reranked) != 1 || reranked[0].ChunkID != 2 {
		t.Errorf("malformed result should be dropped, got %d results", len(reranked))
	}
}

func TestRerankStableTies(t *testing.T) {
	s := New(DefaultConfig())
	results := []rag.SearchResult{
		{ChunkID: 1, Type: chunker.TypeScene, Content: "same", Similarity: 0.5},
		{ChunkID: 2, Type: chunker.TypeScene, Content: "same", Similarity: 0.5},
		{ChunkID: 3, Type: chunker.TypeScene, Content: "same", Similarity: 0.5},
	}

	reranked := s.Rerank("unrelated query", results, StrategySemantic)
	for i, want := range []int64{1, 2, 3} {
		if reranked[i].ChunkID != want {
			t.Errorf("position %d: chunk %d, want %d (ties must keep input order)", i, reranked[i].ChunkID, want)
		}
	}
}
