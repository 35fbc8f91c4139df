package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/loreweave/loreweave/internal/chunker"
)

// MemoryStore is an in-memory VectorStore using brute-force cosine
// similarity. It backs tests and ephemeral runs; it honors the same ordering
// and filtering contract as the durable backends.
type MemoryStore struct {
	mu          sync.RWMutex
	nextStoryID int64
	nextChunkID int64
	stories     []Story
	chunks      []memoryChunk
}

type memoryChunk struct {
	StoredChunk
	embedding []float32
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// CreateStory returns the existing story id for the name, or appends a new
// story.
func (s *MemoryStore) CreateStory(_ context.Context, name, sourceIdentifier string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, story := range s.stories {
		if story.Name == name {
			return story.ID, nil
		}
	}

	s.nextStoryID++
	now := time.Now()
	s.stories = append(s.stories, Story{
		ID:               s.nextStoryID,
		Name:             name,
		SourceIdentifier: sourceIdentifier,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	return s.nextStoryID, nil
}

// StoreEmbedding appends a chunk.
func (s *MemoryStore) StoreEmbedding(_ context.Context, storyID int64, chunk chunker.Chunk, embedding []float32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextChunkID++
	vector := make([]float32, len(embedding))
	copy(vector, embedding)

	s.chunks = append(s.chunks, memoryChunk{
		StoredChunk: StoredChunk{
			ID:            s.nextChunkID,
			StoryID:       storyID,
			Type:          chunk.Type,
			Subtype:       chunk.Subtype,
			Title:         chunk.Title,
			Content:       chunk.Content,
			Metadata:      chunk.Metadata,
			ChapterNumber: chunk.ChapterNumber,
			SceneNumber:   chunk.SceneNumber,
			CreatedAt:     time.Now(),
		},
		embedding: vector,
	})
	return s.nextChunkID, nil
}

// SearchSimilar scans all chunks and ranks by cosine similarity.
func (s *MemoryStore) SearchSimilar(_ context.Context, queryEmbedding []float32, filter SearchFilter) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	results := []SearchResult{}
	for _, chunk := range s.chunks {
		if filter.StoryID != 0 && chunk.StoryID != filter.StoryID {
			continue
		}
		if filter.Type != "" && chunk.Type != filter.Type {
			continue
		}
		similarity := cosineSimilarity(queryEmbedding, chunk.embedding)
		if similarity < filter.Threshold {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:    chunk.ID,
			Type:       chunk.Type,
			Content:    chunk.Content,
			Metadata:   chunk.Metadata,
			Similarity: similarity,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetStoryContent lists chunks in insertion order.
func (s *MemoryStore) GetStoryContent(_ context.Context, storyID int64, filter ContentFilter) ([]StoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := []StoredChunk{}
	for _, chunk := range s.chunks {
		if chunk.StoryID != storyID {
			continue
		}
		if filter.Type != "" && chunk.Type != filter.Type {
			continue
		}
		if filter.ChapterNumber != 0 && chunk.ChapterNumber != filter.ChapterNumber {
			continue
		}
		if filter.SceneNumber != 0 && chunk.SceneNumber != filter.SceneNumber {
			continue
		}
		chunks = append(chunks, chunk.StoredChunk)
	}
	return chunks, nil
}

// DeleteContentByTypeAndMetadata removes matching chunks and returns the
// matched count.
func (s *MemoryStore) DeleteContentByTypeAndMetadata(_ context.Context, storyID int64, chunkType chunker.ChunkType, filters map[string]string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := s.chunks[:0]
	for _, chunk := range s.chunks {
		if chunk.StoryID == storyID && chunk.Type == chunkType && MetadataMatches(chunk.Metadata, filters) {
			deleted++
			continue
		}
		kept = append(kept, chunk)
	}
	s.chunks = kept
	return deleted, nil
}

// DeleteStoryContent removes all chunks of a story.
func (s *MemoryStore) DeleteStoryContent(_ context.Context, storyID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteStoryChunksLocked(storyID), nil
}

// DeleteStory removes the story and its chunks.
func (s *MemoryStore) DeleteStory(_ context.Context, storyID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := s.deleteStoryChunksLocked(storyID)
	kept := s.stories[:0]
	for _, story := range s.stories {
		if story.ID != storyID {
			kept = append(kept, story)
		}
	}
	s.stories = kept
	return deleted, nil
}

func (s *MemoryStore) deleteStoryChunksLocked(storyID int64) int64 {
	var deleted int64
	kept := s.chunks[:0]
	for _, chunk := range s.chunks {
		if chunk.StoryID == storyID {
			deleted++
			continue
		}
		kept = append(kept, chunk)
	}
	s.chunks = kept
	return deleted
}

// GetStoryInfo returns the story, or ErrNotFound.
func (s *MemoryStore) GetStoryInfo(_ context.Context, storyID int64) (*Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, story := range s.stories {
		if story.ID == storyID {
			found := story
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: story %d", ErrNotFound, storyID)
}

// ListStories lists all stories in creation order.
func (s *MemoryStore) ListStories(_ context.Context) ([]Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stories := make([]Story, len(s.stories))
	copy(stories, s.stories)
	return stories, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// cosineSimilarity computes similarity without assuming normalized vectors.
// A zero vector scores 0 against everything.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
