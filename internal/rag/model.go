package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loreweave/loreweave/internal/chunker"
)

// Error kinds surfaced by the retrieval pipeline. Provider and storage
// failures during indexing both reach callers wrapped as ErrStorage; missing
// stories surface as ErrNotFound only where an identifier is mandatory.
var (
	ErrStorage  = errors.New("storage failure")
	ErrProvider = errors.New("embedding provider failure")
	ErrNotFound = errors.New("not found")
)

// Story is the top-level partition scoping all chunks of one narrative.
// Names are unique; creating a story with an existing name returns the
// existing row.
type Story struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	SourceIdentifier string    `json:"source_identifier"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StoredChunk is a persisted content chunk owned by a story. Rows are
// append-only: chunks are never mutated in place, only deleted by filter or
// by story cascade.
type StoredChunk struct {
	ID            int64             `json:"id"`
	StoryID       int64             `json:"story_id"`
	Type          chunker.ChunkType `json:"chunk_type"`
	Subtype       string            `json:"chunk_subtype,omitempty"`
	Title         string            `json:"title,omitempty"`
	Content       string            `json:"content"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	ChapterNumber int               `json:"chapter_number,omitempty"`
	SceneNumber   int               `json:"scene_number,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// SearchResult is one similarity-ranked hit. Similarity is 1 - cosine
// distance: roughly [-1, 1] for unit-normalized embeddings.
type SearchResult struct {
	ChunkID    int64             `json:"chunk_id"`
	Type       chunker.ChunkType `json:"chunk_type"`
	Content    string            `json:"content"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	Similarity float64           `json:"similarity"`
}

// SearchFilter narrows a similarity search. Zero values mean "no filter";
// ExactScan selects a full scan over the approximate index, which may differ
// only in recall, never in ordering contract.
type SearchFilter struct {
	StoryID   int64
	Type      chunker.ChunkType
	Limit     int
	Threshold float64
	ExactScan bool
}

// ContentFilter narrows a creation-ordered content listing. Zero values mean
// "no filter"; chapter and scene numbers start at 1.
type ContentFilter struct {
	Type          chunker.ChunkType
	ChapterNumber int
	SceneNumber   int
}

// VectorStore is the persistence port for per-story chunk storage and
// similarity search. Implementations must be safe for concurrent use; all
// writes are append-only inserts or scoped deletes.
type VectorStore interface {
	// CreateStory creates a story or returns the id of the existing story
	// with the same name.
	CreateStory(ctx context.Context, name, sourceIdentifier string) (int64, error)

	// StoreEmbedding appends one chunk with its embedding and returns the
	// new chunk id.
	StoreEmbedding(ctx context.Context, storyID int64, chunk chunker.Chunk, embedding []float32) (int64, error)

	// SearchSimilar returns chunks ordered by descending similarity,
	// filtered to similarity >= filter.Threshold and truncated to
	// filter.Limit.
	SearchSimilar(ctx context.Context, queryEmbedding []float32, filter SearchFilter) ([]SearchResult, error)

	// GetStoryContent lists chunks in creation order, without similarity
	// ranking.
	GetStoryContent(ctx context.Context, storyID int64, filter ContentFilter) ([]StoredChunk, error)

	// DeleteContentByTypeAndMetadata deletes chunks of one type whose
	// metadata contains every filter key with an equal string-compared
	// value, returning the matched count.
	DeleteContentByTypeAndMetadata(ctx context.Context, storyID int64, chunkType chunker.ChunkType, filters map[string]string) (int64, error)

	// DeleteStoryContent deletes all chunks of a story, returning the count.
	DeleteStoryContent(ctx context.Context, storyID int64) (int64, error)

	// DeleteStory deletes a story and all its chunks, returning the chunk
	// count removed.
	DeleteStory(ctx context.Context, storyID int64) (int64, error)

	// GetStoryInfo returns the story row, or ErrNotFound.
	GetStoryInfo(ctx context.Context, storyID int64) (*Story, error)

	// ListStories lists all stories.
	ListStories(ctx context.Context) ([]Story, error)

	// Close releases resources and closes connections.
	Close() error
}

// MetadataMatches reports whether metadata contains every filter key with an
// equal value under string comparison.
func MetadataMatches(metadata map[string]any, filters map[string]string) bool {
	for key, want := range filters {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// MetadataInt extracts an integer metadata value, tolerating the numeric
// types JSON round-trips produce.
func MetadataInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
