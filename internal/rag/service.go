package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/loreweave/loreweave/internal/chunker"
)

// Config holds retrieval defaults applied when a caller omits them.
type Config struct {
	// SearchLimit is the default result count for similarity search
	SearchLimit int

	// SimilarityThreshold is the default minimum similarity for results
	SimilarityThreshold float64

	// EmbedBatchSize bounds how many chunk texts go to the embedding
	// provider in one call
	EmbedBatchSize int

	// PlotContextChapters is how many prior chapters of outline feed the
	// plot section of generation context
	PlotContextChapters int

	// RecentEventCount is how many of the latest events feed the recent
	// events section
	RecentEventCount int
}

// DefaultConfig returns sensible retrieval defaults.
func DefaultConfig() Config {
	return Config{
		SearchLimit:         5,
		SimilarityThreshold: 0.7,
		EmbedBatchSize:      10,
		PlotContextChapters: 3,
		RecentEventCount:    5,
	}
}

// SearchOptions narrows one similarity search. Zero Limit and Threshold fall
// back to the service defaults; ExactScan bypasses the ANN index.
type SearchOptions struct {
	Type      chunker.ChunkType
	Limit     int
	Threshold float64
	ExactScan bool
}

// StorySummary aggregates per-type chunk counts for one story.
type StorySummary struct {
	Story         *Story                    `json:"story"`
	ContentCounts map[chunker.ChunkType]int `json:"content_counts"`
	TotalChunks   int                       `json:"total_chunks"`
}

// Service binds the embedding provider to the vector store and assembles
// generation context. It owns the story-identifier cache: one identifier
// resolves to at most one story id for the lifetime of the instance.
type Service struct {
	embedder Embedder
	store    VectorStore
	chunker  *chunker.Chunker
	config   Config
	logger   *slog.Logger

	mu       sync.RWMutex
	storyIDs map[string]int64
}

// NewService creates a retrieval service. A nil chunker gets the defaults;
// zero config fields fall back to DefaultConfig values.
func NewService(embedder Embedder, store VectorStore, ck *chunker.Chunker, config Config) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	if ck == nil {
		ck = chunker.NewDefault()
	}

	defaults := DefaultConfig()
	if config.SearchLimit <= 0 {
		config.SearchLimit = defaults.SearchLimit
	}
	if config.SimilarityThreshold == 0 {
		config.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if config.EmbedBatchSize <= 0 {
		config.EmbedBatchSize = defaults.EmbedBatchSize
	}
	if config.PlotContextChapters <= 0 {
		config.PlotContextChapters = defaults.PlotContextChapters
	}
	if config.RecentEventCount <= 0 {
		config.RecentEventCount = defaults.RecentEventCount
	}

	return &Service{
		embedder: embedder,
		store:    store,
		chunker:  ck,
		config:   config,
		logger:   slog.Default().With("component", "rag"),
		storyIDs: make(map[string]int64),
	}, nil
}

// Chunker exposes the service's chunker for callers that pre-chunk content.
func (s *Service) Chunker() *chunker.Chunker {
	return s.chunker
}

// IndexContent embeds one chunk and stores it, returning the chunk id.
// Provider and storage faults both surface wrapped as ErrStorage; indexing is
// never retried silently.
func (s *Service) IndexContent(ctx context.Context, storyID int64, chunk chunker.Chunk) (int64, error) {
	vector, err := s.embedChunkText(ctx, chunk.Content)
	if err != nil {
		return 0, err
	}

	id, err := s.store.StoreEmbedding(ctx, storyID, chunk, vector)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("indexed chunk",
		"story_id", storyID,
		"chunk_id", id,
		"chunk_type", string(chunk.Type),
		"content_length", len(chunk.Content))
	return id, nil
}

// IndexChunks embeds chunks in batches and stores each, returning ids in
// chunk order. A mid-batch failure leaves earlier chunks stored.
func (s *Service) IndexChunks(ctx context.Context, storyID int64, chunks []chunker.Chunk) ([]int64, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.config.EmbedBatchSize {
		end := start + s.config.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Content
		}

		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return ids, fmt.Errorf("%w: failed to embed batch starting at %d: %v", ErrStorage, start, err)
		}
		if len(vectors) != len(batch) {
			return ids, fmt.Errorf("%w: expected %d embeddings, got %d", ErrStorage, len(batch), len(vectors))
		}

		for i, chunk := range batch {
			id, err := s.store.StoreEmbedding(ctx, storyID, chunk, vectors[i])
			if err != nil {
				return ids, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Service) embedChunkText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding failed: %v", ErrStorage, err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: provider returned no embedding", ErrStorage)
	}
	return vectors[0], nil
}

// SearchSimilar embeds the query and delegates to the store, applying the
// configured defaults for limit and threshold when omitted.
func (s *Service) SearchSimilar(ctx context.Context, storyID int64, query string, opts SearchOptions) ([]SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no embedding generated for query", ErrProvider)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = s.config.SearchLimit
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = s.config.SimilarityThreshold
	}

	return s.store.SearchSimilar(ctx, vectors[0], SearchFilter{
		StoryID:   storyID,
		Type:      opts.Type,
		Limit:     limit,
		Threshold: threshold,
		ExactScan: opts.ExactScan,
	})
}

// GetContextForGeneration assembles a prompt-ready context string for a
// chapter from up to four labeled sections in fixed order. A failing section
// contributes nothing rather than failing the call; the result is "" when
// every section is empty. contentTypes, when non-nil, restricts which
// sections are considered.
func (s *Service) GetContextForGeneration(ctx context.Context, storyID int64, chapterNumber, sceneNumber int, contentTypes []chunker.ChunkType) string {
	wanted := func(t chunker.ChunkType) bool {
		if contentTypes == nil {
			return true
		}
		for _, ct := range contentTypes {
			if ct == t {
				return true
			}
		}
		return false
	}

	var sections []string
	appendSection := func(section string) {
		if section != "" {
			sections = append(sections, section)
		}
	}

	if wanted(chunker.TypeCharacter) {
		appendSection(s.chapterScopedSection(ctx, storyID, chunker.TypeCharacter, chapterNumber, "CHARACTER CONTEXT:"))
	}
	if wanted(chunker.TypeSetting) {
		appendSection(s.chapterScopedSection(ctx, storyID, chunker.TypeSetting, chapterNumber, "SETTING CONTEXT:"))
	}
	if wanted(chunker.TypeOutline) {
		appendSection(s.plotSection(ctx, storyID, chapterNumber))
	}
	if wanted(chunker.TypeEvent) {
		appendSection(s.recentEventsSection(ctx, storyID))
	}

	return strings.Join(sections, "\n\n")
}

// chapterScopedSection fetches chunks of one type scoped to the chapter,
// falling back to all chunks of that type when the chapter has none.
func (s *Service) chapterScopedSection(ctx context.Context, storyID int64, chunkType chunker.ChunkType, chapterNumber int, label string) string {
	chunks, err := s.store.GetStoryContent(ctx, storyID, ContentFilter{Type: chunkType, ChapterNumber: chapterNumber})
	if err != nil {
		s.logger.Warn("context section fetch failed", "chunk_type", string(chunkType), "error", err)
		return ""
	}
	if len(chunks) == 0 {
		chunks, err = s.store.GetStoryContent(ctx, storyID, ContentFilter{Type: chunkType})
		if err != nil {
			s.logger.Warn("context section fallback fetch failed", "chunk_type", string(chunkType), "error", err)
			return ""
		}
	}
	return labeledSection(label, chunks)
}

// plotSection collects outline chunks from chapters strictly before the
// target chapter and keeps the most recent few, bounding prompt size.
func (s *Service) plotSection(ctx context.Context, storyID int64, chapterNumber int) string {
	chunks, err := s.store.GetStoryContent(ctx, storyID, ContentFilter{Type: chunker.TypeOutline})
	if err != nil {
		s.logger.Warn("plot context fetch failed", "error", err)
		return ""
	}

	type chapterChunk struct {
		chapter int
		chunk   StoredChunk
	}
	var prior []chapterChunk
	for _, chunk := range chunks {
		chapter, ok := MetadataInt(chunk.Metadata["chapter_number"])
		if !ok {
			continue
		}
		if chapter < chapterNumber {
			prior = append(prior, chapterChunk{chapter: chapter, chunk: chunk})
		}
	}

	sort.SliceStable(prior, func(i, j int) bool { return prior[i].chapter < prior[j].chapter })
	if len(prior) > s.config.PlotContextChapters {
		prior = prior[len(prior)-s.config.PlotContextChapters:]
	}

	kept := make([]StoredChunk, len(prior))
	for i, pc := range prior {
		kept[i] = pc.chunk
	}
	return labeledSection("PLOT CONTEXT:", kept)
}

// recentEventsSection keeps the most recently indexed events regardless of
// chapter.
func (s *Service) recentEventsSection(ctx context.Context, storyID int64) string {
	chunks, err := s.store.GetStoryContent(ctx, storyID, ContentFilter{Type: chunker.TypeEvent})
	if err != nil {
		s.logger.Warn("recent events fetch failed", "error", err)
		return ""
	}
	if len(chunks) > s.config.RecentEventCount {
		chunks = chunks[len(chunks)-s.config.RecentEventCount:]
	}
	return labeledSection("RECENT EVENTS:", chunks)
}

func labeledSection(label string, chunks []StoredChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	contents := make([]string, len(chunks))
	for i, chunk := range chunks {
		contents[i] = chunk.Content
	}
	return label + "\n" + strings.Join(contents, "\n\n")
}

// GetStorySummary counts stored chunks per content type.
func (s *Service) GetStorySummary(ctx context.Context, storyID int64) (*StorySummary, error) {
	story, err := s.store.GetStoryInfo(ctx, storyID)
	if err != nil {
		return nil, err
	}

	summary := &StorySummary{
		Story:         story,
		ContentCounts: make(map[chunker.ChunkType]int),
	}
	for _, chunkType := range chunker.KnownTypes() {
		chunks, err := s.store.GetStoryContent(ctx, storyID, ContentFilter{Type: chunkType})
		if err != nil {
			return nil, err
		}
		summary.ContentCounts[chunkType] = len(chunks)
		summary.TotalChunks += len(chunks)
	}
	return summary, nil
}

// DeleteContentByTypeAndMetadata passes through to the store with logging.
func (s *Service) DeleteContentByTypeAndMetadata(ctx context.Context, storyID int64, chunkType chunker.ChunkType, filters map[string]string) (int64, error) {
	deleted, err := s.store.DeleteContentByTypeAndMetadata(ctx, storyID, chunkType, filters)
	if err != nil {
		return 0, err
	}
	s.logger.Info("deleted content by type and metadata",
		"story_id", storyID,
		"chunk_type", string(chunkType),
		"deleted", deleted)
	return deleted, nil
}

// DeleteStory removes a story with its chunks and evicts any cached
// identifiers resolving to it.
func (s *Service) DeleteStory(ctx context.Context, storyID int64) (int64, error) {
	deleted, err := s.store.DeleteStory(ctx, storyID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	for identifier, id := range s.storyIDs {
		if id == storyID {
			delete(s.storyIDs, identifier)
		}
	}
	s.mu.Unlock()

	s.logger.Info("deleted story", "story_id", storyID, "chunks_deleted", deleted)
	return deleted, nil
}
