package rag

import (
	"context"
	"fmt"
	"strconv"

	"github.com/loreweave/loreweave/internal/chunker"
)

// ResolveStory maps a caller-chosen story identifier to its story id,
// creating the story on first use. Resolutions are cached for the lifetime of
// the service instance; the cache is an optimization only, since the store's
// name uniqueness makes concurrent first creations converge on one row.
func (s *Service) ResolveStory(ctx context.Context, identifier string) (int64, error) {
	if identifier == "" {
		return 0, fmt.Errorf("%w: story identifier is required", ErrNotFound)
	}

	s.mu.RLock()
	id, ok := s.storyIDs[identifier]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := s.store.CreateStory(ctx, identifier, identifier)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.storyIDs[identifier] = id
	s.mu.Unlock()
	return id, nil
}

// IndexOutline replaces the indexed outline for one chapter. Stale outline
// chunks for the chapter are deleted before the fresh content goes in, so
// re-indexing is idempotent.
func (s *Service) IndexOutline(ctx context.Context, identifier string, chapterNumber int, content string, metadata map[string]any) ([]int64, error) {
	storyID, err := s.ResolveStory(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.DeleteContentByTypeAndMetadata(ctx, storyID, chunker.TypeOutline, map[string]string{
		"chapter_number": strconv.Itoa(chapterNumber),
	}); err != nil {
		return nil, err
	}

	md := withMetadata(metadata, "chapter_number", chapterNumber)
	chunks := s.chunker.ChunkText(content, chunker.Options{
		Type:          chunker.TypeOutline,
		Title:         fmt.Sprintf("Chapter %d Outline", chapterNumber),
		Metadata:      md,
		ChapterNumber: chapterNumber,
	})
	return s.IndexChunks(ctx, storyID, chunks)
}

// IndexChapter replaces the indexed scenes for one chapter.
func (s *Service) IndexChapter(ctx context.Context, identifier string, chapterNumber int, title, content string, metadata map[string]any) ([]int64, error) {
	storyID, err := s.ResolveStory(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.DeleteContentByTypeAndMetadata(ctx, storyID, chunker.TypeScene, map[string]string{
		"chapter_number": strconv.Itoa(chapterNumber),
	}); err != nil {
		return nil, err
	}

	chunks := s.chunker.ChunkChapter(content, chapterNumber, chunker.Options{
		Title:    title,
		Metadata: metadata,
	})
	return s.IndexChunks(ctx, storyID, chunks)
}

// IndexCharacter replaces the indexed sheet for one character.
func (s *Service) IndexCharacter(ctx context.Context, identifier, characterName, content string, metadata map[string]any) ([]int64, error) {
	storyID, err := s.ResolveStory(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.DeleteContentByTypeAndMetadata(ctx, storyID, chunker.TypeCharacter, map[string]string{
		"character_name": characterName,
	}); err != nil {
		return nil, err
	}

	chunks := s.chunker.ChunkCharacterSheet(content, characterName, metadata)
	return s.IndexChunks(ctx, storyID, chunks)
}

// IndexSetting replaces the indexed description for one location.
func (s *Service) IndexSetting(ctx context.Context, identifier, locationName, content string, metadata map[string]any) ([]int64, error) {
	storyID, err := s.ResolveStory(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.DeleteContentByTypeAndMetadata(ctx, storyID, chunker.TypeSetting, map[string]string{
		"location_name": locationName,
	}); err != nil {
		return nil, err
	}

	chunks := s.chunker.ChunkSettingDescription(content, locationName, metadata)
	return s.IndexChunks(ctx, storyID, chunks)
}

// IndexEvent appends one event to the story's event log. Events are never
// replaced; recency is derived from creation order.
func (s *Service) IndexEvent(ctx context.Context, identifier, description string, metadata map[string]any) ([]int64, error) {
	storyID, err := s.ResolveStory(ctx, identifier)
	if err != nil {
		return nil, err
	}

	chunks := s.chunker.ChunkText(description, chunker.Options{
		Type:     chunker.TypeEvent,
		Metadata: metadata,
	})
	return s.IndexChunks(ctx, storyID, chunks)
}

// GetGenerationContext resolves the identifier and assembles generation
// context for the chapter.
func (s *Service) GetGenerationContext(ctx context.Context, identifier string, chapterNumber, sceneNumber int, contentTypes []chunker.ChunkType) (string, error) {
	storyID, err := s.ResolveStory(ctx, identifier)
	if err != nil {
		return "", err
	}
	return s.GetContextForGeneration(ctx, storyID, chapterNumber, sceneNumber, contentTypes), nil
}

// SearchStoryContent resolves the identifier and searches within the story.
func (s *Service) SearchStoryContent(ctx context.Context, identifier, query string, opts SearchOptions) ([]SearchResult, error) {
	storyID, err := s.ResolveStory(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return s.SearchSimilar(ctx, storyID, query, opts)
}

// StorySummary resolves the identifier and summarizes the story's content.
func (s *Service) StorySummary(ctx context.Context, identifier string) (*StorySummary, error) {
	storyID, err := s.ResolveStory(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return s.GetStorySummary(ctx, storyID)
}

func withMetadata(metadata map[string]any, key string, value any) map[string]any {
	md := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md[key] = value
	return md
}
