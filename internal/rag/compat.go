package rag

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/loreweave/loreweave/internal/chunker"
)

// Legacy adapters for callers that still key stories by the filesystem path
// of the source document. The core contract uses opaque identifier strings;
// these wrappers derive the identifier from the path.

// StoryIdentifierFromPath derives a story identifier from a source document
// path: the base name without its extension.
func StoryIdentifierFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IndexChapterFromPath indexes a chapter keyed by source document path.
//
// Deprecated: resolve an identifier with StoryIdentifierFromPath and use
// IndexChapter.
func (s *Service) IndexChapterFromPath(ctx context.Context, path string, chapterNumber int, title, content string, metadata map[string]any) ([]int64, error) {
	return s.IndexChapter(ctx, StoryIdentifierFromPath(path), chapterNumber, title, content, metadata)
}

// GetGenerationContextForPath assembles generation context keyed by source
// document path.
//
// Deprecated: resolve an identifier with StoryIdentifierFromPath and use
// GetGenerationContext.
func (s *Service) GetGenerationContextForPath(ctx context.Context, path string, chapterNumber, sceneNumber int, contentTypes []chunker.ChunkType) (string, error) {
	return s.GetGenerationContext(ctx, StoryIdentifierFromPath(path), chapterNumber, sceneNumber, contentTypes)
}

// SearchStoryContentByPath searches within a story keyed by source document
// path.
//
// Deprecated: resolve an identifier with StoryIdentifierFromPath and use
// SearchStoryContent.
func (s *Service) SearchStoryContentByPath(ctx context.Context, path, query string, opts SearchOptions) ([]SearchResult, error) {
	return s.SearchStoryContent(ctx, StoryIdentifierFromPath(path), query, opts)
}
