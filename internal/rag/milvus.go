package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/loreweave/loreweave/internal/chunker"
)

// MilvusConfig holds configuration for the Milvus-backed store, for
// deployments already running a dedicated ANN service instead of pgvector.
type MilvusConfig struct {
	Address          string // Milvus server address (e.g., "localhost:19530")
	ChunkCollection  string // Collection holding story chunks
	StoryCollection  string // Collection holding story rows
	Dimension        int    // Vector dimension
	M                int    // HNSW M parameter
	EfConstruction   int    // HNSW efConstruction
	EfSearch         int    // HNSW ef used for approximate search
	EfExhaustiveness int    // HNSW ef used when an exact scan is requested
}

// DefaultMilvusConfig returns configuration from environment variables.
func DefaultMilvusConfig() MilvusConfig {
	address := os.Getenv("MILVUS_ADDRESS")
	if address == "" {
		address = "localhost:19530"
	}

	return MilvusConfig{
		Address:          address,
		ChunkCollection:  "loreweave_chunks",
		StoryCollection:  "loreweave_stories",
		Dimension:        DefaultEmbeddingDimension,
		M:                16,
		EfConstruction:   256,
		EfSearch:         64,
		EfExhaustiveness: 4096,
	}
}

// MilvusStore implements VectorStore on Milvus. Story rows live in their own
// collection keyed by an FNV-64a hash of the story name, so repeated creates
// upsert the same row and stay idempotent without a uniqueness constraint.
type MilvusStore struct {
	client client.Client
	config MilvusConfig
}

// NewMilvusStore connects to Milvus and ensures both collections exist with
// the proper schema and indexes.
func NewMilvusStore(ctx context.Context, config MilvusConfig) (*MilvusStore, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("%w: invalid vector dimension %d", ErrStorage, config.Dimension)
	}

	c, err := client.NewGrpcClient(ctx, config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to milvus: %v", ErrStorage, err)
	}

	store := &MilvusStore{client: c, config: config}
	if err := store.ensureCollections(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return store, nil
}

func (m *MilvusStore) ensureCollections(ctx context.Context) error {
	if err := m.ensureChunkCollection(ctx); err != nil {
		return err
	}
	return m.ensureStoryCollection(ctx)
}

func (m *MilvusStore) ensureChunkCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.config.ChunkCollection)
	if err != nil {
		return fmt.Errorf("%w: failed to check chunk collection: %v", ErrStorage, err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.config.ChunkCollection,
		AutoID:         true,
		Fields: []*entity.Field{
			{Name: "id", DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: true},
			{Name: "story_id", DataType: entity.FieldTypeInt64},
			{Name: "chunk_type", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "32"}},
			{Name: "chunk_subtype", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "64"}},
			{Name: "title", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "512"}},
			{Name: "content", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "65535"}},
			{Name: "metadata", DataType: entity.FieldTypeJSON},
			{Name: "chapter_number", DataType: entity.FieldTypeInt64},
			{Name: "scene_number", DataType: entity.FieldTypeInt64},
			{Name: "created_ts", DataType: entity.FieldTypeInt64},
			{Name: "embedding", DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", m.config.Dimension)}},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("%w: failed to create chunk collection: %v", ErrStorage, err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, m.config.M, m.config.EfConstruction)
	if err != nil {
		return fmt.Errorf("%w: failed to create index config: %v", ErrStorage, err)
	}
	if err := m.client.CreateIndex(ctx, m.config.ChunkCollection, "embedding", idx, false); err != nil {
		return fmt.Errorf("%w: failed to create chunk index: %v", ErrStorage, err)
	}
	if err := m.client.LoadCollection(ctx, m.config.ChunkCollection, false); err != nil {
		return fmt.Errorf("%w: failed to load chunk collection: %v", ErrStorage, err)
	}
	return nil
}

// ensureStoryCollection creates the story collection. Milvus requires a
// vector field per collection, so story rows carry a two-dimensional zero
// vector that is never searched.
func (m *MilvusStore) ensureStoryCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.config.StoryCollection)
	if err != nil {
		return fmt.Errorf("%w: failed to check story collection: %v", ErrStorage, err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.config.StoryCollection,
		Fields: []*entity.Field{
			{Name: "id", DataType: entity.FieldTypeInt64, PrimaryKey: true},
			{Name: "name", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "512"}},
			{Name: "source_identifier", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "1024"}},
			{Name: "created_ts", DataType: entity.FieldTypeInt64},
			{Name: "updated_ts", DataType: entity.FieldTypeInt64},
			{Name: "placeholder", DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": "2"}},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("%w: failed to create story collection: %v", ErrStorage, err)
	}

	idx, err := entity.NewIndexFlat(entity.L2)
	if err != nil {
		return fmt.Errorf("%w: failed to create story index config: %v", ErrStorage, err)
	}
	if err := m.client.CreateIndex(ctx, m.config.StoryCollection, "placeholder", idx, false); err != nil {
		return fmt.Errorf("%w: failed to create story index: %v", ErrStorage, err)
	}
	if err := m.client.LoadCollection(ctx, m.config.StoryCollection, false); err != nil {
		return fmt.Errorf("%w: failed to load story collection: %v", ErrStorage, err)
	}
	return nil
}

// storyIDForName derives the surrogate story id from the name. FNV-64a masked
// to a positive int64: the same name always maps to the same id, which makes
// CreateStory an idempotent upsert.
func storyIDForName(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// CreateStory upserts the story row keyed by the name-derived id.
func (m *MilvusStore) CreateStory(ctx context.Context, name, sourceIdentifier string) (int64, error) {
	id := storyIDForName(name)
	now := time.Now().UnixNano()

	createdTs := now
	if existing, err := m.GetStoryInfo(ctx, id); err == nil {
		createdTs = existing.CreatedAt.UnixNano()
	}

	columns := []entity.Column{
		entity.NewColumnInt64("id", []int64{id}),
		entity.NewColumnVarChar("name", []string{name}),
		entity.NewColumnVarChar("source_identifier", []string{sourceIdentifier}),
		entity.NewColumnInt64("created_ts", []int64{createdTs}),
		entity.NewColumnInt64("updated_ts", []int64{now}),
		entity.NewColumnFloatVector("placeholder", 2, [][]float32{{0, 0}}),
	}

	if _, err := m.client.Upsert(ctx, m.config.StoryCollection, "", columns...); err != nil {
		return 0, fmt.Errorf("%w: failed to upsert story %q: %v", ErrStorage, name, err)
	}
	return id, nil
}

// StoreEmbedding appends one chunk row. Milvus assigns the chunk id.
func (m *MilvusStore) StoreEmbedding(ctx context.Context, storyID int64, chunk chunker.Chunk, embedding []float32) (int64, error) {
	if len(embedding) != m.config.Dimension {
		return 0, fmt.Errorf("%w: expected embedding dimension %d, got %d", ErrStorage, m.config.Dimension, len(embedding))
	}

	metadata, err := json.Marshal(nonNilMetadata(chunk.Metadata))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to encode chunk metadata: %v", ErrStorage, err)
	}

	columns := []entity.Column{
		entity.NewColumnInt64("story_id", []int64{storyID}),
		entity.NewColumnVarChar("chunk_type", []string{string(chunk.Type)}),
		entity.NewColumnVarChar("chunk_subtype", []string{chunk.Subtype}),
		entity.NewColumnVarChar("title", []string{chunk.Title}),
		entity.NewColumnVarChar("content", []string{chunk.Content}),
		entity.NewColumnJSONBytes("metadata", [][]byte{metadata}),
		entity.NewColumnInt64("chapter_number", []int64{int64(chunk.ChapterNumber)}),
		entity.NewColumnInt64("scene_number", []int64{int64(chunk.SceneNumber)}),
		entity.NewColumnInt64("created_ts", []int64{time.Now().UnixNano()}),
		entity.NewColumnFloatVector("embedding", m.config.Dimension, [][]float32{embedding}),
	}

	ids, err := m.client.Insert(ctx, m.config.ChunkCollection, "", columns...)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert chunk: %v", ErrStorage, err)
	}
	if err := m.client.Flush(ctx, m.config.ChunkCollection, false); err != nil {
		return 0, fmt.Errorf("%w: failed to flush chunk collection: %v", ErrStorage, err)
	}

	idColumn, ok := ids.(*entity.ColumnInt64)
	if !ok || idColumn.Len() == 0 {
		return 0, fmt.Errorf("%w: insert returned no chunk id", ErrStorage)
	}
	return idColumn.Data()[0], nil
}

// SearchSimilar performs top-K search with scalar filtering. With COSINE as
// the metric Milvus scores are cosine similarity directly. The index here is
// always approximate; an exact-scan request widens the HNSW ef parameter far
// past the candidate count, which is as close to exhaustive as this backend
// gets while preserving the same ordering contract.
func (m *MilvusStore) SearchSimilar(ctx context.Context, queryEmbedding []float32, filter SearchFilter) ([]SearchResult, error) {
	if len(queryEmbedding) != m.config.Dimension {
		return nil, fmt.Errorf("%w: expected query dimension %d, got %d", ErrStorage, m.config.Dimension, len(queryEmbedding))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	expr := ""
	if filter.StoryID != 0 {
		expr = fmt.Sprintf("story_id == %d", filter.StoryID)
	}
	if filter.Type != "" {
		if expr != "" {
			expr += " and "
		}
		expr += fmt.Sprintf(`chunk_type == "%s"`, string(filter.Type))
	}

	ef := m.config.EfSearch
	if filter.ExactScan {
		ef = m.config.EfExhaustiveness
	}
	sp, err := entity.NewIndexHNSWSearchParam(ef)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create search params: %v", ErrStorage, err)
	}

	vectors := []entity.Vector{entity.FloatVector(queryEmbedding)}
	outputFields := []string{"chunk_type", "content", "metadata"}

	results, err := m.client.Search(
		ctx,
		m.config.ChunkCollection,
		nil,
		expr,
		outputFields,
		vectors,
		"embedding",
		entity.COSINE,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search chunks: %v", ErrStorage, err)
	}
	if len(results) == 0 {
		return []SearchResult{}, nil
	}

	hits := results[0]
	out := make([]SearchResult, 0, hits.ResultCount)
	for i := 0; i < hits.ResultCount; i++ {
		similarity := float64(hits.Scores[i])
		if similarity < filter.Threshold {
			continue
		}

		result := SearchResult{Similarity: similarity}
		if idCol, ok := hits.IDs.(*entity.ColumnInt64); ok && i < idCol.Len() {
			result.ChunkID = idCol.Data()[i]
		}
		for _, field := range hits.Fields {
			switch field.Name() {
			case "chunk_type":
				result.Type = chunker.ChunkType(field.(*entity.ColumnVarChar).Data()[i])
			case "content":
				result.Content = field.(*entity.ColumnVarChar).Data()[i]
			case "metadata":
				if jsonCol, ok := field.(*entity.ColumnJSONBytes); ok && i < jsonCol.Len() {
					_ = json.Unmarshal(jsonCol.Data()[i], &result.Metadata)
				}
			}
		}
		out = append(out, result)
	}

	// Milvus returns hits ordered by score already; keep the contract
	// explicit anyway.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// GetStoryContent lists chunks in creation order. Milvus queries do not
// guarantee ordering, so rows are sorted by created_ts client-side.
func (m *MilvusStore) GetStoryContent(ctx context.Context, storyID int64, filter ContentFilter) ([]StoredChunk, error) {
	expr := fmt.Sprintf("story_id == %d", storyID)
	if filter.Type != "" {
		expr += fmt.Sprintf(` and chunk_type == "%s"`, string(filter.Type))
	}
	if filter.ChapterNumber != 0 {
		expr += fmt.Sprintf(" and chapter_number == %d", filter.ChapterNumber)
	}
	if filter.SceneNumber != 0 {
		expr += fmt.Sprintf(" and scene_number == %d", filter.SceneNumber)
	}

	outputFields := []string{"id", "story_id", "chunk_type", "chunk_subtype", "title", "content", "metadata", "chapter_number", "scene_number", "created_ts"}
	columns, err := m.client.Query(ctx, m.config.ChunkCollection, nil, expr, outputFields)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query story content: %v", ErrStorage, err)
	}

	chunks := chunksFromColumns(columns)
	sort.SliceStable(chunks, func(i, j int) bool {
		if !chunks[i].CreatedAt.Equal(chunks[j].CreatedAt) {
			return chunks[i].CreatedAt.Before(chunks[j].CreatedAt)
		}
		return chunks[i].ID < chunks[j].ID
	})
	return chunks, nil
}

func chunksFromColumns(columns client.ResultSet) []StoredChunk {
	byName := map[string]entity.Column{}
	rowCount := 0
	for _, col := range columns {
		byName[col.Name()] = col
		if col.Len() > rowCount {
			rowCount = col.Len()
		}
	}

	int64At := func(name string, i int) int64 {
		if col, ok := byName[name].(*entity.ColumnInt64); ok && i < col.Len() {
			return col.Data()[i]
		}
		return 0
	}
	stringAt := func(name string, i int) string {
		if col, ok := byName[name].(*entity.ColumnVarChar); ok && i < col.Len() {
			return col.Data()[i]
		}
		return ""
	}

	chunks := make([]StoredChunk, 0, rowCount)
	for i := 0; i < rowCount; i++ {
		chunk := StoredChunk{
			ID:            int64At("id", i),
			StoryID:       int64At("story_id", i),
			Type:          chunker.ChunkType(stringAt("chunk_type", i)),
			Subtype:       stringAt("chunk_subtype", i),
			Title:         stringAt("title", i),
			Content:       stringAt("content", i),
			ChapterNumber: int(int64At("chapter_number", i)),
			SceneNumber:   int(int64At("scene_number", i)),
			CreatedAt:     time.Unix(0, int64At("created_ts", i)),
		}
		if col, ok := byName["metadata"].(*entity.ColumnJSONBytes); ok && i < col.Len() {
			_ = json.Unmarshal(col.Data()[i], &chunk.Metadata)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// DeleteContentByTypeAndMetadata queries candidate chunks by story and type,
// applies the metadata filters client-side (Milvus JSON expressions do not
// cover the string-compared contract), and deletes the matches by id.
func (m *MilvusStore) DeleteContentByTypeAndMetadata(ctx context.Context, storyID int64, chunkType chunker.ChunkType, filters map[string]string) (int64, error) {
	candidates, err := m.GetStoryContent(ctx, storyID, ContentFilter{Type: chunkType})
	if err != nil {
		return 0, err
	}

	var ids []int64
	for _, chunk := range candidates {
		if MetadataMatches(chunk.Metadata, filters) {
			ids = append(ids, chunk.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := m.deleteChunksByID(ctx, ids); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (m *MilvusStore) deleteChunksByID(ctx context.Context, ids []int64) error {
	expr := "id in ["
	for i, id := range ids {
		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf("%d", id)
	}
	expr += "]"

	if err := m.client.Delete(ctx, m.config.ChunkCollection, "", expr); err != nil {
		return fmt.Errorf("%w: failed to delete chunks: %v", ErrStorage, err)
	}
	return nil
}

// DeleteStoryContent deletes all chunks of a story, returning the count.
func (m *MilvusStore) DeleteStoryContent(ctx context.Context, storyID int64) (int64, error) {
	chunks, err := m.GetStoryContent(ctx, storyID, ContentFilter{})
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	if err := m.client.Delete(ctx, m.config.ChunkCollection, "", fmt.Sprintf("story_id == %d", storyID)); err != nil {
		return 0, fmt.Errorf("%w: failed to delete story content: %v", ErrStorage, err)
	}
	return int64(len(chunks)), nil
}

// DeleteStory deletes a story's chunks and its story row.
func (m *MilvusStore) DeleteStory(ctx context.Context, storyID int64) (int64, error) {
	deleted, err := m.DeleteStoryContent(ctx, storyID)
	if err != nil {
		return 0, err
	}
	if err := m.client.Delete(ctx, m.config.StoryCollection, "", fmt.Sprintf("id == %d", storyID)); err != nil {
		return deleted, fmt.Errorf("%w: failed to delete story row: %v", ErrStorage, err)
	}
	return deleted, nil
}

// GetStoryInfo returns the story row, or ErrNotFound.
func (m *MilvusStore) GetStoryInfo(ctx context.Context, storyID int64) (*Story, error) {
	outputFields := []string{"id", "name", "source_identifier", "created_ts", "updated_ts"}
	columns, err := m.client.Query(ctx, m.config.StoryCollection, nil, fmt.Sprintf("id == %d", storyID), outputFields)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query story: %v", ErrStorage, err)
	}

	stories := storiesFromColumns(columns)
	if len(stories) == 0 {
		return nil, fmt.Errorf("%w: story %d", ErrNotFound, storyID)
	}
	return &stories[0], nil
}

// ListStories lists all stories, ordered by creation time.
func (m *MilvusStore) ListStories(ctx context.Context) ([]Story, error) {
	outputFields := []string{"id", "name", "source_identifier", "created_ts", "updated_ts"}
	columns, err := m.client.Query(ctx, m.config.StoryCollection, nil, "id >= 0", outputFields)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list stories: %v", ErrStorage, err)
	}

	stories := storiesFromColumns(columns)
	sort.SliceStable(stories, func(i, j int) bool { return stories[i].CreatedAt.Before(stories[j].CreatedAt) })
	return stories, nil
}

func storiesFromColumns(columns client.ResultSet) []Story {
	byName := map[string]entity.Column{}
	rowCount := 0
	for _, col := range columns {
		byName[col.Name()] = col
		if col.Len() > rowCount {
			rowCount = col.Len()
		}
	}

	int64At := func(name string, i int) int64 {
		if col, ok := byName[name].(*entity.ColumnInt64); ok && i < col.Len() {
			return col.Data()[i]
		}
		return 0
	}
	stringAt := func(name string, i int) string {
		if col, ok := byName[name].(*entity.ColumnVarChar); ok && i < col.Len() {
			return col.Data()[i]
		}
		return ""
	}

	stories := make([]Story, 0, rowCount)
	for i := 0; i < rowCount; i++ {
		stories = append(stories, Story{
			ID:               int64At("id", i),
			Name:             stringAt("name", i),
			SourceIdentifier: stringAt("source_identifier", i),
			CreatedAt:        time.Unix(0, int64At("created_ts", i)),
			UpdatedAt:        time.Unix(0, int64At("updated_ts", i)),
		})
	}
	return stories
}

// Close releases the Milvus connection.
func (m *MilvusStore) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
