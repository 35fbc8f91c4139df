package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/loreweave/loreweave/internal/chunker"
)

// PostgresConfig holds connection settings for the pgvector-backed store.
type PostgresConfig struct {
	DSN       string // Postgres connection string
	Dimension int    // Embedding vector dimension
	IVFLists  int    // IVFFlat list count for the ANN index
}

// DefaultPostgresConfig returns configuration from environment variables.
func DefaultPostgresConfig() PostgresConfig {
	dsn := os.Getenv("LOREWEAVE_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		dsn = "postgres://localhost:5432/loreweave?sslmode=disable"
	}

	return PostgresConfig{
		DSN:       dsn,
		Dimension: DefaultEmbeddingDimension,
		IVFLists:  100,
	}
}

// PostgresStore implements VectorStore on Postgres with the pgvector
// extension. The connection pool is safe for concurrent use; the store never
// retries internally.
type PostgresStore struct {
	db        *sql.DB
	dimension int
	ivfLists  int
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, config PostgresConfig) (*PostgresStore, error) {
	if config.Dimension <= 0 {
		config.Dimension = DefaultEmbeddingDimension
	}
	if config.IVFLists <= 0 {
		config.IVFLists = 100
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, errors.Wrapf(ErrStorage, "failed to open database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(ErrStorage, "failed to connect to database: %v", err)
	}

	return &PostgresStore{
		db:        db,
		dimension: config.Dimension,
		ivfLists:  config.IVFLists,
	}, nil
}

// EnsureSchema creates the vector extension, tables, and indexes. Deployments
// normally run this once at setup time.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS stories (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			source_identifier TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS story_chunks (
			id BIGSERIAL PRIMARY KEY,
			story_id BIGINT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
			chunk_type TEXT NOT NULL,
			chunk_subtype TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			chapter_number INT,
			scene_number INT,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_story_chunks_story_type ON story_chunks (story_id, chunk_type)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_story_chunks_embedding ON story_chunks
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`, s.ivfLists),
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(ErrStorage, "failed to ensure schema: %v", err)
		}
	}
	return nil
}

// CreateStory inserts a story or fetches the existing one with the same name.
// The UNIQUE constraint on name makes concurrent first creations degrade to a
// lookup of the winning row.
func (s *PostgresStore) CreateStory(ctx context.Context, name, sourceIdentifier string) (int64, error) {
	stmt := `
		INSERT INTO stories (name, source_identifier)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET updated_at = now()
		RETURNING id
	`

	var id int64
	if err := s.db.QueryRowContext(ctx, stmt, name, sourceIdentifier).Scan(&id); err != nil {
		return 0, errors.Wrapf(ErrStorage, "failed to create story %q: %v", name, err)
	}
	return id, nil
}

// StoreEmbedding appends a new chunk row. Rows are never updated in place.
func (s *PostgresStore) StoreEmbedding(ctx context.Context, storyID int64, chunk chunker.Chunk, embedding []float32) (int64, error) {
	metadata, err := json.Marshal(nonNilMetadata(chunk.Metadata))
	if err != nil {
		return 0, errors.Wrapf(ErrStorage, "failed to encode chunk metadata: %v", err)
	}

	stmt := `
		INSERT INTO story_chunks (story_id, chunk_type, chunk_subtype, title, content, metadata, chapter_number, scene_number, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var id int64
	err = s.db.QueryRowContext(ctx, stmt,
		storyID,
		string(chunk.Type),
		chunk.Subtype,
		chunk.Title,
		chunk.Content,
		string(metadata), // lib/pq would send raw []byte as bytea, not jsonb
		nullableInt(chunk.ChapterNumber),
		nullableInt(chunk.SceneNumber),
		pgvector.NewVector(embedding),
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrapf(ErrStorage, "failed to store embedding: %v", err)
	}
	return id, nil
}

// SearchSimilar ranks chunks by cosine similarity against the query vector.
// The <=> operator computes cosine distance, so similarity is 1 - distance
// and ordering by distance ascending yields most similar first. With
// filter.ExactScan the planner is forced off the ANN index inside a
// transaction, giving exact ranking at full-scan cost.
func (s *PostgresStore) SearchSimilar(ctx context.Context, queryEmbedding []float32, filter SearchFilter) ([]SearchResult, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	vector := pgvector.NewVector(queryEmbedding)
	where, args := []string{"1 = 1"}, []any{}

	if filter.StoryID != 0 {
		where, args = append(where, fmt.Sprintf("story_id = $%d", len(args)+1)), append(args, filter.StoryID)
	}
	if filter.Type != "" {
		where, args = append(where, fmt.Sprintf("chunk_type = $%d", len(args)+1)), append(args, string(filter.Type))
	}

	vecArg := len(args) + 1
	args = append(args, vector)
	thresholdArg := len(args) + 1
	args = append(args, filter.Threshold)
	limitArg := len(args) + 1
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, chunk_type, content, metadata, 1 - (embedding <=> $%d) AS similarity
		FROM story_chunks
		WHERE %s
			AND 1 - (embedding <=> $%d) >= $%d
		ORDER BY embedding <=> $%d
		LIMIT $%d
	`, vecArg, strings.Join(where, " AND "), vecArg, thresholdArg, vecArg, limitArg)

	var rows *sql.Rows
	var tx *sql.Tx
	var err error

	if filter.ExactScan {
		tx, err = s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, errors.Wrapf(ErrStorage, "failed to begin exact search transaction: %v", err)
		}
		defer tx.Rollback()
		// SET LOCAL scopes the planner override to this transaction only.
		for _, stmt := range []string{"SET LOCAL enable_indexscan = off", "SET LOCAL enable_bitmapscan = off"} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return nil, errors.Wrapf(ErrStorage, "failed to force exact scan: %v", err)
			}
		}
		rows, err = tx.QueryContext(ctx, query, args...)
	} else {
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, errors.Wrapf(ErrStorage, "failed to search similar chunks: %v", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var result SearchResult
		var chunkType string
		var metadata []byte
		if err := rows.Scan(&result.ChunkID, &chunkType, &result.Content, &metadata, &result.Similarity); err != nil {
			return nil, errors.Wrapf(ErrStorage, "failed to scan search result: %v", err)
		}
		result.Type = chunker.ChunkType(chunkType)
		if err := json.Unmarshal(metadata, &result.Metadata); err != nil {
			return nil, errors.Wrapf(ErrStorage, "failed to decode chunk metadata: %v", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(ErrStorage, "failed to read search results: %v", err)
	}

	return results, nil
}

// GetStoryContent lists chunks in creation order with optional type, chapter,
// and scene filters.
func (s *PostgresStore) GetStoryContent(ctx context.Context, storyID int64, filter ContentFilter) ([]StoredChunk, error) {
	where, args := []string{"story_id = $1"}, []any{storyID}

	if filter.Type != "" {
		where, args = append(where, fmt.Sprintf("chunk_type = $%d", len(args)+1)), append(args, string(filter.Type))
	}
	if filter.ChapterNumber != 0 {
		where, args = append(where, fmt.Sprintf("chapter_number = $%d", len(args)+1)), append(args, filter.ChapterNumber)
	}
	if filter.SceneNumber != 0 {
		where, args = append(where, fmt.Sprintf("scene_number = $%d", len(args)+1)), append(args, filter.SceneNumber)
	}

	query := `
		SELECT id, story_id, chunk_type, chunk_subtype, title, content, metadata, chapter_number, scene_number, created_at
		FROM story_chunks
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(ErrStorage, "failed to list story content: %v", err)
	}
	defer rows.Close()

	chunks := []StoredChunk{}
	for rows.Next() {
		var chunk StoredChunk
		var chunkType string
		var metadata []byte
		var chapter, scene sql.NullInt32
		err := rows.Scan(
			&chunk.ID,
			&chunk.StoryID,
			&chunkType,
			&chunk.Subtype,
			&chunk.Title,
			&chunk.Content,
			&metadata,
			&chapter,
			&scene,
			&chunk.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrapf(ErrStorage, "failed to scan story chunk: %v", err)
		}
		chunk.Type = chunker.ChunkType(chunkType)
		chunk.ChapterNumber = int(chapter.Int32)
		chunk.SceneNumber = int(scene.Int32)
		if err := json.Unmarshal(metadata, &chunk.Metadata); err != nil {
			return nil, errors.Wrapf(ErrStorage, "failed to decode chunk metadata: %v", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(ErrStorage, "failed to read story chunks: %v", err)
	}

	return chunks, nil
}

// DeleteContentByTypeAndMetadata deletes chunks of one type whose metadata
// contains every filter key with an equal text value, returning the matched
// count. Values compare as text via the JSONB ->> operator.
func (s *PostgresStore) DeleteContentByTypeAndMetadata(ctx context.Context, storyID int64, chunkType chunker.ChunkType, filters map[string]string) (int64, error) {
	where, args := []string{"story_id = $1", "chunk_type = $2"}, []any{storyID, string(chunkType)}

	for key, value := range filters {
		where = append(where, fmt.Sprintf("metadata->>$%d = $%d", len(args)+1, len(args)+2))
		args = append(args, key, value)
	}

	stmt := `DELETE FROM story_chunks WHERE ` + strings.Join(where, " AND ")
	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, errors.Wrapf(ErrStorage, "failed to delete content by type and metadata: %v", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// DeleteStoryContent deletes all chunks of a story, returning the count.
func (s *PostgresStore) DeleteStoryContent(ctx context.Context, storyID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM story_chunks WHERE story_id = $1`, storyID)
	if err != nil {
		return 0, errors.Wrapf(ErrStorage, "failed to delete story content: %v", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// DeleteStory removes the story row; chunks go with it through the foreign
// key cascade. Returns the number of chunks removed.
func (s *PostgresStore) DeleteStory(ctx context.Context, storyID int64) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM story_chunks WHERE story_id = $1`, storyID).Scan(&count); err != nil {
		return 0, errors.Wrapf(ErrStorage, "failed to count story chunks: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stories WHERE id = $1`, storyID); err != nil {
		return 0, errors.Wrapf(ErrStorage, "failed to delete story: %v", err)
	}
	return count, nil
}

// GetStoryInfo returns the story row, or ErrNotFound.
func (s *PostgresStore) GetStoryInfo(ctx context.Context, storyID int64) (*Story, error) {
	query := `
		SELECT id, name, source_identifier, created_at, updated_at
		FROM stories
		WHERE id = $1
	`

	var story Story
	err := s.db.QueryRowContext(ctx, query, storyID).Scan(
		&story.ID,
		&story.Name,
		&story.SourceIdentifier,
		&story.CreatedAt,
		&story.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: story %d", ErrNotFound, storyID)
	}
	if err != nil {
		return nil, errors.Wrapf(ErrStorage, "failed to get story info: %v", err)
	}
	return &story, nil
}

// ListStories lists all stories in creation order.
func (s *PostgresStore) ListStories(ctx context.Context) ([]Story, error) {
	query := `
		SELECT id, name, source_identifier, created_at, updated_at
		FROM stories
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(ErrStorage, "failed to list stories: %v", err)
	}
	defer rows.Close()

	stories := []Story{}
	for rows.Next() {
		var story Story
		if err := rows.Scan(&story.ID, &story.Name, &story.SourceIdentifier, &story.CreatedAt, &story.UpdatedAt); err != nil {
			return nil, errors.Wrapf(ErrStorage, "failed to scan story: %v", err)
		}
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(ErrStorage, "failed to read stories: %v", err)
	}

	return stories, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nonNilMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	return metadata
}
