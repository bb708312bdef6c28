package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/qanatlabs/qanat/internal/models"
	"github.com/qanatlabs/qanat/internal/rag"
)

// Interface checks: the store plugs into the RAG manager.
var (
	_ rag.VectorIndex   = (*Store)(nil)
	_ rag.FeedbackStore = (*Store)(nil)
)

// Insert persists one embedding record.
func (s *Store) Insert(ctx context.Context, rec *models.EmbeddingRecord) error {
	return s.insertEmbedding(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertEmbedding(ctx context.Context, ex execer, rec *models.EmbeddingRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding metadata: %w", err)
	}

	query := rebind(`
		INSERT INTO rag_embeddings
			(id, source_type, source_id, content_text, content_summary, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	var sourceID any
	if rec.SourceID != nil {
		sourceID = *rec.SourceID
	}
	_, err = ex.ExecContext(ctx, query,
		rec.ID,
		string(rec.SourceType),
		sourceID,
		rec.ContentText,
		rec.ContentSummary,
		pgvector.NewVector(rec.Embedding),
		metadata,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

// Search ranks stored embeddings by cosine similarity against the query
// vector. `embedding <=> $1` is pgvector's cosine distance operator, so
// similarity is 1 - distance and ORDER BY distance yields descending
// similarity.
func (s *Store) Search(ctx context.Context, query []float32, p rag.SearchParams) ([]models.SearchResult, error) {
	if p.TopK <= 0 {
		p.TopK = 5
	}
	vec := pgvector.NewVector(query)

	var (
		rows *sql.Rows
		err  error
	)
	if p.SourceType != "" {
		q := rebind(`
			SELECT id, source_type, source_id, content_text, content_summary, metadata, created_at,
			       1 - (embedding <=> ?) AS similarity
			FROM rag_embeddings
			WHERE source_type = ?
			  AND 1 - (embedding <=> ?) >= ?
			ORDER BY embedding <=> ?
			LIMIT ?
		`)
		rows, err = s.db.QueryContext(ctx, q, vec, string(p.SourceType), vec, p.Threshold, vec, p.TopK)
	} else {
		q := rebind(`
			SELECT id, source_type, source_id, content_text, content_summary, metadata, created_at,
			       1 - (embedding <=> ?) AS similarity
			FROM rag_embeddings
			WHERE 1 - (embedding <=> ?) >= ?
			ORDER BY embedding <=> ?
			LIMIT ?
		`)
		rows, err = s.db.QueryContext(ctx, q, vec, vec, p.Threshold, vec, p.TopK)
	}
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var (
			r        models.SearchResult
			srcType  string
			sourceID uuid.NullUUID
			summary  sql.NullString
			metadata []byte
		)
		err := rows.Scan(&r.ID, &srcType, &sourceID, &r.ContentText, &summary, &metadata, &r.CreatedAt, &r.Similarity)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		r.SourceType = models.SourceType(srcType)
		if sourceID.Valid {
			id := sourceID.UUID
			r.SourceID = &id
		}
		r.ContentSummary = summary.String
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &r.Metadata)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	return results, nil
}

// CountEmbeddings returns the number of stored embedding records, optionally
// scoped to one source type.
func (s *Store) CountEmbeddings(ctx context.Context, sourceType models.SourceType) (int64, error) {
	var (
		count int64
		err   error
	)
	if sourceType != "" {
		err = s.db.QueryRowContext(ctx,
			rebind(`SELECT COUNT(*) FROM rag_embeddings WHERE source_type = ?`),
			string(sourceType)).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rag_embeddings`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return count, nil
}
