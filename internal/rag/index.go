// Package rag is the memory of the pipeline: semantic retrieval over
// previously generated content and feedback, and the duplicate-detection
// gate consulted before new content is committed.
package rag

import (
	"context"

	"github.com/qanatlabs/qanat/internal/models"
)

// SearchParams scope a similarity search.
type SearchParams struct {
	// TopK caps the number of results. Zero means 5.
	TopK int
	// Threshold is the minimum cosine similarity (0-1) to include.
	Threshold float64
	// SourceType optionally restricts results to one category.
	SourceType models.SourceType
}

// VectorIndex is the pluggable k-nearest-neighbor store. The call contract
// stays fixed as the backing implementation scales from a linear scan to an
// approximate index.
type VectorIndex interface {
	// Insert persists an immutable embedding record.
	Insert(ctx context.Context, rec *models.EmbeddingRecord) error
	// Search returns records ranked by descending cosine similarity,
	// filtered to the threshold and params. An empty result is valid.
	Search(ctx context.Context, query []float32, p SearchParams) ([]models.SearchResult, error)
}

// FeedbackStore persists feedback entries alongside their embeddings.
type FeedbackStore interface {
	// InsertFeedback writes the feedback row and its embedding record as
	// one unit: either both land or neither does.
	InsertFeedback(ctx context.Context, fb *models.FeedbackRecord, emb *models.EmbeddingRecord) error
	// RecentFeedback returns the latest feedback entries, optionally scoped
	// to scripts of one content type, newest first.
	RecentFeedback(ctx context.Context, contentType string, limit int) ([]FeedbackWithScript, error)
}

// FeedbackWithScript is a feedback entry joined to its script for display.
type FeedbackWithScript struct {
	models.FeedbackRecord
	ScriptTitle string `json:"script_title,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}
