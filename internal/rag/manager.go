package rag

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qanatlabs/qanat/internal/metrics"
	"github.com/qanatlabs/qanat/internal/models"
)

// DefaultDuplicateThreshold is the similarity above which new content is
// treated as a near-duplicate. A deliberate, tunable knob: too low rejects
// legitimately fresh content about the same game, too high lets repetitive
// content through.
const DefaultDuplicateThreshold = 0.85

// contextThreshold is the looser floor used when gathering prompt context.
const contextThreshold = 0.25

// Manager coordinates the vector index and the feedback store. Unlike the
// budget ledger it never degrades silently: backing-store errors propagate,
// because skipping dedup is a correctness risk, not an availability one.
type Manager struct {
	index     VectorIndex
	feedback  FeedbackStore
	dimension int
	mets      *metrics.Metrics
}

// NewManager creates a manager that validates every vector against the
// configured embedding dimension.
func NewManager(index VectorIndex, feedback FeedbackStore, dimension int) *Manager {
	return &Manager{index: index, feedback: feedback, dimension: dimension, mets: metrics.NewMetrics()}
}

// EmbeddingInput is the caller-supplied portion of a new embedding record.
type EmbeddingInput struct {
	SourceType     models.SourceType
	SourceID       *uuid.UUID
	ContentText    string
	ContentSummary string
	Embedding      []float32
	Metadata       map[string]string
}

// StoreEmbedding persists an immutable embedding record and returns its ID.
// The vector length must match the configured dimension; silently truncating
// or padding would corrupt similarity results, so a mismatch fails hard.
func (m *Manager) StoreEmbedding(ctx context.Context, in EmbeddingInput) (uuid.UUID, error) {
	if err := m.checkDimension(in.Embedding); err != nil {
		return uuid.Nil, err
	}
	if !in.SourceType.Valid() {
		return uuid.Nil, fmt.Errorf("invalid source type %q", in.SourceType)
	}

	rec := &models.EmbeddingRecord{
		ID:             uuid.New(),
		SourceType:     in.SourceType,
		SourceID:       in.SourceID,
		ContentText:    in.ContentText,
		ContentSummary: in.ContentSummary,
		Embedding:      in.Embedding,
		Metadata:       in.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.index.Insert(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("failed to store embedding: %w", err)
	}
	m.mets.EmbeddingsStored.WithLabelValues(string(rec.SourceType)).Inc()
	log.Printf("[RAG] stored embedding: type=%s id=%s text_len=%d",
		rec.SourceType, rec.ID, len(rec.ContentText))
	return rec.ID, nil
}

// SearchSimilar returns stored records ranked by cosine similarity. An empty
// result means no prior context and is not an error.
func (m *Manager) SearchSimilar(ctx context.Context, query []float32, p SearchParams) ([]models.SearchResult, error) {
	if err := m.checkDimension(query); err != nil {
		return nil, err
	}
	if p.TopK <= 0 {
		p.TopK = 5
	}
	results, err := m.index.Search(ctx, query, p)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	m.mets.SimilaritySearches.Inc()
	log.Printf("[RAG] search returned %d results (type=%s, threshold=%.2f)",
		len(results), p.SourceType, p.Threshold)
	return results, nil
}

// ContextFor builds the formatted context digest injected into writer and
// validator prompts, scoped to prior scripts.
func (m *Manager) ContextFor(ctx context.Context, query []float32, topK int) (string, error) {
	results, err := m.SearchSimilar(ctx, query, SearchParams{
		TopK:       topK,
		Threshold:  contextThreshold,
		SourceType: models.SourceScript,
	})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "لا يوجد سياق سابق متاح — هذا أول محتوى من هذا النوع.", nil
	}

	var b strings.Builder
	for i, r := range results {
		preview := r.ContentText
		if len(preview) > 300 {
			preview = preview[:300]
		}
		fmt.Fprintf(&b, "### سياق #%d (نوع: %s, تشابه: %.2f)\n", i+1, r.SourceType, r.Similarity)
		fmt.Fprintf(&b, "**ملخص:** %s\n", r.ContentSummary)
		fmt.Fprintf(&b, "**مقتطف:** %s...\n\n", preview)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// PreviousFeedback formats the most recent feedback for a content type,
// ordered by recency rather than similarity, for prompt injection.
func (m *Manager) PreviousFeedback(ctx context.Context, contentType string, limit int) (string, error) {
	if limit <= 0 {
		limit = 5
	}
	entries, err := m.feedback.RecentFeedback(ctx, contentType, limit)
	if err != nil {
		return "", fmt.Errorf("failed to load previous feedback: %w", err)
	}
	if len(entries) == 0 {
		return "لا توجد ملاحظات سابقة — لم يتم إنتاج محتوى مشابه من قبل.", nil
	}

	lines := make([]string, 0, len(entries))
	for _, fb := range entries {
		lines = append(lines, fmt.Sprintf("- [%s] عن '%s': %s", fb.FeedbackType, fb.ScriptTitle, fb.FeedbackText))
	}
	return strings.Join(lines, "\n"), nil
}

// CheckDuplicate reports whether highly similar content already exists.
// threshold <= 0 uses DefaultDuplicateThreshold. Returns the matched record
// when a near-duplicate is found, nil otherwise.
func (m *Manager) CheckDuplicate(ctx context.Context, query []float32, threshold float64) (*models.SearchResult, error) {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	results, err := m.SearchSimilar(ctx, query, SearchParams{
		TopK:       1,
		Threshold:  threshold,
		SourceType: models.SourceScript,
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	m.mets.DuplicatesDetected.Inc()
	log.Printf("[RAG] potential duplicate detected: similarity=%.3f id=%s",
		results[0].Similarity, results[0].ID)
	return &results[0], nil
}

// FeedbackInput is the caller-supplied portion of a new feedback entry.
type FeedbackInput struct {
	ScriptID     uuid.UUID
	VideoID      *uuid.UUID
	FeedbackType models.FeedbackType
	FeedbackText string
	Embedding    []float32
	Source       string
}

// StoreFeedback writes a feedback record and its embedding record as one
// logical unit. The embedding is marked applied immediately, so the entry
// never shows up as unprocessed work.
func (m *Manager) StoreFeedback(ctx context.Context, in FeedbackInput) (uuid.UUID, error) {
	if err := m.checkDimension(in.Embedding); err != nil {
		return uuid.Nil, err
	}
	if !in.FeedbackType.Valid() {
		return uuid.Nil, fmt.Errorf("invalid feedback type %q", in.FeedbackType)
	}
	if in.Source == "" {
		in.Source = "mattermost"
	}

	now := time.Now().UTC()
	fb := &models.FeedbackRecord{
		ID:           uuid.New(),
		ScriptID:     in.ScriptID,
		VideoID:      in.VideoID,
		FeedbackType: in.FeedbackType,
		FeedbackText: in.FeedbackText,
		Source:       in.Source,
		Applied:      true,
		CreatedAt:    now,
	}

	summary := in.FeedbackText
	if len(summary) > 100 {
		summary = summary[:100]
	}
	fbID := fb.ID
	emb := &models.EmbeddingRecord{
		ID:             uuid.New(),
		SourceType:     models.SourceFeedback,
		SourceID:       &fbID,
		ContentText:    in.FeedbackText,
		ContentSummary: fmt.Sprintf("[%s] %s", in.FeedbackType, summary),
		Embedding:      in.Embedding,
		Metadata: map[string]string{
			"script_id":     in.ScriptID.String(),
			"feedback_type": string(in.FeedbackType),
		},
		CreatedAt: now,
	}

	if err := m.feedback.InsertFeedback(ctx, fb, emb); err != nil {
		return uuid.Nil, fmt.Errorf("failed to store feedback: %w", err)
	}
	log.Printf("[RAG] stored feedback: type=%s script=%s", fb.FeedbackType, fb.ScriptID)
	return fb.ID, nil
}

func (m *Manager) checkDimension(vec []float32) error {
	if len(vec) != m.dimension {
		return fmt.Errorf("%w: expected %d, got %d", models.ErrDimensionMismatch, m.dimension, len(vec))
	}
	return nil
}
