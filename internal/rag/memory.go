package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/qanatlabs/qanat/internal/models"
)

// MemoryIndex is an exact-scan, in-process implementation of VectorIndex and
// FeedbackStore. It backs unit tests and air-gapped runs; at production
// scale the pgvector store takes over behind the same interfaces.
type MemoryIndex struct {
	mu       sync.RWMutex
	records  []models.EmbeddingRecord
	feedback []FeedbackWithScript
	scripts  map[uuid.UUID]models.GeneratedScript
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{scripts: make(map[uuid.UUID]models.GeneratedScript)}
}

// Insert stores a copy of the record.
func (m *MemoryIndex) Insert(ctx context.Context, rec *models.EmbeddingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

// Search is a linear scan ranked by cosine similarity.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, p SearchParams) ([]models.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []models.SearchResult
	for _, rec := range m.records {
		if p.SourceType != "" && rec.SourceType != p.SourceType {
			continue
		}
		sim := CosineSimilarity(query, rec.Embedding)
		if sim < p.Threshold {
			continue
		}
		results = append(results, models.SearchResult{EmbeddingRecord: rec, Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if p.TopK > 0 && len(results) > p.TopK {
		results = results[:p.TopK]
	}
	return results, nil
}

// InsertFeedback appends the feedback entry and its embedding together.
func (m *MemoryIndex) InsertFeedback(ctx context.Context, fb *models.FeedbackRecord, emb *models.EmbeddingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := FeedbackWithScript{FeedbackRecord: *fb}
	if s, ok := m.scripts[fb.ScriptID]; ok {
		entry.ScriptTitle = s.Title
		entry.ContentType = s.ContentType
	}
	m.feedback = append(m.feedback, entry)
	m.records = append(m.records, *emb)
	return nil
}

// RecentFeedback returns feedback entries newest first, scoped to the
// content type when the joined script is known.
func (m *MemoryIndex) RecentFeedback(ctx context.Context, contentType string, limit int) ([]FeedbackWithScript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []FeedbackWithScript
	for i := len(m.feedback) - 1; i >= 0 && len(out) < limit; i-- {
		fb := m.feedback[i]
		if contentType != "" && fb.ContentType != "" && fb.ContentType != contentType {
			continue
		}
		out = append(out, fb)
	}
	return out, nil
}

// AddScript registers a script so feedback entries can join against it.
func (m *MemoryIndex) AddScript(s models.GeneratedScript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[s.ID] = s
}

// Len returns the number of stored embedding records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
