package rag

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/qanatlabs/qanat/internal/models"
)

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1.0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
		{"empty", nil, nil, 0.0},
	}
	for _, tc := range cases {
		got := CosineSimilarity(tc.a, tc.b)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: CosineSimilarity = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMemoryIndexRecentFeedbackOrder(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	scriptID := uuid.New()
	idx.AddScript(models.GeneratedScript{ID: scriptID, ContentType: "aaa_review", Title: "مراجعة"})

	base := time.Now().UTC()
	for i, text := range []string{"first", "second", "third"} {
		fb := &models.FeedbackRecord{
			ID:           uuid.New(),
			ScriptID:     scriptID,
			FeedbackType: models.FeedbackNote,
			FeedbackText: text,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		emb := &models.EmbeddingRecord{ID: uuid.New(), SourceType: models.SourceFeedback}
		if err := idx.InsertFeedback(ctx, fb, emb); err != nil {
			t.Fatalf("InsertFeedback: %v", err)
		}
	}

	got, err := idx.RecentFeedback(ctx, "aaa_review", 2)
	if err != nil {
		t.Fatalf("RecentFeedback: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].FeedbackText != "third" || got[1].FeedbackText != "second" {
		t.Errorf("wrong order: %q then %q", got[0].FeedbackText, got[1].FeedbackText)
	}
}

func TestMemoryIndexFeedbackContentTypeFilter(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	reviewID := uuid.New()
	releasesID := uuid.New()
	idx.AddScript(models.GeneratedScript{ID: reviewID, ContentType: "aaa_review", Title: "a"})
	idx.AddScript(models.GeneratedScript{ID: releasesID, ContentType: "monthly_releases", Title: "b"})

	for _, sid := range []uuid.UUID{reviewID, releasesID} {
		fb := &models.FeedbackRecord{ID: uuid.New(), ScriptID: sid, FeedbackType: models.FeedbackNote, FeedbackText: "x"}
		emb := &models.EmbeddingRecord{ID: uuid.New(), SourceType: models.SourceFeedback}
		if err := idx.InsertFeedback(ctx, fb, emb); err != nil {
			t.Fatalf("InsertFeedback: %v", err)
		}
	}

	got, err := idx.RecentFeedback(ctx, "monthly_releases", 10)
	if err != nil {
		t.Fatalf("RecentFeedback: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got[0].ContentType != "monthly_releases" {
		t.Errorf("got content type %q", got[0].ContentType)
	}
}
