package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceType categorizes embedding records in the vector store.
type SourceType string

const (
	SourceScript     SourceType = "script"
	SourceFeedback   SourceType = "feedback"
	SourceGame       SourceType = "game"
	SourceValidation SourceType = "validation"
)

// Valid reports whether the source type is one of the known categories.
func (s SourceType) Valid() bool {
	switch s {
	case SourceScript, SourceFeedback, SourceGame, SourceValidation:
		return true
	}
	return false
}

// FeedbackType categorizes feedback entries.
type FeedbackType string

const (
	FeedbackApproval  FeedbackType = "approval"
	FeedbackRejection FeedbackType = "rejection"
	FeedbackEdit      FeedbackType = "edit"
	FeedbackNote      FeedbackType = "note"
	FeedbackAuto      FeedbackType = "auto"
)

// Valid reports whether the feedback type is one of the known categories.
func (f FeedbackType) Valid() bool {
	switch f {
	case FeedbackApproval, FeedbackRejection, FeedbackEdit, FeedbackNote, FeedbackAuto:
		return true
	}
	return false
}

// ErrDimensionMismatch is returned when an embedding vector does not match
// the configured dimension. This is a caller bug, never retried.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// EmbeddingRecord is one immutable row in the vector store.
// SourceID is a weak back-reference for display only; similarity search is
// the only supported retrieval path.
type EmbeddingRecord struct {
	ID             uuid.UUID         `json:"id"`
	SourceType     SourceType        `json:"source_type"`
	SourceID       *uuid.UUID        `json:"source_id,omitempty"`
	ContentText    string            `json:"content_text"`
	ContentSummary string            `json:"content_summary,omitempty"`
	Embedding      []float32         `json:"-"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// SearchResult is an embedding record with its similarity score against a
// query vector (1 - cosine distance, higher is more similar).
type SearchResult struct {
	EmbeddingRecord
	Similarity float64 `json:"similarity"`
}

// FeedbackRecord is one human or automatic feedback entry on a script.
// Applied marks whether the entry has been embedded into the vector store.
type FeedbackRecord struct {
	ID           uuid.UUID    `json:"id"`
	ScriptID     uuid.UUID    `json:"script_id"`
	VideoID      *uuid.UUID   `json:"video_id,omitempty"`
	FeedbackType FeedbackType `json:"feedback_type"`
	FeedbackText string       `json:"feedback_text"`
	Source       string       `json:"source"`
	Applied      bool         `json:"applied"`
	CreatedAt    time.Time    `json:"created_at"`
}

// GeneratedScript is a script draft produced by the writer step.
type GeneratedScript struct {
	ID             uuid.UUID  `json:"id"`
	ContentType    string     `json:"content_type"`
	Title          string     `json:"title"`
	ScriptText     string     `json:"script_text"`
	WordCount      int        `json:"word_count"`
	TargetDuration float64    `json:"target_duration,omitempty"`
	Status         string     `json:"status"`
	Version        int        `json:"version"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ValidationScores holds the per-axis scores from the validator step.
type ValidationScores struct {
	Accuracy    int `json:"accuracy"`
	Dialect     int `json:"dialect"`
	Structure   int `json:"structure"`
	Engagement  int `json:"engagement"`
	Originality int `json:"originality"`
}

// Overall returns the mean score across all axes.
func (v ValidationScores) Overall() float64 {
	sum := v.Accuracy + v.Dialect + v.Structure + v.Engagement + v.Originality
	return float64(sum) / 5.0
}

// ValidationResult is the validator step's verdict on a script.
type ValidationResult struct {
	ScriptID uuid.UUID        `json:"script_id"`
	Scores   ValidationScores `json:"scores"`
	Passed   bool             `json:"passed"`
	Notes    string           `json:"notes,omitempty"`
}

// ArabicSupport describes a game's Arabic localization.
type ArabicSupport struct {
	HasArabic   bool   `json:"has_arabic"`
	ArabicType  string `json:"arabic_type,omitempty"` // subtitles, dubbing, interface
	QualityNote string `json:"quality_note,omitempty"`
}

// Game is a game record sourced from the games database API.
type Game struct {
	ID            uuid.UUID     `json:"id"`
	RawgID        int           `json:"rawg_id,omitempty"`
	Title         string        `json:"title"`
	TitleAr       string        `json:"title_ar,omitempty"`
	Slug          string        `json:"slug,omitempty"`
	ReleaseDate   string        `json:"release_date,omitempty"`
	Platforms     []string      `json:"platforms,omitempty"`
	Genres        []string      `json:"genres,omitempty"`
	GamePass      bool          `json:"gamepass"`
	ArabicSupport ArabicSupport `json:"arabic_support"`
	Metacritic    int           `json:"metacritic,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// BudgetExhaustedError reports a denied budget consumption so operators can
// see exactly what was denied and why.
type BudgetExhaustedError struct {
	Platform  string
	Operation string
	Requested int64
	Remaining int64
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted for %s/%s: requested %d units, only %d remaining this week",
		e.Platform, e.Operation, e.Requested, e.Remaining)
}
