package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qanatlabs/qanat/internal/budget"
	"github.com/qanatlabs/qanat/internal/models"
)

// passingScore is the minimum mean score for a script to be accepted.
const passingScore = 7.0

// ScriptReader loads scripts and moves them through their lifecycle.
type ScriptReader interface {
	GetScript(ctx context.Context, id uuid.UUID) (*models.GeneratedScript, error)
	UpdateScriptStatus(ctx context.Context, id uuid.UUID, status string) error
}

// FeedbackSink records validator verdicts as feedback entries. A nil
// embedding leaves the entry unapplied for the next rag update run.
type FeedbackSink interface {
	InsertFeedback(ctx context.Context, fb *models.FeedbackRecord, emb *models.EmbeddingRecord) error
}

// Validator scores a draft script with Gemini and accepts or rejects it.
type Validator struct {
	ledger   *budget.Ledger
	llm      TextGenerator
	scripts  ScriptReader
	feedback FeedbackSink
}

// NewValidator creates a validator step. feedback may be nil to skip
// recording auto feedback.
func NewValidator(ledger *budget.Ledger, llm TextGenerator, scripts ScriptReader, feedback FeedbackSink) *Validator {
	return &Validator{ledger: ledger, llm: llm, scripts: scripts, feedback: feedback}
}

// Validate scores the script on five axes and updates its status to
// "validated" or "rejected".
func (v *Validator) Validate(ctx context.Context, scriptID uuid.UUID) (*models.ValidationResult, error) {
	script, err := v.scripts.GetScript(ctx, scriptID)
	if err != nil {
		return nil, err
	}

	if !v.ledger.CheckAndConsume(ctx, "gemini_validate", 0) {
		return nil, v.ledger.Exhausted(ctx, "gemini_validate", 0)
	}

	raw, err := v.llm.Generate(ctx, validatorPrompt(script))
	if err != nil {
		return nil, fmt.Errorf("validation generation failed: %w", err)
	}

	scores, notes, err := parseValidation(raw)
	if err != nil {
		return nil, err
	}

	result := &models.ValidationResult{
		ScriptID: script.ID,
		Scores:   scores,
		Passed:   scores.Overall() >= passingScore,
		Notes:    notes,
	}

	status := "rejected"
	if result.Passed {
		status = "validated"
	}
	if err := v.scripts.UpdateScriptStatus(ctx, script.ID, status); err != nil {
		return nil, err
	}
	v.recordAutoFeedback(ctx, script.ID, result)

	log.Printf("[Validator] script %s: overall=%.1f passed=%v", script.ID, scores.Overall(), result.Passed)
	return result, nil
}

// recordAutoFeedback logs the verdict to the feedback trail so the writer's
// prompts learn from rejections. Non-fatal; the verdict itself already stands.
func (v *Validator) recordAutoFeedback(ctx context.Context, scriptID uuid.UUID, result *models.ValidationResult) {
	if v.feedback == nil {
		return
	}
	verdict := "rejected"
	if result.Passed {
		verdict = "validated"
	}
	fb := &models.FeedbackRecord{
		ID:           uuid.New(),
		ScriptID:     scriptID,
		FeedbackType: models.FeedbackAuto,
		FeedbackText: fmt.Sprintf("%s (overall %.1f/10): %s", verdict, result.Scores.Overall(), result.Notes),
		Source:       "validator",
		CreatedAt:    time.Now().UTC(),
	}
	if err := v.feedback.InsertFeedback(ctx, fb, nil); err != nil {
		log.Printf("[Validator] failed to record auto feedback for %s: %v", scriptID, err)
	}
}

func validatorPrompt(script *models.GeneratedScript) string {
	var b strings.Builder
	b.WriteString("أنت مدقق جودة لمحتوى قناة ألعاب عربية. قيّم النص التالي.\n\n")
	fmt.Fprintf(&b, "## النص\n%s\n\n", script.ScriptText)
	b.WriteString(`أعد JSON فقط بهذا الشكل:
{"accuracy": 1-10, "dialect": 1-10, "structure": 1-10, "engagement": 1-10, "originality": 1-10, "notes": "ملاحظات موجزة"}`)
	return b.String()
}

// parseValidation extracts the score object from the model's reply, tolerating
// a markdown code fence around the JSON.
func parseValidation(raw string) (models.ValidationScores, string, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload struct {
		models.ValidationScores
		Notes string `json:"notes"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return models.ValidationScores{}, "", fmt.Errorf("unparseable validation response: %w", err)
	}
	for name, s := range map[string]int{
		"accuracy":    payload.Accuracy,
		"dialect":     payload.Dialect,
		"structure":   payload.Structure,
		"engagement":  payload.Engagement,
		"originality": payload.Originality,
	} {
		if s < 1 || s > 10 {
			return models.ValidationScores{}, "", fmt.Errorf("validation score %s out of range: %d", name, s)
		}
	}
	return payload.ValidationScores, payload.Notes, nil
}
