package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qanatlabs/qanat/internal/budget"
	"github.com/qanatlabs/qanat/internal/config"
	"github.com/qanatlabs/qanat/internal/embedding"
	"github.com/qanatlabs/qanat/internal/models"
	"github.com/qanatlabs/qanat/internal/rag"
)

// ScriptStore persists generated scripts.
type ScriptStore interface {
	InsertScript(ctx context.Context, sc *models.GeneratedScript) error
}

// DuplicateError reports that the requested topic is too close to content
// that already exists.
type DuplicateError struct {
	ExistingID uuid.UUID
	Similarity float64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("near-duplicate content exists: id=%s similarity=%.3f", e.ExistingID, e.Similarity)
}

// Writer generates a full episode script: it embeds the topic, rejects
// near-duplicates, gathers RAG context and past feedback, then prompts Gemini
// and persists the result.
type Writer struct {
	ledger  *budget.Ledger
	llm     TextGenerator
	rag     *rag.Manager
	embed   embedding.Generator
	scripts ScriptStore
}

// NewWriter creates a writer step.
func NewWriter(ledger *budget.Ledger, llm TextGenerator, ragMgr *rag.Manager, embed embedding.Generator, scripts ScriptStore) *Writer {
	return &Writer{ledger: ledger, llm: llm, rag: ragMgr, embed: embed, scripts: scripts}
}

// Write produces and stores a script for the topic. force skips the
// duplicate check for intentional re-takes of a covered topic.
func (w *Writer) Write(ctx context.Context, contentTypeID, topic string, force bool) (*models.GeneratedScript, error) {
	ct, err := config.ContentTypeByID(contentTypeID)
	if err != nil {
		return nil, err
	}
	if topic == "" {
		return nil, fmt.Errorf("topic must not be empty")
	}

	if !w.ledger.CheckAndConsume(ctx, "gemini_embedding", 0) {
		return nil, w.ledger.Exhausted(ctx, "gemini_embedding", 0)
	}
	queryVec, err := w.embed.EmbedQuery(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to embed topic: %w", err)
	}

	if !force {
		dup, err := w.rag.CheckDuplicate(ctx, queryVec, 0)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			return nil, &DuplicateError{ExistingID: dup.ID, Similarity: dup.Similarity}
		}
	}

	ragContext, err := w.rag.ContextFor(ctx, queryVec, 3)
	if err != nil {
		return nil, err
	}
	feedback, err := w.rag.PreviousFeedback(ctx, ct.ID, 5)
	if err != nil {
		return nil, err
	}

	if !w.ledger.CheckAndConsume(ctx, "gemini_script", 0) {
		return nil, w.ledger.Exhausted(ctx, "gemini_script", 0)
	}
	text, err := w.llm.Generate(ctx, writerPrompt(ct, topic, ragContext, feedback))
	if err != nil {
		return nil, fmt.Errorf("script generation failed: %w", err)
	}

	now := time.Now().UTC()
	script := &models.GeneratedScript{
		ID:          uuid.New(),
		ContentType: ct.ID,
		Title:       topic,
		ScriptText:  text,
		WordCount:   len(strings.Fields(text)),
		Status:      "draft",
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.scripts.InsertScript(ctx, script); err != nil {
		return nil, err
	}

	// Index the new script so future runs see it as prior context. The
	// script itself is already saved; losing the embedding only weakens
	// dedup until the next rag update, so this is non-fatal.
	if w.ledger.CheckAndConsume(ctx, "gemini_embedding", 0) {
		if err := w.indexScript(ctx, script); err != nil {
			log.Printf("[Writer] failed to index script %s: %v", script.ID, err)
		}
	}

	log.Printf("[Writer] script generated: id=%s type=%s words=%d", script.ID, ct.ID, script.WordCount)
	return script, nil
}

func (w *Writer) indexScript(ctx context.Context, script *models.GeneratedScript) error {
	docVec, err := w.embed.EmbedDocument(ctx, script.ScriptText)
	if err != nil {
		return err
	}
	scriptID := script.ID
	_, err = w.rag.StoreEmbedding(ctx, rag.EmbeddingInput{
		SourceType:     models.SourceScript,
		SourceID:       &scriptID,
		ContentText:    script.ScriptText,
		ContentSummary: script.Title,
		Embedding:      docVec,
		Metadata: map[string]string{
			"content_type": script.ContentType,
			"script_id":    script.ID.String(),
		},
	})
	return err
}

func writerPrompt(ct config.ContentType, topic, ragContext, feedback string) string {
	var b strings.Builder
	b.WriteString("أنت كاتب محتوى لقناة ألعاب عربية بلهجة خليجية بيضاء.\n")
	fmt.Fprintf(&b, "اكتب نص حلقة كاملاً من نوع \"%s\" عن: %s\n", ct.DisplayName, topic)
	fmt.Fprintf(&b, "Format description: %s\n\n", ct.Description)
	fmt.Fprintf(&b, "## سياق من حلقات سابقة\n%s\n\n", ragContext)
	fmt.Fprintf(&b, "## ملاحظات سابقة يجب مراعاتها\n%s\n\n", feedback)
	b.WriteString("اكتب نصاً جاهزاً للتعليق الصوتي: مقدمة جذابة، فقرات واضحة، وخاتمة بدعوة للتفاعل. تجنب تكرار ما قيل في الحلقات السابقة.")
	return b.String()
}
