package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/qanatlabs/qanat/internal/models"
	"github.com/qanatlabs/qanat/internal/rag"
)

// InsertFeedback writes the feedback row and its embedding record in one
// transaction so the two can never drift apart.
func (s *Store) InsertFeedback(ctx context.Context, fb *models.FeedbackRecord, emb *models.EmbeddingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin feedback transaction: %w", err)
	}
	defer tx.Rollback()

	query := rebind(`
		INSERT INTO feedback_log (id, script_id, video_id, feedback_type, feedback_text, source, applied, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	var videoID any
	if fb.VideoID != nil {
		videoID = *fb.VideoID
	}
	_, err = tx.ExecContext(ctx, query,
		fb.ID, fb.ScriptID, videoID, string(fb.FeedbackType), fb.FeedbackText, fb.Source, fb.Applied, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	if emb != nil {
		if err := s.insertEmbedding(ctx, tx, emb); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feedback transaction: %w", err)
	}
	return nil
}

// RecentFeedback returns the latest feedback entries joined to their scripts,
// newest first. contentType scopes the join; entries whose script is gone
// are still included.
func (s *Store) RecentFeedback(ctx context.Context, contentType string, limit int) ([]rag.FeedbackWithScript, error) {
	if limit <= 0 {
		limit = 5
	}
	query := rebind(`
		SELECT fl.id, fl.script_id, fl.feedback_type, fl.feedback_text, fl.source, fl.applied, fl.created_at,
		       COALESCE(gs.title, ''), COALESCE(gs.content_type, '')
		FROM feedback_log fl
		LEFT JOIN generated_scripts gs ON fl.script_id = gs.id
		WHERE gs.content_type = ? OR gs.content_type IS NULL
		ORDER BY fl.created_at DESC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, contentType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent feedback: %w", err)
	}
	defer rows.Close()

	return scanFeedbackRows(rows)
}

// UnappliedFeedback returns feedback entries not yet embedded into the
// vector store, oldest first, so the rag update step can process them in
// arrival order.
func (s *Store) UnappliedFeedback(ctx context.Context) ([]rag.FeedbackWithScript, error) {
	query := `
		SELECT fl.id, fl.script_id, fl.feedback_type, fl.feedback_text, fl.source, fl.applied, fl.created_at,
		       COALESCE(gs.title, ''), COALESCE(gs.content_type, '')
		FROM feedback_log fl
		LEFT JOIN generated_scripts gs ON fl.script_id = gs.id
		WHERE fl.applied = FALSE
		ORDER BY fl.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unapplied feedback: %w", err)
	}
	defer rows.Close()

	return scanFeedbackRows(rows)
}

// MarkFeedbackApplied flips the idempotent ingestion marker after the
// entry's embedding has been stored.
func (s *Store) MarkFeedbackApplied(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		rebind(`UPDATE feedback_log SET applied = TRUE WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to mark feedback applied: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("feedback not found: %s", id)
	}
	return nil
}

func scanFeedbackRows(rows *sql.Rows) ([]rag.FeedbackWithScript, error) {
	var out []rag.FeedbackWithScript
	for rows.Next() {
		var (
			fb     rag.FeedbackWithScript
			fbType string
		)
		err := rows.Scan(&fb.ID, &fb.ScriptID, &fbType, &fb.FeedbackText, &fb.Source, &fb.Applied,
			&fb.CreatedAt, &fb.ScriptTitle, &fb.ContentType)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		fb.FeedbackType = models.FeedbackType(fbType)
		out = append(out, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feedback rows: %w", err)
	}
	return out, nil
}
