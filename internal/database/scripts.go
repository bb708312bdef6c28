package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/qanatlabs/qanat/internal/models"
)

// ErrScriptNotFound is returned when a script lookup matches nothing.
var ErrScriptNotFound = errors.New("script not found")

// InsertScript persists a newly generated script.
func (s *Store) InsertScript(ctx context.Context, sc *models.GeneratedScript) error {
	query := rebind(`
		INSERT INTO generated_scripts
			(id, content_type, title, script_text, word_count, target_duration, status, version, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	var parentID any
	if sc.ParentID != nil {
		parentID = *sc.ParentID
	}
	_, err := s.db.ExecContext(ctx, query,
		sc.ID, sc.ContentType, sc.Title, sc.ScriptText, sc.WordCount, sc.TargetDuration,
		sc.Status, sc.Version, parentID, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert script: %w", err)
	}
	return nil
}

// GetScript loads one script by ID.
func (s *Store) GetScript(ctx context.Context, id uuid.UUID) (*models.GeneratedScript, error) {
	query := rebind(`
		SELECT id, content_type, title, script_text, word_count, target_duration, status, version, parent_id, created_at, updated_at
		FROM generated_scripts
		WHERE id = ?
	`)
	var (
		sc       models.GeneratedScript
		duration sql.NullFloat64
		parentID uuid.NullUUID
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sc.ID, &sc.ContentType, &sc.Title, &sc.ScriptText, &sc.WordCount, &duration,
		&sc.Status, &sc.Version, &parentID, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load script: %w", err)
	}
	if duration.Valid {
		sc.TargetDuration = duration.Float64
	}
	if parentID.Valid {
		p := parentID.UUID
		sc.ParentID = &p
	}
	return &sc, nil
}

// LatestScript returns the most recent script for a content type, used by the
// validator when no explicit script ID is given.
func (s *Store) LatestScript(ctx context.Context, contentType string) (*models.GeneratedScript, error) {
	query := rebind(`
		SELECT id FROM generated_scripts
		WHERE content_type = ?
		ORDER BY created_at DESC
		LIMIT 1
	`)
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, query, contentType).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no scripts for content type %q", ErrScriptNotFound, contentType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest script: %w", err)
	}
	return s.GetScript(ctx, id)
}

// RecentScripts returns the latest scripts for a content type, newest first.
// The planner feeds these titles into its prompt so it does not propose
// topics that were already covered.
func (s *Store) RecentScripts(ctx context.Context, contentType string, limit int) ([]models.GeneratedScript, error) {
	if limit <= 0 {
		limit = 10
	}
	query := rebind(`
		SELECT id, content_type, title, status, created_at
		FROM generated_scripts
		WHERE content_type = ?
		ORDER BY created_at DESC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, contentType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent scripts: %w", err)
	}
	defer rows.Close()

	var scripts []models.GeneratedScript
	for rows.Next() {
		var sc models.GeneratedScript
		if err := rows.Scan(&sc.ID, &sc.ContentType, &sc.Title, &sc.Status, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan script: %w", err)
		}
		scripts = append(scripts, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script rows: %w", err)
	}
	return scripts, nil
}

// UpdateScriptStatus moves a script through its draft/validated/rejected
// lifecycle.
func (s *Store) UpdateScriptStatus(ctx context.Context, id uuid.UUID, status string) error {
	result, err := s.db.ExecContext(ctx,
		rebind(`UPDATE generated_scripts SET status = ?, updated_at = now() WHERE id = ?`),
		status, id)
	if err != nil {
		return fmt.Errorf("failed to update script status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	return nil
}
