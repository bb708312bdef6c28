package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/qanatlabs/qanat/internal/models"
)

// UpsertGame inserts or refreshes a game record keyed by its RAWG ID so the
// planner can re-fetch a release list without duplicating rows.
func (s *Store) UpsertGame(ctx context.Context, g *models.Game) error {
	query := rebind(`
		INSERT INTO games
			(id, rawg_id, title, title_ar, slug, release_date, platforms, genres, gamepass, has_arabic, arabic_type, metacritic, created_at)
		VALUES (?, NULLIF(?, 0), ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (rawg_id) DO UPDATE SET
			title = EXCLUDED.title,
			title_ar = EXCLUDED.title_ar,
			slug = EXCLUDED.slug,
			release_date = EXCLUDED.release_date,
			platforms = EXCLUDED.platforms,
			genres = EXCLUDED.genres,
			gamepass = EXCLUDED.gamepass,
			has_arabic = EXCLUDED.has_arabic,
			arabic_type = EXCLUDED.arabic_type,
			metacritic = EXCLUDED.metacritic
	`)
	_, err := s.db.ExecContext(ctx, query,
		g.ID, g.RawgID, g.Title, g.TitleAr, g.Slug, g.ReleaseDate,
		pq.Array(g.Platforms), pq.Array(g.Genres),
		g.GamePass, g.ArabicSupport.HasArabic, g.ArabicSupport.ArabicType,
		g.Metacritic, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert game: %w", err)
	}
	return nil
}

// RecentGames returns the most recently added games, newest releases first.
func (s *Store) RecentGames(ctx context.Context, limit int) ([]models.Game, error) {
	if limit <= 0 {
		limit = 20
	}
	query := rebind(`
		SELECT id, rawg_id, title, COALESCE(title_ar, ''), COALESCE(slug, ''),
		       COALESCE(release_date::text, ''), platforms, genres,
		       gamepass, has_arabic, COALESCE(arabic_type, ''), COALESCE(metacritic, 0), created_at
		FROM games
		ORDER BY release_date DESC NULLS LAST, created_at DESC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query games: %w", err)
	}
	defer rows.Close()

	var games []models.Game
	for rows.Next() {
		var (
			g      models.Game
			rawgID sql.NullInt64
		)
		err := rows.Scan(&g.ID, &rawgID, &g.Title, &g.TitleAr, &g.Slug, &g.ReleaseDate,
			pq.Array(&g.Platforms), pq.Array(&g.Genres),
			&g.GamePass, &g.ArabicSupport.HasArabic, &g.ArabicSupport.ArabicType,
			&g.Metacritic, &g.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		g.RawgID = int(rawgID.Int64)
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read game rows: %w", err)
	}
	return games, nil
}
