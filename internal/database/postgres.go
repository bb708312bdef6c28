// Package database holds the PostgreSQL (pgvector) persistence layer shared
// by all pipeline steps: embedding records, feedback, generated scripts and
// game metadata.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps the shared Postgres connection pool.
type Store struct {
	db        *sql.DB
	dimension int
}

// Open connects to Postgres, verifies the connection and initializes the
// schema. dimension fixes the vector column width and must match the
// embedding model's output.
func Open(dsn string, dimension, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Store{db: db, dimension: dimension}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for integration tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS rag_embeddings (
		id UUID PRIMARY KEY,
		source_type TEXT NOT NULL,
		source_id UUID,
		content_text TEXT NOT NULL,
		content_summary TEXT,
		embedding VECTOR(%d) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS generated_scripts (
		id UUID PRIMARY KEY,
		content_type TEXT NOT NULL,
		title TEXT NOT NULL,
		script_text TEXT NOT NULL,
		word_count INTEGER NOT NULL DEFAULT 0,
		target_duration REAL,
		status TEXT NOT NULL DEFAULT 'draft',
		version INTEGER NOT NULL DEFAULT 1,
		parent_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS feedback_log (
		id UUID PRIMARY KEY,
		script_id UUID NOT NULL,
		video_id UUID,
		feedback_type TEXT NOT NULL,
		feedback_text TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT 'mattermost',
		applied BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS games (
		id UUID PRIMARY KEY,
		rawg_id INTEGER UNIQUE,
		title TEXT NOT NULL,
		title_ar TEXT,
		slug TEXT,
		release_date DATE,
		platforms TEXT[],
		genres TEXT[],
		gamepass BOOLEAN NOT NULL DEFAULT FALSE,
		has_arabic BOOLEAN NOT NULL DEFAULT FALSE,
		arabic_type TEXT,
		metacritic INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_rag_embeddings_source_type ON rag_embeddings(source_type);
	CREATE INDEX IF NOT EXISTS idx_feedback_log_applied ON feedback_log(applied);
	CREATE INDEX IF NOT EXISTS idx_feedback_log_script_id ON feedback_log(script_id);
	CREATE INDEX IF NOT EXISTS idx_generated_scripts_content_type ON generated_scripts(content_type);
	`, s.dimension)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// The ANN index trades a little recall for scan speed once the table
	// grows past a linear-scan-friendly size. Best effort: older pgvector
	// builds reject ivfflat on empty tables.
	_, _ = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_rag_embeddings_embedding
		ON rag_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)
	`)

	return nil
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	var out strings.Builder
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&out, "$%d", n)
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}
