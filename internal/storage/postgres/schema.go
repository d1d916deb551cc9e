package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	url TEXT NOT NULL UNIQUE,
	parser_type TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
)`,
	`CREATE TABLE IF NOT EXISTS progress_items (
	id TEXT PRIMARY KEY,
	entry_id TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	source TEXT NOT NULL,
	published_date TIMESTAMPTZ,
	analysis_data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS progress_items_source_idx ON progress_items (source)`,
	`CREATE INDEX IF NOT EXISTS progress_items_published_idx ON progress_items (published_date DESC NULLS LAST)`,
	`CREATE TABLE IF NOT EXISTS parser_proposals (
	id TEXT PRIMARY KEY,
	source_id BIGINT NOT NULL REFERENCES sources (id) ON DELETE CASCADE,
	code TEXT NOT NULL,
	validation_sample JSONB NOT NULL,
	snapshot_uri TEXT NOT NULL DEFAULT '',
	iterations INTEGER NOT NULL,
	status TEXT NOT NULL,
	apply_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	decided_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS parser_proposals_status_idx ON parser_proposals (status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS heal_reports (
	id TEXT PRIMARY KEY,
	source_id BIGINT NOT NULL,
	outcome TEXT NOT NULL,
	iterations INTEGER NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	proposal_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS cycle_reports (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	sources INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	items INTEGER NOT NULL,
	unique_items INTEGER NOT NULL,
	dispatched INTEGER NOT NULL,
	heals_triggered INTEGER NOT NULL
)`,
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
