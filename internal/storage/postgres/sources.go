package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

var sourceColumns = []string{"id", "name", "url", "parser_type", "is_active"}

// ListSources implements engine.SourceStore.
func (s *Store) ListSources(ctx context.Context, filter engine.SourceFilter) ([]engine.Source, error) {
	q := s.psql.Select(sourceColumns...).From("sources").OrderBy("id")
	if filter.ActiveOnly {
		q = q.Where(sq.Eq{"is_active": true})
	}
	if filter.Name != "" {
		q = q.Where(sq.Eq{"name": filter.Name})
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []engine.Source
	for rows.Next() {
		var src engine.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &src.ParserType, &src.IsActive); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// GetSource implements engine.SourceStore.
func (s *Store) GetSource(ctx context.Context, id int64) (engine.Source, error) {
	var src engine.Source
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, url, parser_type, is_active FROM sources WHERE id = $1`, id).
		Scan(&src.ID, &src.Name, &src.URL, &src.ParserType, &src.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Source{}, fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return engine.Source{}, fmt.Errorf("get source %d: %w", id, err)
	}
	return src, nil
}

// CreateSource implements engine.SourceStore.
func (s *Store) CreateSource(ctx context.Context, src engine.Source) (engine.Source, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sources (name, url, parser_type, is_active) VALUES ($1, $2, $3, $4) RETURNING id`,
		src.Name, src.URL, src.ParserType, src.IsActive).Scan(&src.ID)
	if isUniqueViolation(err) {
		return engine.Source{}, fmt.Errorf("source %q: %w", src.URL, engine.ErrAlreadyExists)
	}
	if err != nil {
		return engine.Source{}, fmt.Errorf("insert source: %w", err)
	}
	return src, nil
}

// UpdateSource implements engine.SourceStore.
func (s *Store) UpdateSource(ctx context.Context, src engine.Source) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET name = $2, url = $3, parser_type = $4, is_active = $5 WHERE id = $1`,
		src.ID, src.Name, src.URL, src.ParserType, src.IsActive)
	if isUniqueViolation(err) {
		return fmt.Errorf("source %q: %w", src.URL, engine.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("update source %d: %w", src.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %d: %w", src.ID, engine.ErrNotFound)
	}
	return nil
}

// DeleteSource implements engine.SourceStore.
func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete source %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	return nil
}
