package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

var itemColumns = []string{"id", "entry_id", "title", "url", "source", "published_date", "analysis_data", "created_at"}

// ItemExists implements engine.ItemStore.
func (s *Store) ItemExists(ctx context.Context, entryID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM progress_items WHERE entry_id = $1)`, entryID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check item %q: %w", entryID, err)
	}
	return exists, nil
}

// InsertItem implements engine.ItemStore. The unique entry_id constraint is
// the arbiter: a conflicting insert affects no rows and reports
// engine.ErrAlreadyExists.
func (s *Store) InsertItem(ctx context.Context, item engine.AnalyzedItem) error {
	analysis, err := json.Marshal(item.Analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO progress_items (
	id,
	entry_id,
	title,
	url,
	source,
	published_date,
	analysis_data,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT (entry_id) DO NOTHING`,
		item.ID,
		item.EntryID,
		item.Title,
		item.URL,
		item.Source,
		item.PublishedAt,
		analysis,
		item.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("item %q: %w", item.EntryID, engine.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert item %q: %w", item.EntryID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %q: %w", item.EntryID, engine.ErrAlreadyExists)
	}
	return nil
}

// GetItems implements engine.ItemStore.
func (s *Store) GetItems(ctx context.Context, ids []string) ([]engine.AnalyzedItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := s.psql.Select(itemColumns...).From("progress_items").Where(sq.Eq{"id": ids})
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	return scanItems(rows)
}

// ListItems implements engine.ItemStore, newest first.
func (s *Store) ListItems(ctx context.Context, filter engine.ItemFilter) ([]engine.AnalyzedItem, error) {
	q := s.psql.Select(itemColumns...).From("progress_items").
		OrderBy("published_date DESC NULLS LAST", "created_at DESC")
	if filter.Source != "" {
		q = q.Where(sq.Eq{"source": filter.Source})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return scanItems(rows)
}

func scanItems(rows pgx.Rows) ([]engine.AnalyzedItem, error) {
	defer rows.Close()
	var out []engine.AnalyzedItem
	for rows.Next() {
		var (
			item      engine.AnalyzedItem
			published *time.Time
			analysis  []byte
		)
		if err := rows.Scan(&item.ID, &item.EntryID, &item.Title, &item.URL, &item.Source,
			&published, &analysis, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if err := json.Unmarshal(analysis, &item.Analysis); err != nil {
			return nil, fmt.Errorf("decode analysis for %q: %w", item.EntryID, err)
		}
		item.PublishedAt = published
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	return out, nil
}
