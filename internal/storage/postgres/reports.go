package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

// RecordCycle implements engine.ReportStore.
func (s *Store) RecordCycle(ctx context.Context, r engine.CycleReport) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO cycle_reports (
	id,
	started_at,
	finished_at,
	sources,
	skipped,
	failed,
	items,
	unique_items,
	dispatched,
	heals_triggered
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`,
		r.ID, r.StartedAt, r.FinishedAt, r.Sources, r.Skipped, r.Failed,
		r.Items, r.Unique, r.Dispatched, r.HealsTriggered)
	if err != nil {
		return fmt.Errorf("insert cycle report: %w", err)
	}
	return nil
}

// RecordHeal implements engine.ReportStore.
func (s *Store) RecordHeal(ctx context.Context, r engine.HealReport) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO heal_reports (
	id,
	source_id,
	outcome,
	iterations,
	last_error,
	proposal_id,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`,
		r.ID, r.SourceID, string(r.Outcome), r.Iterations, r.LastError, r.ProposalID, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert heal report: %w", err)
	}
	return nil
}

// ListCycleReports implements engine.ReportStore, newest first.
func (s *Store) ListCycleReports(ctx context.Context, limit int) ([]engine.CycleReport, error) {
	q := s.psql.Select("id", "started_at", "finished_at", "sources", "skipped", "failed",
		"items", "unique_items", "dispatched", "heals_triggered").
		From("cycle_reports").OrderBy("started_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list cycle reports: %w", err)
	}
	defer rows.Close()
	var out []engine.CycleReport
	for rows.Next() {
		var r engine.CycleReport
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Sources, &r.Skipped, &r.Failed,
			&r.Items, &r.Unique, &r.Dispatched, &r.HealsTriggered); err != nil {
			return nil, fmt.Errorf("scan cycle report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read cycle reports: %w", err)
	}
	return out, nil
}

// ListHealReports implements engine.ReportStore, newest first.
func (s *Store) ListHealReports(ctx context.Context, limit int) ([]engine.HealReport, error) {
	q := s.psql.Select("id", "source_id", "outcome", "iterations", "last_error", "proposal_id", "created_at").
		From("heal_reports").OrderBy("created_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list heal reports: %w", err)
	}
	defer rows.Close()
	var out []engine.HealReport
	for rows.Next() {
		var (
			r       engine.HealReport
			outcome string
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &outcome, &r.Iterations, &r.LastError,
			&r.ProposalID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan heal report: %w", err)
		}
		r.Outcome = engine.HealOutcome(outcome)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read heal reports: %w", err)
	}
	return out, nil
}
