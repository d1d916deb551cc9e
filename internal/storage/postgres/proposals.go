package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

var proposalColumns = []string{
	"id", "source_id", "code", "validation_sample", "snapshot_uri",
	"iterations", "status", "apply_error", "created_at", "decided_at",
}

// CreateProposal implements engine.ProposalStore.
func (s *Store) CreateProposal(ctx context.Context, p engine.ParserProposal) error {
	sample, err := json.Marshal(p.ValidationSample)
	if err != nil {
		return fmt.Errorf("marshal validation sample: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO parser_proposals (
	id,
	source_id,
	code,
	validation_sample,
	snapshot_uri,
	iterations,
	status,
	apply_error,
	created_at,
	decided_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`,
		p.ID,
		p.SourceID,
		p.Code,
		sample,
		p.SnapshotURI,
		p.Iterations,
		string(p.Status),
		p.ApplyError,
		p.CreatedAt,
		p.DecidedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("proposal %s: %w", p.ID, engine.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// GetProposal implements engine.ProposalStore.
func (s *Store) GetProposal(ctx context.Context, id string) (engine.ParserProposal, error) {
	q := s.psql.Select(proposalColumns...).From("parser_proposals").Where(sq.Eq{"id": id})
	rows, err := s.query(ctx, q)
	if err != nil {
		return engine.ParserProposal{}, fmt.Errorf("get proposal %s: %w", id, err)
	}
	out, err := scanProposals(rows)
	if err != nil {
		return engine.ParserProposal{}, err
	}
	if len(out) == 0 {
		return engine.ParserProposal{}, fmt.Errorf("proposal %s: %w", id, engine.ErrNotFound)
	}
	return out[0], nil
}

// ListProposals implements engine.ProposalStore, newest first.
func (s *Store) ListProposals(ctx context.Context, filter engine.ProposalFilter) ([]engine.ParserProposal, error) {
	q := s.psql.Select(proposalColumns...).From("parser_proposals").OrderBy("created_at DESC")
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.SourceID != 0 {
		q = q.Where(sq.Eq{"source_id": filter.SourceID})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return scanProposals(rows)
}

// UpdateProposalStatus implements engine.ProposalStore.
func (s *Store) UpdateProposalStatus(
	ctx context.Context,
	id string,
	from, to engine.ProposalStatus,
	applyErr string,
	decidedAt time.Time,
) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE parser_proposals SET status = $3, apply_error = $4, decided_at = $5 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), applyErr, decidedAt)
	if err != nil {
		return fmt.Errorf("update proposal %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM parser_proposals WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("proposal %s: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read proposal %s status: %w", id, err)
	}
	return fmt.Errorf("proposal %s is %s, not %s: %w", id, current, from, engine.ErrStatusChanged)
}

func scanProposals(rows pgx.Rows) ([]engine.ParserProposal, error) {
	defer rows.Close()
	var out []engine.ParserProposal
	for rows.Next() {
		var (
			p       engine.ParserProposal
			sample  []byte
			status  string
			decided *time.Time
		)
		if err := rows.Scan(&p.ID, &p.SourceID, &p.Code, &sample, &p.SnapshotURI,
			&p.Iterations, &status, &p.ApplyError, &p.CreatedAt, &decided); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		if len(sample) > 0 {
			if err := json.Unmarshal(sample, &p.ValidationSample); err != nil {
				return nil, fmt.Errorf("decode validation sample for %s: %w", p.ID, err)
			}
		}
		p.Status = engine.ProposalStatus(status)
		p.DecidedAt = decided
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read proposals: %w", err)
	}
	return out, nil
}
