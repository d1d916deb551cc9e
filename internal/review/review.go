// Package review moves parser proposals through human review. Approval
// compile-checks the code first; the approved parser takes effect when the
// next ingestion cycle loads the dispatch table.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

// ErrNotPending is returned when deciding a proposal that was already decided.
var ErrNotPending = errors.New("proposal is not pending review")

// ErrApplyFailed is returned when an approved proposal fails its compile check.
var ErrApplyFailed = errors.New("proposal failed to apply")

// Checker compile-checks parser code.
type Checker interface {
	Check(ctx context.Context, code string) error
}

// Service approves and rejects proposals.
type Service struct {
	proposals engine.ProposalStore
	checker   Checker
	clock     engine.Clock
	logger    *zap.Logger
}

// New constructs a Service.
func New(proposals engine.ProposalStore, checker Checker, clock engine.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{proposals: proposals, checker: checker, clock: clock, logger: logger.Named("review")}
}

// List returns proposals matching filter, newest first.
func (s *Service) List(ctx context.Context, filter engine.ProposalFilter) ([]engine.ParserProposal, error) {
	out, err := s.proposals.ListProposals(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return out, nil
}

// Get returns one proposal.
func (s *Service) Get(ctx context.Context, id string) (engine.ParserProposal, error) {
	p, err := s.proposals.GetProposal(ctx, id)
	if err != nil {
		return engine.ParserProposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// Approve validates and approves a pending proposal. Code that no longer
// compiles moves the proposal to apply_failed and returns ErrApplyFailed.
func (s *Service) Approve(ctx context.Context, id string) (engine.ParserProposal, error) {
	p, err := s.pending(ctx, id)
	if err != nil {
		return engine.ParserProposal{}, err
	}
	now := s.clock.Now()
	if err := s.checker.Check(ctx, p.Code); err != nil {
		if uerr := s.transition(ctx, id, engine.ProposalApplyFailed, err.Error(), now); uerr != nil {
			return engine.ParserProposal{}, fmt.Errorf("mark proposal %s apply_failed: %w", id, uerr)
		}
		s.logger.Warn("proposal failed compile check", zap.String("proposal_id", id), zap.Error(err))
		return s.reload(ctx, id, fmt.Errorf("%w: %v", ErrApplyFailed, err))
	}
	if err := s.transition(ctx, id, engine.ProposalApproved, "", now); err != nil {
		return engine.ParserProposal{}, fmt.Errorf("approve proposal %s: %w", id, err)
	}
	s.logger.Info("proposal approved",
		zap.String("proposal_id", id), zap.Int64("source_id", p.SourceID))
	return s.reload(ctx, id, nil)
}

// Reject marks a pending proposal rejected.
func (s *Service) Reject(ctx context.Context, id string) (engine.ParserProposal, error) {
	p, err := s.pending(ctx, id)
	if err != nil {
		return engine.ParserProposal{}, err
	}
	if err := s.transition(ctx, id, engine.ProposalRejected, "", s.clock.Now()); err != nil {
		return engine.ParserProposal{}, fmt.Errorf("reject proposal %s: %w", id, err)
	}
	s.logger.Info("proposal rejected",
		zap.String("proposal_id", id), zap.Int64("source_id", p.SourceID))
	return s.reload(ctx, id, nil)
}

// transition moves a pending proposal to status. A concurrent decision that
// landed first surfaces as ErrNotPending.
func (s *Service) transition(ctx context.Context, id string, status engine.ProposalStatus, applyErr string, at time.Time) error {
	err := s.proposals.UpdateProposalStatus(ctx, id, engine.ProposalPendingReview, status, applyErr, at)
	if errors.Is(err, engine.ErrStatusChanged) {
		return fmt.Errorf("proposal %s already decided: %w", id, ErrNotPending)
	}
	return err
}

func (s *Service) pending(ctx context.Context, id string) (engine.ParserProposal, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return engine.ParserProposal{}, err
	}
	if p.Status != engine.ProposalPendingReview {
		return engine.ParserProposal{}, fmt.Errorf("proposal %s is %s: %w", id, p.Status, ErrNotPending)
	}
	return p, nil
}

func (s *Service) reload(ctx context.Context, id string, cause error) (engine.ParserProposal, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return engine.ParserProposal{}, err
	}
	return p, cause
}
