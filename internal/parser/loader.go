package parser

import (
	"context"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"go.uber.org/zap"
)

// Evaluator compiles and runs generated code.
type Evaluator interface {
	Runner
	Check(ctx context.Context, code string) error
}

// Loader builds the per-cycle dispatch table from approved proposals.
type Loader struct {
	registry  *Registry
	proposals engine.ProposalStore
	evaluator Evaluator
	fetcher   engine.PageFetcher
	clock     engine.Clock
	logger    *zap.Logger
}

// NewLoader constructs a Loader.
func NewLoader(
	registry *Registry,
	proposals engine.ProposalStore,
	evaluator Evaluator,
	fetcher engine.PageFetcher,
	clock engine.Clock,
	logger *zap.Logger,
) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		registry:  registry,
		proposals: proposals,
		evaluator: evaluator,
		fetcher:   fetcher,
		clock:     clock,
		logger:    logger.Named("parser_loader"),
	}
}

// Load returns a table with the newest approved proposal per source applied.
// Proposals that no longer compile move to apply_failed. A store failure
// yields the plain registry so the cycle can still run.
func (l *Loader) Load(ctx context.Context) *Table {
	approved, err := l.proposals.ListProposals(ctx, engine.ProposalFilter{Status: engine.ProposalApproved})
	if err != nil {
		l.logger.Warn("failed to load approved proposals", zap.Error(err))
		return NewTable(l.registry, nil)
	}

	overrides := make(map[int64]Parser)
	newest := make(map[int64]engine.ParserProposal)
	for _, p := range approved {
		if cur, ok := newest[p.SourceID]; !ok || p.CreatedAt.After(cur.CreatedAt) {
			newest[p.SourceID] = p
		}
	}
	for sourceID, p := range newest {
		if err := l.evaluator.Check(ctx, p.Code); err != nil {
			l.logger.Warn("approved proposal failed to apply",
				zap.String("proposal_id", p.ID),
				zap.Int64("source_id", sourceID),
				zap.Error(err),
			)
			if uerr := l.proposals.UpdateProposalStatus(ctx, p.ID, engine.ProposalApproved, engine.ProposalApplyFailed,
				err.Error(), l.clock.Now()); uerr != nil {
				l.logger.Error("failed to mark proposal apply_failed", zap.String("proposal_id", p.ID), zap.Error(uerr))
			}
			continue
		}
		overrides[sourceID] = NewScriptParser(p.Code, l.evaluator, l.fetcher)
	}
	return NewTable(l.registry, overrides)
}
