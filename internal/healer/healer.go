// Package healer repairs broken source parsers. It drives an LLM through a
// bounded generate-validate loop against a snapshot of the source page and
// stages the first candidate that validates as a proposal for review.
package healer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/llm"
	"github.com/JakeFAU/synthesis-engine/internal/metrics"
	"github.com/JakeFAU/synthesis-engine/internal/sandbox"
)

// Defaults for the repair loop.
const (
	DefaultMaxIterations = 5
	DefaultMaxPageBytes  = 48 << 10
	DefaultSampleSize    = 3
	DefaultLimit         = 8
)

// ErrExhausted is returned when no candidate validated within the iteration
// budget. A heal report has been recorded by then.
var ErrExhausted = errors.New("parser repair exhausted")

// Synthesizer generates candidate parser code.
type Synthesizer interface {
	Synthesize(ctx context.Context, req llm.RepairRequest) (string, error)
}

// Runner validates candidate code by running it.
type Runner interface {
	Run(ctx context.Context, code string, req sandbox.Request, fetch sandbox.FetchFunc) ([]engine.RawItem, error)
}

// Config tunes the repair loop.
type Config struct {
	MaxIterations int
	MaxPageBytes  int
	SampleSize    int
	// Limit is passed to candidates as the item limit.
	Limit int
}

// Result describes one heal attempt.
type Result struct {
	Outcome    engine.HealOutcome `json:"outcome"`
	Iterations int                `json:"iterations"`
	ProposalID string             `json:"proposal_id,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
}

// Healer runs heal attempts.
type Healer struct {
	sources   engine.SourceStore
	proposals engine.ProposalStore
	reports   engine.ReportStore
	fetcher   engine.PageFetcher
	blobs     engine.BlobStore
	hasher    engine.Hasher
	synth     Synthesizer
	runner    Runner
	gate      engine.Gate
	ids       engine.IDGenerator
	clock     engine.Clock
	cfg       Config
	logger    *zap.Logger
}

// Deps groups the collaborators of a Healer.
type Deps struct {
	Sources   engine.SourceStore
	Proposals engine.ProposalStore
	Reports   engine.ReportStore
	Fetcher   engine.PageFetcher
	// Blobs stores page snapshots. Optional.
	Blobs  engine.BlobStore
	Hasher engine.Hasher
	Synth  Synthesizer
	Runner Runner
	// Gate throttles generation calls. Optional.
	Gate  engine.Gate
	IDs   engine.IDGenerator
	Clock engine.Clock
}

// New constructs a Healer.
func New(deps Deps, cfg Config, logger *zap.Logger) *Healer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxPageBytes <= 0 {
		cfg.MaxPageBytes = DefaultMaxPageBytes
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Healer{
		sources:   deps.Sources,
		proposals: deps.Proposals,
		reports:   deps.Reports,
		fetcher:   deps.Fetcher,
		blobs:     deps.Blobs,
		hasher:    deps.Hasher,
		synth:     deps.Synth,
		runner:    deps.Runner,
		gate:      deps.Gate,
		ids:       deps.IDs,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger.Named("healer"),
	}
}

// Heal attempts to produce a working parser for sourceID. On success exactly
// one pending proposal is stored. Candidate failures never abort the loop;
// they become feedback for the next iteration.
func (h *Healer) Heal(ctx context.Context, sourceID int64) (Result, error) {
	src, err := h.sources.GetSource(ctx, sourceID)
	if err != nil {
		return Result{}, fmt.Errorf("load source: %w", err)
	}
	log := h.logger.With(zap.Int64("source_id", src.ID), zap.String("source", src.Name))

	page, err := h.fetcher.FetchPage(ctx, src.URL)
	if err != nil {
		return Result{}, engine.Retryable(fmt.Errorf("fetch source page: %w", err))
	}
	snapshotURI := h.snapshot(ctx, src, page)
	prompt := truncate(string(page.Body), h.cfg.MaxPageBytes)
	fetch := h.cachedFetch(src.URL, string(page.Body))
	req := sandbox.Request{URL: src.URL, Name: src.Name, Limit: h.cfg.Limit}

	var previous, lastErr string
	for iteration := 1; iteration <= h.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("heal interrupted: %w", err)
		}
		code, err := h.generate(ctx, src, prompt, iteration, previous, lastErr)
		if err != nil {
			lastErr = fmt.Sprintf("generation failed: %v", err)
			log.Warn("candidate generation failed", zap.Int("iteration", iteration), zap.Error(err))
			continue
		}
		items, err := h.runner.Run(ctx, code, req, fetch)
		if err != nil {
			previous, lastErr = code, err.Error()
			log.Info("candidate rejected", zap.Int("iteration", iteration), zap.Error(err))
			continue
		}
		return h.accept(ctx, src, code, items, snapshotURI, iteration)
	}

	result := Result{Outcome: engine.HealExhausted, Iterations: h.cfg.MaxIterations, LastError: lastErr}
	h.record(ctx, src.ID, result)
	metrics.ObserveHeal(string(engine.HealExhausted), result.Iterations)
	log.Warn("parser repair exhausted, manual review required", zap.String("last_error", lastErr))
	return result, fmt.Errorf("source %d: %w", src.ID, ErrExhausted)
}

// Handle adapts Heal to a worker task handler. Exhaustion is a recorded
// outcome, not a task failure.
func (h *Healer) Handle(ctx context.Context, task engine.Task) error {
	if task.SourceID == 0 {
		return fmt.Errorf("heal task %q has no source id", task.ID)
	}
	_, err := h.Heal(ctx, task.SourceID)
	if errors.Is(err, ErrExhausted) {
		return nil
	}
	return err
}

// GiveUp records a heal that could not run at all, for example because the
// source page was unreachable on every attempt.
func (h *Healer) GiveUp(ctx context.Context, task engine.Task, err error) {
	result := Result{Outcome: engine.HealExhausted, LastError: err.Error()}
	h.record(context.WithoutCancel(ctx), task.SourceID, result)
	metrics.ObserveHeal(string(engine.HealExhausted), 0)
}

func (h *Healer) generate(ctx context.Context, src engine.Source, page string, iteration int, previous, failure string) (string, error) {
	if h.gate != nil {
		if err := h.gate.WaitForToken(ctx); err != nil {
			return "", fmt.Errorf("wait for llm token: %w", err)
		}
	}
	return h.synth.Synthesize(ctx, llm.RepairRequest{
		SourceName: src.Name,
		URL:        src.URL,
		Page:       page,
		Iteration:  iteration,
		Previous:   previous,
		Failure:    failure,
	})
}

func (h *Healer) accept(
	ctx context.Context,
	src engine.Source,
	code string,
	items []engine.RawItem,
	snapshotURI string,
	iteration int,
) (Result, error) {
	id, err := h.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("proposal id: %w", err)
	}
	sample := items
	if len(sample) > h.cfg.SampleSize {
		sample = sample[:h.cfg.SampleSize]
	}
	proposal := engine.ParserProposal{
		ID:               id,
		SourceID:         src.ID,
		Code:             code,
		ValidationSample: append([]engine.RawItem(nil), sample...),
		SnapshotURI:      snapshotURI,
		Iterations:       iteration,
		Status:           engine.ProposalPendingReview,
		CreatedAt:        h.clock.Now(),
	}
	if err := h.proposals.CreateProposal(ctx, proposal); err != nil {
		return Result{}, engine.Retryable(fmt.Errorf("store proposal: %w", err))
	}
	result := Result{Outcome: engine.HealProposed, Iterations: iteration, ProposalID: id}
	h.record(ctx, src.ID, result)
	metrics.ObserveHeal(string(engine.HealProposed), iteration)
	h.logger.Info("parser proposal staged for review",
		zap.Int64("source_id", src.ID),
		zap.String("proposal_id", id),
		zap.Int("iterations", iteration),
		zap.Int("sample", len(sample)),
	)
	return result, nil
}

func (h *Healer) record(ctx context.Context, sourceID int64, result Result) {
	id, err := h.ids.NewID()
	if err != nil {
		h.logger.Error("failed to create heal report id", zap.Error(err))
		return
	}
	report := engine.HealReport{
		ID:         id,
		SourceID:   sourceID,
		Outcome:    result.Outcome,
		Iterations: result.Iterations,
		LastError:  result.LastError,
		ProposalID: result.ProposalID,
		CreatedAt:  h.clock.Now(),
	}
	if err := h.reports.RecordHeal(ctx, report); err != nil {
		h.logger.Error("failed to record heal report", zap.Int64("source_id", sourceID), zap.Error(err))
	}
}

// snapshot stores the raw page next to the proposal. Failure only loses the
// attachment.
func (h *Healer) snapshot(ctx context.Context, src engine.Source, page engine.Page) string {
	if h.blobs == nil || h.hasher == nil {
		return ""
	}
	digest, err := h.hasher.Hash(page.Body)
	if err != nil {
		h.logger.Warn("failed to hash snapshot", zap.Error(err))
		return ""
	}
	contentType := page.ContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	uri, err := h.blobs.PutObject(ctx, SnapshotPath(src.ID, digest), contentType, page.Body)
	if err != nil {
		h.logger.Warn("failed to store snapshot", zap.Int64("source_id", src.ID), zap.Error(err))
		return ""
	}
	return uri
}

// cachedFetch serves the already fetched page for the source URL and falls
// through to the fetcher for anything else.
func (h *Healer) cachedFetch(sourceURL, body string) sandbox.FetchFunc {
	return func(ctx context.Context, target string) (string, error) {
		if strings.TrimRight(target, "/") == strings.TrimRight(sourceURL, "/") {
			return body, nil
		}
		page, err := h.fetcher.FetchPage(ctx, target)
		if err != nil {
			return "", err
		}
		return string(page.Body), nil
	}
}

// SnapshotPath is the blob path of a page snapshot.
func SnapshotPath(sourceID int64, digest string) string {
	return fmt.Sprintf("snapshots/%d/%s.html", sourceID, digest)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
