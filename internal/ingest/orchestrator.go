// Package ingest runs ingestion cycles: every active source is fetched
// through the parser dispatch table, failures feed the heal trigger and the
// deduplicated items are fanned out as analysis tasks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/metrics"
	"github.com/JakeFAU/synthesis-engine/internal/parser"
)

// DefaultSourceTimeout bounds a single source fetch.
const DefaultSourceTimeout = 2 * time.Minute

// TableLoader builds the dispatch table at cycle start.
type TableLoader interface {
	Load(ctx context.Context) *parser.Table
}

// FailureTracker counts consecutive source failures.
type FailureTracker interface {
	RecordFailure(ctx context.Context, sourceID int64) (bool, int64, error)
	RecordSuccess(ctx context.Context, sourceID int64) error
}

// Config tunes a cycle.
type Config struct {
	// MaxResults is the per-source item limit passed to parsers.
	MaxResults int
	// AllowEmpty treats a source returning zero items as healthy.
	AllowEmpty    bool
	SourceTimeout time.Duration
}

// Summary counts what one cycle did.
type Summary struct {
	Sources        int `json:"sources"`
	Skipped        int `json:"skipped"`
	Failed         int `json:"failed"`
	Items          int `json:"items"`
	Unique         int `json:"unique"`
	Dispatched     int `json:"dispatched"`
	HealsTriggered int `json:"heals_triggered"`
	DispatchErrors int `json:"dispatch_errors"`
}

// Report converts the summary into a persisted cycle report.
func (s Summary) Report(id string, started, finished time.Time) engine.CycleReport {
	return engine.CycleReport{
		ID:             id,
		StartedAt:      started,
		FinishedAt:     finished,
		Sources:        s.Sources,
		Skipped:        s.Skipped,
		Failed:         s.Failed,
		Items:          s.Items,
		Unique:         s.Unique,
		Dispatched:     s.Dispatched,
		HealsTriggered: s.HealsTriggered,
	}
}

// Orchestrator runs ingestion cycles.
type Orchestrator struct {
	sources engine.SourceStore
	reports engine.ReportStore
	loader  TableLoader
	tracker FailureTracker
	queue   engine.Queue
	ids     engine.IDGenerator
	clock   engine.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs an Orchestrator.
func New(
	sources engine.SourceStore,
	reports engine.ReportStore,
	loader TableLoader,
	tracker FailureTracker,
	queue engine.Queue,
	ids engine.IDGenerator,
	clock engine.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = parser.DefaultLimit
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sources: sources,
		reports: reports,
		loader:  loader,
		tracker: tracker,
		queue:   queue,
		ids:     ids,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("ingest"),
	}
}

// RunCycle fetches every active source once. A failing source never aborts
// the cycle; only listing sources or cancellation does.
func (o *Orchestrator) RunCycle(ctx context.Context) (Summary, error) {
	started := o.clock.Now()
	var summary Summary

	sources, err := o.sources.ListSources(ctx, engine.SourceFilter{ActiveOnly: true})
	if err != nil {
		metrics.ObserveCycle("error")
		return summary, fmt.Errorf("list active sources: %w", err)
	}
	table := o.loader.Load(ctx)
	summary.Sources = len(sources)
	o.logger.Info("ingestion cycle started", zap.Int("sources", len(sources)))

	var items []engine.RawItem
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		p, err := table.For(src)
		if err != nil {
			summary.Skipped++
			o.logger.Warn("no parser for source",
				zap.String("source", src.Name), zap.String("parser_type", src.ParserType), zap.Error(err))
			metrics.ObserveSourceFetch(src.Name, "skipped")
			continue
		}
		fetched, err := o.fetchSource(ctx, p, src)
		if err == nil && (len(fetched) > 0 || o.cfg.AllowEmpty) {
			o.recordSuccess(ctx, src)
			items = append(items, fetched...)
			metrics.ObserveSourceFetch(src.Name, "success")
			o.logger.Info("source fetched", zap.String("source", src.Name), zap.Int("items", len(fetched)))
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			err = errors.New("parser returned no items")
		}
		summary.Failed++
		metrics.ObserveSourceFetch(src.Name, "failure")
		o.logger.Warn("source fetch failed", zap.String("source", src.Name), zap.Error(err))
		o.recordFailure(ctx, src, &summary)
	}

	summary.Items = len(items)
	unique := Dedup(items)
	summary.Unique = len(unique)
	for i := range unique {
		item := unique[i]
		if err := o.enqueue(ctx, engine.Task{Kind: engine.TaskAnalyze, Item: &item}); err != nil {
			summary.DispatchErrors++
			o.logger.Error("failed to dispatch analysis task", zap.String("entry_id", item.EntryID), zap.Error(err))
			continue
		}
		summary.Dispatched++
	}

	o.finish(ctx, started, summary)
	if err := ctx.Err(); err != nil {
		metrics.ObserveCycle("canceled")
		return summary, fmt.Errorf("ingestion cycle interrupted: %w", err)
	}
	metrics.ObserveCycle("success")
	return summary, nil
}

// fetchSource calls the parser inside an isolation boundary so a panicking
// parser only fails its own source.
func (o *Orchestrator) fetchSource(ctx context.Context, p parser.Parser, src engine.Source) (items []engine.RawItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.SourceTimeout)
	defer cancel()
	items, err = p.Fetch(fetchCtx, parser.RequestFor(src, o.cfg.MaxResults))
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", src.Name, err)
	}
	return items, nil
}

func (o *Orchestrator) recordSuccess(ctx context.Context, src engine.Source) {
	if err := o.tracker.RecordSuccess(ctx, src.ID); err != nil {
		o.logger.Warn("failed to clear failure streak", zap.String("source", src.Name), zap.Error(err))
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, src engine.Source, summary *Summary) {
	triggered, count, err := o.tracker.RecordFailure(ctx, src.ID)
	if err != nil {
		o.logger.Error("failed to record source failure", zap.String("source", src.Name), zap.Error(err))
		return
	}
	if !triggered {
		o.logger.Info("source failure recorded", zap.String("source", src.Name), zap.Int64("consecutive", count))
		return
	}
	o.logger.Warn("failure threshold reached, dispatching heal",
		zap.String("source", src.Name), zap.Int64("source_id", src.ID), zap.Int64("consecutive", count))
	if err := o.enqueue(ctx, engine.Task{Kind: engine.TaskHeal, SourceID: src.ID}); err != nil {
		summary.DispatchErrors++
		o.logger.Error("failed to dispatch heal task", zap.String("source", src.Name), zap.Error(err))
		return
	}
	summary.HealsTriggered++
}

func (o *Orchestrator) enqueue(ctx context.Context, task engine.Task) error {
	id, err := o.ids.NewID()
	if err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	task.ID = id
	task.Attempt = 1
	task.Submitted = o.clock.Now().Unix()
	if err := o.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s task: %w", task.Kind, err)
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, started time.Time, summary Summary) {
	finished := o.clock.Now()
	o.logger.Info("ingestion cycle finished",
		zap.Int("sources", summary.Sources),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("items", summary.Items),
		zap.Int("unique", summary.Unique),
		zap.Int("dispatched", summary.Dispatched),
		zap.Int("heals_triggered", summary.HealsTriggered),
		zap.Int("dispatch_errors", summary.DispatchErrors),
		zap.Duration("duration", finished.Sub(started)),
	)
	id, err := o.ids.NewID()
	if err != nil {
		o.logger.Error("failed to create cycle report id", zap.Error(err))
		return
	}
	// The report is written even when ctx was canceled mid-cycle.
	if err := o.reports.RecordCycle(context.WithoutCancel(ctx), summary.Report(id, started, finished)); err != nil {
		o.logger.Error("failed to record cycle report", zap.Error(err))
	}
}
