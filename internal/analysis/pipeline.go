// Package analysis turns raw items into persisted, embedded analyses.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/metrics"
)

// Outcome is the terminal result of processing one item.
type Outcome string

// Processing outcomes, also used as metric labels.
const (
	OutcomeSkipped Outcome = "skipped"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Fallbacks used when the analysis omits an English field.
const (
	fallbackTitle   = "No Title Provided"
	fallbackSummary = "No summary available."
	fallbackImpact  = "No impact statement available."
)

// Analyzer produces the structured analysis of an item.
type Analyzer interface {
	Analyze(ctx context.Context, title, content string) (engine.Analysis, error)
}

// Pipeline processes one raw item at a time. It is safe for concurrent use;
// the item store's uniqueness constraint arbitrates races.
type Pipeline struct {
	items    engine.ItemStore
	analyzer Analyzer
	gate     engine.Gate
	embedder engine.Embedder
	index    engine.VectorIndex
	ids      engine.IDGenerator
	clock    engine.Clock
	logger   *zap.Logger
}

// New constructs a Pipeline. gate may be nil to call the analyzer unthrottled.
func New(
	items engine.ItemStore,
	analyzer Analyzer,
	gate engine.Gate,
	embedder engine.Embedder,
	index engine.VectorIndex,
	ids engine.IDGenerator,
	clock engine.Clock,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		items:    items,
		analyzer: analyzer,
		gate:     gate,
		embedder: embedder,
		index:    index,
		ids:      ids,
		clock:    clock,
		logger:   logger.Named("analysis"),
	}
}

// Process analyzes, persists and embeds item. Transient failures are
// returned wrapped with engine.ErrRetryable so the caller can retry.
func (p *Pipeline) Process(ctx context.Context, item engine.RawItem) (Outcome, error) {
	log := p.logger.With(zap.String("entry_id", item.EntryID))

	exists, err := p.items.ItemExists(ctx, item.EntryID)
	if err != nil {
		return OutcomeFailed, engine.Retryable(fmt.Errorf("check existing item: %w", err))
	}
	if exists {
		log.Debug("item already stored, skipping")
		return OutcomeSkipped, nil
	}

	if p.gate != nil {
		if err := p.gate.WaitForToken(ctx); err != nil {
			return OutcomeFailed, engine.Retryable(fmt.Errorf("wait for llm token: %w", err))
		}
	}
	content := item.Abstract
	if strings.TrimSpace(content) == "" {
		content = item.Title
	}
	analysis, err := p.analyzer.Analyze(ctx, item.Title, content)
	if err != nil {
		return OutcomeFailed, engine.Retryable(err)
	}

	text := EmbeddingText(analysis)
	vector, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return OutcomeFailed, engine.Retryable(fmt.Errorf("embed item: %w", err))
	}

	id, err := p.ids.NewID()
	if err != nil {
		return OutcomeFailed, fmt.Errorf("item id: %w", err)
	}
	record := engine.AnalyzedItem{
		ID:          id,
		EntryID:     item.EntryID,
		Title:       item.Title,
		URL:         item.URL,
		Source:      item.SourceName,
		PublishedAt: item.PublishedAt,
		Analysis:    analysis,
		CreatedAt:   p.clock.Now(),
	}
	if err := p.items.InsertItem(ctx, record); err != nil {
		if errors.Is(err, engine.ErrAlreadyExists) {
			log.Info("item stored concurrently, skipping")
			return OutcomeSkipped, nil
		}
		return OutcomeFailed, engine.Retryable(fmt.Errorf("insert item: %w", err))
	}

	// The relational row is the record of truth; a missing vector only
	// hides the item from semantic search.
	if err := p.index.Upsert(ctx, engine.EmbeddingRecord{
		ID:       id,
		Vector:   vector,
		Document: text,
		Metadata: engine.EmbeddingMetadata{Source: item.SourceName, Title: item.Title},
	}); err != nil {
		log.Error("failed to index embedding", zap.String("item_id", id), zap.Error(err))
	}
	log.Info("item analyzed", zap.String("item_id", id), zap.String("title", item.Title))
	return OutcomeSuccess, nil
}

// Handle adapts Process to a worker task handler.
func (p *Pipeline) Handle(ctx context.Context, task engine.Task) error {
	if task.Item == nil {
		return fmt.Errorf("analyze task %q has no item", task.ID)
	}
	outcome, err := p.Process(ctx, *task.Item)
	if err != nil {
		return err
	}
	metrics.ObserveItem(string(outcome))
	return nil
}

// GiveUp records an item that failed terminally.
func (p *Pipeline) GiveUp(_ context.Context, task engine.Task, err error) {
	metrics.ObserveItem(string(OutcomeFailed))
	entryID := ""
	if task.Item != nil {
		entryID = task.Item.EntryID
	}
	p.logger.Error("item analysis failed permanently",
		zap.String("entry_id", entryID),
		zap.Int("attempts", task.Attempt),
		zap.Error(err),
	)
}

// EmbeddingText is the document embedded for an analysis.
func EmbeddingText(a engine.Analysis) string {
	return fmt.Sprintf("Title: %s\nInnovation: %s\nImpact: %s",
		orDefault(a.En.Title, fallbackTitle),
		orDefault(a.En.WhatIsNew, fallbackSummary),
		orDefault(a.En.WhyItMatters, fallbackImpact),
	)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
