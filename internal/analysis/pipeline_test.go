package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/clock/system"
	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/id/uuid"
	storemem "github.com/JakeFAU/synthesis-engine/internal/storage/memory"
	vecmem "github.com/JakeFAU/synthesis-engine/internal/vectorindex/memory"
)

func sampleAnalysis() engine.Analysis {
	return engine.Analysis{
		En: engine.LocalizedSummary{
			Title:        "Sparse Mixture Routing",
			WhatIsNew:    "A router that scales experts.",
			WhyItMatters: "Cheaper inference.",
		},
		Keywords: []string{"moe"},
		Ranking: engine.Ranking{
			Overall: 7,
			Scores: map[string]engine.DimensionScore{
				engine.DimensionHumanImpact: {Score: 6, Justification: "broad"},
			},
		},
	}
}

type fixture struct {
	store    *storemem.Store
	index    *vecmem.Index
	analyzer *fakeAnalyzer
	embedder *fakeEmbedder
	pipeline *Pipeline
}

func newFixture() *fixture {
	f := &fixture{
		store:    storemem.NewStore(),
		index:    vecmem.New(),
		analyzer: &fakeAnalyzer{result: sampleAnalysis()},
		embedder: &fakeEmbedder{},
	}
	f.pipeline = New(f.store, f.analyzer, nil, f.embedder, f.index, uuid.New(),
		system.NewManual(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)), zap.NewNop())
	return f
}

func rawItem(id string) engine.RawItem {
	return engine.RawItem{
		EntryID:    id,
		Title:      "Paper " + id,
		Abstract:   "We route tokens.",
		URL:        "https://arxiv.org/abs/" + id,
		SourceName: "ArXiv",
	}
}

func TestProcess_Success(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	outcome, err := f.pipeline.Process(ctx, rawItem("2401.1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)

	items, err := f.store.ListItems(ctx, engine.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "ArXiv", items[0].Source)
	require.Equal(t, engine.Score(7), items[0].Analysis.Ranking.Overall)
	require.Equal(t, 1, f.index.Len())
	require.Equal(t, "We route tokens.", f.analyzer.lastContent())

	matches, err := f.index.Query(ctx, f.embedder.vector(), 1)
	require.NoError(t, err)
	require.Equal(t, items[0].ID, matches[0].ID)
}

func TestProcess_IdempotentReprocessing(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	_, err := f.pipeline.Process(ctx, rawItem("dup"))
	require.NoError(t, err)

	outcome, err := f.pipeline.Process(ctx, rawItem("dup"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, outcome)
	require.Equal(t, int32(1), f.analyzer.calls.Load(), "existing items never reach the LLM")
}

func TestProcess_ConcurrentUniqueness(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.analyzer.delay = 10 * time.Millisecond
	ctx := context.Background()

	const workers = 8
	outcomes := make([]Outcome, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.pipeline.Process(ctx, rawItem("race"))
		}(i)
	}
	wg.Wait()

	var success int
	for i, o := range outcomes {
		require.NoError(t, errs[i])
		if o == OutcomeSuccess {
			success++
		} else {
			require.Equal(t, OutcomeSkipped, o)
		}
	}
	require.Equal(t, 1, success)
	items, err := f.store.ListItems(ctx, engine.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 1, f.index.Len())
}

func TestProcess_AnalyzerFailureIsRetryable(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.analyzer.err = errors.New("503")
	outcome, err := f.pipeline.Process(context.Background(), rawItem("x"))
	require.Equal(t, OutcomeFailed, outcome)
	require.True(t, engine.IsRetryable(err))
}

func TestProcess_EmbedderFailureIsRetryable(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.embedder.err = errors.New("quota")
	outcome, err := f.pipeline.Process(context.Background(), rawItem("x"))
	require.Equal(t, OutcomeFailed, outcome)
	require.True(t, engine.IsRetryable(err))
	exists, err := f.store.ItemExists(context.Background(), "x")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestProcess_IndexFailureDoesNotRollBack(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.pipeline.index = failingIndex{}
	outcome, err := f.pipeline.Process(context.Background(), rawItem("x"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
	exists, err := f.store.ItemExists(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestProcess_GateErrorIsRetryable(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.pipeline.gate = gateFunc(func(context.Context) error { return context.Canceled })
	_, err := f.pipeline.Process(context.Background(), rawItem("x"))
	require.True(t, engine.IsRetryable(err))
	require.Zero(t, f.analyzer.calls.Load())
}

func TestProcess_TitleUsedWhenAbstractMissing(t *testing.T) {
	t.Parallel()

	f := newFixture()
	item := rawItem("x")
	item.Abstract = ""
	_, err := f.pipeline.Process(context.Background(), item)
	require.NoError(t, err)
	require.Equal(t, "Paper x", f.analyzer.lastContent())
}

func TestHandle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	require.Error(t, f.pipeline.Handle(context.Background(), engine.Task{ID: "t"}))
	item := rawItem("h")
	require.NoError(t, f.pipeline.Handle(context.Background(), engine.Task{ID: "t", Kind: engine.TaskAnalyze, Item: &item}))
	f.pipeline.GiveUp(context.Background(), engine.Task{ID: "t", Item: &item}, errors.New("boom"))
}

func TestEmbeddingText(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"Title: Sparse Mixture Routing\nInnovation: A router that scales experts.\nImpact: Cheaper inference.",
		EmbeddingText(sampleAnalysis()))
	require.Equal(t,
		"Title: No Title Provided\nInnovation: No summary available.\nImpact: No impact statement available.",
		EmbeddingText(engine.Analysis{}))
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	result  engine.Analysis
	err     error
	delay   time.Duration
	calls   atomic.Int32
	content string
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ string, content string) (engine.Analysis, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.content = content
	a.mu.Unlock()
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.err != nil {
		return engine.Analysis{}, a.err
	}
	return a.result, nil
}

func (a *fakeAnalyzer) lastContent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content
}

type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) vector() []float32 {
	return []float32{0.1, 0.7, 0.2}
}

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(), nil
}

type failingIndex struct{}

func (failingIndex) Upsert(context.Context, engine.EmbeddingRecord) error {
	return fmt.Errorf("opensearch down")
}

func (failingIndex) Query(context.Context, []float32, int) ([]engine.VectorMatch, error) {
	return nil, nil
}

type gateFunc func(context.Context) error

func (g gateFunc) WaitForToken(ctx context.Context) error { return g(ctx) }
