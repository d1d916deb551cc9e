package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

// Score bounds accepted from the model.
const (
	MinScore = 1.0
	MaxScore = 10.0
)

// ErrScoreOutOfRange marks a response whose scores are missing or outside
// [MinScore, MaxScore]. It is treated like any other malformed response.
var ErrScoreOutOfRange = errors.New("score out of range")

// Analyzer produces the structured summary, translation and ranking of an item.
type Analyzer struct {
	gen   Generator
	model string
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(gen Generator, model string) *Analyzer {
	return &Analyzer{gen: gen, model: model}
}

// Analyze runs the unified analysis prompt.
func (a *Analyzer) Analyze(ctx context.Context, title, content string) (engine.Analysis, error) {
	prompt, err := render(analysisPrompt, struct{ Title, Content string }{title, content})
	if err != nil {
		return engine.Analysis{}, err
	}
	text, err := a.gen.Generate(ctx, prompt, GenerateOptions{Model: a.model, JSON: true, Temperature: ptr[float32](1.0)})
	if err != nil {
		return engine.Analysis{}, fmt.Errorf("analyze %q: %w", title, err)
	}
	var analysis engine.Analysis
	if err := DecodeJSON(text, &analysis); err != nil {
		return engine.Analysis{}, fmt.Errorf("analyze %q: %w", title, err)
	}
	if err := validateAnalysis(analysis); err != nil {
		return engine.Analysis{}, fmt.Errorf("analyze %q: %w", title, err)
	}
	return analysis, nil
}

func validateAnalysis(a engine.Analysis) error {
	if strings.TrimSpace(a.En.Title) == "" && strings.TrimSpace(a.En.WhatIsNew) == "" {
		return errors.New("analysis has no english summary")
	}
	if !inRange(a.Ranking.Overall) {
		return fmt.Errorf("%w: overall_importance_score %v", ErrScoreOutOfRange, float64(a.Ranking.Overall))
	}
	dims := make([]string, 0, len(a.Ranking.Scores))
	for dim := range a.Ranking.Scores {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	for _, dim := range dims {
		if score := a.Ranking.Scores[dim].Score; !inRange(score) {
			return fmt.Errorf("%w: %s %v", ErrScoreOutOfRange, dim, float64(score))
		}
	}
	return nil
}

func inRange(s engine.Score) bool {
	return float64(s) >= MinScore && float64(s) <= MaxScore
}
