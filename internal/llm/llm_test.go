package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
	opts    []GenerateOptions
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, opts GenerateOptions) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	return f.reply, f.err
}

const analysisReply = "```json\n" + `{
  "en": {"title": "Model X", "what_is_new": "New.", "how_it_works": "How.", "why_it_matters": "Why.",
         "overall_importance_justification": "Big."},
  "zh": {"title": "模型X", "what_is_new": "新", "how_it_works": "如何", "why_it_matters": "为什么",
         "overall_importance_justification": "重要"},
  "keywords": ["llm", "scaling"],
  "ranking": {
    "scores": {
      "breakthrough_novelty": {"score": "8", "justification": "novel"},
      "human_impact": {"score": 7, "justification": "useful"},
      "field_influence": {"score": 6.5, "justification": "cited"},
      "technical_maturity": {"score": "5", "justification": "early"},
    },
    "overall_importance_score": "7.4"
  }
}` + "\n```"

func TestAnalyzerDecodesLenientResponse(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: analysisReply}
	a, err := NewAnalyzer(gen, "m").Analyze(context.Background(), "Model X", "abstract text")
	require.NoError(t, err)
	require.Equal(t, "Model X", a.En.Title)
	require.Equal(t, "模型X", a.Zh.Title)
	require.InDelta(t, 7.4, float64(a.Ranking.Overall), 0.001)
	require.InDelta(t, 8, float64(a.Ranking.Scores[engine.DimensionBreakthroughNovelty].Score), 0.001)
	require.Len(t, a.Ranking.Scores, 4)

	require.True(t, gen.opts[0].JSON)
	require.Equal(t, "m", gen.opts[0].Model)
	require.Contains(t, gen.prompts[0], "abstract text")
}

func TestAnalyzerFailures(t *testing.T) {
	t.Parallel()

	_, err := NewAnalyzer(&fakeGenerator{err: errors.New("quota")}, "").Analyze(context.Background(), "t", "c")
	require.ErrorContains(t, err, "quota")

	_, err = NewAnalyzer(&fakeGenerator{reply: "I cannot help with that"}, "").Analyze(context.Background(), "t", "c")
	require.ErrorIs(t, err, ErrNoJSON)

	_, err = NewAnalyzer(&fakeGenerator{reply: `{"keywords": []}`}, "").Analyze(context.Background(), "t", "c")
	require.ErrorContains(t, err, "no english summary")
}

func TestAnalyzerRejectsScoresOutsideRange(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"overall too high": `{"en": {"title": "t"}, "ranking": {"overall_importance_score": 11}}`,
		"overall missing":  `{"en": {"title": "t"}, "ranking": {"scores": {}}}`,
		"overall zero":     `{"en": {"title": "t"}, "ranking": {"overall_importance_score": "0"}}`,
		"dimension low": `{"en": {"title": "t"}, "ranking": {"overall_importance_score": 5,
			"scores": {"human_impact": {"score": -2, "justification": "x"}}}}`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := NewAnalyzer(&fakeGenerator{reply: reply}, "").Analyze(context.Background(), "t", "c")
			require.ErrorIs(t, err, ErrScoreOutOfRange)
		})
	}

	a, err := NewAnalyzer(&fakeGenerator{reply: `{"en": {"title": "t"}, "ranking": {"overall_importance_score": "10.0",
		"scores": {"human_impact": {"score": 1, "justification": "x"}}}}`}, "").Analyze(context.Background(), "t", "c")
	require.NoError(t, err, "bounds are inclusive")
	require.InDelta(t, 10, float64(a.Ranking.Overall), 0)
}

func TestAnalysisPromptSchemaIsValidJSON(t *testing.T) {
	t.Parallel()

	prompt, err := render(analysisPrompt, struct{ Title, Content string }{"t", "c"})
	require.NoError(t, err)
	start := strings.Index(prompt, "{")
	end := strings.LastIndex(prompt, "}")
	require.True(t, start >= 0 && end > start)
	require.True(t, json.Valid([]byte(prompt[start:end+1])), prompt[start:end+1])
}

func TestRepairerPromptCarriesFeedback(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "```go\npackage main\n\nfunc Parse() {}\n```"}
	r := NewRepairer(gen, "", nil)

	code, err := r.Synthesize(context.Background(), RepairRequest{
		SourceName: "Example", URL: "https://example.com", Page: "<html>page</html>", Iteration: 1,
	})
	require.NoError(t, err)
	require.Equal(t, "package main\n\nfunc Parse() {}", code)
	require.NotContains(t, gen.prompts[0], "previous candidate failed")
	require.Contains(t, gen.prompts[0], "<html>page</html>")

	_, err = r.Synthesize(context.Background(), RepairRequest{
		SourceName: "Example", URL: "https://example.com", Page: "p", Iteration: 2,
		Previous: "old code", Failure: "parser returned no records",
	})
	require.NoError(t, err)
	require.Contains(t, gen.prompts[1], "old code")
	require.Contains(t, gen.prompts[1], "parser returned no records")
	require.Contains(t, gen.prompts[1], "materially different")
}

func TestRepairerEmptyCandidate(t *testing.T) {
	t.Parallel()

	_, err := NewRepairer(&fakeGenerator{reply: "```\n```"}, "", nil).
		Synthesize(context.Background(), RepairRequest{SourceName: "S"})
	require.Error(t, err)
}

func TestClassifierNormalizesType(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: `{"is_high_quality_source": true, "reasoning": "lab blog",
		"source_name": " The Gradient ", "source_type": "Magazine"}`}
	c, err := NewClassifier(gen, "").Classify(context.Background(), "https://thegradient.pub")
	require.NoError(t, err)
	require.True(t, c.IsHighQuality)
	require.Equal(t, "The Gradient", c.SourceName)
	require.Equal(t, "other", c.SourceType)
	require.Equal(t, DefaultClassifierModel, gen.opts[0].Model)
	require.True(t, strings.Contains(gen.prompts[0], "https://thegradient.pub"))
}
