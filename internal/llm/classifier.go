package llm

import (
	"context"
	"fmt"
	"strings"
)

// Classification is the model's verdict on a candidate source.
type Classification struct {
	IsHighQuality bool   `json:"is_high_quality_source"`
	Reasoning     string `json:"reasoning"`
	SourceName    string `json:"source_name"`
	SourceType    string `json:"source_type"`
}

// Classifier judges whether a URL is worth ingesting.
type Classifier struct {
	gen   Generator
	model string
}

// NewClassifier constructs a Classifier.
func NewClassifier(gen Generator, model string) *Classifier {
	if model == "" {
		model = DefaultClassifierModel
	}
	return &Classifier{gen: gen, model: model}
}

// Classify evaluates url.
func (c *Classifier) Classify(ctx context.Context, url string) (Classification, error) {
	prompt, err := render(classifyPrompt, struct{ URL string }{url})
	if err != nil {
		return Classification{}, err
	}
	text, err := c.gen.Generate(ctx, prompt, GenerateOptions{Model: c.model, JSON: true})
	if err != nil {
		return Classification{}, fmt.Errorf("classify %s: %w", url, err)
	}
	var out Classification
	if err := DecodeJSON(text, &out); err != nil {
		return Classification{}, fmt.Errorf("classify %s: %w", url, err)
	}
	out.SourceName = strings.TrimSpace(out.SourceName)
	out.SourceType = normalizeType(out.SourceType)
	return out, nil
}

func normalizeType(t string) string {
	switch t = strings.ToLower(strings.TrimSpace(t)); t {
	case "blog", "news":
		return t
	default:
		return "other"
	}
}
