// Package llm wraps the Gemini text models used for item analysis, parser
// repair and source classification.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Default model names.
const (
	DefaultModel           = "gemini-2.5-flash"
	DefaultClassifierModel = "gemini-2.5-pro"
)

// GenerateOptions tunes a single generation call.
type GenerateOptions struct {
	Model       string
	JSON        bool
	Temperature *float32
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Client exposes the underlying SDK client so embeddings can share it.
func (c *GeminiClient) Client() *genai.Client {
	return c.client
}

// Generate implements Generator.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: opts.Temperature,
		TopP:        ptr[float32](0.95),
	}
	if opts.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini generate: blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("gemini generate: empty response")
	}
	return text, nil
}

func ptr[T any](v T) *T {
	return &v
}
