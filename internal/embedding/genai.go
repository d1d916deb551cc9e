// Package embedding produces dense vectors for analyzed items and search
// queries with the Gemini embedding models.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModel is the Gemini embedding model.
const DefaultModel = "gemini-embedding-001"

// DefaultDimensions is the vector size requested from the model.
const DefaultDimensions = 768

// Config tunes the embedder.
type Config struct {
	Model      string
	Dimensions int
}

// GenAIEmbedder embeds documents and queries.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
	dims   int32
	query  bool
}

// NewGenAIEmbedder creates a document embedder over an existing client.
func NewGenAIEmbedder(client *genai.Client, cfg Config) (*GenAIEmbedder, error) {
	if client == nil {
		return nil, errors.New("genai client is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	return &GenAIEmbedder{client: client, model: cfg.Model, dims: int32(cfg.Dimensions)}, nil
}

// ForQueries returns a copy that embeds search queries instead of documents.
func (e *GenAIEmbedder) ForQueries() *GenAIEmbedder {
	cp := *e
	cp.query = true
	return &cp
}

// Dimensions returns the configured vector size.
func (e *GenAIEmbedder) Dimensions() int {
	return int(e.dims)
}

// Embed implements engine.Embedder.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}
	dims := e.dims
	cfg := &genai.EmbedContentConfig{
		TaskType:             "RETRIEVAL_DOCUMENT",
		OutputDimensionality: &dims,
	}
	if e.query {
		cfg.TaskType = "RETRIEVAL_QUERY"
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, errors.New("genai embed: no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}
