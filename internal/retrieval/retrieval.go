// Package retrieval answers semantic search queries over analyzed items.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

// Default and maximum number of hits returned.
const (
	DefaultK = 10
	MaxK     = 50
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query is empty")

// Hit is one ranked search result.
type Hit struct {
	Item     engine.AnalyzedItem `json:"item"`
	Distance float64             `json:"distance"`
}

// Service embeds a query, finds the nearest vectors and hydrates the items
// from the relational store in rank order.
type Service struct {
	embedder engine.Embedder
	index    engine.VectorIndex
	items    engine.ItemStore
	logger   *zap.Logger
}

// New constructs a Service. embedder should produce query embeddings.
func New(embedder engine.Embedder, index engine.VectorIndex, items engine.ItemStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{embedder: embedder, index: index, items: items, logger: logger.Named("retrieval")}
}

// Search returns up to k items closest to query. Vectors whose item row is
// gone are dropped.
func (s *Service) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultK
	}
	if k > MaxK {
		k = MaxK
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.index.Query(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}
	if len(matches) == 0 {
		return []Hit{}, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	items, err := s.items.GetItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	byID := make(map[string]engine.AnalyzedItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		item, ok := byID[m.ID]
		if !ok {
			s.logger.Debug("vector without item row", zap.String("item_id", m.ID))
			continue
		}
		hits = append(hits, Hit{Item: item, Distance: m.Distance})
	}
	return hits, nil
}
