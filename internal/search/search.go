// Package search finds candidate source URLs through Google Programmable
// Search.
package search

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// MaxResultsPerQuery is the API's page size ceiling.
const MaxResultsPerQuery = 10

// Searcher returns result URLs for a query.
type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]string, error)
}

// Config holds Programmable Search credentials.
type Config struct {
	APIKey   string
	EngineID string
}

// Google implements Searcher with the Custom Search JSON API.
type Google struct {
	svc      *customsearch.Service
	engineID string
}

// NewGoogle creates a client. Extra options are passed to the service, which
// tests use to point it at a local server.
func NewGoogle(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("search api key is required")
	}
	if cfg.EngineID == "" {
		return nil, errors.New("search engine id is required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create custom search service: %w", err)
	}
	return &Google{svc: svc, engineID: cfg.EngineID}, nil
}

// Search implements Searcher.
func (g *Google) Search(ctx context.Context, query string, n int) ([]string, error) {
	if n <= 0 || n > MaxResultsPerQuery {
		n = MaxResultsPerQuery
	}
	resp, err := g.svc.Cse.List().Q(query).Cx(g.engineID).Num(int64(n)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	urls := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Link != "" {
			urls = append(urls, item.Link)
		}
	}
	return urls, nil
}
