// Package discovery grows the source registry: it searches the web for
// candidate AI publications, asks the LLM to vet each one and registers the
// ones it accepts.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/ingest"
	"github.com/JakeFAU/synthesis-engine/internal/llm"
	"github.com/JakeFAU/synthesis-engine/internal/search"
)

// DefaultQueries seed the search when none are configured.
var DefaultQueries = []string{
	"top AI research blogs",
	"best machine learning blogs for researchers",
	"new large language model announcements blog",
}

// DefaultResultsPerQuery is the number of search hits examined per query.
const DefaultResultsPerQuery = 10

// Classifier vets a candidate URL.
type Classifier interface {
	Classify(ctx context.Context, url string) (llm.Classification, error)
}

// Config tunes a discovery run.
type Config struct {
	Queries         []string
	ResultsPerQuery int
	// OnePerSite skips candidates whose registrable domain already has a
	// source, so blog.lab.ai and lab.ai/news count as the same publication.
	OnePerSite bool
}

// Result counts what one run did.
type Result struct {
	Candidates int `json:"candidates"`
	Evaluated  int `json:"evaluated"`
	Added      int `json:"added"`
}

// Discoverer runs discovery.
type Discoverer struct {
	sources    engine.SourceStore
	searcher   search.Searcher
	classifier Classifier
	searchGate engine.Gate
	llmGate    engine.Gate
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Discoverer. Either gate may be nil.
func New(
	sources engine.SourceStore,
	searcher search.Searcher,
	classifier Classifier,
	searchGate engine.Gate,
	llmGate engine.Gate,
	cfg Config,
	logger *zap.Logger,
) *Discoverer {
	if len(cfg.Queries) == 0 {
		cfg.Queries = DefaultQueries
	}
	if cfg.ResultsPerQuery <= 0 {
		cfg.ResultsPerQuery = DefaultResultsPerQuery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		sources:    sources,
		searcher:   searcher,
		classifier: classifier,
		searchGate: searchGate,
		llmGate:    llmGate,
		cfg:        cfg,
		logger:     logger.Named("discovery"),
	}
}

// Discover returns the number of sources added. Individual query, classify
// and insert failures are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context) (int, error) {
	res, err := d.Run(ctx)
	return res.Added, err
}

// Run performs one discovery pass and reports its counts.
func (d *Discoverer) Run(ctx context.Context) (Result, error) {
	var res Result
	candidates := d.collect(ctx)
	res.Candidates = len(candidates)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("discovery interrupted: %w", err)
	}

	existing, err := d.sources.ListSources(ctx, engine.SourceFilter{})
	if err != nil {
		return res, fmt.Errorf("list sources: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	sites := make(map[string]struct{}, len(existing))
	for _, src := range existing {
		known[ingest.CanonicalURL(src.URL)] = struct{}{}
		sites[SiteKey(src.URL)] = struct{}{}
	}

	for _, candidate := range candidates {
		if _, ok := known[ingest.CanonicalURL(candidate)]; ok {
			continue
		}
		site := SiteKey(candidate)
		if d.cfg.OnePerSite {
			if _, ok := sites[site]; ok {
				d.logger.Debug("site already registered", zap.String("url", candidate), zap.String("site", site))
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("discovery interrupted: %w", err)
		}
		res.Evaluated++
		// Only a registered source claims its site; rejected or failed
		// candidates leave room for other pages of the same domain.
		if d.evaluate(ctx, candidate) {
			res.Added++
			sites[site] = struct{}{}
		}
	}
	d.logger.Info("discovery finished",
		zap.Int("candidates", res.Candidates),
		zap.Int("evaluated", res.Evaluated),
		zap.Int("added", res.Added),
	)
	return res, nil
}

// collect runs every query and returns distinct URLs in first-seen order.
func (d *Discoverer) collect(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, query := range d.cfg.Queries {
		if ctx.Err() != nil {
			break
		}
		if d.searchGate != nil {
			if err := d.searchGate.WaitForToken(ctx); err != nil {
				d.logger.Warn("search throttled", zap.String("query", query), zap.Error(err))
				continue
			}
		}
		urls, err := d.searcher.Search(ctx, query, d.cfg.ResultsPerQuery)
		if err != nil {
			d.logger.Warn("search query failed", zap.String("query", query), zap.Error(err))
			continue
		}
		for _, u := range urls {
			key := ingest.CanonicalURL(u)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

func (d *Discoverer) evaluate(ctx context.Context, candidate string) bool {
	log := d.logger.With(zap.String("url", candidate))
	if d.llmGate != nil {
		if err := d.llmGate.WaitForToken(ctx); err != nil {
			log.Warn("classification throttled", zap.Error(err))
			return false
		}
	}
	verdict, err := d.classifier.Classify(ctx, candidate)
	if err != nil {
		log.Warn("could not classify candidate", zap.Error(err))
		return false
	}
	if !verdict.IsHighQuality {
		log.Debug("candidate rejected", zap.String("reasoning", verdict.Reasoning))
		return false
	}
	name := verdict.SourceName
	if name == "" {
		name = candidate
	}
	src, err := d.sources.CreateSource(ctx, engine.Source{
		Name:       name,
		URL:        candidate,
		ParserType: verdict.SourceType,
		IsActive:   true,
	})
	if errors.Is(err, engine.ErrAlreadyExists) {
		log.Debug("candidate already registered")
		return false
	}
	if err != nil {
		log.Error("failed to register source", zap.Error(err))
		return false
	}
	log.Info("new source registered",
		zap.Int64("source_id", src.ID),
		zap.String("name", src.Name),
		zap.String("parser_type", src.ParserType),
		zap.String("reasoning", verdict.Reasoning),
	)
	return true
}

// SiteKey returns the registrable domain (eTLD+1) of rawURL, lowercased. It
// falls back to the bare host when the public suffix list has no answer.
func SiteKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.ToLower(rawURL)
	}
	host := strings.ToLower(u.Hostname())
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}
