// Package parser holds the dispatch table that maps a source's parser type to
// the code that extracts raw items from it, including per-source overrides
// loaded from approved parser proposals.
package parser

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

// DefaultLimit caps the number of items a parser returns when unset.
const DefaultLimit = 8

// Built-in parser type tags.
const (
	TypeArxiv     = "arxiv"
	TypeFeed      = "feed"
	TypeHTMLCards = "html_cards"
)

// Request is a single fetch invocation.
type Request struct {
	SourceID int64
	URL      string
	Name     string
	Limit    int
}

// RequestFor builds the request for a source.
func RequestFor(src engine.Source, limit int) Request {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return Request{SourceID: src.ID, URL: src.URL, Name: src.Name, Limit: limit}
}

// Parser extracts raw items from a source.
type Parser interface {
	Fetch(ctx context.Context, req Request) ([]engine.RawItem, error)
}

// Func adapts a function to the Parser interface.
type Func func(ctx context.Context, req Request) ([]engine.RawItem, error)

// Fetch implements Parser.
func (f Func) Fetch(ctx context.Context, req Request) ([]engine.RawItem, error) {
	return f(ctx, req)
}

// Registry maps type tags to parsers.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser under tag. Tags are unique.
func (r *Registry) Register(tag string, p Parser) error {
	if tag == "" || p == nil {
		return fmt.Errorf("register parser: tag and parser are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.parsers[tag]; exists {
		return fmt.Errorf("register parser %q: %w", tag, engine.ErrAlreadyExists)
	}
	r.parsers[tag] = p
	return nil
}

// Resolve returns the parser for tag.
func (r *Registry) Resolve(tag string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[tag]
	return p, ok
}

// Tags lists registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.parsers))
	for t := range r.parsers {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Table is an immutable view of the registry plus per-source overrides,
// built once per cycle.
type Table struct {
	registry  *Registry
	overrides map[int64]Parser
}

// NewTable snapshots overrides over the registry.
func NewTable(registry *Registry, overrides map[int64]Parser) *Table {
	copied := make(map[int64]Parser, len(overrides))
	for id, p := range overrides {
		copied[id] = p
	}
	return &Table{registry: registry, overrides: copied}
}

// For returns the parser serving src. Overrides win over the type tag.
func (t *Table) For(src engine.Source) (Parser, error) {
	if p, ok := t.overrides[src.ID]; ok {
		return p, nil
	}
	if p, ok := t.registry.Resolve(src.ParserType); ok {
		return p, nil
	}
	return nil, fmt.Errorf("source %q type %q: %w", src.Name, src.ParserType, engine.ErrNoParser)
}

// Overridden reports whether src has an approved override.
func (t *Table) Overridden(sourceID int64) bool {
	_, ok := t.overrides[sourceID]
	return ok
}
