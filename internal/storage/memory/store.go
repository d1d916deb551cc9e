// Package memory provides in-process implementations of the storage
// interfaces for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

// Store is an in-memory engine.Store. Uniqueness mirrors the Postgres
// schema: source url and name, item entry_id.
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	sources   map[int64]engine.Source
	items     map[string]engine.AnalyzedItem // keyed by entry id
	proposals map[string]engine.ParserProposal
	cycles    []engine.CycleReport
	heals     []engine.HealReport
}

var _ engine.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sources:   make(map[int64]engine.Source),
		items:     make(map[string]engine.AnalyzedItem),
		proposals: make(map[string]engine.ParserProposal),
	}
}

// ListSources implements engine.SourceStore.
func (s *Store) ListSources(_ context.Context, filter engine.SourceFilter) ([]engine.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.Source, 0, len(s.sources))
	for _, src := range s.sources {
		if filter.ActiveOnly && !src.IsActive {
			continue
		}
		if filter.Name != "" && src.Name != filter.Name {
			continue
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSource implements engine.SourceStore.
func (s *Store) GetSource(_ context.Context, id int64) (engine.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return engine.Source{}, fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	return src, nil
}

// CreateSource implements engine.SourceStore.
func (s *Store) CreateSource(_ context.Context, src engine.Source) (engine.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictLocked(src) {
		return engine.Source{}, fmt.Errorf("source %q: %w", src.URL, engine.ErrAlreadyExists)
	}
	s.nextID++
	src.ID = s.nextID
	s.sources[src.ID] = src
	return src, nil
}

// UpdateSource implements engine.SourceStore.
func (s *Store) UpdateSource(_ context.Context, src engine.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[src.ID]; !ok {
		return fmt.Errorf("source %d: %w", src.ID, engine.ErrNotFound)
	}
	if s.conflictLocked(src) {
		return fmt.Errorf("source %q: %w", src.URL, engine.ErrAlreadyExists)
	}
	s.sources[src.ID] = src
	return nil
}

// DeleteSource implements engine.SourceStore.
func (s *Store) DeleteSource(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	delete(s.sources, id)
	return nil
}

func (s *Store) conflictLocked(src engine.Source) bool {
	for id, existing := range s.sources {
		if id == src.ID {
			continue
		}
		if existing.URL == src.URL || existing.Name == src.Name {
			return true
		}
	}
	return false
}

// ItemExists implements engine.ItemStore.
func (s *Store) ItemExists(_ context.Context, entryID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[entryID]
	return ok, nil
}

// InsertItem implements engine.ItemStore.
func (s *Store) InsertItem(_ context.Context, item engine.AnalyzedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.EntryID]; ok {
		return fmt.Errorf("item %q: %w", item.EntryID, engine.ErrAlreadyExists)
	}
	s.items[item.EntryID] = item
	return nil
}

// GetItems implements engine.ItemStore.
func (s *Store) GetItems(_ context.Context, ids []string) ([]engine.AnalyzedItem, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []engine.AnalyzedItem
	for _, item := range s.items {
		if _, ok := want[item.ID]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// ListItems implements engine.ItemStore, newest first.
func (s *Store) ListItems(_ context.Context, filter engine.ItemFilter) ([]engine.AnalyzedItem, error) {
	s.mu.RLock()
	out := make([]engine.AnalyzedItem, 0, len(s.items))
	for _, item := range s.items {
		if filter.Source != "" && item.Source != filter.Source {
			continue
		}
		out = append(out, item)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].PublishedAt, out[j].PublishedAt
		switch {
		case pi != nil && pj != nil && !pi.Equal(*pj):
			return pi.After(*pj)
		case pi != nil && pj == nil:
			return true
		case pi == nil && pj != nil:
			return false
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CreateProposal implements engine.ProposalStore.
func (s *Store) CreateProposal(_ context.Context, p engine.ParserProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return fmt.Errorf("proposal %q: %w", p.ID, engine.ErrAlreadyExists)
	}
	s.proposals[p.ID] = p
	return nil
}

// GetProposal implements engine.ProposalStore.
func (s *Store) GetProposal(_ context.Context, id string) (engine.ParserProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return engine.ParserProposal{}, fmt.Errorf("proposal %q: %w", id, engine.ErrNotFound)
	}
	return p, nil
}

// ListProposals implements engine.ProposalStore, newest first.
func (s *Store) ListProposals(_ context.Context, filter engine.ProposalFilter) ([]engine.ParserProposal, error) {
	s.mu.RLock()
	out := make([]engine.ParserProposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.SourceID != 0 && p.SourceID != filter.SourceID {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateProposalStatus implements engine.ProposalStore.
func (s *Store) UpdateProposalStatus(
	_ context.Context,
	id string,
	from, to engine.ProposalStatus,
	applyErr string,
	decidedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return fmt.Errorf("proposal %q: %w", id, engine.ErrNotFound)
	}
	if p.Status != from {
		return fmt.Errorf("proposal %q is %s, not %s: %w", id, p.Status, from, engine.ErrStatusChanged)
	}
	p.Status = to
	p.ApplyError = applyErr
	p.DecidedAt = &decidedAt
	s.proposals[id] = p
	return nil
}

// RecordCycle implements engine.ReportStore.
func (s *Store) RecordCycle(_ context.Context, r engine.CycleReport) error {
	s.mu.Lock()
	s.cycles = append(s.cycles, r)
	s.mu.Unlock()
	return nil
}

// RecordHeal implements engine.ReportStore.
func (s *Store) RecordHeal(_ context.Context, r engine.HealReport) error {
	s.mu.Lock()
	s.heals = append(s.heals, r)
	s.mu.Unlock()
	return nil
}

// ListCycleReports implements engine.ReportStore, newest first.
func (s *Store) ListCycleReports(_ context.Context, limit int) ([]engine.CycleReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.cycles, limit), nil
}

// ListHealReports implements engine.ReportStore, newest first.
func (s *Store) ListHealReports(_ context.Context, limit int) ([]engine.HealReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.heals, limit), nil
}

func newestFirst[T any](in []T, limit int) []T {
	out := make([]T, 0, len(in))
	for i := len(in) - 1; i >= 0; i-- {
		out = append(out, in[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
