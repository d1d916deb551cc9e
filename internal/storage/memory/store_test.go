package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

func TestStoreSources(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	a, err := s.CreateSource(ctx, engine.Source{Name: "A", URL: "https://a.test", ParserType: "feed", IsActive: true})
	require.NoError(t, err)
	require.Equal(t, int64(1), a.ID)
	_, err = s.CreateSource(ctx, engine.Source{Name: "B", URL: "https://b.test", ParserType: "feed"})
	require.NoError(t, err)

	_, err = s.CreateSource(ctx, engine.Source{Name: "C", URL: "https://a.test"})
	require.ErrorIs(t, err, engine.ErrAlreadyExists)
	_, err = s.CreateSource(ctx, engine.Source{Name: "A", URL: "https://c.test"})
	require.ErrorIs(t, err, engine.ErrAlreadyExists)

	active, err := s.ListSources(ctx, engine.SourceFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "A", active[0].Name)

	a.IsActive = false
	require.NoError(t, s.UpdateSource(ctx, a))
	got, err := s.GetSource(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	require.NoError(t, s.DeleteSource(ctx, a.ID))
	_, err = s.GetSource(ctx, a.ID)
	require.ErrorIs(t, err, engine.ErrNotFound)
	require.ErrorIs(t, s.DeleteSource(ctx, a.ID), engine.ErrNotFound)
}

func TestStoreItemsUniqueUnderConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.InsertItem(ctx, engine.AnalyzedItem{ID: fmt.Sprintf("id-%d", i), EntryID: "e1"})
			if err == nil {
				ok.Add(1)
				return
			}
			if errors.Is(err, engine.ErrAlreadyExists) {
				dup.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), ok.Load())
	require.Equal(t, int32(15), dup.Load())

	exists, err := s.ItemExists(ctx, "e1")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestStoreListItemsNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	require.NoError(t, s.InsertItem(ctx, engine.AnalyzedItem{ID: "1", EntryID: "a", Source: "x", PublishedAt: &older}))
	require.NoError(t, s.InsertItem(ctx, engine.AnalyzedItem{ID: "2", EntryID: "b", Source: "x", PublishedAt: &newer}))
	require.NoError(t, s.InsertItem(ctx, engine.AnalyzedItem{ID: "3", EntryID: "c", Source: "y"}))

	items, err := s.ListItems(ctx, engine.ItemFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"2", "1", "3"}, []string{items[0].ID, items[1].ID, items[2].ID})

	items, err = s.ListItems(ctx, engine.ItemFilter{Source: "x", Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "2", items[0].ID)

	got, err := s.GetItems(ctx, []string{"3", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestStoreProposals(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateProposal(ctx, engine.ParserProposal{ID: "p1", SourceID: 1, Status: engine.ProposalPendingReview, CreatedAt: base}))
	require.NoError(t, s.CreateProposal(ctx, engine.ParserProposal{ID: "p2", SourceID: 1, Status: engine.ProposalPendingReview, CreatedAt: base.Add(time.Hour)}))
	require.ErrorIs(t, s.CreateProposal(ctx, engine.ParserProposal{ID: "p1"}), engine.ErrAlreadyExists)

	require.NoError(t, s.UpdateProposalStatus(ctx, "p1", engine.ProposalPendingReview, engine.ProposalApproved, "", base.Add(2*time.Hour)))
	p, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, engine.ProposalApproved, p.Status)
	require.NotNil(t, p.DecidedAt)

	pending, err := s.ListProposals(ctx, engine.ProposalFilter{Status: engine.ProposalPendingReview})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "p2", pending[0].ID)

	require.ErrorIs(t, s.UpdateProposalStatus(ctx, "nope", engine.ProposalPendingReview, engine.ProposalRejected, "", base), engine.ErrNotFound)

	// p1 was approved above, so a second decision from pending must fail.
	err = s.UpdateProposalStatus(ctx, "p1", engine.ProposalPendingReview, engine.ProposalRejected, "", base)
	require.ErrorIs(t, err, engine.ErrStatusChanged)
	p, err = s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, engine.ProposalApproved, p.Status)
}

func TestStoreReports(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordCycle(ctx, engine.CycleReport{ID: fmt.Sprint(i)}))
		require.NoError(t, s.RecordHeal(ctx, engine.HealReport{ID: fmt.Sprint(i)}))
	}
	cycles, err := s.ListCycleReports(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "2", cycles[0].ID)
	require.Len(t, cycles, 2)
	heals, err := s.ListHealReports(ctx, 0)
	require.NoError(t, err)
	require.Len(t, heals, 3)
}

func TestBlobStore(t *testing.T) {
	t.Parallel()

	b := NewBlobStore()
	uri, err := b.PutObject(context.Background(), "snapshots/1/x.html", "text/html", []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/1/x.html", uri)
	data, ok := b.Object("snapshots/1/x.html")
	require.True(t, ok)
	require.Equal(t, "hi", string(data))
	_, err = b.PutObject(context.Background(), "", "", nil)
	require.Error(t, err)
}
