package engine

import (
	"context"
	"time"
)

// SourceStore persists the source registry.
type SourceStore interface {
	ListSources(ctx context.Context, filter SourceFilter) ([]Source, error)
	GetSource(ctx context.Context, id int64) (Source, error)
	// CreateSource returns ErrAlreadyExists when the url or name is taken.
	CreateSource(ctx context.Context, src Source) (Source, error)
	UpdateSource(ctx context.Context, src Source) error
	DeleteSource(ctx context.Context, id int64) error
}

// ItemStore persists analyzed items.
type ItemStore interface {
	ItemExists(ctx context.Context, entryID string) (bool, error)
	// InsertItem returns ErrAlreadyExists when the entry id is taken.
	InsertItem(ctx context.Context, item AnalyzedItem) error
	GetItems(ctx context.Context, ids []string) ([]AnalyzedItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]AnalyzedItem, error)
}

// ProposalStore persists parser proposals.
type ProposalStore interface {
	CreateProposal(ctx context.Context, proposal ParserProposal) error
	GetProposal(ctx context.Context, id string) (ParserProposal, error)
	ListProposals(ctx context.Context, filter ProposalFilter) ([]ParserProposal, error)
	// UpdateProposalStatus moves a proposal from status from to status to.
	// It returns ErrStatusChanged if the proposal is no longer in from.
	UpdateProposalStatus(ctx context.Context, id string, from, to ProposalStatus, applyErr string, decidedAt time.Time) error
}

// ReportStore persists cycle and heal reports.
type ReportStore interface {
	RecordCycle(ctx context.Context, report CycleReport) error
	RecordHeal(ctx context.Context, report HealReport) error
	ListCycleReports(ctx context.Context, limit int) ([]CycleReport, error)
	ListHealReports(ctx context.Context, limit int) ([]HealReport, error)
}

// Store aggregates every relational store.
type Store interface {
	SourceStore
	ItemStore
	ProposalStore
	ReportStore
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores and queries embeddings.
type VectorIndex interface {
	Upsert(ctx context.Context, record EmbeddingRecord) error
	Query(ctx context.Context, vector []float32, topK int) ([]VectorMatch, error)
}

// PageFetcher retrieves raw documents over HTTP.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (Page, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Queue provides enqueue/dequeue semantics for background tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Gate blocks until a rate-limit token is available.
type Gate interface {
	WaitForToken(ctx context.Context) error
}

// Hasher computes digests for snapshot naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
