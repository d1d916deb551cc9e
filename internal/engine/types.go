package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source is a registered ingestion target.
type Source struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	ParserType string `json:"parser_type"`
	IsActive   bool   `json:"is_active"`
}

// RawItem is a candidate item produced by a parser before analysis.
type RawItem struct {
	EntryID     string     `json:"entry_id"`
	Title       string     `json:"title"`
	Abstract    string     `json:"abstract,omitempty"`
	Authors     []string   `json:"authors,omitempty"`
	PublishedAt *time.Time `json:"published_date,omitempty"`
	URL         string     `json:"url"`
	SourceName  string     `json:"source"`
}

// Ranking dimensions scored by the analyzer.
const (
	DimensionBreakthroughNovelty = "breakthrough_novelty"
	DimensionHumanImpact         = "human_impact"
	DimensionFieldInfluence      = "field_influence"
	DimensionTechnicalMaturity   = "technical_maturity"
)

// Dimensions lists every ranking dimension in display order.
var Dimensions = []string{
	DimensionBreakthroughNovelty,
	DimensionHumanImpact,
	DimensionFieldInfluence,
	DimensionTechnicalMaturity,
}

// LocalizedSummary is one language section of an analysis.
type LocalizedSummary struct {
	Title                          string `json:"title"`
	WhatIsNew                      string `json:"what_is_new"`
	HowItWorks                     string `json:"how_it_works"`
	WhyItMatters                   string `json:"why_it_matters"`
	OverallImportanceJustification string `json:"overall_importance_justification"`
}

// Score is a 1-10 rating. Models sometimes quote numbers, so decoding accepts
// both JSON numbers and numeric strings.
type Score float64

// UnmarshalJSON implements json.Unmarshaler.
func (s *Score) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*s = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("decode score: %w", err)
		}
		raw = strings.Trim(strings.TrimSpace(text), "[]")
		if raw == "" {
			*s = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("decode score %q: %w", raw, err)
	}
	*s = Score(v)
	return nil
}

// DimensionScore is the score and rationale for one dimension.
type DimensionScore struct {
	Score         Score  `json:"score"`
	Justification string `json:"justification"`
}

// Ranking holds per-dimension scores and the overall importance.
type Ranking struct {
	Scores  map[string]DimensionScore `json:"scores"`
	Overall Score                     `json:"overall_importance_score"`
}

// Analysis is the structured LLM output for an item.
type Analysis struct {
	En       LocalizedSummary `json:"en"`
	Zh       LocalizedSummary `json:"zh"`
	Keywords []string         `json:"keywords"`
	Ranking  Ranking          `json:"ranking"`
}

// AnalyzedItem is the persisted result of a successful analysis.
type AnalyzedItem struct {
	ID          string     `json:"id"`
	EntryID     string     `json:"entry_id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_date,omitempty"`
	Analysis    Analysis   `json:"analysis"`
	CreatedAt   time.Time  `json:"created_at"`
}

// EmbeddingMetadata is stored alongside a vector.
type EmbeddingMetadata struct {
	Source string `json:"source"`
	Title  string `json:"title"`
}

// EmbeddingRecord is a vector keyed by the analyzed item id.
type EmbeddingRecord struct {
	ID       string
	Vector   []float32
	Document string
	Metadata EmbeddingMetadata
}

// VectorMatch is one nearest-neighbour hit.
type VectorMatch struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// ProposalStatus tracks a parser proposal through review.
type ProposalStatus string

// Proposal status values persisted in the proposal store.
const (
	ProposalPendingReview ProposalStatus = "pending_review"
	ProposalApproved      ProposalStatus = "approved"
	ProposalRejected      ProposalStatus = "rejected"
	ProposalApplyFailed   ProposalStatus = "apply_failed"
)

// ParserProposal is a validated, machine-generated parser awaiting review.
type ParserProposal struct {
	ID               string         `json:"id"`
	SourceID         int64          `json:"source_id"`
	Code             string         `json:"code"`
	ValidationSample []RawItem      `json:"validation_sample"`
	SnapshotURI      string         `json:"snapshot_uri,omitempty"`
	Iterations       int            `json:"iterations"`
	Status           ProposalStatus `json:"status"`
	ApplyError       string         `json:"apply_error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	DecidedAt        *time.Time     `json:"decided_at,omitempty"`
}

// HealOutcome is the terminal state of a heal attempt.
type HealOutcome string

// Heal outcomes recorded in heal reports.
const (
	HealProposed  HealOutcome = "proposed"
	HealExhausted HealOutcome = "exhausted"
)

// HealReport records one heal attempt so operators can find sources that
// need manual attention.
type HealReport struct {
	ID         string      `json:"id"`
	SourceID   int64       `json:"source_id"`
	Outcome    HealOutcome `json:"outcome"`
	Iterations int         `json:"iterations"`
	LastError  string      `json:"last_error,omitempty"`
	ProposalID string      `json:"proposal_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// CycleReport summarizes one ingestion cycle.
type CycleReport struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Sources        int       `json:"sources"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	Items          int       `json:"items"`
	Unique         int       `json:"unique"`
	Dispatched     int       `json:"dispatched"`
	HealsTriggered int       `json:"heals_triggered"`
}

// TaskKind identifies the work carried by a Task.
type TaskKind string

// Task kinds consumed by the worker pool.
const (
	TaskAnalyze TaskKind = "analyze"
	TaskHeal    TaskKind = "heal"
)

// Task is a unit of background work.
type Task struct {
	ID        string   `json:"id"`
	Kind      TaskKind `json:"kind"`
	Item      *RawItem `json:"item,omitempty"`
	SourceID  int64    `json:"source_id,omitempty"`
	Attempt   int      `json:"attempt"`
	Submitted int64    `json:"submitted"`
}

// Page is a fetched document.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// SourceFilter narrows ListSources.
type SourceFilter struct {
	ActiveOnly bool
	Name       string
}

// ItemFilter narrows ListItems.
type ItemFilter struct {
	Source string
	Limit  int
}

// ProposalFilter narrows ListProposals.
type ProposalFilter struct {
	Status   ProposalStatus
	SourceID int64
	Limit    int
}
