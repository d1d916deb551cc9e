package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/retrieval"
	"github.com/JakeFAU/synthesis-engine/internal/review"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type sourceRequest struct {
	Name       *string `json:"name"`
	URL        *string `json:"url"`
	ParserType *string `json:"parser_type"`
	IsActive   *bool   `json:"is_active"`
}

// ItemView is an analyzed item with its scores flattened for listing.
type ItemView struct {
	ID            string             `json:"id"`
	EntryID       string             `json:"entry_id"`
	Title         string             `json:"title"`
	URL           string             `json:"url"`
	Source        string             `json:"source"`
	PublishedAt   *time.Time         `json:"published_date,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	Summary       string             `json:"summary"`
	WhyItMatters  string             `json:"why_it_matters"`
	Keywords      []string           `json:"keywords"`
	OverallScore  float64            `json:"overall_importance_score"`
	Scores        map[string]float64 `json:"scores"`
	TitleZh       string             `json:"title_zh,omitempty"`
	SummaryZh     string             `json:"summary_zh,omitempty"`
	Justification string             `json:"overall_importance_justification,omitempty"`
}

type searchHit struct {
	Distance float64  `json:"distance"`
	Item     ItemView `json:"item"`
}

func newItemView(item engine.AnalyzedItem) ItemView {
	scores := make(map[string]float64, len(engine.Dimensions))
	for _, dim := range engine.Dimensions {
		scores[dim] = float64(item.Analysis.Ranking.Scores[dim].Score)
	}
	keywords := item.Analysis.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return ItemView{
		ID:            item.ID,
		EntryID:       item.EntryID,
		Title:         item.Title,
		URL:           item.URL,
		Source:        item.Source,
		PublishedAt:   item.PublishedAt,
		CreatedAt:     item.CreatedAt,
		Summary:       item.Analysis.En.WhatIsNew,
		WhyItMatters:  item.Analysis.En.WhyItMatters,
		Keywords:      keywords,
		OverallScore:  float64(item.Analysis.Ranking.Overall),
		Scores:        scores,
		TitleZh:       item.Analysis.Zh.Title,
		SummaryZh:     item.Analysis.Zh.WhatIsNew,
		Justification: item.Analysis.En.OverallImportanceJustification,
	}
}

func (s *Server) listCycleReports(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reports, err := s.deps.Store.ListCycleReports(r.Context(), limit)
	if err != nil {
		writeError(w, storeStatus(err), "failed to list cycle reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": nonNil(reports)})
}

func (s *Server) listHealReports(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reports, err := s.deps.Store.ListHealReports(r.Context(), limit)
	if err != nil {
		writeError(w, storeStatus(err), "failed to list heal reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": nonNil(reports)})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	filter := engine.SourceFilter{Name: r.URL.Query().Get("name")}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		filter.ActiveOnly = active
	}
	sources, err := s.deps.Store.ListSources(r.Context(), filter)
	if err != nil {
		writeError(w, storeStatus(err), "failed to list sources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": nonNil(sources)})
}

func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	src := engine.Source{
		Name:       strings.TrimSpace(valueOrDefault(req.Name, "")),
		URL:        strings.TrimSpace(valueOrDefault(req.URL, "")),
		ParserType: strings.TrimSpace(valueOrDefault(req.ParserType, "")),
		IsActive:   valueOrDefault(req.IsActive, true),
	}
	if err := validateSource(src); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.deps.Store.CreateSource(r.Context(), src)
	if err != nil {
		writeError(w, storeStatus(err), fmt.Sprintf("create source: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	src, err := s.deps.Store.GetSource(r.Context(), id)
	if err != nil {
		writeError(w, storeStatus(err), "source not found")
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) updateSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	src, err := s.deps.Store.GetSource(r.Context(), id)
	if err != nil {
		writeError(w, storeStatus(err), "source not found")
		return
	}
	src.Name = strings.TrimSpace(valueOrDefault(req.Name, src.Name))
	src.URL = strings.TrimSpace(valueOrDefault(req.URL, src.URL))
	src.ParserType = strings.TrimSpace(valueOrDefault(req.ParserType, src.ParserType))
	src.IsActive = valueOrDefault(req.IsActive, src.IsActive)
	if err := validateSource(src); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Store.UpdateSource(r.Context(), src); err != nil {
		writeError(w, storeStatus(err), fmt.Sprintf("update source: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) deleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteSource(r.Context(), id); err != nil {
		writeError(w, storeStatus(err), "source not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) healSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	if _, err := s.deps.Store.GetSource(r.Context(), id); err != nil {
		writeError(w, storeStatus(err), "source not found")
		return
	}
	taskID, err := s.deps.IDs.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate task id")
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	task := engine.Task{
		ID:        taskID,
		Kind:      engine.TaskHeal,
		SourceID:  id,
		Attempt:   1,
		Submitted: s.deps.Clock.Now().Unix(),
	}
	if err := s.deps.Queue.Enqueue(queueCtx, task); err != nil {
		s.logger.Error("enqueue heal task failed", zap.Int64("source_id", id), zap.Error(err))
		writeError(w, storeStatus(err), "enqueue heal task")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID, "source_id": id})
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := engine.ProposalFilter{
		Status: engine.ProposalStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	}
	if raw := r.URL.Query().Get("source_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "source_id must be an integer")
			return
		}
		filter.SourceID = id
	}
	proposals, err := s.deps.Review.List(r.Context(), filter)
	if err != nil {
		writeError(w, storeStatus(err), "failed to list proposals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": nonNil(proposals)})
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Review.Get(r.Context(), chi.URLParam(r, "proposal_id"))
	if err != nil {
		writeError(w, storeStatus(err), "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) approveProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Review.Approve(r.Context(), chi.URLParam(r, "proposal_id"))
	s.writeDecision(w, p, err)
}

func (s *Server) rejectProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Review.Reject(r.Context(), chi.URLParam(r, "proposal_id"))
	s.writeDecision(w, p, err)
}

func (s *Server) writeDecision(w http.ResponseWriter, p engine.ParserProposal, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, p)
	case errors.Is(err, review.ErrApplyFailed):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "proposal": p})
	case errors.Is(err, review.ErrNotPending):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, storeStatus(err), err.Error())
	}
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.deps.Store.ListItems(r.Context(), engine.ItemFilter{
		Source: r.URL.Query().Get("source"),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, storeStatus(err), "failed to list items")
		return
	}
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, newItemView(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = v
	}
	hits, err := s.deps.Search.Search(r.Context(), query, k)
	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "q is required")
			return
		}
		s.logger.Error("semantic search failed", zap.String("query", query), zap.Error(err))
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}
	results := make([]searchHit, 0, len(hits))
	for _, hit := range hits {
		results = append(results, searchHit{Distance: hit.Distance, Item: newItemView(hit.Item)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": results})
}

func sourceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "source_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(limit, maxListLimit), nil
}

func validateSource(src engine.Source) error {
	switch {
	case src.Name == "":
		return errors.New("name required")
	case src.URL == "":
		return errors.New("url required")
	case !strings.HasPrefix(src.URL, "http://") && !strings.HasPrefix(src.URL, "https://"):
		return errors.New("url must be http or https")
	case src.ParserType == "":
		return errors.New("parser_type required")
	}
	return nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
