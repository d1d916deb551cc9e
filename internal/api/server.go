// Package api exposes the HTTP interface for the synthesis engine.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/discovery"
	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/ingest"
	"github.com/JakeFAU/synthesis-engine/internal/metrics"
	"github.com/JakeFAU/synthesis-engine/internal/retrieval"
)

// CycleRunner runs one ingestion cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (ingest.Summary, error)
}

// DiscoveryRunner runs one discovery pass.
type DiscoveryRunner interface {
	Run(ctx context.Context) (discovery.Result, error)
}

// Reviewer decides parser proposals.
type Reviewer interface {
	List(ctx context.Context, filter engine.ProposalFilter) ([]engine.ParserProposal, error)
	Get(ctx context.Context, id string) (engine.ParserProposal, error)
	Approve(ctx context.Context, id string) (engine.ParserProposal, error)
	Reject(ctx context.Context, id string) (engine.ParserProposal, error)
}

// SemanticSearcher answers semantic queries.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Hit, error)
}

// Deps are the collaborators behind the HTTP handlers.
type Deps struct {
	Store     engine.Store
	Queue     engine.Queue
	Cycles    CycleRunner
	Discovery DiscoveryRunner
	Review    Reviewer
	Search    SemanticSearcher
	IDs       engine.IDGenerator
	Clock     engine.Clock
	// Ready reports downstream readiness; nil means always ready.
	Ready func(ctx context.Context) error
}

// Options tunes middleware.
type Options struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the pipeline services.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger

	background   sync.WaitGroup
	cycleRunning atomic.Bool
	discovering  atomic.Bool
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/cycles", s.triggerCycle)
		r.Post("/discovery", s.triggerDiscovery)
		r.Route("/reports", func(r chi.Router) {
			r.Get("/cycles", s.listCycleReports)
			r.Get("/heals", s.listHealReports)
		})
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/", s.createSource)
			r.Route("/{source_id}", func(r chi.Router) {
				r.Get("/", s.getSource)
				r.Put("/", s.updateSource)
				r.Delete("/", s.deleteSource)
				r.Post("/heal", s.healSource)
			})
		})
		r.Route("/proposals", func(r chi.Router) {
			r.Get("/", s.listProposals)
			r.Route("/{proposal_id}", func(r chi.Router) {
				r.Get("/", s.getProposal)
				r.Post("/approve", s.approveProposal)
				r.Post("/reject", s.rejectProposal)
			})
		})
		r.Get("/items", s.listItems)
		r.Get("/search", s.search)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until background runs started through the API finish.
func (s *Server) Wait() {
	s.background.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// runBackground starts fn detached from the request unless flag shows a run
// already in flight.
func (s *Server) runBackground(r *http.Request, flag *atomic.Bool, name string, fn func(context.Context) error) bool {
	if !flag.CompareAndSwap(false, true) {
		return false
	}
	ctx := context.WithoutCancel(r.Context())
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer flag.Store(false)
		if err := fn(ctx); err != nil {
			s.logger.Error("background run failed", zap.String("run", name), zap.Error(err))
		}
	}()
	return true
}

func (s *Server) triggerCycle(w http.ResponseWriter, r *http.Request) {
	started := s.runBackground(r, &s.cycleRunning, "cycle", func(ctx context.Context) error {
		_, err := s.deps.Cycles.RunCycle(ctx)
		return err
	})
	if !started {
		writeError(w, http.StatusConflict, "an ingestion cycle is already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) triggerDiscovery(w http.ResponseWriter, r *http.Request) {
	started := s.runBackground(r, &s.discovering, "discovery", func(ctx context.Context) error {
		_, err := s.deps.Discovery.Run(ctx)
		return err
	})
	if !started {
		writeError(w, http.StatusConflict, "discovery is already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeStatus maps store sentinel errors onto HTTP status codes.
func storeStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
