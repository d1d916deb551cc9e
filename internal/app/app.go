// Package app builds the long-lived services from configuration and runs them.
// It is the only place that chooses concrete backends.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/synthesis-engine/internal/analysis"
	"github.com/JakeFAU/synthesis-engine/internal/api"
	"github.com/JakeFAU/synthesis-engine/internal/clock/system"
	"github.com/JakeFAU/synthesis-engine/internal/config"
	"github.com/JakeFAU/synthesis-engine/internal/discovery"
	"github.com/JakeFAU/synthesis-engine/internal/dispatcher"
	"github.com/JakeFAU/synthesis-engine/internal/embedding"
	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/failtrack"
	collyfetcher "github.com/JakeFAU/synthesis-engine/internal/fetcher/colly"
	"github.com/JakeFAU/synthesis-engine/internal/hash/sha256"
	"github.com/JakeFAU/synthesis-engine/internal/healer"
	"github.com/JakeFAU/synthesis-engine/internal/id/uuid"
	"github.com/JakeFAU/synthesis-engine/internal/ingest"
	"github.com/JakeFAU/synthesis-engine/internal/kv"
	kvmemory "github.com/JakeFAU/synthesis-engine/internal/kv/memory"
	kvredis "github.com/JakeFAU/synthesis-engine/internal/kv/redis"
	"github.com/JakeFAU/synthesis-engine/internal/llm"
	"github.com/JakeFAU/synthesis-engine/internal/metrics"
	"github.com/JakeFAU/synthesis-engine/internal/parser"
	"github.com/JakeFAU/synthesis-engine/internal/queue"
	queueMemory "github.com/JakeFAU/synthesis-engine/internal/queue/memory"
	"github.com/JakeFAU/synthesis-engine/internal/ratelimit"
	"github.com/JakeFAU/synthesis-engine/internal/retrieval"
	"github.com/JakeFAU/synthesis-engine/internal/review"
	"github.com/JakeFAU/synthesis-engine/internal/sandbox"
	"github.com/JakeFAU/synthesis-engine/internal/schedule"
	"github.com/JakeFAU/synthesis-engine/internal/search"
	gcsstorage "github.com/JakeFAU/synthesis-engine/internal/storage/gcs"
	localstorage "github.com/JakeFAU/synthesis-engine/internal/storage/local"
	memoryStorage "github.com/JakeFAU/synthesis-engine/internal/storage/memory"
	pgstore "github.com/JakeFAU/synthesis-engine/internal/storage/postgres"
	vectormemory "github.com/JakeFAU/synthesis-engine/internal/vectorindex/memory"
	vectoropensearch "github.com/JakeFAU/synthesis-engine/internal/vectorindex/opensearch"
	"github.com/JakeFAU/synthesis-engine/internal/worker"
)

// Errors returned when an operation needs a service that is not configured.
var (
	ErrLLMDisabled       = errors.New("llm.api_key is required for this operation")
	ErrDiscoveryDisabled = errors.New("search.api_key and search.engine_id are required for discovery")
)

// Option customizes Build. Tests use options to replace external services.
type Option func(*options)

type options struct {
	generator     llm.Generator
	docEmbedder   engine.Embedder
	queryEmbedder engine.Embedder
	searcher      search.Searcher
	clock         engine.Clock
}

// WithGenerator replaces the Gemini text client.
func WithGenerator(gen llm.Generator) Option {
	return func(o *options) { o.generator = gen }
}

// WithEmbedders replaces the document and query embedders.
func WithEmbedders(doc, query engine.Embedder) Option {
	return func(o *options) {
		o.docEmbedder = doc
		o.queryEmbedder = query
	}
}

// WithSearcher replaces the web search client.
func WithSearcher(s search.Searcher) Option {
	return func(o *options) { o.searcher = s }
}

// WithClock replaces the system clock.
func WithClock(c engine.Clock) Option {
	return func(o *options) { o.clock = c }
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  engine.Clock
	ids    engine.IDGenerator

	store       engine.Store
	pgStore     *pgstore.Store
	kv          kv.Store
	redis       *kvredis.Store
	queue       engine.Queue
	memQueue    *queueMemory.Queue
	pubsubQueue *queue.PubSubQueue
	blobs       engine.BlobStore
	gcsClient   *storage.Client
	index       engine.VectorIndex

	orchestrator *ingest.Orchestrator
	review       *review.Service
	pipeline     *analysis.Pipeline
	healer       *healer.Healer
	discoverer   *discovery.Discoverer
	retrieval    *retrieval.Service
	pool         *dispatcher.Dispatcher
	apiServer    *api.Server

	closeOnce sync.Once
}

// Build creates the application's dependencies. Backends that fail to
// initialize abort the build; services that merely lack credentials are left
// disabled and report it when used.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger, clock: o.clock, ids: uuid.New()}
	logger.Info("building application dependencies",
		zap.String("store", cfg.StoreBackend()),
		zap.String("kv", cfg.KVBackend()),
		zap.String("queue", cfg.Queue.Backend),
		zap.String("vector", cfg.Vector.Backend),
		zap.String("storage", cfg.Storage.Backend),
	)

	steps := []func(context.Context) error{a.setupStore, a.setupKV, a.setupQueue, a.setupBlobs, a.setupIndex}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := a.setupServices(ctx, o); err != nil {
		a.Close()
		return nil, err
	}

	a.apiServer = api.NewServer(api.Deps{
		Store:     a.store,
		Queue:     a.queue,
		Cycles:    a.orchestrator,
		Discovery: discoveryRunner(a.Discover),
		Review:    a.review,
		Search:    a,
		IDs:       a.ids,
		Clock:     a.clock,
		Ready:     a.Ready,
	}, api.Options{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, logger)
	return a, nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.StoreBackend() == config.BackendMemory {
		a.logger.Warn("no db.dsn configured, using in-memory store")
		a.store = memoryStorage.NewStore()
		return nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pgStore = pg
	a.store = pg
	a.logger.Info("postgres store initialized")
	return nil
}

func (a *App) setupKV(ctx context.Context) error {
	if a.cfg.KVBackend() == config.BackendMemory {
		a.logger.Warn("no redis.addr configured, rate limits and failure counters are process-local")
		a.kv = kvmemory.New(a.clock.Now)
		return nil
	}
	store, err := kvredis.New(ctx, kvredis.Config{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	a.redis = store
	a.kv = store
	a.logger.Info("redis key-value store initialized", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

func (a *App) setupQueue(ctx context.Context) error {
	if a.cfg.Queue.Backend != config.BackendPubSub {
		a.memQueue = queueMemory.NewQueue(a.cfg.Queue.Depth)
		a.queue = a.memQueue
		return nil
	}
	q, err := queue.NewPubSubQueue(ctx, queue.PubSubConfig{
		ProjectID:    a.cfg.Queue.ProjectID,
		Topic:        a.cfg.Queue.Topic,
		Subscription: a.cfg.Queue.Subscription,
		Buffer:       a.cfg.Worker.Concurrency * 2,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("pubsub queue init failed: %w", err)
	}
	a.pubsubQueue = q
	a.queue = q
	a.logger.Info("Pub/Sub task queue initialized",
		zap.String("project", a.cfg.Queue.ProjectID),
		zap.String("topic", a.cfg.Queue.Topic),
		zap.String("subscription", a.cfg.Queue.Subscription),
	)
	return nil
}

func (a *App) setupBlobs(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS snapshot storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.BackendLocal:
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Dir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local snapshot storage", zap.String("path", a.cfg.Storage.Dir))
	default:
		a.logger.Info("using in-memory snapshot storage")
		a.blobs = memoryStorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupIndex(ctx context.Context) error {
	if a.cfg.Vector.Backend != config.BackendOpenSearch {
		a.logger.Warn("using in-memory vector index, embeddings are lost on restart")
		a.index = vectormemory.New()
		return nil
	}
	client, err := vectoropensearch.NewClient(vectoropensearch.Config{
		Addresses: a.cfg.Vector.Addresses,
		Username:  a.cfg.Vector.Username,
		Password:  a.cfg.Vector.Password,
		Insecure:  a.cfg.Vector.Insecure,
	})
	if err != nil {
		return fmt.Errorf("opensearch client init failed: %w", err)
	}
	idx := vectoropensearch.New(client, a.cfg.Vector.Index, a.cfg.Embedding.Dimensions)
	if err := idx.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("opensearch index init failed: %w", err)
	}
	a.index = idx
	a.logger.Info("opensearch vector index ready", zap.String("index", a.cfg.Vector.Index))
	return nil
}

func (a *App) setupServices(ctx context.Context, o options) error {
	cfg := a.cfg
	hostLimiter := ratelimit.NewHostLimiter(ratelimit.HostConfig{RPS: cfg.Fetch.HostRPS, Burst: cfg.Fetch.HostBurst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
	}, hostLimiter, a.logger)

	llmGate, err := ratelimit.New(a.kv, ratelimit.Config{
		Name:   "llm",
		Limit:  cfg.LLM.RateLimit,
		Period: cfg.LLM.RatePeriod,
	}, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("llm rate limiter init failed: %w", err)
	}
	searchGate, err := ratelimit.New(a.kv, ratelimit.Config{
		Name:   "search",
		Limit:  cfg.Search.RateLimit,
		Period: cfg.Search.RatePeriod,
	}, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("search rate limiter init failed: %w", err)
	}
	tracker, err := failtrack.New(a.kv, failtrack.Config{Threshold: cfg.Ingest.HealThreshold, TTL: cfg.Ingest.FailureTTL})
	if err != nil {
		return fmt.Errorf("failure tracker init failed: %w", err)
	}

	evaluator := sandbox.New(sandbox.Config{Timeout: cfg.Healer.SandboxTimeout})
	registry := parser.NewDefaultRegistry(fetcher)
	loader := parser.NewLoader(registry, a.store, evaluator, fetcher, a.clock, a.logger)
	a.orchestrator = ingest.New(a.store, a.store, loader, tracker, a.queue, a.ids, a.clock, ingest.Config{
		MaxResults:    cfg.Ingest.MaxResults,
		AllowEmpty:    !cfg.Ingest.EmptyIsFailure,
		SourceTimeout: cfg.Ingest.SourceTimeout,
	}, a.logger)
	a.review = review.New(a.store, evaluator, a.clock, a.logger)

	gen, docEmbedder, queryEmbedder, err := a.setupModels(ctx, o)
	if err != nil {
		return err
	}
	if queryEmbedder != nil {
		a.retrieval = retrieval.New(queryEmbedder, a.index, a.store, a.logger)
	}
	if gen == nil || docEmbedder == nil {
		a.logger.Warn("llm.api_key not configured, analysis, healing and discovery are disabled")
		return nil
	}

	a.pipeline = analysis.New(a.store, llm.NewAnalyzer(gen, cfg.LLM.Model), llmGate,
		docEmbedder, a.index, a.ids, a.clock, a.logger)
	a.healer = healer.New(healer.Deps{
		Sources:   a.store,
		Proposals: a.store,
		Reports:   a.store,
		Fetcher:   fetcher,
		Blobs:     a.blobs,
		Hasher:    sha256.New(),
		Synth:     llm.NewRepairer(gen, cfg.LLM.Model, sandbox.DefaultAllowedPackages),
		Runner:    evaluator,
		Gate:      llmGate,
		IDs:       a.ids,
		Clock:     a.clock,
	}, healer.Config{
		MaxIterations: cfg.Healer.MaxIterations,
		MaxPageBytes:  cfg.Healer.MaxPageBytes,
		SampleSize:    cfg.Healer.SampleSize,
		Limit:         cfg.Ingest.MaxResults,
	}, a.logger)

	handlers := map[engine.TaskKind]worker.Handler{
		engine.TaskAnalyze: a.pipeline,
		engine.TaskHeal:    a.healer,
	}
	a.pool = dispatcher.NewPool(a.queue, cfg.Worker.Concurrency, handlers, worker.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		RetryDelay:  cfg.Worker.RetryDelay,
	}, a.logger.Named("worker"))

	searcher := o.searcher
	if searcher == nil && cfg.Search.APIKey != "" && cfg.Search.EngineID != "" {
		searcher, err = search.NewGoogle(ctx, search.Config{APIKey: cfg.Search.APIKey, EngineID: cfg.Search.EngineID})
		if err != nil {
			return fmt.Errorf("search client init failed: %w", err)
		}
	}
	if searcher == nil {
		a.logger.Warn("web search not configured, discovery is disabled")
		return nil
	}
	a.discoverer = discovery.New(a.store, searcher, llm.NewClassifier(gen, cfg.LLM.ClassifierModel),
		searchGate, llmGate, discovery.Config{
			Queries:         cfg.Discovery.Queries,
			ResultsPerQuery: cfg.Discovery.ResultsPerQuery,
			OnePerSite:      cfg.Discovery.OnePerSite,
		}, a.logger)
	return nil
}

func (a *App) setupModels(ctx context.Context, o options) (llm.Generator, engine.Embedder, engine.Embedder, error) {
	gen, doc, query := o.generator, o.docEmbedder, o.queryEmbedder
	if a.cfg.LLM.APIKey == "" {
		return gen, doc, query, nil
	}
	client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{APIKey: a.cfg.LLM.APIKey, Model: a.cfg.LLM.Model})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("gemini client init failed: %w", err)
	}
	if gen == nil {
		gen = client
	}
	if doc == nil || query == nil {
		embedder, err := embedding.NewGenAIEmbedder(client.Client(), embedding.Config{
			Model:      a.cfg.Embedding.Model,
			Dimensions: a.cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("embedder init failed: %w", err)
		}
		if doc == nil {
			doc = embedder
		}
		if query == nil {
			query = embedder.ForQueries()
		}
	}
	a.logger.Info("gemini models configured",
		zap.String("model", a.cfg.LLM.Model),
		zap.String("classifier_model", a.cfg.LLM.ClassifierModel),
		zap.String("embedding_model", a.cfg.Embedding.Model),
	)
	return gen, doc, query, nil
}

// Store exposes the relational store.
func (a *App) Store() engine.Store {
	return a.store
}

// Review exposes the proposal review service.
func (a *App) Review() *review.Service {
	return a.review
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Ready reports whether the backing services answer.
func (a *App) Ready(ctx context.Context) error {
	if a.pgStore != nil {
		if err := a.pgStore.Ping(ctx); err != nil {
			return fmt.Errorf("postgres not ready: %w", err)
		}
	}
	return nil
}

// Run serves the HTTP API, runs the worker pool and the interval triggers,
// and blocks until ctx is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a.pool == nil {
		return ErrLLMDisabled
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("worker pool started", zap.Int("workers", a.pool.Size()))
		a.pool.Run(gctx)
		return nil
	})
	if a.pubsubQueue != nil {
		g.Go(func() error { return a.pubsubQueue.Run(gctx) })
	}
	g.Go(func() error {
		schedule.Every(gctx, schedule.Job{
			Name:      "ingest",
			Interval:  a.cfg.Ingest.Interval,
			Immediate: true,
			Run: func(ctx context.Context) error {
				_, err := a.orchestrator.RunCycle(ctx)
				return err
			},
		}, a.logger)
		return nil
	})
	if a.discoverer != nil {
		g.Go(func() error {
			schedule.Every(gctx, schedule.Job{
				Name:     "discovery",
				Interval: a.cfg.Discovery.Interval,
				Run: func(ctx context.Context) error {
					_, err := a.discoverer.Run(ctx)
					return err
				},
			}, a.logger)
			return nil
		})
	}

	err := g.Wait()
	a.apiServer.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunCycle runs one ingestion cycle. With the in-memory queue the worker pool
// runs alongside and the call returns once every dispatched task finished;
// with Pub/Sub the tasks are left for the serving workers. The in-memory
// queue is closed afterwards, so RunCycle is a one-shot call.
func (a *App) RunCycle(ctx context.Context) (ingest.Summary, error) {
	if a.memQueue == nil {
		return a.orchestrator.RunCycle(ctx)
	}
	if a.pool == nil {
		return ingest.Summary{}, ErrLLMDisabled
	}
	done := make(chan struct{})
	go func() {
		a.pool.Run(ctx)
		close(done)
	}()
	summary, err := a.orchestrator.RunCycle(ctx)
	a.memQueue.Close()
	<-done
	return summary, err
}

// Discover performs one discovery pass.
func (a *App) Discover(ctx context.Context) (discovery.Result, error) {
	if a.discoverer == nil {
		return discovery.Result{}, ErrDiscoveryDisabled
	}
	return a.discoverer.Run(ctx)
}

type discoveryRunner func(ctx context.Context) (discovery.Result, error)

func (f discoveryRunner) Run(ctx context.Context) (discovery.Result, error) {
	return f(ctx)
}

// Search answers a semantic query.
func (a *App) Search(ctx context.Context, query string, k int) ([]retrieval.Hit, error) {
	if a.retrieval == nil {
		return nil, ErrLLMDisabled
	}
	return a.retrieval.Search(ctx, query, k)
}

// Heal runs the repair loop for one source synchronously.
func (a *App) Heal(ctx context.Context, sourceID int64) (healer.Result, error) {
	if a.healer == nil {
		return healer.Result{}, ErrLLMDisabled
	}
	return a.healer.Heal(ctx, sourceID)
}

// Migrate creates the relational schema. The in-memory store needs none.
func (a *App) Migrate(ctx context.Context) error {
	if a.pgStore == nil {
		a.logger.Info("in-memory store selected, nothing to migrate")
		return nil
	}
	if err := a.pgStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema migrated")
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.memQueue != nil {
			a.memQueue.Close()
		}
		if a.pubsubQueue != nil {
			if err := a.pubsubQueue.Close(); err != nil {
				a.logger.Warn("pubsub queue close failed", zap.Error(err))
			}
		}
		if a.gcsClient != nil {
			if err := a.gcsClient.Close(); err != nil {
				a.logger.Warn("gcs client close failed", zap.Error(err))
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.logger.Warn("redis close failed", zap.Error(err))
			}
		}
		if a.pgStore != nil {
			a.pgStore.Close()
		}
		a.logger.Info("shutdown complete")
	})
}
