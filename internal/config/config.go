// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendRedis      = "redis"
	BackendPubSub     = "pubsub"
	BackendOpenSearch = "opensearch"
	BackendLocal      = "local"
	BackendGCS        = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Healer    HealerConfig    `mapstructure:"healer"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig points at the shared key-value store. An empty Addr selects the
// in-process store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig selects the task queue.
type QueueConfig struct {
	Backend      string `mapstructure:"backend"`
	Depth        int    `mapstructure:"depth"`
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// WorkerConfig sizes the worker pool and its retry policy.
type WorkerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// IngestConfig governs ingestion cycles.
type IngestConfig struct {
	MaxResults     int           `mapstructure:"max_results"`
	HealThreshold  int           `mapstructure:"heal_threshold"`
	FailureTTL     time.Duration `mapstructure:"failure_ttl"`
	EmptyIsFailure bool          `mapstructure:"empty_is_failure"`
	SourceTimeout  time.Duration `mapstructure:"source_timeout"`
	Interval       time.Duration `mapstructure:"interval"`
}

// DiscoveryConfig governs source discovery.
type DiscoveryConfig struct {
	Queries         []string      `mapstructure:"queries"`
	ResultsPerQuery int           `mapstructure:"results_per_query"`
	OnePerSite      bool          `mapstructure:"one_per_site"`
	Interval        time.Duration `mapstructure:"interval"`
}

// HealerConfig bounds the repair loop.
type HealerConfig struct {
	MaxIterations  int           `mapstructure:"max_iterations"`
	MaxPageBytes   int           `mapstructure:"max_page_bytes"`
	SampleSize     int           `mapstructure:"sample_size"`
	SandboxTimeout time.Duration `mapstructure:"sandbox_timeout"`
}

// LLMConfig configures the generation models and their shared rate limit.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	ClassifierModel string        `mapstructure:"classifier_model"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RatePeriod      time.Duration `mapstructure:"rate_period"`
}

// EmbeddingConfig selects the embedding model.
type EmbeddingConfig struct {
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// VectorConfig selects the vector index.
type VectorConfig struct {
	Backend   string   `mapstructure:"backend"`
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Insecure  bool     `mapstructure:"insecure"`
}

// SearchConfig configures the web search API used by discovery.
type SearchConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	EngineID   string        `mapstructure:"engine_id"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RatePeriod time.Duration `mapstructure:"rate_period"`
}

// FetchConfig tunes the page fetcher.
type FetchConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	HostRPS   float64       `mapstructure:"host_rps"`
	HostBurst int           `mapstructure:"host_burst"`
}

// StorageConfig selects where page snapshots are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.project_id", "")
	v.SetDefault("queue.topic", "synth-tasks")
	v.SetDefault("queue.subscription", "synth-tasks-workers")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.retry_delay", 60*time.Second)
	v.SetDefault("ingest.max_results", 8)
	v.SetDefault("ingest.heal_threshold", 2)
	v.SetDefault("ingest.failure_ttl", 24*time.Hour)
	v.SetDefault("ingest.empty_is_failure", true)
	v.SetDefault("ingest.source_timeout", 2*time.Minute)
	v.SetDefault("ingest.interval", time.Hour)
	v.SetDefault("discovery.queries", []string{})
	v.SetDefault("discovery.results_per_query", 10)
	v.SetDefault("discovery.one_per_site", true)
	v.SetDefault("discovery.interval", 24*time.Hour)
	v.SetDefault("healer.max_iterations", 5)
	v.SetDefault("healer.max_page_bytes", 48*1024)
	v.SetDefault("healer.sample_size", 3)
	v.SetDefault("healer.sandbox_timeout", 10*time.Second)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.classifier_model", "gemini-2.5-pro")
	v.SetDefault("llm.rate_limit", 10)
	v.SetDefault("llm.rate_period", time.Minute)
	v.SetDefault("embedding.model", "gemini-embedding-001")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("vector.backend", BackendMemory)
	v.SetDefault("vector.addresses", []string{"http://localhost:9200"})
	v.SetDefault("vector.index", "ai_progress")
	v.SetDefault("vector.username", "")
	v.SetDefault("vector.password", "")
	v.SetDefault("vector.insecure", false)
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.engine_id", "")
	v.SetDefault("search.rate_limit", 100)
	v.SetDefault("search.rate_period", 24*time.Hour)
	v.SetDefault("fetch.user_agent", "synthesis-engine/0.1")
	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.host_rps", 1.0)
	v.SetDefault("fetch.host_burst", 2)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.dir", "data/snapshots")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "synth")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be > 0"))
	}
	if c.Worker.MaxAttempts <= 0 {
		errs = append(errs, errors.New("worker.max_attempts must be > 0"))
	}
	if c.Ingest.HealThreshold <= 0 {
		errs = append(errs, errors.New("ingest.heal_threshold must be > 0"))
	}
	if c.Ingest.MaxResults <= 0 {
		errs = append(errs, errors.New("ingest.max_results must be > 0"))
	}
	if c.Healer.MaxIterations <= 0 {
		errs = append(errs, errors.New("healer.max_iterations must be > 0"))
	}
	if c.LLM.RateLimit <= 0 || c.LLM.RatePeriod <= 0 {
		errs = append(errs, errors.New("llm.rate_limit and llm.rate_period must be > 0"))
	}
	if c.Search.RateLimit <= 0 || c.Search.RatePeriod <= 0 {
		errs = append(errs, errors.New("search.rate_limit and search.rate_period must be > 0"))
	}
	switch c.Queue.Backend {
	case BackendMemory:
		if c.Queue.Depth <= 0 {
			errs = append(errs, errors.New("queue.depth must be > 0"))
		}
	case BackendPubSub:
		if c.Queue.ProjectID == "" || c.Queue.Topic == "" || c.Queue.Subscription == "" {
			errs = append(errs, errors.New("queue.project_id, queue.topic and queue.subscription are required for pubsub"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend))
	}
	switch c.Vector.Backend {
	case BackendMemory:
	case BackendOpenSearch:
		if len(c.Vector.Addresses) == 0 || c.Vector.Index == "" {
			errs = append(errs, errors.New("vector.addresses and vector.index are required for opensearch"))
		}
	default:
		errs = append(errs, fmt.Errorf("vector.backend %q is not supported", c.Vector.Backend))
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for local storage"))
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for gcs storage"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

// StoreBackend reports which relational store the DSN selects.
func (c Config) StoreBackend() string {
	if c.DB.DSN == "" {
		return BackendMemory
	}
	return BackendPostgres
}

// KVBackend reports which key-value store the Redis address selects.
func (c Config) KVBackend() string {
	if c.Redis.Addr == "" {
		return BackendMemory
	}
	return BackendRedis
}
