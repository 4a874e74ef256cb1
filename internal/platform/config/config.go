// Package config loads runtime configuration from the environment.
// An optional .env file is honored for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	HealthPort  int    `env:"HEALTH_PORT" envDefault:"8080"`

	// Resolver worker pool
	ResolveConcurrency  int           `env:"RESOLVE_CONCURRENCY" envDefault:"5"`
	ResolveBatchSize    int           `env:"RESOLVE_BATCH_SIZE" envDefault:"20"`
	ResolvePollInterval time.Duration `env:"RESOLVE_POLL_INTERVAL" envDefault:"10s"`
	ItemTimeout         time.Duration `env:"ITEM_TIMEOUT" envDefault:"5m"`
	RunDeadline         time.Duration `env:"RUN_DEADLINE" envDefault:"0"`
	MaxItemsPerRun      int           `env:"MAX_ITEMS_PER_RUN" envDefault:"0"`

	// Crawler
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	FetchUserAgent     string        `env:"FETCH_USER_AGENT" envDefault:"Mozilla/5.0 (compatible; ArticleResolver/1.0)"`
	DomainMinInterval  time.Duration `env:"DOMAIN_MIN_INTERVAL" envDefault:"3s"`
	MaxContentLength   int           `env:"MAX_CONTENT_LENGTH" envDefault:"50000"`
	TransportRetries   int           `env:"TRANSPORT_RETRIES" envDefault:"2"`
	TransportBackoff   time.Duration `env:"TRANSPORT_BACKOFF" envDefault:"2s"`
	DenylistDomains    string        `env:"DENYLIST_DOMAINS" envDefault:""`
	AllowlistDomains   string        `env:"ALLOWLIST_DOMAINS" envDefault:""`

	// Verifier
	SimilarityThreshold float32       `env:"SIMILARITY_THRESHOLD" envDefault:"0.25"`
	SimilarityMaxChars  int           `env:"SIMILARITY_MAX_CHARS" envDefault:"2000"`
	JudgeMinScore       int           `env:"JUDGE_MIN_SCORE" envDefault:"6"`
	JudgeTimeout        time.Duration `env:"JUDGE_TIMEOUT" envDefault:"60s"`

	// Reputation / auto-blocking
	AutoBlockMinAttempts int           `env:"AUTOBLOCK_MIN_ATTEMPTS" envDefault:"5"`
	AutoBlockThreshold   float64       `env:"AUTOBLOCK_WILSON_THRESHOLD" envDefault:"0.15"`
	ReputationSweep      time.Duration `env:"REPUTATION_SWEEP_INTERVAL" envDefault:"1h"`

	// External capabilities
	LLMAPIKey          string        `env:"LLM_API_KEY,required"`
	LLMModel           string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel     string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingRateLimit int           `env:"EMBEDDING_RATE_LIMIT" envDefault:"5"`

	// Search providers
	SearchMaxResults int `env:"SEARCH_MAX_RESULTS" envDefault:"10"`

	GDELTEnabled        bool          `env:"GDELT_ENABLED" envDefault:"true"`
	GDELTRequestsPerMin int           `env:"GDELT_RPM" envDefault:"60"`
	GDELTTimeout        time.Duration `env:"GDELT_TIMEOUT" envDefault:"30s"`

	SearxNGEnabled bool          `env:"SEARXNG_ENABLED" envDefault:"false"`
	SearxNGBaseURL string        `env:"SEARXNG_BASE_URL" envDefault:"http://localhost:8888"`
	SearxNGTimeout time.Duration `env:"SEARXNG_TIMEOUT" envDefault:"30s"`
	SearxNGEngines string        `env:"SEARXNG_ENGINES" envDefault:""` // comma-separated, e.g. "google,duckduckgo"

	// Database pool
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"10"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"2"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	return cfg, nil
}
