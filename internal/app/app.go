// Package app wires the application together and exposes its run modes:
//
//   - Resolver mode: the candidate search/crawl/verify loop over source items
//   - Sweep mode: periodic re-evaluation of the domain auto-block rule
//
// Both modes share the database, the reputation store, and the health server.
package app

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openbrief/article-resolver/internal/core/embeddings"
	"github.com/openbrief/article-resolver/internal/core/llm"
	"github.com/openbrief/article-resolver/internal/crawl"
	"github.com/openbrief/article-resolver/internal/platform/config"
	"github.com/openbrief/article-resolver/internal/platform/observability"
	"github.com/openbrief/article-resolver/internal/platform/worker"
	"github.com/openbrief/article-resolver/internal/reputation"
	"github.com/openbrief/article-resolver/internal/resolve"
	"github.com/openbrief/article-resolver/internal/search"
	"github.com/openbrief/article-resolver/internal/verify"
	db "github.com/openbrief/article-resolver/internal/storage"
)

const (
	workerNameResolver = "resolver"
	workerNameSweep    = "reputation-sweep"

	// llmAPIKeyMock selects the deterministic in-process clients, for local
	// runs without credentials.
	llmAPIKeyMock = "mock"
)

// App holds the application dependencies and provides methods to run modes.
type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger

	reputation *reputation.Store
	resolver   *resolve.Resolver
}

// New builds the full dependency graph.
func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) *App {
	repStore := reputation.NewStore(database, reputation.Config{
		MinAttempts:    cfg.AutoBlockMinAttempts,
		BlockThreshold: cfg.AutoBlockThreshold,
	}, logger)

	embClient := newEmbeddingClient(cfg)
	judge := newJudge(cfg, logger)

	filter := search.NewDomainFilter(cfg.AllowlistDomains, cfg.DenylistDomains)

	registry := search.NewRegistry()
	registry.Register(search.NewGDELTProvider(search.GDELTConfig{
		Enabled:        cfg.GDELTEnabled,
		RequestsPerMin: cfg.GDELTRequestsPerMin,
		Timeout:        cfg.GDELTTimeout,
	}))
	registry.Register(search.NewSearxNGProvider(search.SearxNGConfig{
		Enabled: cfg.SearxNGEnabled,
		BaseURL: cfg.SearxNGBaseURL,
		Timeout: cfg.SearxNGTimeout,
		Engines: splitEngines(cfg.SearxNGEngines),
	}))

	searcher := search.NewSearcher(registry, embClient, database, filter, search.Config{
		MaxResults:         cfg.SearchMaxResults,
		SimilarityMaxChars: cfg.SimilarityMaxChars,
	}, logger)

	crawler := crawl.NewCrawler(
		crawl.NewFetcher(crawl.FetcherConfig{
			Timeout:           cfg.FetchTimeout,
			UserAgent:         cfg.FetchUserAgent,
			DomainMinInterval: cfg.DomainMinInterval,
		}),
		crawl.NewExtractor(cfg.MaxContentLength),
		logger,
	)

	verifier := verify.New(embClient, judge, verify.Config{
		SimilarityThreshold: cfg.SimilarityThreshold,
		SimilarityMaxChars:  cfg.SimilarityMaxChars,
		JudgeMinScore:       cfg.JudgeMinScore,
		JudgeTimeout:        cfg.JudgeTimeout,
	}, logger)

	selector := resolve.NewSelector(repStore, filter, logger)
	recorder := resolve.NewRecorder(database, repStore, logger)

	resolver := resolve.NewResolver(database, searcher, selector, crawler, verifier, recorder, resolve.Config{
		Concurrency:      cfg.ResolveConcurrency,
		BatchSize:        cfg.ResolveBatchSize,
		ItemTimeout:      cfg.ItemTimeout,
		TransportRetries: cfg.TransportRetries,
		TransportBackoff: cfg.TransportBackoff,
	}, logger)

	return &App{
		cfg:        cfg,
		database:   database,
		logger:     logger,
		reputation: repStore,
		resolver:   resolver,
	}
}

// StartHealthServer starts the health check and metrics server.
func (a *App) StartHealthServer(ctx context.Context) error {
	return observability.NewServer(a.database, a.cfg.HealthPort, a.logger).Start(ctx)
}

// RunResolver runs the resolution loop. With once set it processes a single
// batch and returns; otherwise it polls until the context is canceled. The
// run deadline and the item cap both bound a continuous run.
func (a *App) RunResolver(ctx context.Context, once bool) error {
	if a.cfg.RunDeadline > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, a.cfg.RunDeadline)
		defer cancel()
	}

	if once {
		_, err := a.resolver.ProcessBatch(ctx)

		return err
	}

	processed := 0

	return worker.Loop(ctx, worker.Config{
		Name:         workerNameResolver,
		PollInterval: a.cfg.ResolvePollInterval,
		Logger:       a.logger,
		Process: func(ctx context.Context) error {
			n, err := a.resolver.ProcessBatch(ctx)
			if err != nil {
				return err
			}

			processed += n
			if a.cfg.MaxItemsPerRun > 0 && processed >= a.cfg.MaxItemsPerRun {
				return context.Canceled
			}

			return nil
		},
		PeriodicTasks: []worker.PeriodicTask{
			{
				Name:     workerNameSweep,
				Interval: a.cfg.ReputationSweep,
				Run: func(ctx context.Context) {
					if err := a.reputation.Sweep(ctx); err != nil {
						a.logger.Error().Err(err).Msg("reputation sweep failed")
					}
				},
			},
		},
		OnError: func(err error) bool {
			// the loop stops on cancellation, keeps going otherwise
			return !errors.Is(err, context.Canceled)
		},
	})
}

// RunSweep re-evaluates the auto-block rule over the whole ledger. With once
// set it runs a single sweep; otherwise it repeats on the sweep interval.
func (a *App) RunSweep(ctx context.Context, once bool) error {
	if once {
		return a.reputation.Sweep(ctx)
	}

	return worker.Loop(ctx, worker.Config{
		Name:         workerNameSweep,
		PollInterval: a.cfg.ReputationSweep,
		Logger:       a.logger,
		Process:      a.reputation.Sweep,
	})
}

func newEmbeddingClient(cfg *config.Config) embeddings.Client {
	if cfg.LLMAPIKey == llmAPIKeyMock {
		return embeddings.NewMockClient()
	}

	return embeddings.NewOpenAIClient(embeddings.OpenAIConfig{
		APIKey:    cfg.LLMAPIKey,
		Model:     cfg.EmbeddingModel,
		RateLimit: cfg.EmbeddingRateLimit,
	})
}

func newJudge(cfg *config.Config, logger *zerolog.Logger) llm.Judge {
	if cfg.LLMAPIKey == llmAPIKeyMock {
		return &llm.MockJudge{Verdict: llm.Judgment{SameEvent: true, Score: 8, Confidence: 0.5}}
	}

	return llm.NewOpenAIJudge(cfg.LLMAPIKey, cfg.LLMModel, logger)
}

func splitEngines(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	engines := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			engines = append(engines, p)
		}
	}

	return engines
}
