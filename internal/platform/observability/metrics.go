package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_items_processed_total",
		Help: "The total number of source items processed by the resolver",
	}, []string{"result"})

	CandidatesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_candidates_finished_total",
		Help: "The total number of candidates reaching a terminal status",
	}, []string{"status"})

	CandidateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_candidate_failures_total",
		Help: "Total number of candidate failures by reason",
	}, []string{"reason"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resolver_fetch_duration_seconds",
		Help:    "Duration of candidate fetches",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	SearchRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resolver_search_request_duration_seconds",
		Help:    "Duration of search provider requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_search_requests_total",
		Help: "Total number of search provider requests",
	}, []string{"provider", "result"})

	SearchResults = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resolver_search_results",
		Help:    "Distribution of search result counts per query by provider",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	}, []string{"provider"})

	VerifierDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_verifier_decisions_total",
		Help: "Total number of verifier decisions by stage and outcome",
	}, []string{"stage", "decision"})

	JudgeRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resolver_judge_request_duration_seconds",
		Help:    "Duration of judgment LLM requests",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_embedding_requests_total",
		Help: "Total number of embedding requests",
	}, []string{"status"})

	ReputationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_reputation_outcomes_total",
		Help: "Total number of outcomes recorded against domains",
	}, []string{"outcome"})

	ReputationAutoBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_reputation_auto_blocks_total",
		Help: "Total number of domains auto-blocked by the reputation rule",
	})

	ResolveBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resolver_backlog_size",
		Help: "Number of unresolved source items with pending candidates",
	})

	ItemResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resolver_item_resolve_duration_seconds",
		Help:    "Duration of the full candidate loop for one source item",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	RateLimiterWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resolver_domain_rate_limit_wait_seconds",
		Help:    "Time spent waiting on per-domain rate limiting",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 3, 5, 10},
	})
)
