package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/openbrief/article-resolver/internal/core/domain"
	"github.com/openbrief/article-resolver/internal/crawl"
	"github.com/openbrief/article-resolver/internal/platform/observability"
	"github.com/openbrief/article-resolver/internal/platform/worker"
	"github.com/openbrief/article-resolver/internal/verify"
)

const (
	defaultConcurrency      = 5
	defaultBatchSize        = 20
	defaultItemTimeout      = 5 * time.Minute
	defaultTransportRetries = 2
	defaultTransportBackoff = 2 * time.Second

	resultResolved  = "resolved"
	resultExhausted = "exhausted"
	resultError     = "error"
)

// ItemRepository is the slice of storage the resolver loop reads and claims
// work through.
type ItemRepository interface {
	ClaimUnsearchedItems(ctx context.Context, limit int) ([]domain.SourceItem, error)
	MarkItemSearched(ctx context.Context, id string) error
	SaveCandidates(ctx context.Context, candidates []domain.Candidate) error
	ClaimUnresolvedItems(ctx context.Context, limit int) ([]domain.SourceItem, error)
	CountUnresolvedItems(ctx context.Context) (int64, error)
	OpenCandidates(ctx context.Context, sourceItemID string) ([]domain.Candidate, error)
}

// Searcher builds the candidate pool for an item.
type Searcher interface {
	Search(ctx context.Context, item domain.SourceItem) ([]domain.Candidate, error)
}

// Crawler fetches and classifies one candidate page.
type Crawler interface {
	Crawl(ctx context.Context, rawURL, itemDescription string) (*crawl.Content, domain.FailureReason, error)
}

// Verifier decides whether crawled content covers the item's story.
type Verifier interface {
	Verify(ctx context.Context, sourceText, candidateText string) (verify.Decision, error)
}

// Config bounds the resolver's work per poll.
type Config struct {
	Concurrency      int
	BatchSize        int
	ItemTimeout      time.Duration
	TransportRetries int
	TransportBackoff time.Duration
}

// Resolver runs the pipeline: build pools for unsearched items, then work
// each unresolved item's candidate loop. Items run in parallel under a
// bounded pool; within one item the loop is strictly sequential because each
// step depends on the previous candidate's terminal outcome.
type Resolver struct {
	repo     ItemRepository
	searcher Searcher
	selector *Selector
	crawler  Crawler
	verifier Verifier
	recorder *Recorder
	cfg      Config
	logger   *zerolog.Logger
}

func NewResolver(repo ItemRepository, searcher Searcher, selector *Selector, crawler Crawler, verifier Verifier, recorder *Recorder, cfg Config, logger *zerolog.Logger) *Resolver {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}

	if cfg.TransportRetries < 0 {
		cfg.TransportRetries = defaultTransportRetries
	}

	if cfg.TransportBackoff <= 0 {
		cfg.TransportBackoff = defaultTransportBackoff
	}

	return &Resolver{
		repo:     repo,
		searcher: searcher,
		selector: selector,
		crawler:  crawler,
		verifier: verifier,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}
}

// ProcessBatch runs one poll: a search pass then a resolve pass. It returns
// the number of items worked on.
func (r *Resolver) ProcessBatch(ctx context.Context) (int, error) {
	searched, err := r.searchPass(ctx)
	if err != nil {
		return 0, err
	}

	resolved, err := r.resolvePass(ctx)
	if err != nil {
		return searched, err
	}

	if backlog, err := r.repo.CountUnresolvedItems(ctx); err == nil {
		observability.ResolveBacklog.Set(float64(backlog))
	}

	return searched + resolved, nil
}

// searchPass builds candidate pools for items that do not have one yet. A
// provider failure leaves the item unsearched so the next poll retries it.
func (r *Resolver) searchPass(ctx context.Context) (int, error) {
	items, err := r.repo.ClaimUnsearchedItems(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim unsearched items: %w", err)
	}

	for _, item := range items {
		candidates, err := r.searcher.Search(ctx, item)
		if err != nil {
			r.logger.Warn().Err(err).Str(logKeyItemID, item.ID).Msg("candidate search failed")

			continue
		}

		if err := r.repo.SaveCandidates(ctx, candidates); err != nil {
			return 0, fmt.Errorf("save candidates: %w", err)
		}

		if err := r.repo.MarkItemSearched(ctx, item.ID); err != nil {
			return 0, fmt.Errorf("mark item searched: %w", err)
		}
	}

	return len(items), nil
}

// resolvePass works the candidate loops of claimed items in parallel. One
// item's failure never aborts its siblings.
func (r *Resolver) resolvePass(ctx context.Context) (int, error) {
	items, err := r.repo.ClaimUnresolvedItems(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim unresolved items: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, item := range items {
		g.Go(func() error {
			return worker.RunWithTimeout(gctx, r.cfg.ItemTimeout, func(ctx context.Context) error {
				result := r.resolveItemGuarded(ctx, item)
				observability.ItemsProcessed.WithLabelValues(result).Inc()

				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return len(items), fmt.Errorf("resolve pass: %w", err)
	}

	return len(items), nil
}

func (r *Resolver) resolveItemGuarded(ctx context.Context, item domain.SourceItem) (result string) {
	// a recovered panic leaves the named result at its error value
	result = resultError

	start := time.Now()

	defer func() {
		observability.ItemResolveDuration.Observe(time.Since(start).Seconds())
	}()
	defer worker.RecoverPanic(r.logger, "resolve item "+item.ID)

	resolved, err := r.ResolveItem(ctx, item)

	switch {
	case err != nil:
		r.logger.Error().Err(err).Str(logKeyItemID, item.ID).Msg("item resolution failed")

		return resultError
	case resolved:
		return resultResolved
	default:
		return resultExhausted
	}
}

// ResolveItem runs the sequential candidate loop for one item. It reports
// whether a candidate was accepted; false with nil error means the pool was
// exhausted and the item stays unresolved. Candidates a previous run left in
// a non-terminal state re-enter the loop: flag_low at the terminal write,
// success at the verify step.
func (r *Resolver) ResolveItem(ctx context.Context, item domain.SourceItem) (bool, error) {
	candidates, err := r.repo.OpenCandidates(ctx, item.ID)
	if err != nil {
		return false, fmt.Errorf("load open candidates: %w", err)
	}

	pool := make([]domain.Candidate, 0, len(candidates))

	for _, c := range candidates {
		if c.Status == domain.CandidateStatusFlagLow {
			if err := r.recorder.RejectFlagged(ctx, c); err != nil {
				return false, fmt.Errorf("finish interrupted rejection: %w", err)
			}

			continue
		}

		pool = append(pool, c)
	}

	ranked, dropped, err := r.selector.Order(ctx, pool)
	if err != nil {
		return false, fmt.Errorf("order candidates: %w", err)
	}

	for _, drop := range dropped {
		if err := r.recorder.Fail(ctx, drop.Candidate, drop.Reason); err != nil {
			return false, fmt.Errorf("record dropped candidate: %w", err)
		}
	}

	for _, rc := range ranked {
		accepted, err := r.tryCandidate(ctx, item, rc.Candidate)
		if err != nil {
			return false, err
		}

		if accepted {
			return true, nil
		}
	}

	r.logger.Info().Str(logKeyItemID, item.ID).Int("pool_size", len(ranked)).
		Msg("candidate pool exhausted, item stays unresolved")

	return false, nil
}

// tryCandidate runs crawl, gate, and verification for one candidate and
// records its terminal outcome. It returns true only on acceptance. A
// candidate already in success was fetched by an earlier run; it skips the
// crawl and is verified against its stored content.
func (r *Resolver) tryCandidate(ctx context.Context, item domain.SourceItem, c domain.Candidate) (bool, error) {
	text := c.Content

	if c.Status == domain.CandidateStatusPending {
		content, reason := r.crawlWithRetry(ctx, c.URL, item.Description)
		if reason != "" {
			if err := r.recorder.Fail(ctx, c, reason); err != nil {
				return false, fmt.Errorf("record crawl failure: %w", err)
			}

			return false, nil
		}

		if err := r.recorder.Fetched(ctx, c, content.Text, content.HeroImageURL); err != nil {
			return false, fmt.Errorf("record fetched candidate: %w", err)
		}

		text = content.Text
	}

	decision, err := r.verifier.Verify(ctx, item.SearchText(), text)
	if err != nil {
		return false, fmt.Errorf("verify candidate %s: %w", c.ID, err)
	}

	if !decision.Accepted {
		if err := r.recorder.RejectVerified(ctx, c, decision); err != nil {
			return false, fmt.Errorf("record rejected candidate: %w", err)
		}

		return false, nil
	}

	if err := r.recorder.Accept(ctx, c, decision); err != nil {
		return false, fmt.Errorf("record accepted candidate: %w", err)
	}

	return true, nil
}

// crawlWithRetry retries the same candidate on transport failures only, with
// fibonacci backoff. Every other failure reason is terminal immediately.
func (r *Resolver) crawlWithRetry(ctx context.Context, rawURL, itemDescription string) (*crawl.Content, domain.FailureReason) {
	var (
		content *crawl.Content
		reason  domain.FailureReason
	)

	backoff := retry.WithMaxRetries(uint64(r.cfg.TransportRetries), retry.NewFibonacci(r.cfg.TransportBackoff))

	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error

		content, reason, err = r.crawler.Crawl(ctx, rawURL, itemDescription)
		if reason != "" && reason.Retryable() {
			return retry.RetryableError(fmt.Errorf("transport failure: %w", err))
		}

		return nil
	})

	return content, reason
}
