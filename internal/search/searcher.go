package search

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openbrief/article-resolver/internal/core/domain"
	"github.com/openbrief/article-resolver/internal/core/embeddings"
)

const (
	defaultMaxResults     = 10
	defaultSimilarityCap  = 2000
	logKeyItemID          = "item_id"
	logKeyProvider        = "provider"
	logKeyURL             = "url"
	logKeyResultCount     = "result_count"
	logKeyCandidateCount  = "candidate_count"
	logKeySimilarityScore = "similarity_score"
)

// Config tunes the candidate pool builder.
type Config struct {
	MaxResults         int
	SimilarityMaxChars int
}

// EmbeddingCache persists item embeddings so repeated scoring passes do not
// re-embed the same item text.
type EmbeddingCache interface {
	GetItemEmbedding(ctx context.Context, itemID string) ([]float32, error)
	SaveItemEmbedding(ctx context.Context, itemID string, embedding []float32) error
}

// Searcher turns one source item into a pool of pending candidates: it queries
// the provider registry, drops duplicates and filtered domains, and attaches a
// similarity score to every surviving result.
type Searcher struct {
	registry   *Registry
	embeddings embeddings.Client
	cache      EmbeddingCache
	filter     *DomainFilter
	cfg        Config
	logger     *zerolog.Logger
}

func NewSearcher(registry *Registry, embClient embeddings.Client, cache EmbeddingCache, filter *DomainFilter, cfg Config, logger *zerolog.Logger) *Searcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}

	if cfg.SimilarityMaxChars <= 0 {
		cfg.SimilarityMaxChars = defaultSimilarityCap
	}

	return &Searcher{
		registry:   registry,
		embeddings: embClient,
		cache:      cache,
		filter:     filter,
		cfg:        cfg,
		logger:     logger,
	}
}

// Search builds the candidate pool for an item. Returned candidates are
// pending, carry a similarity score in [0,1] and keep the provider's result
// order in Position.
func (s *Searcher) Search(ctx context.Context, item domain.SourceItem) ([]domain.Candidate, error) {
	results, providerName, err := s.registry.SearchWithFallback(ctx, item.Title, s.cfg.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("search providers: %w", err)
	}

	results = s.filterResults(item, results)

	scores, err := s.scoreResults(ctx, item, results)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(results))

	for i, res := range results {
		candidates = append(candidates, domain.Candidate{
			ID:              uuid.NewString(),
			SourceItemID:    item.ID,
			URL:             res.URL,
			Title:           res.Title,
			Domain:          resultDomain(res),
			SimilarityScore: scores[i],
			Status:          domain.CandidateStatusPending,
			Position:        i,
		})
	}

	s.logger.Debug().
		Str(logKeyItemID, item.ID).
		Str(logKeyProvider, string(providerName)).
		Int(logKeyResultCount, len(results)).
		Int(logKeyCandidateCount, len(candidates)).
		Msg("candidate pool built")

	return candidates, nil
}

// filterResults drops the source URL itself, duplicate URLs, and results whose
// domain is excluded by the configured filter.
func (s *Searcher) filterResults(item domain.SourceItem, results []Result) []Result {
	seen := make(map[string]bool, len(results))
	sourceKey := canonicalURLKey(item.URL)

	filtered := make([]Result, 0, len(results))

	for _, res := range results {
		key := canonicalURLKey(res.URL)
		if key == "" || key == sourceKey || seen[key] {
			continue
		}

		d := resultDomain(res)
		if s.filter != nil && !s.filter.IsAllowed(d) {
			s.logger.Debug().Str(logKeyURL, res.URL).Msg("result domain filtered")

			continue
		}

		seen[key] = true

		filtered = append(filtered, res)
	}

	return filtered
}

// scoreResults computes per-result similarity in [0,1]. Provider scores, when
// present, are scaled by the batch maximum; results without one are scored by
// embedding similarity of their title and snippet against the item text.
func (s *Searcher) scoreResults(ctx context.Context, item domain.SourceItem, results []Result) ([]float32, error) {
	scores := make([]float32, len(results))

	maxProviderScore := 0.0
	for _, res := range results {
		if res.Score > maxProviderScore {
			maxProviderScore = res.Score
		}
	}

	var itemVec []float32

	for i, res := range results {
		if res.Score > 0 && maxProviderScore > 0 {
			scores[i] = float32(res.Score / maxProviderScore)

			continue
		}

		if itemVec == nil {
			vec, err := s.itemEmbedding(ctx, item)
			if err != nil {
				return nil, fmt.Errorf("embed source item: %w", err)
			}

			itemVec = vec
		}

		resVec, err := s.embeddings.GetEmbedding(ctx, truncateText(resultText(res), s.cfg.SimilarityMaxChars))
		if err != nil {
			return nil, fmt.Errorf("embed search result: %w", err)
		}

		scores[i] = embeddings.CosineSimilarity(itemVec, resVec)

		s.logger.Debug().
			Str(logKeyURL, res.URL).
			Float32(logKeySimilarityScore, scores[i]).
			Msg("similarity backfilled")
	}

	return scores, nil
}

// itemEmbedding returns the item's vector, reusing the cached one when
// present. Cache errors are logged and fall back to a fresh embedding.
func (s *Searcher) itemEmbedding(ctx context.Context, item domain.SourceItem) ([]float32, error) {
	if s.cache != nil {
		cached, err := s.cache.GetItemEmbedding(ctx, item.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str(logKeyItemID, item.ID).Msg("failed to read cached embedding")
		} else if cached != nil {
			return cached, nil
		}
	}

	vec, err := s.embeddings.GetEmbedding(ctx, truncateText(item.SearchText(), s.cfg.SimilarityMaxChars))
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SaveItemEmbedding(ctx, item.ID, vec); err != nil {
			s.logger.Warn().Err(err).Str(logKeyItemID, item.ID).Msg("failed to cache embedding")
		}
	}

	return vec, nil
}

func resultDomain(res Result) string {
	if res.Domain != "" {
		return NormalizeDomain(res.Domain)
	}

	return ExtractDomain(res.URL)
}

func resultText(res Result) string {
	if res.Description == "" {
		return res.Title
	}

	return res.Title + "\n" + res.Description
}

// canonicalURLKey normalizes a URL for duplicate detection: scheme and
// fragment are ignored, host is lowercased and a trailing slash dropped.
func canonicalURLKey(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return ""
	}

	lower := strings.ToLower(trimmed)
	lower = strings.TrimPrefix(lower, "https://")
	lower = strings.TrimPrefix(lower, "http://")
	lower = strings.TrimPrefix(lower, "www.")

	if idx := strings.IndexByte(lower, '#'); idx >= 0 {
		lower = lower[:idx]
	}

	return strings.TrimSuffix(lower, "/")
}

// truncateText caps embedding input on a rune boundary so a multi-byte
// character is never split into invalid UTF-8.
func truncateText(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}

	return string([]rune(s)[:maxRunes])
}
