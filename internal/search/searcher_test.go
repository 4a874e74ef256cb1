package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/openbrief/article-resolver/internal/core/domain"
	"github.com/openbrief/article-resolver/internal/core/embeddings"
)

type stubProvider struct {
	name      ProviderName
	results   []Result
	err       error
	available bool
	calls     int
}

func (p *stubProvider) Name() ProviderName { return p.name }

func (p *stubProvider) IsAvailable(_ context.Context) bool { return p.available }

func (p *stubProvider) Search(_ context.Context, _ string, _ int) ([]Result, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}

	return p.results, nil
}

func TestRegistryFallback(t *testing.T) {
	broken := &stubProvider{name: "broken", available: true, err: errors.New("boom")}
	offline := &stubProvider{name: "offline", available: false}
	working := &stubProvider{name: "working", available: true, results: []Result{{URL: "https://a.example/x"}}}

	r := NewRegistry()
	r.Register(broken)
	r.Register(offline)
	r.Register(working)

	results, name, err := r.SearchWithFallback(context.Background(), "q", 10)
	require.NoError(t, err)
	require.Equal(t, ProviderName("working"), name)
	require.Len(t, results, 1)
	require.Equal(t, 1, broken.calls)
	require.Zero(t, offline.calls)
}

func TestRegistryNoProviders(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "down", available: false})

	_, _, err := r.SearchWithFallback(context.Background(), "q", 10)
	require.ErrorIs(t, err, errNoProvidersAvailable)
}

func TestRegistryCircuitBreakerOpens(t *testing.T) {
	failing := &stubProvider{name: "failing", available: true, err: errors.New("boom")}

	r := NewRegistry()
	r.Register(failing)

	for range circuitBreakerThreshold {
		_, _, _ = r.SearchWithFallback(context.Background(), "q", 10)
	}

	require.Equal(t, circuitBreakerThreshold, failing.calls)

	// breaker is open now, the provider is not called again
	_, _, err := r.SearchWithFallback(context.Background(), "q", 10)
	require.ErrorIs(t, err, errNoProvidersAvailable)
	require.Equal(t, circuitBreakerThreshold, failing.calls)
}

func newTestSearcher(t *testing.T, results []Result) *Searcher {
	t.Helper()

	r := NewRegistry()
	r.Register(&stubProvider{name: "stub", available: true, results: results})

	return NewSearcher(r, embeddings.NewMockClient(), nil, NewDomainFilter("", ""), Config{MaxResults: 10}, nil)
}

func TestSearcherBuildsPool(t *testing.T) {
	item := domain.SourceItem{
		ID:          "item-1",
		Title:       "Central bank raises rates",
		Description: "Quarter point increase announced this morning",
		URL:         "https://paywalled.example.com/original",
	}

	s := newTestSearcher(t, []Result{
		{URL: "https://free.example.org/rates", Title: "Bank raises rates", Description: "quarter point"},
		{URL: "https://free.example.org/rates", Title: "duplicate"},
		{URL: "https://paywalled.example.com/original", Title: "the source itself"},
		{URL: "https://twitter.com/bank/status/1", Title: "social"},
		{URL: "https://other.example.net/story", Title: "Rates up", Description: "central bank move"},
	})

	candidates, err := s.Search(context.Background(), item)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	for i, c := range candidates {
		require.Equal(t, item.ID, c.SourceItemID)
		require.Equal(t, domain.CandidateStatusPending, c.Status)
		require.Equal(t, i, c.Position)
		require.NotEmpty(t, c.ID)
		require.GreaterOrEqual(t, c.SimilarityScore, float32(0))
		require.LessOrEqual(t, c.SimilarityScore, float32(1))
	}

	require.Equal(t, "free.example.org", candidates[0].Domain)

	// the social result stays in the pool so the selector can drop it with a
	// recorded reason
	require.Equal(t, "twitter.com", candidates[1].Domain)
	require.Equal(t, "other.example.net", candidates[2].Domain)
}

func TestSearcherScalesProviderScores(t *testing.T) {
	s := newTestSearcher(t, []Result{
		{URL: "https://a.example/1", Title: "A", Score: 8},
		{URL: "https://b.example/2", Title: "B", Score: 4},
	})

	candidates, err := s.Search(context.Background(), domain.SourceItem{ID: "item-2", Title: "query"})
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	require.InDelta(t, 1.0, candidates[0].SimilarityScore, 0.001)
	require.InDelta(t, 0.5, candidates[1].SimilarityScore, 0.001)
}

func TestTruncateTextKeepsRuneBoundaries(t *testing.T) {
	require.Equal(t, "Привет", truncateText("Привет, мир", 6))
	require.Equal(t, "short", truncateText("short", 100))

	// a capped prefix must stay valid UTF-8
	require.True(t, utf8.ValidString(truncateText(strings.Repeat("ü", 40), 7)))
}
