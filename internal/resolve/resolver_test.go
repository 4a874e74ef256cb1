package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openbrief/article-resolver/internal/core/domain"
	"github.com/openbrief/article-resolver/internal/crawl"
	"github.com/openbrief/article-resolver/internal/reputation"
	"github.com/openbrief/article-resolver/internal/search"
	"github.com/openbrief/article-resolver/internal/verify"
)

// fakeStore is an in-memory stand-in for storage and the reputation store.
type fakeStore struct {
	items      map[string]domain.SourceItem
	candidates map[string]*domain.Candidate

	weights  map[string]float64
	blocked  map[string]bool
	outcomes []reputation.Outcome

	accepted map[string]string // source item id -> accepted candidate id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:      map[string]domain.SourceItem{},
		candidates: map[string]*domain.Candidate{},
		weights:    map[string]float64{},
		blocked:    map[string]bool{},
		accepted:   map[string]string{},
	}
}

func (f *fakeStore) addItem(item domain.SourceItem, candidates ...domain.Candidate) {
	f.items[item.ID] = item

	for i := range candidates {
		c := candidates[i]
		c.SourceItemID = item.ID

		if c.Status == "" {
			c.Status = domain.CandidateStatusPending
		}

		f.candidates[c.ID] = &c
	}
}

// ItemRepository

func (f *fakeStore) ClaimUnsearchedItems(_ context.Context, _ int) ([]domain.SourceItem, error) {
	return nil, nil
}

func (f *fakeStore) MarkItemSearched(_ context.Context, _ string) error { return nil }

func (f *fakeStore) SaveCandidates(_ context.Context, _ []domain.Candidate) error { return nil }

func (f *fakeStore) ClaimUnresolvedItems(_ context.Context, _ int) ([]domain.SourceItem, error) {
	items := []domain.SourceItem{}

	for _, item := range f.items {
		if !item.Resolved {
			items = append(items, item)
		}
	}

	return items, nil
}

func (f *fakeStore) CountUnresolvedItems(_ context.Context) (int64, error) { return 0, nil }

func (f *fakeStore) OpenCandidates(_ context.Context, sourceItemID string) ([]domain.Candidate, error) {
	out := []domain.Candidate{}

	for _, c := range f.candidates {
		if c.SourceItemID != sourceItemID {
			continue
		}

		switch c.Status {
		case domain.CandidateStatusPending, domain.CandidateStatusSuccess, domain.CandidateStatusFlagLow:
			out = append(out, *c)
		}
	}

	return out, nil
}

// CandidateRepository

func (f *fakeStore) MarkCandidateFetched(_ context.Context, id, content, heroImageURL string) error {
	c := f.candidates[id]
	c.Status = domain.CandidateStatusSuccess
	c.Content = content
	c.HeroImageURL = heroImageURL

	return nil
}

func (f *fakeStore) MarkCandidateFlag(_ context.Context, id string, status domain.CandidateStatus, relevance float32, sameEvent bool, judgeScore int) error {
	c := f.candidates[id]
	c.Status = status
	c.RelevanceScore = relevance
	c.SameEvent = sameEvent
	c.JudgeScore = judgeScore

	return nil
}

func (f *fakeStore) FinishCandidate(_ context.Context, id string, status domain.CandidateStatus, reason domain.FailureReason) error {
	c := f.candidates[id]
	c.Status = status
	c.FailureReason = reason

	return nil
}

func (f *fakeStore) AcceptCandidate(_ context.Context, sourceItemID, candidateID string) error {
	f.candidates[candidateID].Status = domain.CandidateStatusAccepted
	f.accepted[sourceItemID] = candidateID

	item := f.items[sourceItemID]
	item.Resolved = true
	f.items[sourceItemID] = item

	for _, c := range f.candidates {
		if c.SourceItemID == sourceItemID && c.ID != candidateID {
			switch c.Status {
			case domain.CandidateStatusPending, domain.CandidateStatusSuccess, domain.CandidateStatusFlagOK:
				c.Status = domain.CandidateStatusSkipped
			}
		}
	}

	return nil
}

// ReputationReader / ReputationRecorder

func (f *fakeStore) IsBlocked(_ context.Context, name string) (bool, error) {
	return f.blocked[name], nil
}

func (f *fakeStore) Weight(_ context.Context, name string) (float64, error) {
	if w, ok := f.weights[name]; ok {
		return w, nil
	}

	return 0.5, nil
}

func (f *fakeStore) RecordOutcome(_ context.Context, outcome reputation.Outcome) (*domain.DomainReputation, error) {
	f.outcomes = append(f.outcomes, outcome)

	return &domain.DomainReputation{Domain: outcome.Domain}, nil
}

// scriptedCrawler returns per-URL results.
type scriptedCrawler struct {
	byURL map[string]crawlResult
	calls map[string]int
}

type crawlResult struct {
	content *crawl.Content
	reason  domain.FailureReason
	err     error
}

func (s *scriptedCrawler) Crawl(_ context.Context, rawURL, _ string) (*crawl.Content, domain.FailureReason, error) {
	if s.calls == nil {
		s.calls = map[string]int{}
	}

	s.calls[rawURL]++

	res := s.byURL[rawURL]

	return res.content, res.reason, res.err
}

// scriptedVerifier returns per-candidate-text decisions.
type scriptedVerifier struct {
	byText map[string]verify.Decision
	err    error
}

func (s *scriptedVerifier) Verify(_ context.Context, _, candidateText string) (verify.Decision, error) {
	if s.err != nil {
		return verify.Decision{}, s.err
	}

	return s.byText[candidateText], nil
}

type noSearcher struct{}

func (noSearcher) Search(_ context.Context, _ domain.SourceItem) ([]domain.Candidate, error) {
	return nil, nil
}

func newTestResolver(store *fakeStore, crawler Crawler, verifier Verifier) *Resolver {
	selector := NewSelector(store, search.NewDomainFilter("", ""), nil)
	recorder := NewRecorder(store, store, nil)

	return NewResolver(store, noSearcher{}, selector, crawler, verifier, recorder, Config{
		TransportBackoff: time.Millisecond,
	}, nil)
}

func TestSelectorPriorityOrdering(t *testing.T) {
	store := newFakeStore()
	store.weights["a.example"] = 0.8
	store.weights["b.example"] = 0.9
	store.weights["c.example"] = 0.5

	candidates := []domain.Candidate{
		{ID: "c-c", Domain: "c.example", SimilarityScore: 0.5, Position: 0, Status: domain.CandidateStatusPending},
		{ID: "c-a", Domain: "a.example", SimilarityScore: 0.9, Position: 1, Status: domain.CandidateStatusPending},
		{ID: "c-b", Domain: "b.example", SimilarityScore: 0.7, Position: 2, Status: domain.CandidateStatusPending},
	}

	selector := NewSelector(store, search.NewDomainFilter("", ""), nil)

	ranked, dropped, err := selector.Order(context.Background(), candidates)
	require.NoError(t, err)
	require.Empty(t, dropped)
	require.Len(t, ranked, 3)

	require.Equal(t, "c-a", ranked[0].Candidate.ID)
	require.InDelta(t, 0.72, ranked[0].Priority, 0.001)
	require.Equal(t, "c-b", ranked[1].Candidate.ID)
	require.InDelta(t, 0.63, ranked[1].Priority, 0.001)
	require.Equal(t, "c-c", ranked[2].Candidate.ID)
	require.InDelta(t, 0.25, ranked[2].Priority, 0.001)
}

func TestSelectorDrops(t *testing.T) {
	store := newFakeStore()
	store.blocked["blocked.example"] = true

	candidates := []domain.Candidate{
		{ID: "c-1", Domain: "blocked.example", SimilarityScore: 0.9, Status: domain.CandidateStatusPending},
		{ID: "c-2", Domain: "twitter.com", SimilarityScore: 0.8, Status: domain.CandidateStatusPending},
		{ID: "c-3", Domain: "fine.example", SimilarityScore: 0.7, Status: domain.CandidateStatusPending},
	}

	selector := NewSelector(store, search.NewDomainFilter("", ""), nil)

	ranked, dropped, err := selector.Order(context.Background(), candidates)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	require.Equal(t, "c-3", ranked[0].Candidate.ID)

	require.Len(t, dropped, 2)

	reasons := map[string]domain.FailureReason{}
	for _, d := range dropped {
		reasons[d.Candidate.ID] = d.Reason
	}

	require.Equal(t, domain.ReasonDomainBlocked, reasons["c-1"])
	require.Equal(t, domain.ReasonSocialMedia, reasons["c-2"])
}

func TestResolveItemAdvancesPastTransportFailure(t *testing.T) {
	store := newFakeStore()
	store.weights["a.example"] = 0.8
	store.weights["b.example"] = 0.9

	item := domain.SourceItem{ID: "item-1", Title: "Story", Description: "Desc", Searched: true}
	store.addItem(item,
		domain.Candidate{ID: "c-a", URL: "https://a.example/x", Domain: "a.example", SimilarityScore: 0.9},
		domain.Candidate{ID: "c-b", URL: "https://b.example/y", Domain: "b.example", SimilarityScore: 0.7},
	)

	crawler := &scriptedCrawler{byURL: map[string]crawlResult{
		"https://a.example/x": {reason: domain.ReasonHTTPError, err: errors.New("HTTP 503")},
		"https://b.example/y": {content: &crawl.Content{Text: "good article body"}},
	}}

	verifier := &scriptedVerifier{byText: map[string]verify.Decision{
		"good article body": {Accepted: true, RelevanceScore: 0.8, SameEvent: true, JudgeScore: 8},
	}}

	r := newTestResolver(store, crawler, verifier)

	resolved, err := r.ResolveItem(context.Background(), item)
	require.NoError(t, err)
	require.True(t, resolved)

	// domainA recorded a blockable failure, domainB a success
	require.Len(t, store.outcomes, 2)
	require.Equal(t, "a.example", store.outcomes[0].Domain)
	require.False(t, store.outcomes[0].Success)
	require.True(t, store.outcomes[0].Reason.Blockable())
	require.Equal(t, "b.example", store.outcomes[1].Domain)
	require.True(t, store.outcomes[1].Success)

	require.Equal(t, domain.CandidateStatusFailed, store.candidates["c-a"].Status)
	require.Equal(t, domain.ReasonHTTPError, store.candidates["c-a"].FailureReason)
	require.Equal(t, domain.CandidateStatusAccepted, store.candidates["c-b"].Status)
	require.Equal(t, "c-b", store.accepted["item-1"])
}

func TestResolveItemRejectedCandidateThenNextAccepted(t *testing.T) {
	store := newFakeStore()
	store.weights["a.example"] = 0.9
	store.weights["b.example"] = 0.5

	item := domain.SourceItem{ID: "item-2", Title: "Story", Searched: true}
	store.addItem(item,
		domain.Candidate{ID: "c-a", URL: "https://a.example/x", Domain: "a.example", SimilarityScore: 0.9},
		domain.Candidate{ID: "c-b", URL: "https://b.example/y", Domain: "b.example", SimilarityScore: 0.8},
	)

	crawler := &scriptedCrawler{byURL: map[string]crawlResult{
		"https://a.example/x": {content: &crawl.Content{Text: "same topic different event"}},
		"https://b.example/y": {content: &crawl.Content{Text: "the actual story"}},
	}}

	verifier := &scriptedVerifier{byText: map[string]verify.Decision{
		"same topic different event": {Reason: domain.ReasonLLMRejected, RelevanceScore: 0.4, JudgeScore: 4},
		"the actual story":           {Accepted: true, RelevanceScore: 0.9, SameEvent: true, JudgeScore: 9},
	}}

	r := newTestResolver(store, crawler, verifier)

	resolved, err := r.ResolveItem(context.Background(), item)
	require.NoError(t, err)
	require.True(t, resolved)

	require.Equal(t, domain.CandidateStatusRejected, store.candidates["c-a"].Status)
	require.Equal(t, domain.ReasonLLMRejected, store.candidates["c-a"].FailureReason)
	require.Equal(t, domain.CandidateStatusAccepted, store.candidates["c-b"].Status)

	// a relevance rejection is recorded against the domain but is not blockable
	require.False(t, store.outcomes[0].Success)
	require.False(t, store.outcomes[0].Reason.Blockable())
}

func TestResolveItemPoolExhausted(t *testing.T) {
	store := newFakeStore()

	item := domain.SourceItem{ID: "item-3", Title: "Story", Searched: true}
	store.addItem(item,
		domain.Candidate{ID: "c-a", URL: "https://a.example/x", Domain: "a.example", SimilarityScore: 0.9},
	)

	crawler := &scriptedCrawler{byURL: map[string]crawlResult{
		"https://a.example/x": {reason: domain.ReasonContentTooShort},
	}}

	r := newTestResolver(store, crawler, &scriptedVerifier{})

	resolved, err := r.ResolveItem(context.Background(), item)
	require.NoError(t, err)
	require.False(t, resolved)

	require.Equal(t, domain.CandidateStatusGarbage, store.candidates["c-a"].Status)
	require.False(t, store.items["item-3"].Resolved)
}

func TestTransportFailuresRetried(t *testing.T) {
	store := newFakeStore()

	item := domain.SourceItem{ID: "item-4", Title: "Story", Searched: true}
	store.addItem(item,
		domain.Candidate{ID: "c-a", URL: "https://a.example/x", Domain: "a.example", SimilarityScore: 0.9},
	)

	crawler := &scriptedCrawler{byURL: map[string]crawlResult{
		"https://a.example/x": {reason: domain.ReasonNetworkError, err: errors.New("timeout")},
	}}

	selector := NewSelector(store, search.NewDomainFilter("", ""), nil)
	recorder := NewRecorder(store, store, nil)
	r := NewResolver(store, noSearcher{}, selector, crawler, &scriptedVerifier{}, recorder, Config{
		TransportRetries: 2,
		TransportBackoff: time.Millisecond,
	}, nil)

	resolved, err := r.ResolveItem(context.Background(), item)
	require.NoError(t, err)
	require.False(t, resolved)

	// initial attempt plus two retries, then terminal
	require.Equal(t, 3, crawler.calls["https://a.example/x"])
	require.Equal(t, domain.CandidateStatusFailed, store.candidates["c-a"].Status)

	// exactly one reputation outcome despite the retries
	require.Len(t, store.outcomes, 1)
}

func TestQualityFailureNotRetried(t *testing.T) {
	store := newFakeStore()

	item := domain.SourceItem{ID: "item-5", Title: "Story", Searched: true}
	store.addItem(item,
		domain.Candidate{ID: "c-a", URL: "https://a.example/x", Domain: "a.example", SimilarityScore: 0.9},
	)

	crawler := &scriptedCrawler{byURL: map[string]crawlResult{
		"https://a.example/x": {reason: domain.ReasonBoilerplate},
	}}

	selector := NewSelector(store, search.NewDomainFilter("", ""), nil)
	recorder := NewRecorder(store, store, nil)
	r := NewResolver(store, noSearcher{}, selector, crawler, &scriptedVerifier{}, recorder, Config{
		TransportRetries: 5,
		TransportBackoff: time.Millisecond,
	}, nil)

	_, err := r.ResolveItem(context.Background(), item)
	require.NoError(t, err)
	require.Equal(t, 1, crawler.calls["https://a.example/x"])
}

func TestAdministrativeDropSkipsReputation(t *testing.T) {
	store := newFakeStore()
	store.blocked["blocked.example"] = true

	item := domain.SourceItem{ID: "item-6", Title: "Story", Searched: true}
	store.addItem(item,
		domain.Candidate{ID: "c-a", URL: "https://blocked.example/x", Domain: "blocked.example", SimilarityScore: 0.9},
	)

	r := newTestResolver(store, &scriptedCrawler{}, &scriptedVerifier{})

	resolved, err := r.ResolveItem(context.Background(), item)
	require.NoError(t, err)
	require.False(t, resolved)

	require.Equal(t, domain.CandidateStatusFailed, store.candidates["c-a"].Status)
	require.Equal(t, domain.ReasonDomainBlocked, store.candidates["c-a"].FailureReason)
	require.Empty(t, store.outcomes)
}

func TestAtMostOneAccepted(t *testing.T) {
	store := newFakeStore()

	item := domain.SourceItem{ID: "item-7", Title: "Story", Searched: true}
	store.addItem(item,
		domain.Candidate{ID: "c-a", URL: "https://a.example/x", Domain: "a.example", SimilarityScore: 0.9},
		domain.Candidate{ID: "c-b", URL: "https://b.example/y", Domain: "b.example", SimilarityScore: 0.8},
		domain.Candidate{ID: "c-c", URL: "https://c.example/z", Domain: "c.example", SimilarityScore: 0.7},
	)

	crawler := &scriptedCrawler{byURL: map[string]crawlResult{
		"https://a.example/x": {content: &crawl.Content{Text: "winning article"}},
		"https://b.example/y": {content: &crawl.Content{Text: "never fetched"}},
		"https://c.example/z": {content: &crawl.Content{Text: "never fetched either"}},
	}}

	verifier := &scriptedVerifier{byText: map[string]verify.Decision{
		"winning article": {Accepted: true, SameEvent: true, JudgeScore: 9},
	}}

	r := newTestResolver(store, crawler, verifier)

	resolved, err := r.ResolveItem(context.Background(), item)
	require.NoError(t, err)
	require.True(t, resolved)

	acceptedCount := 0

	for _, c := range store.candidates {
		if c.Status == domain.CandidateStatusAccepted {
			acceptedCount++
		}
	}

	require.Equal(t, 1, acceptedCount)
	require.Equal(t, domain.CandidateStatusSkipped, store.candidates["c-b"].Status)
	require.Equal(t, domain.CandidateStatusSkipped, store.candidates["c-c"].Status)
	require.Zero(t, crawler.calls["https://b.example/y"])
}

func TestResolveItemResumesAfterVerifierOutage(t *testing.T) {
	store := newFakeStore()

	item := domain.SourceItem{ID: "item-8", Title: "Story", Searched: true}
	store.addItem(item,
		domain.Candidate{ID: "c-a", URL: "https://a.example/x", Domain: "a.example", SimilarityScore: 0.9},
	)

	crawler := &scriptedCrawler{byURL: map[string]crawlResult{
		"https://a.example/x": {content: &crawl.Content{Text: "good article body"}},
	}}

	// first pass: the judge is down, the item run aborts after the fetch
	r := newTestResolver(store, crawler, &scriptedVerifier{err: errors.New("judge unavailable")})

	_, err := r.ResolveItem(context.Background(), item)
	require.Error(t, err)
	require.Equal(t, domain.CandidateStatusSuccess, store.candidates["c-a"].Status)
	require.Equal(t, "good article body", store.candidates["c-a"].Content)

	// second pass: the fetched candidate re-enters at the verify step with
	// its stored content, without another crawl
	verifier := &scriptedVerifier{byText: map[string]verify.Decision{
		"good article body": {Accepted: true, RelevanceScore: 0.8, SameEvent: true, JudgeScore: 8},
	}}
	r = newTestResolver(store, crawler, verifier)

	resolved, err := r.ResolveItem(context.Background(), item)
	require.NoError(t, err)
	require.True(t, resolved)
	require.Equal(t, domain.CandidateStatusAccepted, store.candidates["c-a"].Status)
	require.Equal(t, 1, crawler.calls["https://a.example/x"])
}

func TestResolveItemFinishesInterruptedRejection(t *testing.T) {
	store := newFakeStore()

	item := domain.SourceItem{ID: "item-9", Title: "Story", Searched: true}
	store.addItem(item,
		domain.Candidate{
			ID: "c-a", URL: "https://a.example/x", Domain: "a.example",
			SimilarityScore: 0.9, Status: domain.CandidateStatusFlagLow,
			Content: "off topic body", RelevanceScore: 0.5, JudgeScore: 4,
		},
	)

	r := newTestResolver(store, &scriptedCrawler{}, &scriptedVerifier{})

	resolved, err := r.ResolveItem(context.Background(), item)
	require.NoError(t, err)
	require.False(t, resolved)

	require.Equal(t, domain.CandidateStatusRejected, store.candidates["c-a"].Status)
	require.Equal(t, domain.ReasonLLMRejected, store.candidates["c-a"].FailureReason)

	require.Len(t, store.outcomes, 1)
	require.False(t, store.outcomes[0].Success)
	require.False(t, store.outcomes[0].Reason.Blockable())
}

func TestFetchedCandidateNotDroppedForBlockedDomain(t *testing.T) {
	store := newFakeStore()
	store.blocked["late.example"] = true

	// already fetched before the domain was blocked; verifying it touches no
	// domain, so it is still ranked
	candidates := []domain.Candidate{
		{
			ID: "c-a", Domain: "late.example", SimilarityScore: 0.9,
			Status: domain.CandidateStatusSuccess, Content: "stored body",
		},
	}

	selector := NewSelector(store, search.NewDomainFilter("", ""), nil)

	ranked, dropped, err := selector.Order(context.Background(), candidates)
	require.NoError(t, err)
	require.Empty(t, dropped)
	require.Len(t, ranked, 1)
}

func TestSocialMediaDropRecordsOutcome(t *testing.T) {
	store := newFakeStore()

	item := domain.SourceItem{ID: "item-10", Title: "Story", Searched: true}
	store.addItem(item,
		domain.Candidate{ID: "c-a", URL: "https://twitter.com/x/status/1", Domain: "twitter.com", SimilarityScore: 0.9},
	)

	r := newTestResolver(store, &scriptedCrawler{}, &scriptedVerifier{})

	resolved, err := r.ResolveItem(context.Background(), item)
	require.NoError(t, err)
	require.False(t, resolved)

	require.Equal(t, domain.CandidateStatusGarbage, store.candidates["c-a"].Status)
	require.Equal(t, domain.ReasonSocialMedia, store.candidates["c-a"].FailureReason)

	// recorded against the domain, but can never contribute to auto-blocking
	require.Len(t, store.outcomes, 1)
	require.False(t, store.outcomes[0].Success)
	require.False(t, store.outcomes[0].Reason.Blockable())
}

// panicCrawler trips the worker pool's panic guard.
type panicCrawler struct{}

func (panicCrawler) Crawl(_ context.Context, _, _ string) (*crawl.Content, domain.FailureReason, error) {
	panic("boom")
}

func TestResolvePassSurvivesPanic(t *testing.T) {
	store := newFakeStore()

	item := domain.SourceItem{ID: "item-11", Title: "Story", Searched: true}
	store.addItem(item,
		domain.Candidate{ID: "c-a", URL: "https://a.example/x", Domain: "a.example", SimilarityScore: 0.9},
	)

	r := newTestResolver(store, panicCrawler{}, &scriptedVerifier{})

	n, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
