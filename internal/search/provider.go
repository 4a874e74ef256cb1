// Package search finds candidate replacement articles for a source item by
// querying external news search providers and scoring the results.
package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openbrief/article-resolver/internal/platform/observability"
)

type ProviderName string

const (
	ProviderGDELT   ProviderName = "gdelt"
	ProviderSearxNG ProviderName = "searxng"
)

var (
	errNoProvidersAvailable = errors.New("no providers available")
	errProviderNotFound     = errors.New("provider not found")
	errProviderDisabled     = errors.New("provider disabled")
)

const (
	resultOK    = "ok"
	resultError = "error"
)

// Result is one raw hit from a search provider before it becomes a Candidate.
type Result struct {
	URL         string
	Title       string
	Description string
	Domain      string
	PublishedAt time.Time
	Score       float64
}

type Provider interface {
	Name() ProviderName
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
	IsAvailable(ctx context.Context) bool
}

// Registry orders providers and falls back across them, skipping any whose
// circuit breaker is open.
type Registry struct {
	mu        sync.RWMutex
	providers map[ProviderName]Provider
	order     []ProviderName

	circuitBreakers map[ProviderName]*circuitBreaker
}

func NewRegistry() *Registry {
	return &Registry{
		providers:       make(map[ProviderName]Provider),
		order:           []ProviderName{},
		circuitBreakers: make(map[ProviderName]*circuitBreaker),
	}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	r.providers[name] = p
	r.order = append(r.order, name)
	r.circuitBreakers[name] = newCircuitBreaker()
}

func (r *Registry) Get(name ProviderName) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, errProviderNotFound
	}

	return p, nil
}

// SearchWithFallback tries providers in registration order and returns the
// first successful result set along with the provider that produced it.
func (r *Registry) SearchWithFallback(ctx context.Context, query string, maxResults int) ([]Result, ProviderName, error) {
	r.mu.RLock()
	providers := make([]ProviderName, len(r.order))
	copy(providers, r.order)
	r.mu.RUnlock()

	for _, name := range providers {
		provider, err := r.Get(name)
		if err != nil {
			continue
		}

		if !provider.IsAvailable(ctx) {
			continue
		}

		cb := r.getCircuitBreaker(name)
		if !cb.canAttempt() {
			continue
		}

		start := time.Now()
		results, err := provider.Search(ctx, query, maxResults)
		observability.SearchRequestDuration.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())

		if err != nil {
			cb.recordFailure()
			observability.SearchRequests.WithLabelValues(string(name), resultError).Inc()

			continue
		}

		cb.recordSuccess()
		observability.SearchRequests.WithLabelValues(string(name), resultOK).Inc()
		observability.SearchResults.WithLabelValues(string(name)).Observe(float64(len(results)))

		return results, name, nil
	}

	return nil, "", errNoProvidersAvailable
}

func (r *Registry) AvailableProviders(ctx context.Context) []ProviderName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	available := []ProviderName{}

	for _, name := range r.order {
		p := r.providers[name]
		if p.IsAvailable(ctx) && r.circuitBreakers[name].canAttempt() {
			available = append(available, name)
		}
	}

	return available
}

func (r *Registry) getCircuitBreaker(name ProviderName) *circuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.circuitBreakers[name]
}

const (
	circuitBreakerThreshold  = 3
	circuitBreakerResetAfter = 5 * time.Minute
)

type circuitBreaker struct {
	mu           sync.Mutex
	failures     int
	lastFailure  time.Time
	state        circuitState
	successCount int
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		state: circuitClosed,
	}
}

func (cb *circuitBreaker) canAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.lastFailure) > circuitBreakerResetAfter {
			cb.state = circuitHalfOpen
			cb.successCount = 0

			return true
		}

		return false
	case circuitHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0

	if cb.state == circuitHalfOpen {
		cb.successCount++
		if cb.successCount >= 2 {
			cb.state = circuitClosed
		}
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.failures >= circuitBreakerThreshold {
		cb.state = circuitOpen
	}
}
