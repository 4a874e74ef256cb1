// Package crawl fetches candidate URLs, extracts article text plus a hero
// image, and classifies everything that is not clean prose with a failure
// reason before it can reach the verifier.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/openbrief/article-resolver/internal/core/domain"
	"github.com/openbrief/article-resolver/internal/platform/observability"
)

const (
	defaultFetchTimeout      = 30 * time.Second
	defaultDomainMinInterval = 3 * time.Second
	defaultUserAgent         = "Mozilla/5.0 (compatible; ArticleResolver/1.0)"
	maxRedirects             = 5
	maxBodyBytes             = 5 * 1024 * 1024 // 5MB

	headerUserAgent      = "User-Agent"
	headerAccept         = "Accept"
	headerAcceptLanguage = "Accept-Language"
	acceptHTML           = "text/html,application/xhtml+xml,application/xml;q=0.9"
	acceptLanguage       = "en-US,en;q=0.9"
)

var (
	errTooManyRedirects = errors.New("too many redirects")
	errHTTPStatus       = errors.New("unexpected HTTP status")
)

// FetchError carries the transport-family failure reason alongside the cause.
type FetchError struct {
	Reason domain.FailureReason
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ClassifyFetchError maps a fetch failure onto the transport reason family.
func ClassifyFetchError(err error) domain.FailureReason {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}

	return domain.ReasonNetworkError
}

// FetcherConfig tunes the HTTP fetch behavior.
type FetcherConfig struct {
	Timeout           time.Duration
	UserAgent         string
	DomainMinInterval time.Duration
}

// Fetcher downloads candidate pages. The per-domain limiter is shared across
// all workers: two items whose pools hit the same domain still respect the
// minimum inter-request interval against each other.
type Fetcher struct {
	client *http.Client

	mu             sync.RWMutex
	domainLimiters map[string]*rate.Limiter
	minInterval    time.Duration

	userAgent string
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	minInterval := cfg.DomainMinInterval
	if minInterval <= 0 {
		minInterval = defaultDomainMinInterval
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}

				return nil
			},
		},
		domainLimiters: make(map[string]*rate.Limiter),
		minInterval:    minInterval,
		userAgent:      userAgent,
	}
}

// Fetch downloads the page body. Errors are always *FetchError so the caller
// can classify them without inspecting transport details.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	limiter := f.domainLimiter(extractHost(rawURL))

	waitStart := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Reason: domain.ReasonNetworkError, Err: err}
	}

	observability.RateLimiterWait.Observe(time.Since(waitStart).Seconds())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Reason: domain.ReasonNetworkError, Err: err}
	}

	req.Header.Set(headerUserAgent, f.userAgent)
	req.Header.Set(headerAccept, acceptHTML)
	req.Header.Set(headerAcceptLanguage, acceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Reason: domain.ReasonNetworkError, Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &FetchError{
			Reason: domain.ReasonHTTPError,
			Err:    fmt.Errorf("%w: %d", errHTTPStatus, resp.StatusCode),
		}
	}

	// Transcode legacy encodings to UTF-8 based on Content-Type and meta tags.
	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &FetchError{Reason: domain.ReasonNetworkError, Err: err}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &FetchError{Reason: domain.ReasonNetworkError, Err: err}
	}

	return body, nil
}

func (f *Fetcher) domainLimiter(host string) *rate.Limiter {
	f.mu.RLock()
	limiter, exists := f.domainLimiters[host]
	f.mu.RUnlock()

	if exists {
		return limiter
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double check
	if limiter, exists := f.domainLimiters[host]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Every(f.minInterval), 1)
	f.domainLimiters[host] = limiter

	return limiter
}

func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Host)
}
