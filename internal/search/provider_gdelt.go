package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	gdeltBaseURL        = "https://api.gdeltproject.org/api/v2/doc/doc"
	gdeltDefaultTimeout = 30 * time.Second
	gdeltDefaultRPM     = 60
	gdeltSeenDateFormat = "20060102T150405Z"

	secondsPerMinute = 60.0
	minKeywordLength = 3

	paramKeyQuery  = "query"
	paramKeyFormat = "format"
	formatJSON     = "json"

	errWrapFmtWithCode = "%w: status %d"
	errWrapFmtStr      = "%w: %s"
)

var (
	errGDELTUnexpectedStatus = errors.New("gdelt unexpected status")
	errGDELTAPIError         = errors.New("gdelt api error")
)

// GDELTProvider queries the free GDELT DOC 2.0 API.
type GDELTProvider struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	enabled     bool
}

type GDELTConfig struct {
	Enabled        bool
	RequestsPerMin int
	Timeout        time.Duration
}

func NewGDELTProvider(cfg GDELTConfig) *GDELTProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = gdeltDefaultTimeout
	}

	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = gdeltDefaultRPM
	}

	rps := float64(rpm) / secondsPerMinute

	return &GDELTProvider{
		baseURL: gdeltBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(rps), 1),
		enabled:     cfg.Enabled,
	}
}

func (p *GDELTProvider) Name() ProviderName {
	return ProviderGDELT
}

func (p *GDELTProvider) IsAvailable(_ context.Context) bool {
	return p.enabled
}

func (p *GDELTProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if !p.enabled {
		return nil, errProviderDisabled
	}

	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gdelt rate limit: %w", err)
	}

	searchURL := p.buildSearchURL(query, maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create gdelt request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gdelt request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(errWrapFmtWithCode, errGDELTUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gdelt response: %w", err)
	}

	return parseGDELTResponse(body)
}

func (p *GDELTProvider) buildSearchURL(query string, maxResults int) string {
	params := url.Values{}
	params.Set(paramKeyQuery, sanitizeGDELTQuery(query))
	params.Set("mode", "ArtList")
	params.Set("maxrecords", fmt.Sprintf("%d", maxResults))
	params.Set(paramKeyFormat, formatJSON)
	params.Set("sort", "DateDesc")

	return p.baseURL + "?" + params.Encode()
}

// sanitizeGDELTQuery drops short tokens the DOC API chokes on.
func sanitizeGDELTQuery(query string) string {
	words := strings.Fields(query)
	filtered := make([]string, 0, len(words))

	for _, w := range words {
		if len([]rune(w)) >= minKeywordLength {
			filtered = append(filtered, w)
		}
	}

	return strings.Join(filtered, " ")
}

type gdeltResponse struct {
	Articles []gdeltArticle `json:"articles"`
}

type gdeltArticle struct {
	URL           string `json:"url"`
	URLMobile     string `json:"url_mobile"`
	Title         string `json:"title"`
	SeenDate      string `json:"seendate"`
	SocialImage   string `json:"socialimage"`
	Domain        string `json:"domain"`
	Language      string `json:"language"`
	SourceCountry string `json:"sourcecountry"`
}

func parseGDELTResponse(body []byte) ([]Result, error) {
	if err := checkGDELTError(body); err != nil {
		return nil, err
	}

	var resp gdeltResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse gdelt json: %w", err)
	}

	results := make([]Result, 0, len(resp.Articles))

	for _, article := range resp.Articles {
		if result := mapGDELTArticle(article); result != nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

func checkGDELTError(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] != '{' && trimmed[0] != '[' {
		// Not JSON, likely an error message from GDELT
		errMsg := string(trimmed)
		if len(errMsg) > 200 {
			errMsg = errMsg[:200] + "..."
		}

		return fmt.Errorf(errWrapFmtStr, errGDELTAPIError, errMsg)
	}

	return nil
}

func mapGDELTArticle(article gdeltArticle) *Result {
	articleURL := article.URL
	if articleURL == "" {
		articleURL = article.URLMobile
	}

	if articleURL == "" {
		return nil
	}

	result := &Result{
		URL:    articleURL,
		Title:  article.Title,
		Domain: article.Domain,
	}

	if article.SeenDate != "" {
		if t, err := time.Parse(gdeltSeenDateFormat, article.SeenDate); err == nil {
			result.PublishedAt = t
		}
	}

	return result
}
