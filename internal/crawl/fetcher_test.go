package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openbrief/article-resolver/internal/core/domain"
)

func newTestFetcher() *Fetcher {
	return NewFetcher(FetcherConfig{
		Timeout:           2 * time.Second,
		DomainMinInterval: time.Millisecond,
	})
}

func TestFetchOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer server.Close()

	body, err := newTestFetcher().Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Contains(t, string(body), "hello")
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestFetcher().Fetch(context.Background(), server.URL)
	require.Error(t, err)
	require.Equal(t, domain.ReasonHTTPError, ClassifyFetchError(err))
}

func TestFetchNetworkError(t *testing.T) {
	// closed server: connection refused
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestFetcher().Fetch(context.Background(), url)
	require.Error(t, err)
	require.Equal(t, domain.ReasonNetworkError, ClassifyFetchError(err))
}

func TestFetchSendsUserAgent(t *testing.T) {
	var gotUA string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	_, err := newTestFetcher().Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Contains(t, gotUA, "ArticleResolver")
}

func TestDomainLimiterShared(t *testing.T) {
	f := NewFetcher(FetcherConfig{DomainMinInterval: 50 * time.Millisecond})

	a := f.domainLimiter("example.com")
	b := f.domainLimiter("example.com")
	c := f.domainLimiter("other.example")

	require.Same(t, a, b)
	require.NotSame(t, a, c)
}
