package crawl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
<title>Fallback Title</title>
<meta property="og:title" content="Central Bank Raises Rates">
<meta property="og:description" content="A quarter point increase was announced.">
<meta property="og:image" content="https://img.example.com/hero.jpg">
<meta property="article:published_time" content="2026-08-15T09:00:00Z">
</head>
<body>
<nav><a href="/">Home</a> <a href="/news">News</a></nav>
<article>
<h1>Central Bank Raises Rates</h1>
<p>The central bank announced a quarter point increase this morning, citing
persistent inflation in services and housing. Officials said further moves
would depend on incoming data over the next two quarters.</p>
<p>Markets reacted within minutes, with short-dated yields climbing and
equity futures giving up their early gains. Economists polled last week had
been split on the timing of the decision.</p>
</article>
</body>
</html>`

func TestExtractArticle(t *testing.T) {
	e := NewExtractor(50000)

	content, err := e.Extract([]byte(articleHTML), "https://news.example.com/rates")
	require.NoError(t, err)

	require.Equal(t, "Central Bank Raises Rates", content.Title)
	require.Contains(t, content.Text, "quarter point increase")
	require.Equal(t, "A quarter point increase was announced.", content.Description)
	require.Equal(t, "https://img.example.com/hero.jpg", content.HeroImageURL)
	require.False(t, content.PublishedAt.IsZero())
	require.Positive(t, content.WordCount)
	require.Less(t, content.LinkTextRatio, 0.30)
}

func TestExtractFeed(t *testing.T) {
	feedXML := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Example Feed</title>
<item>
<title>Feed Story</title>
<description>&lt;p&gt;Body of the feed story with enough detail to matter.&lt;/p&gt;</description>
<pubDate>Sat, 15 Aug 2026 09:00:00 GMT</pubDate>
</item>
</channel>
</rss>`

	e := NewExtractor(50000)

	content, err := e.Extract([]byte(feedXML), "https://news.example.com/feed")
	require.NoError(t, err)
	require.Equal(t, "Feed Story", content.Title)
	require.Contains(t, content.Text, "Body of the feed story")
	require.NotContains(t, content.Text, "<p>")
	require.False(t, content.PublishedAt.IsZero())
}

func TestExtractMetaFallback(t *testing.T) {
	// no article body at all, readability has nothing to work with
	page := `<html><head>
<title>Bare Page</title>
<meta name="description" content="Only a description here.">
</head><body></body></html>`

	e := NewExtractor(50000)

	content, err := e.Extract([]byte(page), "https://bare.example.com/x")
	require.NoError(t, err)
	require.Equal(t, "Bare Page", content.Title)
}

func TestLooksLikeFeed(t *testing.T) {
	require.True(t, looksLikeFeed([]byte(`<?xml version="1.0"?><rss version="2.0"></rss>`)))
	require.True(t, looksLikeFeed([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"></feed>`)))
	require.False(t, looksLikeFeed([]byte(`<!DOCTYPE html><html></html>`)))
}
