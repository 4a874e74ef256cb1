package crawl

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
)

const defaultMaxExtractedChars = 50000

var errNoFeedItems = errors.New("feed has no items")

// Content is the extracted article body plus the metadata the pipeline keeps.
type Content struct {
	Title         string
	Text          string
	Description   string
	HeroImageURL  string
	PublishedAt   time.Time
	WordCount     int
	LinkTextRatio float64
}

// Extractor turns a fetched page into Content.
// Fallback chain: readability -> meta tags -> feed payload.
type Extractor struct {
	feedParser *gofeed.Parser
	maxChars   int
}

func NewExtractor(maxChars int) *Extractor {
	if maxChars <= 0 {
		maxChars = defaultMaxExtractedChars
	}

	return &Extractor{
		feedParser: gofeed.NewParser(),
		maxChars:   maxChars,
	}
}

// Extract parses the body fetched from rawURL. It never fails on a parseable
// page; an empty Text is left for the quality gate to classify.
func (e *Extractor) Extract(body []byte, rawURL string) (*Content, error) {
	if looksLikeFeed(body) {
		return e.extractFeed(body)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	meta := extractMetaTags(body)

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		// Meta tags are all we have. The description may still pass the
		// short-but-real exception downstream.
		return &Content{
			Title:        coalesce(meta.ogTitle, meta.title),
			Text:         coalesce(meta.ogDescription, meta.description),
			Description:  coalesce(meta.ogDescription, meta.description),
			HeroImageURL: meta.ogImage,
			PublishedAt:  parseDate(meta.publishedTime),
		}, nil
	}

	text := truncateRunes(article.TextContent, e.maxChars+1)

	return &Content{
		Title:         coalesce(article.Title, meta.ogTitle, meta.title),
		Text:          text,
		Description:   coalesce(meta.ogDescription, meta.description),
		HeroImageURL:  coalesce(firstNonEmpty(article.Image), meta.ogImage),
		PublishedAt:   parseDate(meta.publishedTime),
		WordCount:     len(strings.Fields(text)),
		LinkTextRatio: linkTextRatio(body),
	}, nil
}

func (e *Extractor) extractFeed(body []byte) (*Content, error) {
	feed, err := e.feedParser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	if len(feed.Items) == 0 {
		return nil, errNoFeedItems
	}

	item := feed.Items[0]

	text := item.Content
	if text == "" {
		text = item.Description
	}

	text = truncateRunes(stripHTML(text), e.maxChars+1)

	content := &Content{
		Title:       item.Title,
		Text:        text,
		Description: item.Description,
		WordCount:   len(strings.Fields(text)),
	}

	if item.Image != nil {
		content.HeroImageURL = item.Image.URL
	}

	if item.PublishedParsed != nil {
		content.PublishedAt = *item.PublishedParsed
	}

	return content, nil
}

func looksLikeFeed(body []byte) bool {
	head := bytes.TrimSpace(body)
	if len(head) > 512 {
		head = head[:512]
	}

	if !bytes.HasPrefix(head, []byte("<?xml")) && !bytes.HasPrefix(head, []byte("<rss")) && !bytes.HasPrefix(head, []byte("<feed")) {
		return false
	}

	return bytes.Contains(head, []byte("<rss")) || bytes.Contains(head, []byte("<feed"))
}

type metaTags struct {
	title         string
	description   string
	ogTitle       string
	ogDescription string
	ogImage       string
	publishedTime string
}

func extractMetaTags(body []byte) metaTags {
	var meta metaTags

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return meta
	}

	meta.title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if name == "" {
			name, _ = s.Attr("property")
		}

		content, _ := s.Attr("content")
		if content == "" {
			return
		}

		switch strings.ToLower(name) {
		case "description":
			meta.description = content
		case "og:title":
			meta.ogTitle = content
		case "og:description":
			meta.ogDescription = content
		case "og:image":
			meta.ogImage = content
		case "article:published_time":
			meta.publishedTime = content
		}
	})

	return meta
}

// linkTextRatio computes the share of visible text that sits inside anchors.
func linkTextRatio(body []byte) float64 {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}

	doc.Find("script, style, noscript").Remove()

	total := utf8.RuneCountInString(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	if total == 0 {
		return 0
	}

	linked := 0

	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		linked += utf8.RuneCountInString(strings.Join(strings.Fields(s.Text()), " "))
	})

	return float64(linked) / float64(total)
}

func stripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}

	return strings.TrimSpace(doc.Text())
}

func coalesce(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}

	return ""
}

func firstNonEmpty(s string) string {
	return strings.TrimSpace(s)
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}
	}

	return t
}

func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}

	return string([]rune(s)[:maxRunes])
}
