package crawl

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/openbrief/article-resolver/internal/core/domain"
	"github.com/openbrief/article-resolver/internal/platform/observability"
)

const (
	logKeyURL    = "url"
	logKeyReason = "reason"

	metricResultOK      = "ok"
	metricResultFailed  = "failed"
	metricResultGarbage = "garbage"
)

// Crawler runs the full fetch-extract-inspect chain for one candidate URL.
type Crawler struct {
	fetcher   *Fetcher
	extractor *Extractor
	logger    *zerolog.Logger
}

func NewCrawler(fetcher *Fetcher, extractor *Extractor, logger *zerolog.Logger) *Crawler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Crawler{
		fetcher:   fetcher,
		extractor: extractor,
		logger:    logger,
	}
}

// Crawl fetches and classifies one candidate page. On success the returned
// reason is empty. A non-empty reason with nil error is a classified rejection;
// err is only set alongside transport reasons.
func (c *Crawler) Crawl(ctx context.Context, rawURL, itemDescription string) (*Content, domain.FailureReason, error) {
	start := time.Now()

	body, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		reason := ClassifyFetchError(err)

		observability.FetchDuration.WithLabelValues(metricResultFailed).Observe(time.Since(start).Seconds())
		c.logger.Debug().Err(err).Str(logKeyURL, rawURL).Str(logKeyReason, string(reason)).Msg("fetch failed")

		return nil, reason, err
	}

	content, err := c.extractor.Extract(body, rawURL)
	if err != nil {
		observability.FetchDuration.WithLabelValues(metricResultGarbage).Observe(time.Since(start).Seconds())
		c.logger.Debug().Err(err).Str(logKeyURL, rawURL).Msg("extraction failed")

		return nil, domain.ReasonExtractionFailed, nil
	}

	if reason := Inspect(content, utf8.RuneCountInString(itemDescription)); reason != "" {
		observability.FetchDuration.WithLabelValues(metricResultGarbage).Observe(time.Since(start).Seconds())
		c.logger.Debug().Str(logKeyURL, rawURL).Str(logKeyReason, string(reason)).Msg("content rejected by quality gate")

		return nil, reason, nil
	}

	observability.FetchDuration.WithLabelValues(metricResultOK).Observe(time.Since(start).Seconds())

	return content, "", nil
}
