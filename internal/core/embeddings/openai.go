package embeddings

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/openbrief/article-resolver/internal/platform/observability"
)

const (
	// ModelTextEmbedding3Small is the default embedding model.
	ModelTextEmbedding3Small = "text-embedding-3-small"

	rateLimiterBurst = 5
	maxInputChars    = 8000
)

// ErrEmptyResponse is returned when the provider returns no embedding data.
var ErrEmptyResponse = errors.New("empty embedding response")

// OpenAIClient implements Client against the OpenAI embeddings API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	rateLimiter *rate.Limiter
}

// OpenAIConfig holds configuration for the OpenAI embedding client.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	RateLimit int // requests per second
}

// NewOpenAIClient creates an embedding client with defaults applied.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = ModelTextEmbedding3Small
	}

	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}

	return &OpenAIClient{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), rateLimiterBurst),
	}
}

// GetEmbedding generates an embedding for the given text.
func (c *OpenAIClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	// rune-boundary cap, the API rejects invalid UTF-8
	if utf8.RuneCountInString(text) > maxInputChars {
		text = string([]rune(text)[:maxInputChars])
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		observability.EmbeddingRequests.WithLabelValues("error").Inc()

		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) == 0 {
		observability.EmbeddingRequests.WithLabelValues("error").Inc()

		return nil, ErrEmptyResponse
	}

	observability.EmbeddingRequests.WithLabelValues("success").Inc()

	return resp.Data[0].Embedding, nil
}
