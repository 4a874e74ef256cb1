package embeddings

import (
	"context"
	"hash/fnv"
)

const mockDimensions = 1536

// MockClient implements Client for tests and local development without an
// API key. It generates deterministic embeddings from the input text hash,
// so identical texts embed identically and similarity is reproducible.
type MockClient struct {
	dimensions int
}

// NewMockClient creates a mock embedding client.
func NewMockClient() *MockClient {
	return &MockClient{dimensions: mockDimensions}
}

// GetEmbedding generates a deterministic pseudo-random embedding.
func (c *MockClient) GetEmbedding(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, c.dimensions)
	state := seed

	for i := range vec {
		// Simple LCG keeps the mock dependency-free and deterministic.
		state = state*6364136223846793005 + 1442695040888963407
		vec[i] = float32(state>>33%1000)/1000 - 0.5
	}

	return vec, nil
}
