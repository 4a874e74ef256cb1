// Package embeddings provides the vector-similarity capability used by the
// candidate search scoring and the verifier's relevance gate.
package embeddings

import (
	"context"
	"math"
)

// Client defines the interface for embedding operations.
type Client interface {
	// GetEmbedding generates an embedding for the given text.
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// CosineSimilarity returns the cosine similarity of two vectors in [0,1]
// for the non-negative unit-sphere embeddings the providers return.
// Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
