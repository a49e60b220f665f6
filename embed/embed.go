// Package embed produces fixed-dimension dense vectors for text and
// defines the similarity metric used by retrieval.
package embed

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrUnavailable indicates the embedding service cannot be reached
	// or the model is not loaded. Callers may retry.
	ErrUnavailable = errors.New("embed: service unavailable")

	// ErrDimensionMismatch indicates the service returned a vector of
	// the wrong size. Dimensions must never be mixed silently.
	ErrDimensionMismatch = errors.New("embed: dimension mismatch")
)

// Provider produces embeddings for text. Implementations must be safe
// for concurrent use.
type Provider interface {
	// EmbedOne returns the vector for a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	// It is a pure optimization of EmbedOne.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the vector size this provider produces.
	Dimension() int
}

// Similarity computes the cosine similarity of two vectors, clamped to
// [-1, 1]. Mismatched lengths or zero vectors yield 0.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}
