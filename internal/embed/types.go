// Package embed generates vector embeddings for chunk text.
//
// The HTTP client talks to an Ollama-compatible provider with retry,
// rate limiting, and per-text failure tracking. The static embedder is a
// deterministic hash-based fallback used offline and in tests.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize bounds a single provider call (prevents memory exhaustion).
	MaxBatchSize = 256

	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxAttempts is the default number of attempts per text.
	DefaultMaxAttempts = 3

	// StaticDimensions is the dimension of the static fallback embedder.
	StaticDimensions = 256

	// charsPerToken approximates provider token accounting for rate limiting.
	charsPerToken = 4
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result has
	// exactly one slot per input, in input order; a slot is nil when that
	// text failed permanently (the failure is recorded in the failure log).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// hasNaN reports whether any component is NaN or infinite.
// Providers occasionally return garbage vectors; these are permanent failures.
func hasNaN(v []float32) bool {
	for _, val := range v {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}
