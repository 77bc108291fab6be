// Package search implements query classification and the retrieval
// strategies: semantic (vector similarity), keyword (metadata term
// scoring), and hybrid (rank fusion of both).
package search

import (
	"context"

	"github.com/codelens-ai/codelens/internal/store"
)

// QueryType is the classification category for a query.
type QueryType string

const (
	// QueryTypeConceptual marks questions about purpose and architecture.
	QueryTypeConceptual QueryType = "CONCEPTUAL"

	// QueryTypeImplementation marks questions about concrete code.
	QueryTypeImplementation QueryType = "IMPLEMENTATION"

	// QueryTypeMixed is the default when neither or both signals fire.
	QueryTypeMixed QueryType = "MIXED"
)

// Weights are the strategy weights used by hybrid rank fusion.
type Weights struct {
	Semantic float64
	Keyword  float64
}

// WeightsForQueryType returns the fusion weights for a query type.
func WeightsForQueryType(qt QueryType) Weights {
	switch qt {
	case QueryTypeConceptual:
		return Weights{Semantic: 0.8, Keyword: 0.2}
	case QueryTypeImplementation:
		return Weights{Semantic: 0.6, Keyword: 0.4}
	default:
		return Weights{Semantic: 0.7, Keyword: 0.3}
	}
}

// minSimilarityFor returns the semantic score threshold for a query type.
func minSimilarityFor(qt QueryType) float32 {
	switch qt {
	case QueryTypeConceptual:
		return 0.55
	case QueryTypeImplementation:
		return 0.70
	default:
		return 0.65
	}
}

// Query carries everything a strategy needs. Text or Embedding may be
// absent; hybrid delegates accordingly.
type Query struct {
	Text       string
	Embedding  []float32
	Type       QueryType
	Namespaces []string
}

// Result is one retrieved chunk with its strategy score.
type Result struct {
	ID       string
	Score    float64
	Metadata *store.EmbeddingMetadata
}

// Strategy retrieves the top-k chunks for a query, ordered by descending
// score.
type Strategy interface {
	Retrieve(ctx context.Context, q Query, k int) ([]Result, error)
}

// Classifier labels a query with its type.
type Classifier interface {
	Classify(ctx context.Context, query string) (QueryType, error)
}
