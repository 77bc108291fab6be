package search

import (
	"context"
	"fmt"
	"sort"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
	"github.com/codelens-ai/codelens/internal/store"
)

// minEmbeddingDimensions rejects degenerate query vectors.
const minEmbeddingDimensions = 64

// descriptionBoost multiplies similarity for described chunks on
// conceptual queries.
const descriptionBoost = 1.1

// SemanticStrategy retrieves by cosine similarity against the vector store.
type SemanticStrategy struct {
	store *store.Store
}

// NewSemanticStrategy creates a semantic retrieval strategy.
func NewSemanticStrategy(s *store.Store) *SemanticStrategy {
	return &SemanticStrategy{store: s}
}

// Retrieve returns the top-k chunks above the query type's similarity
// threshold, descending by boosted score.
func (s *SemanticStrategy) Retrieve(ctx context.Context, q Query, k int) ([]Result, error) {
	if len(q.Embedding) == 0 {
		return nil, lenserr.ValidationError("semantic retrieval requires a query embedding", nil)
	}
	if len(q.Embedding) < minEmbeddingDimensions {
		return nil, lenserr.ValidationError(
			fmt.Sprintf("query embedding dimension %d below minimum %d", len(q.Embedding), minEmbeddingDimensions), nil)
	}
	if k <= 0 {
		return nil, nil
	}

	// Over-fetch so the threshold filter and boost reordering still fill k.
	candidates, err := s.store.FindSimilar(ctx, q.Embedding, 2*k, 0, q.Namespaces)
	if err != nil {
		return nil, err
	}

	threshold := float64(minSimilarityFor(q.Type))
	results := make([]Result, 0, k)
	for _, c := range candidates {
		score := float64(c.Score)
		if q.Type == QueryTypeConceptual && c.Metadata != nil && c.Metadata.Description != "" {
			score *= descriptionBoost
		}
		if score < threshold {
			continue
		}
		results = append(results, Result{ID: c.ID, Score: score, Metadata: c.Metadata})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

var _ Strategy = (*SemanticStrategy)(nil)
