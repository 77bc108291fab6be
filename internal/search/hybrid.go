package search

import (
	"context"
	"sort"
)

// HybridStrategy fuses semantic and keyword rankings. When only one input
// modality is present it delegates to the matching strategy.
type HybridStrategy struct {
	semantic Strategy
	keyword  Strategy
}

// NewHybridStrategy creates a hybrid retrieval strategy.
func NewHybridStrategy(semantic, keyword Strategy) *HybridStrategy {
	return &HybridStrategy{semantic: semantic, keyword: keyword}
}

// Retrieve fetches 2k candidates from each strategy and fuses them by
// weighted rank score: sum of strategyWeight * (resultCount - rank).
func (s *HybridStrategy) Retrieve(ctx context.Context, q Query, k int) ([]Result, error) {
	hasText := q.Text != ""
	hasEmbedding := len(q.Embedding) > 0

	switch {
	case !hasText && !hasEmbedding:
		return nil, nil
	case !hasText:
		return s.semantic.Retrieve(ctx, q, k)
	case !hasEmbedding:
		return s.keyword.Retrieve(ctx, q, k)
	}

	semanticResults, err := s.semantic.Retrieve(ctx, q, 2*k)
	if err != nil {
		return nil, err
	}
	keywordResults, err := s.keyword.Retrieve(ctx, q, 2*k)
	if err != nil {
		return nil, err
	}

	weights := WeightsForQueryType(q.Type)

	type fused struct {
		score    float64
		metadata Result
	}
	merged := make(map[string]*fused)

	accumulate := func(results []Result, weight float64) {
		for rank, r := range results {
			rankScore := weight * float64(len(results)-rank)
			f, ok := merged[r.ID]
			if !ok {
				f = &fused{metadata: r}
				merged[r.ID] = f
			}
			f.score += rankScore
		}
	}
	accumulate(semanticResults, weights.Semantic)
	accumulate(keywordResults, weights.Keyword)

	out := make([]Result, 0, len(merged))
	for id, f := range merged {
		out = append(out, Result{ID: id, Score: f.score, Metadata: f.metadata.Metadata})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

var _ Strategy = (*HybridStrategy)(nil)
