package search

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/codelens-ai/codelens/internal/store"
)

// keywordStopWords are dropped from query tokens before scoring.
var keywordStopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "how": true,
	"what": true, "where": true, "when": true, "which": true, "this": true,
	"that": true, "with": true, "from": true, "does": true, "code": true,
	"is": true, "in": true, "it": true, "to": true, "of": true, "a": true,
	"an": true, "do": true,
}

var keywordTokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

// conceptualFieldBoost amplifies description-style fields for conceptual
// queries.
const conceptualFieldBoost = 1.5

// KeywordStrategy scores metadata text by term frequency.
type KeywordStrategy struct {
	store *store.Store
}

// NewKeywordStrategy creates a keyword retrieval strategy.
func NewKeywordStrategy(s *store.Store) *KeywordStrategy {
	return &KeywordStrategy{store: s}
}

// Retrieve scores every metadata entry against the query terms and returns
// the top-k, descending.
func (s *KeywordStrategy) Retrieve(ctx context.Context, q Query, k int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenizeQuery(q.Text)
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}

	boost := 1.0
	if q.Type == QueryTypeConceptual {
		boost = conceptualFieldBoost
	}

	var results []Result
	for id, m := range s.store.AllMetadata(q.Namespaces) {
		score := scoreMetadata(m, terms, boost)
		if score > 0 {
			results = append(results, Result{ID: id, Score: score, Metadata: m})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// tokenizeQuery lowercases, splits on non-word runs, and drops stop words
// and tokens shorter than 3 characters.
func tokenizeQuery(text string) []string {
	tokens := keywordTokenPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 3 || keywordStopWords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// scoreMetadata sums weighted term counts across the metadata fields.
// Content counts double; description-style fields scale with the boost.
func scoreMetadata(m *store.EmbeddingMetadata, terms []string, boost float64) float64 {
	content := strings.ToLower(m.Content)
	description := strings.ToLower(m.Description)
	purpose := strings.ToLower(m.PurposeSummary)

	var score float64
	for _, term := range terms {
		score += 2.0 * float64(strings.Count(content, term))
		score += boost * float64(strings.Count(description, term))
		score += boost * 2.0 * float64(strings.Count(purpose, term))
		for _, capability := range m.Capabilities {
			score += boost * float64(strings.Count(strings.ToLower(capability), term))
		}
	}
	return score
}

var _ Strategy = (*KeywordStrategy)(nil)
