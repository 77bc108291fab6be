// Package confidence computes the calibrated confidence score attached to
// every answer: a weighted sum of vector relevance, tool success, evidence
// strength, and query clarity.
package confidence

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

// Default component weights.
const (
	DefaultVectorWeight   = 0.40
	DefaultToolWeight     = 0.30
	DefaultEvidenceWeight = 0.20
	DefaultQueryWeight    = 0.10
)

// Component baselines.
const (
	neutralToolScore   = 0.5
	noEvidenceScore    = 0.3
	minClarity         = 0.1
	weightSumTolerance = 1e-6
)

// Rating labels.
const (
	RatingVeryHigh = "Very High"
	RatingHigh     = "High"
	RatingMedium   = "Medium"
	RatingLow      = "Low"
	RatingVeryLow  = "Very Low"
)

// Weights are the component weights; they must sum to 1.0.
type Weights struct {
	Vector   float64
	Tool     float64
	Evidence float64
	Query    float64
}

// DefaultWeights returns the standard component weighting.
func DefaultWeights() Weights {
	return Weights{
		Vector:   DefaultVectorWeight,
		Tool:     DefaultToolWeight,
		Evidence: DefaultEvidenceWeight,
		Query:    DefaultQueryWeight,
	}
}

// Thresholds bucket the final score into ratings.
type Thresholds struct {
	VeryHigh float64
	High     float64
	Medium   float64
	Low      float64
}

// DefaultThresholds returns the standard rating cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{VeryHigh: 0.90, High: 0.75, Medium: 0.50, Low: 0.25}
}

// Inputs are the observations one answer produced.
type Inputs struct {
	// SnippetScores are the relevance scores of the retrieved snippets.
	SnippetScores []float64

	// ToolExecutions / ToolSuccesses count dynamic tool runs.
	ToolExecutions int
	ToolSuccesses  int

	// Evidence strength; HasEvidence false applies the no-evidence baseline.
	HasEvidence    bool
	RelevanceRate  float64
	AverageQuality float64

	// QueryClarity is the clarity heuristic, clamped to [0.1, 1.0].
	QueryClarity float64
}

// Component is one weighted contribution to the final score.
type Component struct {
	Raw      float64 `json:"raw"`
	Weighted float64 `json:"weighted"`
	Percent  float64 `json:"percent"`
}

// Score is the final confidence with its breakdown.
type Score struct {
	Value       float64              `json:"value"`
	Rating      string               `json:"rating"`
	Components  map[string]Component `json:"components"`
	Explanation string               `json:"explanation"`
}

// Calculator combines the four components under fixed weights.
type Calculator struct {
	weights    Weights
	thresholds Thresholds
}

// NewCalculator validates the weights sum to 1.0 and the thresholds are
// strictly descending.
func NewCalculator(w Weights, th Thresholds) (*Calculator, error) {
	sum := w.Vector + w.Tool + w.Evidence + w.Query
	if math.Abs(sum-1.0) > weightSumTolerance {
		return nil, lenserr.New(lenserr.ErrCodeWeightsInvalid,
			fmt.Sprintf("confidence weights sum to %.4f, want 1.0", sum), nil)
	}
	if w.Vector < 0 || w.Tool < 0 || w.Evidence < 0 || w.Query < 0 {
		return nil, lenserr.New(lenserr.ErrCodeWeightsInvalid, "confidence weights must be non-negative", nil)
	}
	if !(th.VeryHigh > th.High && th.High > th.Medium && th.Medium > th.Low && th.Low > 0) {
		return nil, lenserr.ConfigError("confidence thresholds must be strictly descending and positive", nil)
	}
	return &Calculator{weights: w, thresholds: th}, nil
}

// Calculate produces the confidence score for one answer.
func (c *Calculator) Calculate(in Inputs) Score {
	vector := meanScore(in.SnippetScores)

	tool := neutralToolScore
	if in.ToolExecutions > 0 {
		tool = float64(in.ToolSuccesses) / float64(in.ToolExecutions)
	}

	evidence := noEvidenceScore
	if in.HasEvidence {
		evidence = 0.6*clamp01(in.RelevanceRate) + 0.4*clamp01(in.AverageQuality)
	}

	query := clampClarity(in.QueryClarity)

	components := map[string]Component{
		"vector":   {Raw: vector, Weighted: vector * c.weights.Vector},
		"tool":     {Raw: tool, Weighted: tool * c.weights.Tool},
		"evidence": {Raw: evidence, Weighted: evidence * c.weights.Evidence},
		"query":    {Raw: query, Weighted: query * c.weights.Query},
	}

	total := 0.0
	for _, comp := range components {
		total += comp.Weighted
	}
	for name, comp := range components {
		if total > 0 {
			comp.Percent = comp.Weighted / total * 100
		}
		components[name] = comp
	}

	return Score{
		Value:       total,
		Rating:      c.Rating(total),
		Components:  components,
		Explanation: explain(components, total),
	}
}

// Rating buckets a score.
func (c *Calculator) Rating(score float64) string {
	switch {
	case score >= c.thresholds.VeryHigh:
		return RatingVeryHigh
	case score >= c.thresholds.High:
		return RatingHigh
	case score >= c.thresholds.Medium:
		return RatingMedium
	case score >= c.thresholds.Low:
		return RatingLow
	default:
		return RatingVeryLow
	}
}

func explain(components map[string]Component, total float64) string {
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "confidence %.3f:", total)
	for _, name := range names {
		comp := components[name]
		fmt.Fprintf(&b, " %s raw %.3f weighted %.3f (%.1f%%);", name, comp.Raw, comp.Weighted, comp.Percent)
	}
	return strings.TrimSuffix(b.String(), ";")
}

var identifierPattern = regexp.MustCompile(`[a-z][A-Z]|\w+\.\w+|\w+\(\)|[A-Z]\w+[A-Z]`)

// ClarityScore estimates how answerable a query is: very short queries
// lower it, a focused length raises it, and a code identifier is the
// strongest signal. A well-formed question naming an identifier scores
// a full 1.0.
func ClarityScore(query string) float64 {
	words := strings.Fields(query)
	score := 0.5
	switch {
	case len(words) < 3:
		score -= 0.2
	case len(words) <= 30:
		score += 0.1
	default:
		score -= 0.1
	}
	if identifierPattern.MatchString(query) {
		score += 0.3
	}
	if strings.Contains(query, "?") {
		score += 0.1
	}
	return clampClarity(score)
}

func meanScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return clamp01(sum / float64(len(scores)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func clampClarity(v float64) float64 {
	return math.Max(minClarity, math.Min(1, v))
}
