package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

func defaultCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(DefaultWeights(), DefaultThresholds())
	require.NoError(t, err)
	return c
}

func TestCalculate_WeightedSum(t *testing.T) {
	c := defaultCalculator(t)

	score := c.Calculate(Inputs{
		SnippetScores:  []float64{0.8, 0.6},
		ToolExecutions: 4,
		ToolSuccesses:  3,
		HasEvidence:    true,
		RelevanceRate:  0.5,
		AverageQuality: 1.0,
		QueryClarity:   0.8,
	})

	// 0.7*0.4 + 0.75*0.3 + 0.7*0.2 + 0.8*0.1
	assert.InDelta(t, 0.725, score.Value, 1e-9)
	assert.Equal(t, RatingMedium, score.Rating)
	assert.InDelta(t, 0.7, score.Components["vector"].Raw, 1e-9)
	assert.InDelta(t, 0.75, score.Components["tool"].Raw, 1e-9)
	assert.InDelta(t, 0.7, score.Components["evidence"].Raw, 1e-9)
	assert.InDelta(t, 0.8, score.Components["query"].Raw, 1e-9)
}

func TestCalculate_NeutralToolWithNoExecutions(t *testing.T) {
	c := defaultCalculator(t)
	score := c.Calculate(Inputs{QueryClarity: 0.5})
	assert.InDelta(t, 0.5, score.Components["tool"].Raw, 1e-9)
}

func TestCalculate_NoEvidenceBaseline(t *testing.T) {
	c := defaultCalculator(t)
	score := c.Calculate(Inputs{QueryClarity: 0.5})
	assert.InDelta(t, 0.3, score.Components["evidence"].Raw, 1e-9)
}

func TestCalculate_NoSnippetsZeroVector(t *testing.T) {
	c := defaultCalculator(t)
	score := c.Calculate(Inputs{QueryClarity: 0.5})
	assert.Zero(t, score.Components["vector"].Raw)
}

func TestCalculate_ClarityClamped(t *testing.T) {
	c := defaultCalculator(t)
	assert.InDelta(t, 0.1, c.Calculate(Inputs{QueryClarity: -1}).Components["query"].Raw, 1e-9)
	assert.InDelta(t, 1.0, c.Calculate(Inputs{QueryClarity: 2}).Components["query"].Raw, 1e-9)
}

func TestCalculate_PercentagesSumToHundred(t *testing.T) {
	c := defaultCalculator(t)
	score := c.Calculate(Inputs{
		SnippetScores:  []float64{0.9},
		ToolExecutions: 1,
		ToolSuccesses:  1,
		HasEvidence:    true,
		RelevanceRate:  0.8,
		AverageQuality: 0.8,
		QueryClarity:   0.7,
	})

	total := 0.0
	for _, comp := range score.Components {
		total += comp.Percent
	}
	assert.InDelta(t, 100.0, total, 1e-6)
	assert.Contains(t, score.Explanation, "vector")
	assert.Contains(t, score.Explanation, "weighted")
}

func TestNewCalculator_RejectsBadWeights(t *testing.T) {
	_, err := NewCalculator(Weights{Vector: 0.5, Tool: 0.5, Evidence: 0.5, Query: 0.1}, DefaultThresholds())
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeWeightsInvalid, lenserr.GetCode(err))

	_, err = NewCalculator(Weights{Vector: 1.2, Tool: -0.2, Evidence: 0, Query: 0}, DefaultThresholds())
	assert.Error(t, err)
}

func TestNewCalculator_RejectsBadThresholds(t *testing.T) {
	_, err := NewCalculator(DefaultWeights(), Thresholds{VeryHigh: 0.5, High: 0.75, Medium: 0.5, Low: 0.25})
	assert.Error(t, err)
}

func TestRating_Buckets(t *testing.T) {
	c := defaultCalculator(t)
	assert.Equal(t, RatingVeryHigh, c.Rating(0.95))
	assert.Equal(t, RatingVeryHigh, c.Rating(0.90))
	assert.Equal(t, RatingHigh, c.Rating(0.75))
	assert.Equal(t, RatingMedium, c.Rating(0.50))
	assert.Equal(t, RatingLow, c.Rating(0.25))
	assert.Equal(t, RatingVeryLow, c.Rating(0.24))
}

func TestClarityScore(t *testing.T) {
	specific := ClarityScore("How does PaymentService.charge() handle declined cards?")
	vague := ClarityScore("payments broken")
	assert.Greater(t, specific, vague)
	assert.GreaterOrEqual(t, vague, 0.1)
	assert.LessOrEqual(t, specific, 1.0)

	// A well-formed question naming an identifier maxes out clarity.
	assert.InDelta(t, 1.0, ClarityScore("How does the CustomerService retrieve customer information?"), 1e-9)
}
