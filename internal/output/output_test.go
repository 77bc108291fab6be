package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codelens-ai/codelens/internal/confidence"
	"github.com/codelens-ai/codelens/internal/engine"
	"github.com/codelens-ai/codelens/internal/index"
	"github.com/codelens-ai/codelens/internal/search"
	"github.com/codelens-ai/codelens/internal/store"
	"github.com/codelens-ai/codelens/internal/telemetry"
)

func plainWriter() (*Writer, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewWithStyles(&buf, NoColorStyles()), &buf
}

func TestNew_NonTTYDisablesColor(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)
	w.Success("done")
	assert.Equal(t, "OK  done\n", buf.String())
}

func TestIsTTY_NonFile(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}

func TestStatusLines(t *testing.T) {
	w, buf := plainWriter()
	w.Success("indexed")
	w.Warning("slow")
	w.Errorf("failed: %s", "boom")

	out := buf.String()
	assert.Contains(t, out, "OK  indexed")
	assert.Contains(t, out, "WARN  slow")
	assert.Contains(t, out, "ERROR  failed: boom")
}

func TestAnswer_RendersSourcesAndConfidence(t *testing.T) {
	w, buf := plainWriter()
	w.Answer(&engine.QueryResult{
		Answer: "The charge flow starts in PaymentService.",
		Snippets: []search.Result{
			{
				Score: 0.91,
				Metadata: &store.EmbeddingMetadata{
					FilePath:  "src/PaymentService.java",
					StartLine: 10,
					EndLine:   30,
				},
			},
		},
		Confidence: confidence.Score{
			Value:       0.82,
			Rating:      confidence.RatingHigh,
			Explanation: "strong retrieval signal",
		},
		ProcessingTime: 1500 * time.Millisecond,
	})

	out := buf.String()
	assert.Contains(t, out, "The charge flow starts in PaymentService.")
	assert.Contains(t, out, "src/PaymentService.java:10-30")
	assert.Contains(t, out, "82% (High)")
	assert.Contains(t, out, "strong retrieval signal")
	assert.NotContains(t, out, "retrieval only")
}

func TestAnswer_FallbackWarning(t *testing.T) {
	w, buf := plainWriter()
	w.Answer(&engine.QueryResult{
		Answer:       "summary",
		FallbackUsed: true,
		Confidence:   confidence.Score{Value: 0.3, Rating: confidence.RatingLow},
	})
	assert.Contains(t, buf.String(), "retrieval only")
}

func TestIngestReport(t *testing.T) {
	w, buf := plainWriter()
	w.IngestReport(&index.Report{
		Namespace:    "payments",
		FilesScanned: 12,
		FilesSkipped: 3,
		ChunksStored: 40,
		ChunksFailed: 2,
		Duration:     2 * time.Second,
	})

	out := buf.String()
	assert.Contains(t, out, "Indexed payments")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "2 chunks failed")
}

func TestMetrics_SortedCategories(t *testing.T) {
	w, buf := plainWriter()
	w.Metrics(&telemetry.Snapshot{
		TotalQuestions: 4,
		FallbackCount:  1,
		CategoryCounts: map[string]int64{
			"method-behavior": 1,
			"code-location":   3,
		},
		TopTerms:          []telemetry.TermCount{{Term: "payment", Count: 3}},
		AverageConfidence: 0.7,
	})

	out := buf.String()
	assert.Less(t, strings.Index(out, "code-location"), strings.Index(out, "method-behavior"))
	assert.Contains(t, out, "payment(3)")
	assert.Contains(t, out, "25%")
}

func TestProgressBar(t *testing.T) {
	w, buf := plainWriter()
	w.Progress(5, 10, "embedding")
	assert.Contains(t, buf.String(), "50%")

	bar := renderProgressBar(10, 10, 4)
	assert.Equal(t, strings.Repeat("█", 4), bar)
	assert.Equal(t, strings.Repeat("░", 4), renderProgressBar(0, 10, 4))
}
