// Package output renders CLI reports: answers, ingestion summaries,
// and metrics. Colors are applied only when writing to a terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/codelens-ai/codelens/internal/confidence"
	"github.com/codelens-ai/codelens/internal/engine"
	"github.com/codelens-ai/codelens/internal/index"
	"github.com/codelens-ai/codelens/internal/telemetry"
)

const timeRounding = time.Millisecond

// Writer formats CLI output. Write errors are ignored; this is console
// output.
type Writer struct {
	out    io.Writer
	styles Styles
}

// New creates a writer, enabling color for terminals unless NO_COLOR or
// a CI environment says otherwise.
func New(out io.Writer) *Writer {
	noColor := !IsTTY(out) || DetectNoColor() || DetectCI()
	return &Writer{out: out, styles: GetStyles(noColor)}
}

// NewWithStyles creates a writer with explicit styles.
func NewWithStyles(out io.Writer, styles Styles) *Writer {
	return &Writer{out: out, styles: styles}
}

// IsTTY reports whether the writer is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether we appear to run under CI.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

func (w *Writer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format, args...)
}

// Header prints a section header.
func (w *Writer) Header(msg string) {
	w.printf("%s\n", w.styles.Header.Render(msg))
}

// Success prints a success line.
func (w *Writer) Success(msg string) {
	w.printf("%s\n", w.styles.Success.Render("OK  "+msg))
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	w.printf("%s\n", w.styles.Warning.Render("WARN  "+msg))
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	w.printf("%s\n", w.styles.Error.Render("ERROR  "+msg))
}

// Errorf prints a formatted error line.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	w.printf("\n")
}

// Answer renders a query result: the answer text, its sources, and the
// confidence breakdown.
func (w *Writer) Answer(result *engine.QueryResult) {
	w.Header("Answer")
	w.printf("%s\n\n", result.Answer)

	if len(result.Snippets) > 0 {
		w.Header("Sources")
		for _, s := range result.Snippets {
			if s.Metadata == nil {
				continue
			}
			loc := fmt.Sprintf("%s:%d-%d", s.Metadata.FilePath, s.Metadata.StartLine, s.Metadata.EndLine)
			w.printf("  %s %s\n", w.styles.Accent.Render(loc), w.styles.Dim.Render(fmt.Sprintf("(score %.3f)", s.Score)))
		}
		w.Newline()
	}

	w.Confidence(result.Confidence)

	if result.FallbackUsed {
		w.Warning("answered from retrieval only; tool analysis was unavailable")
	}
	w.printf("%s\n", w.styles.Dim.Render(fmt.Sprintf("processed in %s", result.ProcessingTime.Round(timeRounding))))
}

// Confidence renders the score with a rating-appropriate color.
func (w *Writer) Confidence(score confidence.Score) {
	style := w.ratingStyle(score.Rating)
	w.printf("%s %s\n", w.styles.Label.Render("Confidence:"),
		style.Render(fmt.Sprintf("%.0f%% (%s)", score.Value*100, score.Rating)))
	if score.Explanation != "" {
		w.printf("%s\n", w.styles.Dim.Render(score.Explanation))
	}
}

func (w *Writer) ratingStyle(rating string) lipgloss.Style {
	switch rating {
	case confidence.RatingVeryHigh, confidence.RatingHigh:
		return w.styles.Success
	case confidence.RatingMedium:
		return w.styles.Warning
	default:
		return w.styles.Error
	}
}

// IngestReport renders an ingestion run summary.
func (w *Writer) IngestReport(report *index.Report) {
	w.Header(fmt.Sprintf("Indexed %s", report.Namespace))
	w.printf("  %s %d\n", w.styles.Label.Render("files scanned:"), report.FilesScanned)
	w.printf("  %s %d\n", w.styles.Label.Render("files skipped:"), report.FilesSkipped)
	w.printf("  %s %d\n", w.styles.Label.Render("chunks stored:"), report.ChunksStored)
	if report.ChunksFiltered > 0 {
		w.printf("  %s %d\n", w.styles.Label.Render("chunks filtered:"), report.ChunksFiltered)
	}
	if report.ChunksFailed > 0 {
		w.Warning(fmt.Sprintf("%d chunks failed to embed or store", report.ChunksFailed))
	}
	w.printf("  %s %s\n", w.styles.Label.Render("duration:"), report.Duration.Round(timeRounding))
}

// Metrics renders a telemetry snapshot.
func (w *Writer) Metrics(snap *telemetry.Snapshot) {
	w.Header("Query metrics")
	w.printf("  %s %d\n", w.styles.Label.Render("total questions:"), snap.TotalQuestions)
	w.printf("  %s %.0f%%\n", w.styles.Label.Render("fallback rate:"), snap.FallbackPercentage())
	w.printf("  %s %d\n", w.styles.Label.Render("tool failures:"), snap.ToolFailureCount)
	w.printf("  %s %.0f%%\n", w.styles.Label.Render("avg confidence:"), snap.AverageConfidence*100)

	if len(snap.CategoryCounts) > 0 {
		w.printf("  %s\n", w.styles.Label.Render("by category:"))
		categories := make([]string, 0, len(snap.CategoryCounts))
		for c := range snap.CategoryCounts {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			w.printf("    %-18s %d\n", c, snap.CategoryCounts[c])
		}
	}

	if len(snap.TopTerms) > 0 {
		terms := make([]string, 0, len(snap.TopTerms))
		for i, tc := range snap.TopTerms {
			if i >= 10 {
				break
			}
			terms = append(terms, fmt.Sprintf("%s(%d)", tc.Term, tc.Count))
		}
		w.printf("  %s %s\n", w.styles.Label.Render("top terms:"), strings.Join(terms, " "))
	}
}

// Progress prints an in-place progress bar.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	w.printf("\r[%s] %.0f%% %s", renderProgressBar(current, total, 30), pct, msg)
	if current >= total {
		w.Newline()
	}
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
