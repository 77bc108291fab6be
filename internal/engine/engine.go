// Package engine is the hybrid query engine: it classifies a query, runs
// retrieval, plans and executes analysis tools through the MCP handler,
// and synthesizes an answer with a calibrated confidence score.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codelens-ai/codelens/internal/confidence"
	"github.com/codelens-ai/codelens/internal/embed"
	lenserr "github.com/codelens-ai/codelens/internal/errors"
	"github.com/codelens-ai/codelens/internal/llm"
	"github.com/codelens-ai/codelens/internal/mcp"
	"github.com/codelens-ai/codelens/internal/prompt"
	"github.com/codelens-ai/codelens/internal/search"
)

// DefaultTopK is the retrieval depth when the caller does not choose one.
const DefaultTopK = 8

// Config controls the engine's execution envelope.
type Config struct {
	// MaxExecutionTime caps total wall time for one query.
	MaxExecutionTime time.Duration

	// TopK is the retrieval depth.
	TopK int
}

// Options adjust a single query.
type Options struct {
	Namespaces       []string
	IncludeFullFiles bool
}

// QueryResult is the full outcome of one hybrid query. Success means the
// full pipeline ran undegraded: every planned tool succeeded and the
// answer did not fall back to a retrieval-only summary.
type QueryResult struct {
	Query          string                       `json:"query"`
	Answer         string                       `json:"answer"`
	Success        bool                         `json:"success"`
	Categories     []Category                   `json:"categories"`
	Snippets       []search.Result              `json:"snippets"`
	ToolResults    map[string]*mcp.ToolResponse `json:"tool_results,omitempty"`
	ToolErrors     map[string]string            `json:"tool_errors,omitempty"`
	FallbackUsed   bool                         `json:"fallback_used"`
	Confidence     confidence.Score             `json:"confidence"`
	ProcessingTime time.Duration                `json:"processing_time"`
}

// Engine orchestrates one query end to end.
type Engine struct {
	embedder   embed.Embedder
	classifier search.Classifier
	strategy   search.Strategy
	handler    *mcp.Handler
	prompts    *prompt.Builder
	llm        llm.Service
	confidence *confidence.Calculator
	cfg        Config
	logger     *slog.Logger
}

func New(
	embedder embed.Embedder,
	classifier search.Classifier,
	strategy search.Strategy,
	handler *mcp.Handler,
	prompts *prompt.Builder,
	generator llm.Service,
	calc *confidence.Calculator,
	cfg Config,
	logger *slog.Logger,
) (*Engine, error) {
	if embedder == nil || strategy == nil || handler == nil || calc == nil {
		return nil, lenserr.ValidationError("engine requires embedder, strategy, handler, and confidence calculator", nil)
	}
	if classifier == nil {
		classifier = search.NewPatternClassifier()
	}
	if prompts == nil {
		prompts = prompt.NewBuilder()
	}
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = 30 * time.Second
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder:   embedder,
		classifier: classifier,
		strategy:   strategy,
		handler:    handler,
		prompts:    prompts,
		llm:        generator,
		confidence: calc,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Tools lists the registered analysis tools.
func (e *Engine) Tools() []mcp.Tool {
	return e.handler.Registry().List()
}

// Plan derives the tool execution plan for a query without running it.
func (e *Engine) Plan(query string, namespaces []string) []mcp.PlanStep {
	return e.plan(query, ClassifyCategories(query), nil, namespaces)
}

// Query answers one question. The total wall time is capped by
// MaxExecutionTime; a dynamic-tool failure degrades to retrieval-only
// synthesis instead of failing the query.
func (e *Engine) Query(ctx context.Context, query string, opts Options) (*QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, lenserr.New(lenserr.ErrCodeQueryEmpty, "query must not be empty", nil)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.MaxExecutionTime)
	defer cancel()

	result := &QueryResult{Query: query, Categories: ClassifyCategories(query)}

	queryType, err := e.classifier.Classify(ctx, query)
	if err != nil {
		queryType = search.QueryTypeMixed
	}

	result.Snippets = e.retrieve(ctx, query, queryType, opts.Namespaces)

	plan := e.plan(query, result.Categories, result.Snippets, opts.Namespaces)
	toolExecutions, toolSuccesses := 0, 0
	if len(plan) > 0 {
		resp, err := e.handler.Process(ctx, mcp.NewRequest(query, plan))
		if err == nil {
			result.ToolResults = resp.ToolResults
			result.ToolErrors = toolErrors(resp.ToolResults)
			toolExecutions = resp.Metadata.ToolsExecuted
			toolSuccesses = resp.Metadata.ToolsSucceeded
			if resp.Status != mcp.StatusSuccess {
				result.FallbackUsed = true
			}
		} else {
			e.logger.Warn("tool plan failed, continuing with retrieval only", "error", err)
			result.FallbackUsed = true
		}
	}

	result.Answer = e.synthesize(ctx, query, result, opts)

	result.Confidence = e.confidence.Calculate(confidence.Inputs{
		SnippetScores:  snippetScores(result.Snippets),
		ToolExecutions: toolExecutions,
		ToolSuccesses:  toolSuccesses,
		HasEvidence:    len(result.Snippets) > 0 || toolSuccesses > 0,
		RelevanceRate:  relevanceRate(result.Snippets),
		AverageQuality: meanNormalizedScore(result.Snippets),
		QueryClarity:   confidence.ClarityScore(query),
	})
	result.Success = !result.FallbackUsed && len(result.ToolErrors) == 0
	result.ProcessingTime = time.Since(start)
	return result, nil
}

// toolErrors collects the failure message of every unsuccessful tool.
func toolErrors(results map[string]*mcp.ToolResponse) map[string]string {
	var out map[string]string
	for name, tr := range results {
		if tr == nil || tr.Success {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		if len(tr.Errors) > 0 {
			out[name] = tr.Errors[0]
		} else {
			out[name] = tr.Message
		}
	}
	return out
}

// retrieve runs the hybrid strategy; an embedding failure degrades to
// keyword-only retrieval rather than failing the query.
func (e *Engine) retrieve(ctx context.Context, query string, queryType search.QueryType, namespaces []string) []search.Result {
	q := search.Query{Text: query, Type: queryType, Namespaces: namespaces}
	if vec, err := e.embedder.Embed(ctx, query); err == nil {
		q.Embedding = vec
	} else {
		e.logger.Warn("query embedding failed, keyword retrieval only", "error", err)
	}

	results, err := e.strategy.Retrieve(ctx, q, e.cfg.TopK)
	if err != nil {
		e.logger.Warn("retrieval failed", "error", err)
		return nil
	}
	return results
}

// plan maps categories to tool invocations. Tools whose parameters cannot
// be derived from the query are left out.
func (e *Engine) plan(query string, categories []Category, snippets []search.Result, namespaces []string) []mcp.PlanStep {
	var plan []mcp.PlanStep
	seen := make(map[string]bool)
	add := func(step mcp.PlanStep) {
		if !seen[step.ToolName] {
			seen[step.ToolName] = true
			plan = append(plan, step)
		}
	}

	for _, cat := range categories {
		switch cat {
		case CategoryMethodBehavior:
			if method := extractMethodKey(query); method != "" {
				add(mcp.PlanStep{
					ToolName: mcp.ToolCallPath,
					Params:   map[string]any{"method": method},
					Priority: 1,
				})
			}
		case CategoryErrorDiagnosis:
			if class := extractExceptionClass(query); class != "" {
				add(mcp.PlanStep{
					ToolName: mcp.ToolErrorChain,
					Params: map[string]any{
						"exception_class":     class,
						"include_hierarchy":   true,
						"include_propagation": true,
					},
					Priority: 1,
				})
			}
		case CategoryConfigImpact:
			if key := extractConfigKey(query); key != "" {
				add(mcp.PlanStep{
					ToolName: mcp.ToolConfigImpact,
					Params:   map[string]any{"config_key": key},
					Priority: 1,
				})
			}
		case CategoryCrossComponent:
			params := map[string]any{"query": query}
			if len(namespaces) > 0 {
				params["namespaces"] = namespaces
			}
			add(mcp.PlanStep{ToolName: mcp.ToolCrossRepo, Params: params, Priority: 2})

			// Tools implied by the retrieved snippets.
			for _, s := range snippets {
				if s.Metadata == nil {
					continue
				}
				if class := extractExceptionClass(s.Metadata.Content); class != "" {
					add(mcp.PlanStep{
						ToolName: mcp.ToolErrorChain,
						Params:   map[string]any{"exception_class": class},
						Priority: 2,
					})
					break
				}
			}
		}
	}
	return plan
}

// synthesize builds the prompt and calls the LLM; when the LLM is missing
// or fails it falls back to a retrieval-only summary.
func (e *Engine) synthesize(ctx context.Context, query string, result *QueryResult, opts Options) string {
	built := e.prompts.Build(prompt.Input{
		Query:            query,
		Snippets:         promptSnippets(result.Snippets),
		IncludeFullFiles: opts.IncludeFullFiles,
	})

	if e.llm != nil {
		answer, err := e.llm.Generate(ctx, built)
		if err == nil {
			return answer
		}
		e.logger.Warn("LLM synthesis failed, using retrieval summary", "error", err)
	}
	result.FallbackUsed = true
	return retrievalSummary(query, result.Snippets)
}

// retrievalSummary is the no-LLM answer: the top snippets with locations.
func retrievalSummary(query string, snippets []search.Result) string {
	if len(snippets) == 0 {
		return "No indexed code matched the question."
	}
	var b strings.Builder
	b.WriteString("Most relevant code for the question:\n")
	for i, s := range snippets {
		if s.Metadata == nil {
			continue
		}
		fmt.Fprintf(&b, "%d. %s (lines %d-%d)", i+1, s.Metadata.FilePath, s.Metadata.StartLine, s.Metadata.EndLine)
		if s.Metadata.PurposeSummary != "" {
			fmt.Fprintf(&b, " - %s", s.Metadata.PurposeSummary)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func promptSnippets(results []search.Result) []prompt.Snippet {
	out := make([]prompt.Snippet, 0, len(results))
	for _, r := range results {
		out = append(out, prompt.Snippet{Metadata: r.Metadata, Score: r.Score})
	}
	return out
}

func snippetScores(results []search.Result) []float64 {
	out := make([]float64, 0, len(results))
	for _, r := range results {
		out = append(out, normalizeScore(r.Score))
	}
	return out
}

// normalizeScore maps a strategy score into [0, 1]. Hybrid fusion scores
// exceed 1; they are capped rather than rescaled so semantic scores keep
// their meaning.
func normalizeScore(score float64) float64 {
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

func relevanceRate(results []search.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	relevant := 0
	for _, r := range results {
		if normalizeScore(r.Score) >= 0.5 {
			relevant++
		}
	}
	return float64(relevant) / float64(len(results))
}

func meanNormalizedScore(results []search.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range results {
		sum += normalizeScore(r.Score)
	}
	return sum / float64(len(results))
}
