package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/codelens-ai/codelens/internal/callgraph"
	"github.com/codelens-ai/codelens/internal/embed"
	"github.com/codelens-ai/codelens/internal/errorchain"
	"github.com/codelens-ai/codelens/internal/search"
	"github.com/codelens-ai/codelens/internal/store"
)

// Tool names as registered and referenced by execution plans.
const (
	ToolCallPath     = "call-path"
	ToolErrorChain   = "error-chain"
	ToolConfigImpact = "config-impact"
	ToolCrossRepo    = "cross-repo"
)

// CallPathTool traverses the bytecode call graph from a starting method.
type CallPathTool struct {
	graph *callgraph.Analyzer
}

func NewCallPathTool(graph *callgraph.Analyzer) *CallPathTool {
	return &CallPathTool{graph: graph}
}

func (t *CallPathTool) Name() string { return ToolCallPath }

func (t *CallPathTool) Description() string {
	return "Builds the call path from a method through the compiled call graph, expanding interface calls to their implementations."
}

func (t *CallPathTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "method", Type: "string", Description: "Method key, e.g. com.app.OrderService.place", Required: true},
		{Name: "max_depth", Type: "integer", Description: "Traversal depth bound", Default: callgraph.DefaultMaxDepth},
		{Name: "include_callers", Type: "boolean", Description: "Also list direct callers of the method", Default: false},
	}
}

func (t *CallPathTool) Execute(ctx context.Context, params map[string]any) (*ToolResponse, error) {
	method, err := stringParam(params, "method", true)
	if err != nil {
		return nil, err
	}
	maxDepth := intParam(params, "max_depth", 0)

	resp := &ToolResponse{}
	if !t.graph.Ready() {
		resp.Warnings = append(resp.Warnings, "call graph is still initializing; results may be incomplete")
	}

	g, err := t.graph.AnalyzeMethod(method, maxDepth)
	if err != nil {
		return nil, err
	}
	if g.Truncated {
		resp.Warnings = append(resp.Warnings, "call graph truncated at the node limit")
	}

	nodes := make([]map[string]any, 0, len(g.Nodes))
	for _, key := range sortedKeys(g.Nodes) {
		n := g.Nodes[key]
		nodes = append(nodes, map[string]any{
			"key":          key,
			"class":        n.ClassName,
			"method":       n.MethodName,
			"is_interface": n.IsInterface,
			"is_abstract":  n.IsAbstract,
			"source_file":  n.SourceFile,
			"line":         n.LineNumber,
		})
	}

	resp.Success = true
	resp.Message = fmt.Sprintf("call path from %s: %d nodes", g.Root.Key(), g.Size())
	resp.Data = map[string]any{
		"root":      g.Root.Key(),
		"nodes":     nodes,
		"edges":     g.Edges,
		"truncated": g.Truncated,
	}
	if boolParam(params, "include_callers", false) {
		resp.Data["callers"] = t.graph.Callers(g.Root.Key())
	}
	return resp, nil
}

// ErrorChainTool analyzes how an exception class is thrown, propagated,
// and handled.
type ErrorChainTool struct {
	chains *errorchain.Analyzer
}

func NewErrorChainTool(chains *errorchain.Analyzer) *ErrorChainTool {
	return &ErrorChainTool{chains: chains}
}

func (t *ErrorChainTool) Name() string { return ToolErrorChain }

func (t *ErrorChainTool) Description() string {
	return "Analyzes throw, catch, wrap, and log sites for an exception class, including propagation chains and handling anti-patterns."
}

func (t *ErrorChainTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "exception_class", Type: "string", Description: "Fully qualified or simple exception class name", Required: true},
		{Name: "include_hierarchy", Type: "boolean", Default: true},
		{Name: "include_propagation", Type: "boolean", Default: true},
	}
}

func (t *ErrorChainTool) Execute(ctx context.Context, params map[string]any) (*ToolResponse, error) {
	class, err := stringParam(params, "exception_class", true)
	if err != nil {
		return nil, err
	}
	flags := errorchain.Flags{
		IncludeHierarchy:   boolParam(params, "include_hierarchy", true),
		IncludePropagation: boolParam(params, "include_propagation", true),
	}

	result, err := t.chains.Analyze(ctx, class, flags)
	if err != nil {
		return nil, err
	}

	resp := &ToolResponse{
		Success: true,
		Message: fmt.Sprintf("error chain for %s: %d throw sites, %d catch sites",
			class, len(result.ThrowLocations), len(result.CatchLocations)),
		Data: map[string]any{
			"exception_class":       result.ExceptionClass,
			"hierarchy":             result.Hierarchy,
			"propagation_chains":    result.PropagationChains,
			"wrapping_patterns":     result.WrappingPatterns,
			"logging_patterns":      result.LoggingPatterns,
			"anti_patterns":         result.AntiPatterns,
			"common_error_messages": result.CommonErrorMessages,
			"handling_strategies":   result.HandlingStrategies,
			"throw_locations":       result.ThrowLocations,
			"catch_locations":       result.CatchLocations,
			"recommendations":       result.Recommendations,
		},
	}
	for _, note := range result.AnalysisNotes {
		resp.Warnings = append(resp.Warnings, note)
	}
	return resp, nil
}

// ConfigImpactTool finds code chunks that reference a configuration key.
type ConfigImpactTool struct {
	store *store.Store
}

func NewConfigImpactTool(s *store.Store) *ConfigImpactTool {
	return &ConfigImpactTool{store: s}
}

func (t *ConfigImpactTool) Name() string { return ToolConfigImpact }

func (t *ConfigImpactTool) Description() string {
	return "Finds every indexed code chunk that references a configuration key, across all repositories."
}

func (t *ConfigImpactTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "config_key", Type: "string", Description: "Configuration key, e.g. payment.gateway.timeout", Required: true},
		{Name: "namespaces", Type: "array", Description: "Restrict to these repository namespaces"},
	}
}

func (t *ConfigImpactTool) Execute(ctx context.Context, params map[string]any) (*ToolResponse, error) {
	key, err := stringParam(params, "config_key", true)
	if err != nil {
		return nil, err
	}
	namespaces := stringSliceParam(params, "namespaces")

	type reference struct {
		ChunkID   string `json:"chunk_id"`
		File      string `json:"file"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
		Namespace string `json:"namespace"`
	}

	var refs []reference
	files := make(map[string]bool)
	for id, meta := range t.store.AllMetadata(namespaces) {
		if !strings.Contains(meta.Content, key) {
			continue
		}
		refs = append(refs, reference{
			ChunkID:   id,
			File:      meta.FilePath,
			StartLine: meta.StartLine,
			EndLine:   meta.EndLine,
			Namespace: meta.RepositoryNamespace,
		})
		files[meta.FilePath] = true
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].File != refs[j].File {
			return refs[i].File < refs[j].File
		}
		return refs[i].StartLine < refs[j].StartLine
	})

	resp := &ToolResponse{
		Success: true,
		Message: fmt.Sprintf("config key %q referenced in %d chunks across %d files", key, len(refs), len(files)),
		Data: map[string]any{
			"config_key":      key,
			"references":      refs,
			"file_count":      len(files),
			"reference_count": len(refs),
		},
	}
	if len(refs) == 0 {
		resp.Warnings = append(resp.Warnings, "no indexed code references this key")
	}
	return resp, nil
}

// CrossRepoTool runs a hybrid search across every repository namespace and
// groups the hits by repository.
type CrossRepoTool struct {
	strategy search.Strategy
	embedder embed.Embedder
}

func NewCrossRepoTool(strategy search.Strategy, embedder embed.Embedder) *CrossRepoTool {
	return &CrossRepoTool{strategy: strategy, embedder: embedder}
}

func (t *CrossRepoTool) Name() string { return ToolCrossRepo }

func (t *CrossRepoTool) Description() string {
	return "Traces a concept across repository boundaries by searching every indexed namespace and grouping matches by repository."
}

func (t *CrossRepoTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "query", Type: "string", Description: "Search text", Required: true},
		{Name: "limit", Type: "integer", Default: 10},
		{Name: "namespaces", Type: "array", Description: "Restrict to these repository namespaces"},
	}
}

func (t *CrossRepoTool) Execute(ctx context.Context, params map[string]any) (*ToolResponse, error) {
	query, err := stringParam(params, "query", true)
	if err != nil {
		return nil, err
	}
	limit := intParam(params, "limit", 10)

	vec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := t.strategy.Retrieve(ctx, search.Query{
		Text:       query,
		Embedding:  vec,
		Type:       search.QueryTypeMixed,
		Namespaces: stringSliceParam(params, "namespaces"),
	}, limit)
	if err != nil {
		return nil, err
	}

	byRepo := make(map[string][]map[string]any)
	for _, r := range results {
		ns := ""
		entry := map[string]any{"id": r.ID, "score": r.Score}
		if r.Metadata != nil {
			ns = r.Metadata.RepositoryNamespace
			entry["file"] = r.Metadata.FilePath
			entry["start_line"] = r.Metadata.StartLine
			entry["end_line"] = r.Metadata.EndLine
			entry["description"] = r.Metadata.Description
		}
		byRepo[ns] = append(byRepo[ns], entry)
	}

	return &ToolResponse{
		Success: true,
		Message: fmt.Sprintf("found %d matches across %d repositories", len(results), len(byRepo)),
		Data: map[string]any{
			"query":         query,
			"matches":       len(results),
			"by_repository": byRepo,
		},
	}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
