package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codelens-ai/codelens/internal/errorchain"
	"github.com/codelens-ai/codelens/internal/output"
)

func newAnalyzeWorkflowCmd() *cobra.Command {
	var jsonOutput bool
	var skipHierarchy bool
	var skipPropagation bool

	cmd := &cobra.Command{
		Use:   "analyze-workflow <exception-class>",
		Short: "Trace how an exception propagates and is handled",
		Long: `Analyze an exception class across the configured scan paths: throw and
catch sites, wrapping and logging patterns, handling anti-patterns, and
the call-graph propagation chains that carry it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyzeWorkflow(cmd.Context(), args[0], jsonOutput, errorchain.Flags{
				IncludeHierarchy:   !skipHierarchy,
				IncludePropagation: !skipPropagation,
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the full analysis as JSON")
	cmd.Flags().BoolVar(&skipHierarchy, "no-hierarchy", false, "Skip the class hierarchy pass")
	cmd.Flags().BoolVar(&skipPropagation, "no-propagation", false, "Skip call-graph propagation")
	return cmd
}

func runAnalyzeWorkflow(ctx context.Context, exceptionClass string, jsonOutput bool, flags errorchain.Flags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	if flags.IncludePropagation {
		a.startAnalyzers(ctx)
	}

	result, err := a.chains.Analyze(ctx, exceptionClass, flags)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	renderWorkflow(output.New(os.Stdout), result)
	return nil
}

func renderWorkflow(out *output.Writer, r *errorchain.Result) {
	out.Header(fmt.Sprintf("Error chain: %s", r.ExceptionClass))

	if len(r.Hierarchy) > 0 {
		out.Successf("hierarchy: %s", strings.Join(r.Hierarchy, " -> "))
	}
	out.Successf("%d throw sites, %d catch sites", len(r.ThrowLocations), len(r.CatchLocations))

	if len(r.WrappingPatterns) > 0 {
		out.Newline()
		out.Header("Wrapping patterns")
		for _, pattern := range sortedKeys(r.WrappingPatterns) {
			out.Successf("%s (%d)", pattern, r.WrappingPatterns[pattern])
		}
	}

	if len(r.PropagationChains) > 0 {
		out.Newline()
		out.Header("Propagation chains")
		for _, chain := range r.PropagationChains {
			steps := make([]string, 0, len(chain.Nodes))
			for _, n := range chain.Nodes {
				steps = append(steps, fmt.Sprintf("%s (%s)", n.Component, n.Action))
			}
			out.Successf("%s", strings.Join(steps, " -> "))
		}
	}

	if len(r.AntiPatterns) > 0 {
		out.Newline()
		out.Header("Anti-patterns")
		for _, name := range sortedKeys(r.AntiPatterns) {
			ap := r.AntiPatterns[name]
			out.Warning(fmt.Sprintf("%s: %s (%d sites)", name, ap.Description, len(ap.Locations)))
			out.Successf("  fix: %s", ap.Recommendation)
		}
	}

	if len(r.HandlingStrategies) > 0 {
		out.Newline()
		out.Header("Handling strategies")
		for _, hs := range r.HandlingStrategies {
			out.Successf("%s: %s (effectiveness %s)", hs.Component, hs.Strategy, hs.Effectiveness)
		}
	}

	for _, note := range r.AnalysisNotes {
		out.Warning(note)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
