package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codelens-ai/codelens/internal/output"
)

func newBuildKnowledgeGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-knowledge-graph",
		Short: "Build the bytecode call graph",
		Long: `Scan the configured class roots, decode the bytecode, and build the
method call graph used by the call-path and error-chain tools. The graph
is cached on disk so later runs start warm.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuildKnowledgeGraph(cmd.Context())
		},
	}
	return cmd
}

func runBuildKnowledgeGraph(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	out := output.New(os.Stdout)
	out.Header("Building knowledge graph")

	a.startAnalyzers(ctx)
	if err := a.graph.WaitReady(ctx); err != nil {
		return err
	}

	stats := a.graph.GraphStats()
	out.Successf("call graph ready: %d types, %d methods, %d call edges",
		stats.Types, stats.Methods, stats.Edges)
	return nil
}
