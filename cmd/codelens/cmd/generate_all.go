package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codelens-ai/codelens/internal/output"
)

func newGenerateAllCmd() *cobra.Command {
	var path string
	var recursive bool

	cmd := &cobra.Command{
		Use:   "generate-all",
		Short: "Ingest a repository and build the knowledge graph",
		Long: `Run the full preparation pipeline in one pass: chunk and embed the
repository, then build the bytecode call graph. Equivalent to
generate-embeddings --exit followed by build-knowledge-graph.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateAll(cmd.Context(), path, recursive)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Repository path to ingest")
	cmd.Flags().BoolVar(&recursive, "recursive", true, "Descend into subdirectories")
	return cmd
}

func runGenerateAll(ctx context.Context, path string, recursive bool) error {
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

	out.Header("Generating embeddings")
	report, err := a.pipeline.Run(ctx, path, recursive)
	if err != nil {
		return err
	}
	out.IngestReport(report)

	out.Newline()
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
