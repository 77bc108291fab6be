package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codelens-ai/codelens/internal/output"
)

func newGenerateEmbeddingsCmd() *cobra.Command {
	var path string
	var recursive bool
	var verbose bool
	var exitAfter bool

	cmd := &cobra.Command{
		Use:   "generate-embeddings",
		Short: "Chunk and embed a source tree into the vector store",
		Long: `Scan a repository, split its files into chunks, embed them, and store
the vectors under a namespace derived from the repository directory.

Without --exit the command keeps running after the initial pass and
re-ingests the tree whenever files change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateEmbeddings(cmd.Context(), path, recursive, verbose, exitAfter)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Repository path to ingest")
	cmd.Flags().BoolVar(&recursive, "recursive", true, "Descend into subdirectories")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Print per-file progress")
	cmd.Flags().BoolVar(&exitAfter, "exit", false, "Exit after the initial ingestion pass")
	return cmd
}

func runGenerateEmbeddings(ctx context.Context, path string, recursive, verbose, exitAfter bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()
	if verbose {
		logger = logger.With("component", "ingest")
	}

	a, err := newApp(cfg, logger)
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

	if failures := a.store.Failures().Count(); failures > 0 {
		out.Warning("some chunks could not be embedded; they will be retried on the next pass")
	}

	if exitAfter {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out.Newline()
	out.Successf("watching %s for changes (ctrl-c to stop)", path)
	if err := startWatching(ctx, a, []string{path}, logger); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
