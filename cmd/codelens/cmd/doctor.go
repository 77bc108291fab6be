package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codelens-ai/codelens/internal/output"
	"github.com/codelens-ai/codelens/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment before indexing or serving",
		Long: `Validate the data directory, disk space, file descriptor limits, and
the reachability of the embedding and LLM hosts. Unreachable hosts are
warnings: the system degrades rather than fails without them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print check details")
	return cmd
}

func runDoctor(ctx context.Context, verbose bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := preflight.New(preflight.Config{
		DataDir:       cfg.DataDir,
		EmbeddingHost: cfg.Embeddings.Host,
		LLMHost:       cfg.LLM.Host,
	})
	results := checker.RunAll(ctx)

	out := output.New(os.Stdout)
	out.Header("CodeLens environment check")
	for _, r := range results {
		line := fmt.Sprintf("%s: %s", r.Name, r.Message)
		switch r.Status {
		case preflight.StatusPass:
			out.Success(line)
		case preflight.StatusWarn:
			out.Warning(line)
		default:
			out.Error(line)
		}
		if verbose && r.Details != "" {
			out.Successf("  %s", r.Details)
		}
	}

	out.Newline()
	summary := preflight.Summary(results)
	if preflight.HasCriticalFailures(results) {
		out.Error("status: " + summary)
		return fmt.Errorf("environment check failed")
	}
	out.Success("status: " + summary)
	return nil
}
