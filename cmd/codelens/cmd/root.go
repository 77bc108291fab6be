// Package cmd provides the codelens CLI commands.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codelens-ai/codelens/internal/config"
	"github.com/codelens-ai/codelens/internal/logging"
	"github.com/codelens-ai/codelens/internal/profiling"
	"github.com/codelens-ai/codelens/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	cpuProfile     string
	memProfile     string
	loggingCleanup func()
	profileCleanup func()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codelens",
		Short: "Code-aware question answering over multi-repo codebases",
		Long: `CodeLens indexes source trees into a namespaced vector store and answers
questions about them by combining hybrid retrieval, bytecode call-graph
analysis, and exception-chain analysis.

Run 'codelens generate-embeddings --path <repo>' to index a repository,
then 'codelens serve' to expose the HTTP and MCP interfaces.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("codelens version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&memProfile, "memprofile", "", "Write a heap profile to this file on exit")
	cmd.PersistentPreRunE = setupRun
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if profileCleanup != nil {
			profileCleanup()
		}
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGenerateEmbeddingsCmd())
	cmd.AddCommand(newBuildKnowledgeGraphCmd())
	cmd.AddCommand(newAnalyzeWorkflowCmd())
	cmd.AddCommand(newGenerateAllCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI. Errors map to exit code 1.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("Error:", err)
		return err
	}
	return nil
}

func setupRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if debugMode {
		level = "debug"
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:    level,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup

	if cpuProfile != "" || memProfile != "" {
		profiler := profiling.New()
		var stopCPU func()
		if cpuProfile != "" {
			if stopCPU, err = profiler.StartCPU(cpuProfile); err != nil {
				return err
			}
		}
		profileCleanup = func() {
			if stopCPU != nil {
				stopCPU()
			}
			if memProfile != "" {
				if err := profiler.WriteHeap(memProfile); err != nil {
					logger.Warn("heap profile failed", "error", err)
				}
			}
		}
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat("codelens.yaml"); err == nil {
			path = "codelens.yaml"
		}
	}
	return config.Load(path)
}
