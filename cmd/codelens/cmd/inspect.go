package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/codelens-ai/codelens/internal/output"
	"github.com/codelens-ai/codelens/internal/store"
)

func newInspectCmd() *cobra.Command {
	var namespace string
	var jsonOutput bool
	var showContent bool

	cmd := &cobra.Command{
		Use:   "inspect <filepath>",
		Short: "Show the stored chunks for a source file",
		Long: `Look up a file path in the vector store and print the chunks indexed
for it. With no --namespace every namespace is searched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], namespace, jsonOutput, showContent)
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "", "Restrict the lookup to one namespace")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the chunks as JSON")
	cmd.Flags().BoolVar(&showContent, "content", false, "Print each chunk's text")
	return cmd
}

func runInspect(filePath, namespace string, jsonOutput, showContent bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	chunks := a.store.FindByFilePath(filePath, namespace)
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks indexed for %q", filePath)
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].RepositoryNamespace != chunks[j].RepositoryNamespace {
			return chunks[i].RepositoryNamespace < chunks[j].RepositoryNamespace
		}
		return chunks[i].StartLine < chunks[j].StartLine
	})

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(chunks)
	}

	renderChunks(output.New(os.Stdout), filePath, chunks, showContent)
	return nil
}

func renderChunks(out *output.Writer, filePath string, chunks []*store.EmbeddingMetadata, showContent bool) {
	out.Header(fmt.Sprintf("%s: %d chunks", filePath, len(chunks)))
	for _, c := range chunks {
		out.Successf("[%s] lines %d-%d (%s)", c.RepositoryNamespace, c.StartLine, c.EndLine, c.Language)
		if c.Description != "" {
			out.Successf("  %s", c.Description)
		}
		if showContent {
			fmt.Fprintln(os.Stdout, c.Content)
			out.Newline()
		}
	}
}
