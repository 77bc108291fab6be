package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens-ai/codelens/internal/errorchain"
	"github.com/codelens-ai/codelens/internal/output"
	"github.com/codelens-ai/codelens/internal/store"
)

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{
		"serve",
		"generate-embeddings",
		"build-knowledge-graph",
		"analyze-workflow",
		"generate-all",
		"inspect",
		"version",
	}
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, names[name], "missing subcommand %s", name)
	}
}

func TestRootCmd_VersionFlag(t *testing.T) {
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "codelens version")
}

func TestAnalyzeWorkflowCmd_RequiresClassArg(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"analyze-workflow"})

	assert.Error(t, root.Execute())
}

func TestRenderChunks(t *testing.T) {
	var buf bytes.Buffer
	out := output.NewWithStyles(&buf, output.NoColorStyles())

	chunks := []*store.EmbeddingMetadata{
		{
			RepositoryNamespace: "payments",
			FilePath:            "src/PaymentService.java",
			StartLine:           1,
			EndLine:             40,
			Language:            "java",
			Description:         "Card authorization entry point",
		},
		{
			RepositoryNamespace: "payments",
			FilePath:            "src/PaymentService.java",
			StartLine:           41,
			EndLine:             80,
			Language:            "java",
		},
	}
	renderChunks(out, "src/PaymentService.java", chunks, false)

	got := buf.String()
	assert.Contains(t, got, "src/PaymentService.java: 2 chunks")
	assert.Contains(t, got, "[payments] lines 1-40 (java)")
	assert.Contains(t, got, "Card authorization entry point")
	assert.Contains(t, got, "lines 41-80")
}

func TestRenderWorkflow(t *testing.T) {
	var buf bytes.Buffer
	out := output.NewWithStyles(&buf, output.NoColorStyles())

	renderWorkflow(out, &errorchain.Result{
		ExceptionClass: "PaymentFailedException",
		Hierarchy:      []string{"PaymentFailedException", "RuntimeException", "Exception"},
		ThrowLocations: []errorchain.Location{{File: "a.java", Line: 12}},
		CatchLocations: []errorchain.Location{{File: "b.java", Line: 30}},
		WrappingPatterns: map[string]int{
			"ServiceException <- PaymentFailedException": 3,
		},
		AntiPatterns: map[string]errorchain.AntiPattern{
			"swallowed": {
				Description:    "exception caught and ignored",
				Recommendation: "log or rethrow",
				Locations:      []errorchain.Location{{File: "c.java", Line: 8}},
			},
		},
		HandlingStrategies: []errorchain.HandlingStrategy{
			{Component: "controller", Strategy: "map to 402", Effectiveness: "High"},
		},
	})

	got := buf.String()
	assert.Contains(t, got, "PaymentFailedException")
	assert.Contains(t, got, "RuntimeException -> Exception")
	assert.Contains(t, got, "1 throw sites, 1 catch sites")
	assert.Contains(t, got, "ServiceException <- PaymentFailedException (3)")
	assert.Contains(t, got, "exception caught and ignored")
	assert.Contains(t, got, "fix: log or rethrow")
	assert.Contains(t, got, "map to 402")
}
