package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, "hnsw", cfg.VectorStore.Engine)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
chunking:
  max_chunk_size: 4000
  overlap_size: 100
mcp:
  retry:
    max_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, 100, cfg.Chunking.OverlapSize)
	assert.Equal(t, 5, cfg.MCP.Retry.MaxAttempts)
	// Untouched keys keep defaults.
	assert.Equal(t, 0.40, cfg.Confidence.VectorWeight)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunking:\n  max_chunk_size: 4000\n"), 0o644))

	t.Setenv("CODELENS_CHUNKING_MAX_CHUNK_SIZE", "2000")
	t.Setenv("CODELENS_CALLPATH_BASE_PACKAGE", "com.example")
	t.Setenv("CODELENS_CONFIDENCE_VECTOR_WEIGHT", "0.5")
	t.Setenv("CODELENS_CONFIDENCE_TOOL_WEIGHT", "0.2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, "com.example", cfg.CallPath.BasePackage)
	assert.Equal(t, 0.5, cfg.Confidence.VectorWeight)
}

func TestValidate_WeightsMustSumToOne(t *testing.T) {
	cfg := Default()
	cfg.Confidence.VectorWeight = 0.5 // sum now 1.1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeWeightsInvalid, lenserr.GetCode(err))
	assert.True(t, lenserr.IsFatal(err))
}

func TestValidate_RejectsBadChunking(t *testing.T) {
	cfg := Default()
	cfg.Chunking.OverlapSize = cfg.Chunking.MaxChunkSize
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Chunking.MaxChunkSize = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownEngine(t *testing.T) {
	cfg := Default()
	cfg.VectorStore.Engine = "faiss"
	assert.Error(t, cfg.Validate())
}

func TestValidate_MissingScanPathIsFatal(t *testing.T) {
	cfg := Default()
	cfg.ErrorChain.ScanPaths = []string{filepath.Join(t.TempDir(), "missing")}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeScanPathMissing, lenserr.GetCode(err))
}

func TestValidate_ScanPathPresent(t *testing.T) {
	cfg := Default()
	cfg.ErrorChain.ScanPaths = []string{t.TempDir()}
	assert.NoError(t, cfg.Validate())
}

func TestEnvList(t *testing.T) {
	t.Setenv("CODELENS_ERRORCHAIN_SCAN_PATHS", t.TempDir()+" , "+t.TempDir())
	cfg := Default()
	cfg.applyEnvOverrides()
	assert.Len(t, cfg.ErrorChain.ScanPaths, 2)
}

func TestRetryConfigFor(t *testing.T) {
	cfg := Default()
	rc := cfg.RetryConfigFor()
	assert.Equal(t, 3, rc.MaxAttempts)
	assert.Equal(t, 0.2, rc.Jitter)
}
