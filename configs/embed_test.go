package configs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens-ai/codelens/configs"
	"github.com/codelens-ai/codelens/internal/config"
)

func TestConfigTemplate_LoadsAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codelens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	def := config.Default()
	assert.Equal(t, def.DataDir, cfg.DataDir)
	assert.Equal(t, def.Chunking, cfg.Chunking)
	assert.Equal(t, def.Confidence, cfg.Confidence)
	assert.Equal(t, def.Server, cfg.Server)
}
