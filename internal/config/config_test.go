package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "summary", cfg.DefaultDisclosureLevel)
	assert.Equal(t, 4000, cfg.DefaultTokenBudget)
	assert.Equal(t, 1.0, cfg.RetrievalWeights.Lexical)
	assert.Equal(t, "hash-v1", cfg.EmbeddingBackend)
	assert.Len(t, cfg.Layers, 5)
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "skillregistry.yaml")

	content := `
default_disclosure_level: full
default_token_budget: 8000
retrieval_weights:
  lexical: 0.5
  vector: 1.5
  context: 0.25
embedding_backend: local-model
bandit_enabled: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := Load(configPath, "")
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.DefaultDisclosureLevel)
	assert.Equal(t, 8000, cfg.DefaultTokenBudget)
	assert.Equal(t, 0.5, cfg.RetrievalWeights.Lexical)
	assert.Equal(t, 1.5, cfg.RetrievalWeights.Vector)
	assert.Equal(t, "local-model", cfg.EmbeddingBackend)
	assert.False(t, cfg.BanditEnabled)
}

func TestLoadWithEnvVarOverride(t *testing.T) {
	os.Setenv("SKILLREG_DEFAULT_TOKEN_BUDGET", "2000")
	defer os.Unsetenv("SKILLREG_DEFAULT_TOKEN_BUDGET")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "skillregistry.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("default_token_budget: 4000\n"), 0o644))

	cfg, err := Load(configPath, "")
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.DefaultTokenBudget)
}

func TestLoadRootOverrideAppliesToEveryLayer(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "skillregistry.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{}"), 0o644))

	cfg, err := Load(configPath, "/override/skills")
	require.NoError(t, err)
	for _, l := range cfg.Layers {
		assert.Equal(t, "/override/skills", l.Root)
	}
}

func TestJSONOutputRequested(t *testing.T) {
	assert.False(t, JSONOutputRequested())
	os.Setenv("SKILLREG_JSON", "1")
	defer os.Unsetenv("SKILLREG_JSON")
	assert.True(t, JSONOutputRequested())
}
