package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEDGERLENS_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gemini", cfg.LLM.Provider)
	require.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	require.Equal(t, 10, cfg.Engine.MaxIterations)
	require.Equal(t, 100, cfg.Engine.BatchSize)
	require.Equal(t, 3, cfg.Engine.TransferWindowDays)
	require.Equal(t, 2, cfg.Engine.MinRecurringOccurrences)
	require.Equal(t, 0.70, cfg.Engine.LLMConfidenceFloor)
	require.True(t, cfg.Engine.KeywordLearning)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[database]
path = "/tmp/lens-test.db"

[engine]
max_iterations = 4
merge_threshold = 0.9

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	t.Setenv("LEDGERLENS_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/lens-test.db", cfg.Database.Path)
	require.Equal(t, 4, cfg.Engine.MaxIterations)
	require.Equal(t, 0.9, cfg.Engine.MergeThreshold)
	require.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	require.Equal(t, 100, cfg.Engine.BatchSize)
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[engine]
merge_threshold = 1.4
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	t.Setenv("LEDGERLENS_CONFIG", path)

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "merge_threshold")
}

func TestEngineConfigValidate(t *testing.T) {
	t.Parallel()

	valid := EngineConfig{
		MaxIterations: 10, BatchSize: 100, TransferWindowDays: 3,
		MergeThreshold: 0.82, EmbeddingThreshold: 0.74, LLMConfidenceFloor: 0.7,
	}
	require.NoError(t, valid.Validate())

	broken := valid
	broken.MaxIterations = 0
	require.Error(t, broken.Validate())

	broken = valid
	broken.BatchSize = 0
	require.Error(t, broken.Validate())

	broken = valid
	broken.LLMConfidenceFloor = -0.1
	require.Error(t, broken.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("LEDGERLENS_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Database.Path = "/tmp/saved.db"
	cfg.Engine.MergeThreshold = 0.88
	require.NoError(t, Save(cfg))

	loaded, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/saved.db", loaded.Database.Path)
	require.Equal(t, 0.88, loaded.Engine.MergeThreshold)
}
