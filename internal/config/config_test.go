package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultBackend, cfg.Embeddings.Backend)
	assert.Equal(t, DefaultOllamaURL, cfg.Embeddings.Ollama.URL)
	assert.Equal(t, DefaultOllamaModel, cfg.Embeddings.Ollama.Model)
	assert.Equal(t, DefaultLocalDimensions, cfg.Embeddings.Local.Dimensions)
	assert.Equal(t, DefaultChunkSize, cfg.Indexing.ChunkSize)
	assert.Equal(t, DefaultBatchSize, cfg.Indexing.BatchSize)
	assert.Equal(t, DefaultAnswerBudget, cfg.Search.AnswerBudget)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch floor", func(c *Config) { c.Indexing.BatchFloor = 0 }},
		{"ceiling below size", func(c *Config) { c.Indexing.BatchCeiling = c.Indexing.BatchSize - 1 }},
		{"negative overlap", func(c *Config) { c.Indexing.OverlapFraction = -0.1 }},
		{"overlap of one", func(c *Config) { c.Indexing.OverlapFraction = 1.0 }},
		{"zero concurrency", func(c *Config) { c.Indexing.Concurrency = 0 }},
		{"zero chunk size", func(c *Config) { c.Indexing.ChunkSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFolderDBPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/docdex"

	got := cfg.FolderDBPath("abc123")
	assert.Equal(t, filepath.Join("/data/docdex", "folders", "abc123.db"), got)
}

func TestDefaultIgnorePatterns(t *testing.T) {
	patterns := DefaultIgnorePatterns()
	require.NotEmpty(t, patterns)
	assert.Contains(t, patterns, "node_modules/")
}
