// Package config handles configuration loading and validation for docdex.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config represents the complete docdex configuration. It is read once per
// indexing run trigger, never polled mid-run.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Folders    []FolderConfig   `mapstructure:"folders"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Indexing   IndexingConfig   `mapstructure:"indexing"`
	Search     SearchConfig     `mapstructure:"search"`
	Ignore     []string         `mapstructure:"ignore"`
}

// FolderConfig configures one indexed folder.
type FolderConfig struct {
	Path string `mapstructure:"path"`
	Name string `mapstructure:"name"`
	// Backend overrides embeddings.backend for this folder.
	Backend string `mapstructure:"backend"`
}

// EmbeddingsConfig configures the embedding backends.
type EmbeddingsConfig struct {
	// Backend is one of "auto", "ollama", "openai", "local".
	Backend string       `mapstructure:"backend"`
	Ollama  OllamaConfig `mapstructure:"ollama"`
	OpenAI  OpenAIConfig `mapstructure:"openai"`
	Local   LocalConfig  `mapstructure:"local"`
}

// OllamaConfig configures the Ollama embedding backend.
type OllamaConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIConfig configures the OpenAI embedding backend.
type OpenAIConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LocalConfig configures the in-process embedding backend.
type LocalConfig struct {
	Dimensions int `mapstructure:"dimensions"`
}

// IndexingConfig configures chunking and the batch scheduler.
type IndexingConfig struct {
	ChunkSize       int     `mapstructure:"chunk_size"`
	OverlapFraction float64 `mapstructure:"overlap_fraction"`
	MinChunkSize    int     `mapstructure:"min_chunk_size"`
	MaxFileSize     int     `mapstructure:"max_file_size"`
	MaxFileCount    int     `mapstructure:"max_file_count"`
	BatchSize       int     `mapstructure:"batch_size"`
	BatchFloor      int     `mapstructure:"batch_floor"`
	BatchCeiling    int     `mapstructure:"batch_ceiling"`
	Concurrency     int     `mapstructure:"concurrency"`
}

// SearchConfig configures query-time behavior.
type SearchConfig struct {
	AnswerBudget int `mapstructure:"answer_budget"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Embeddings: EmbeddingsConfig{
			Backend: DefaultBackend,
			Ollama: OllamaConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaModel,
			},
			OpenAI: OpenAIConfig{
				Model: DefaultOpenAIModel,
			},
			Local: LocalConfig{
				Dimensions: DefaultLocalDimensions,
			},
		},
		Indexing: IndexingConfig{
			ChunkSize:       DefaultChunkSize,
			OverlapFraction: DefaultOverlapFraction,
			MinChunkSize:    DefaultMinChunkSize,
			MaxFileSize:     DefaultMaxFileSize,
			MaxFileCount:    DefaultMaxFileCount,
			BatchSize:       DefaultBatchSize,
			BatchFloor:      DefaultBatchFloor,
			BatchCeiling:    DefaultBatchCeiling,
			Concurrency:     DefaultFolderConcurrency,
		},
		Search: SearchConfig{
			AnswerBudget: DefaultAnswerBudget,
		},
		Ignore: DefaultIgnorePatterns(),
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) error {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("DOCDEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	loadAPIKeysFromEnv()

	return cfg.Validate()
}

// Validate checks configuration values that would otherwise fail deep
// inside an indexing run.
func (c *Config) Validate() error {
	if c.Indexing.BatchFloor < 1 {
		return fmt.Errorf("indexing.batch_floor must be >= 1, got %d", c.Indexing.BatchFloor)
	}
	if c.Indexing.BatchCeiling < c.Indexing.BatchSize {
		return fmt.Errorf("indexing.batch_ceiling (%d) must be >= indexing.batch_size (%d)",
			c.Indexing.BatchCeiling, c.Indexing.BatchSize)
	}
	if c.Indexing.OverlapFraction < 0 || c.Indexing.OverlapFraction >= 1 {
		return fmt.Errorf("indexing.overlap_fraction must be in [0, 1), got %g", c.Indexing.OverlapFraction)
	}
	if c.Indexing.ChunkSize < 1 {
		return fmt.Errorf("indexing.chunk_size must be >= 1, got %d", c.Indexing.ChunkSize)
	}
	if c.Indexing.Concurrency < 1 {
		return fmt.Errorf("indexing.concurrency must be >= 1, got %d", c.Indexing.Concurrency)
	}
	for _, f := range c.Folders {
		if f.Path == "" {
			return fmt.Errorf("folder entry with empty path")
		}
	}
	return nil
}

// FolderDBPath returns the index database path for a folder id.
func (c *Config) FolderDBPath(folderID string) string {
	return filepath.Join(c.DataDir, "folders", folderID+".db")
}

// setDefaults sets default values in viper.
func setDefaults() {
	viper.SetDefault("data_dir", DefaultDataDir())

	viper.SetDefault("embeddings.backend", DefaultBackend)
	viper.SetDefault("embeddings.ollama.url", DefaultOllamaURL)
	viper.SetDefault("embeddings.ollama.model", DefaultOllamaModel)
	viper.SetDefault("embeddings.openai.model", DefaultOpenAIModel)
	viper.SetDefault("embeddings.local.dimensions", DefaultLocalDimensions)

	viper.SetDefault("indexing.chunk_size", DefaultChunkSize)
	viper.SetDefault("indexing.overlap_fraction", DefaultOverlapFraction)
	viper.SetDefault("indexing.min_chunk_size", DefaultMinChunkSize)
	viper.SetDefault("indexing.max_file_size", DefaultMaxFileSize)
	viper.SetDefault("indexing.max_file_count", DefaultMaxFileCount)
	viper.SetDefault("indexing.batch_size", DefaultBatchSize)
	viper.SetDefault("indexing.batch_floor", DefaultBatchFloor)
	viper.SetDefault("indexing.batch_ceiling", DefaultBatchCeiling)
	viper.SetDefault("indexing.concurrency", DefaultFolderConcurrency)

	viper.SetDefault("search.answer_budget", DefaultAnswerBudget)

	viper.SetDefault("ignore", DefaultIgnorePatterns())
}

// loadAPIKeysFromEnv loads API keys from environment variables if not
// already set in the config file.
func loadAPIKeysFromEnv() {
	if cfg.Embeddings.OpenAI.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Embeddings.OpenAI.APIKey = key
		}
	}
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
