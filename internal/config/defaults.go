package config

import (
	"os"
	"path/filepath"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultBackend         = "auto"
	DefaultOllamaURL       = "http://localhost:11434"
	DefaultOllamaModel     = "nomic-embed-text"
	DefaultOpenAIModel     = "text-embedding-3-small"
	DefaultLocalDimensions = 256

	// Chunking defaults
	DefaultChunkSize       = 1500
	DefaultOverlapFraction = 0.15
	DefaultMinChunkSize    = 100

	// Batch scheduler defaults
	DefaultBatchSize    = 32
	DefaultBatchFloor   = 1
	DefaultBatchCeiling = 128

	// Indexing defaults
	DefaultMaxFileSize       = 8 << 20 // 8MB
	DefaultMaxFileCount      = 50000
	DefaultFolderConcurrency = 2

	// Search defaults
	DefaultAnswerBudget = 2000 // runes per expanded section
)

// DefaultIgnorePatterns returns the default list of file patterns to skip
// while walking document folders.
func DefaultIgnorePatterns() []string {
	return []string{
		// Version control
		".git/",
		".svn/",
		".hg/",

		// Dependencies and build outputs
		"node_modules/",
		"vendor/",
		"dist/",
		"build/",
		"target/",
		"__pycache__/",

		// IDE/Editor
		".idea/",
		".vscode/",
		"*.swp",
		"*~",

		// Lock files
		"*.lock",
		"package-lock.json",
		"yarn.lock",
		"go.sum",

		// Media
		"*.jpg",
		"*.jpeg",
		"*.png",
		"*.gif",
		"*.ico",
		"*.svg",
		"*.webp",
		"*.mp3",
		"*.mp4",
		"*.wav",
		"*.mov",

		// Archives
		"*.zip",
		"*.tar",
		"*.tar.gz",
		"*.tgz",
		"*.rar",
		"*.7z",

		// Binaries
		"*.exe",
		"*.dll",
		"*.so",
		"*.dylib",
		"*.o",
		"*.a",
		"*.class",

		// Misc
		".DS_Store",
		"Thumbs.db",
		".env",
		".env.*",
		"*.log",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/docdex"
	}
	return filepath.Join(home, ".config", "docdex")
}

// DefaultDataDir returns the default data directory path. Per-folder index
// databases live under <data dir>/folders.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/docdex"
	}
	return filepath.Join(home, ".local", "share", "docdex")
}
