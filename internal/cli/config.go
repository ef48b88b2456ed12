package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"docdex/internal/config"
	"docdex/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Display current configuration settings and config file locations.

Examples:
  # Show current configuration
  docdex config

  # Show config file paths
  docdex config --path`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configShowPath {
		fmt.Println(ui.Header.Render("Configuration Paths"))
		fmt.Println()
		fmt.Printf("Global config: %s\n", config.GlobalConfigPath())
		fmt.Printf("Active config: %s\n", config.ConfigFilePath())
		fmt.Printf("Data dir:      %s\n", config.Get().DataDir)
		return nil
	}

	cfg := config.Get()

	fmt.Println(ui.Header.Render("Current Configuration"))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Embeddings:"))
	fmt.Printf("  Backend: %s\n", cfg.Embeddings.Backend)
	fmt.Printf("  Ollama URL: %s\n", cfg.Embeddings.Ollama.URL)
	fmt.Printf("  Ollama Model: %s\n", cfg.Embeddings.Ollama.Model)
	fmt.Printf("  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	if cfg.Embeddings.OpenAI.BaseURL != "" {
		fmt.Printf("  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	}
	fmt.Printf("  Local Dimensions: %d\n", cfg.Embeddings.Local.Dimensions)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Indexing:"))
	fmt.Printf("  Chunk Size: %d\n", cfg.Indexing.ChunkSize)
	fmt.Printf("  Overlap Fraction: %.2f\n", cfg.Indexing.OverlapFraction)
	fmt.Printf("  Min Chunk Size: %d\n", cfg.Indexing.MinChunkSize)
	fmt.Printf("  Max File Size: %d bytes\n", cfg.Indexing.MaxFileSize)
	fmt.Printf("  Max File Count: %d\n", cfg.Indexing.MaxFileCount)
	fmt.Printf("  Batch Size: %d (floor %d, ceiling %d)\n",
		cfg.Indexing.BatchSize, cfg.Indexing.BatchFloor, cfg.Indexing.BatchCeiling)
	fmt.Printf("  Folder Concurrency: %d\n", cfg.Indexing.Concurrency)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Search:"))
	fmt.Printf("  Answer Budget: %d runes\n", cfg.Search.AnswerBudget)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Folders:"))
	if len(cfg.Folders) == 0 {
		fmt.Println("  none configured")
	}
	for _, fc := range cfg.Folders {
		name := fc.Name
		if name == "" {
			name = filepath.Base(fc.Path)
		}
		fmt.Printf("  %s: %s\n", name, fc.Path)
	}
	fmt.Println()

	fmt.Println(ui.Bold.Render("Ignore Patterns:"))
	fmt.Printf("  %d patterns configured\n", len(cfg.Ignore))

	return nil
}
