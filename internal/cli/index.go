package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"docdex/internal/config"
	"docdex/internal/coordinator"
	"docdex/internal/indexer"
	"docdex/internal/ui"
)

var (
	indexName    string
	indexBackend string
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Register a folder and run an incremental index pass",
	Long: `Index a folder of documents for semantic search.

The first run indexes every supported file. Later runs diff file
fingerprints and only re-process files that were added, modified, or
deleted.

Examples:
  # Index the current directory
  docdex index

  # Index a specific folder with a friendly name
  docdex index ~/notes --name notes

  # Force a specific embedding backend for this folder
  docdex index ~/notes --backend local`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndexCmd,
}

func init() {
	indexCmd.Flags().StringVarP(&indexName, "name", "n", "", "display name for the folder (defaults to directory name)")
	indexCmd.Flags().StringVarP(&indexBackend, "backend", "b", "", "embedding backend: auto, ollama, openai, local")
}

func runIndexCmd(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	cfg := config.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted")
		cancel()
	}()

	coord := coordinator.New(cfg)
	coord.Start(ctx)
	defer coord.Stop()

	start := time.Now()
	id, err := coord.AddFolder(config.FolderConfig{
		Path:    absPath,
		Name:    indexName,
		Backend: indexBackend,
	})
	if err != nil {
		return fmt.Errorf("failed to register folder: %w", err)
	}

	// Wait for the scheduled run to start and finish.
	if err := waitForFolder(ctx, coord, id); err != nil {
		return err
	}

	ix, ok := coord.Folder(id)
	if !ok {
		return fmt.Errorf("folder disappeared during indexing")
	}
	status := ix.Status()

	switch status.Phase {
	case indexer.PhaseError:
		fmt.Println(ui.Error.Render("Indexing failed: " + status.LastError))
		return fmt.Errorf("indexing failed")
	case indexer.PhaseReadyWithErrors:
		fmt.Println(ui.Warning.Render(fmt.Sprintf(
			"Indexed with errors in %s: %d files ok, %d failed, %d chunks embedded, %d chunks failed",
			time.Since(start).Round(time.Millisecond),
			status.Progress.FilesProcessed,
			status.Progress.FilesFailed,
			status.Progress.ChunksEmbedded,
			status.Progress.ChunksFailed,
		)))
	default:
		fmt.Println(ui.Success.Render(fmt.Sprintf(
			"Indexed in %s: %d files, %d chunks",
			time.Since(start).Round(time.Millisecond),
			status.Progress.FilesProcessed,
			status.Progress.ChunksEmbedded,
		)))
	}
	return nil
}

// waitForFolder polls until the folder reaches a resting phase.
func waitForFolder(ctx context.Context, coord *coordinator.Coordinator, id string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	// Give the scheduler a moment to pick the run up before treating
	// a resting phase as completion.
	started := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ix, ok := coord.Folder(id)
			if !ok {
				return fmt.Errorf("unknown folder: %s", id)
			}
			phase := ix.Status().Phase
			if !phase.Terminal() {
				started = true
				log.Debug("Indexing in progress", "phase", phase)
				continue
			}
			if started || phase != indexer.PhasePending {
				return nil
			}
		}
	}
}
