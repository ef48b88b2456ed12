package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docdex/internal/config"
	"docdex/internal/coordinator"
	"docdex/internal/ui"
)

// removeCmd represents the remove command
var removeCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Remove a folder's index",
	Long: `Delete a folder's index database. The documents themselves are
left untouched. Re-indexing the folder later starts from scratch.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemoveCmd,
}

func runRemoveCmd(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := coordinator.New(cfg)
	coord.Start(ctx)
	defer coord.Stop()

	id, err := resolveFolder(coord, cfg, args[0])
	if err != nil {
		// The folder may not be in the config; derive the id from the
		// path so an orphaned index can still be removed.
		abs, absErr := filepath.Abs(args[0])
		if absErr != nil {
			return err
		}
		id = coordinator.FolderID(abs)
	}

	if _, ok := coord.Folder(id); ok {
		if err := coord.RemoveFolder(id); err != nil {
			return err
		}
	} else if err := removeOrphanedIndex(cfg, id); err != nil {
		return err
	}

	fmt.Println(ui.Success.Render("Removed index for " + args[0]))
	return nil
}

// removeOrphanedIndex deletes index files for a folder that is no
// longer registered.
func removeOrphanedIndex(cfg *config.Config, id string) error {
	dbPath := cfg.FolderDBPath(id)
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no index found for that folder")
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(dbPath + suffix)
	}
	return nil
}
