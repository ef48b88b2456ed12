package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docdex/internal/config"
	"docdex/internal/coordinator"
	"docdex/internal/extract"
	"docdex/internal/ui"
	"docdex/internal/watcher"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch configured folders and re-index on change",
	Long: `Watch every configured folder for file changes and schedule
incremental re-index runs as changes arrive. Bursts of changes are
debounced into single runs.

Press Ctrl+C to stop watching.`,
	Args: cobra.NoArgs,
	RunE: runWatchCmd,
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nStopping watchers")
		cancel()
	}()

	coord := coordinator.New(cfg)
	coord.Start(ctx)
	defer coord.Stop()

	if _, err := registerConfiguredFolders(coord, cfg); err != nil {
		return err
	}

	extensions := extract.NewRegistry(extract.NewPlainText()).Extensions()

	group, gctx := errgroup.WithContext(ctx)
	for id, root := range coord.Folders() {
		w, err := watcher.New(id, root, coord, extensions)
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
		group.Go(func() error {
			return w.Start(gctx)
		})
	}

	fmt.Println(ui.Header.Render("Watching folders"))
	for _, root := range coord.Folders() {
		fmt.Printf("  %s\n", ui.FilePath.Render(root))
	}

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		log.Error("Watcher stopped", "error", err)
		return err
	}
	return nil
}
