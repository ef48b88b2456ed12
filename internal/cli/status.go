package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"docdex/internal/config"
	"docdex/internal/coordinator"
	"docdex/internal/ui"
)

var statusJSON bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every indexed folder",
	Long: `Show each configured folder's index phase, searchability, and
stored chunk counts.`,
	Args: cobra.NoArgs,
	RunE: runStatusCmd,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output status as JSON")
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := coordinator.New(cfg)
	coord.Start(ctx)
	defer coord.Stop()

	if _, err := registerConfiguredFolders(coord, cfg); err != nil {
		fmt.Println("No folders indexed. Run 'docdex index <path>' first.")
		return nil
	}

	statuses := coord.Status()
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})

	if statusJSON {
		return outputJSON(statuses)
	}

	fmt.Println(ui.Header.Render("Indexed folders"))
	fmt.Println()
	for _, fs := range statuses {
		phase := string(fs.Status.Phase)
		fmt.Printf("%s %s\n",
			ui.Bold.Render(fs.Name),
			ui.PhaseStyle(phase).Render(phase),
		)
		fmt.Printf("  %s\n", ui.Dim.Render(fs.Root))
		if fs.Stats != nil {
			fmt.Printf("  %s\n", ui.Dim.Render(fmt.Sprintf(
				"%d files, %d chunks, %d clusters",
				fs.Stats.FileCount, fs.Stats.ChunkCount, fs.Stats.ClusterCount,
			)))
		}
		if fs.Status.LastError != "" {
			fmt.Printf("  %s\n", ui.Error.Render("last error: "+fs.Status.LastError))
		}
		fmt.Println()
	}
	return nil
}
