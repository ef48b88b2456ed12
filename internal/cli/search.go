package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"docdex/internal/config"
	"docdex/internal/coordinator"
	"docdex/internal/search"
	"docdex/internal/ui"
)

var (
	searchMode     string
	searchLimit    int
	searchFolder   string
	searchPrefix   string
	searchContent  bool
	searchJSON     bool
	searchExclude  []string
	searchMinScore float64
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed folders using semantic similarity",
	Long: `Search your indexed folders with a natural language query.

Three modes are available:
  locate   best matching chunks across the corpus (default)
  explore  samples across semantic clusters for broad questions
  answer   assembles contiguous context around the best hits

Examples:
  # Basic search
  docdex search "meeting notes about hiring"

  # Broad exploration
  docdex search "what projects are documented here" --mode explore

  # Context assembly for question answering
  docdex search "how do I renew the TLS certificates" --mode answer

  # Restrict to one folder
  docdex search "errata" --folder notes`,
	Args: cobra.ExactArgs(1),
	RunE: runSearchCmd,
}

func init() {
	searchCmd.Flags().StringVar(&searchMode, "mode", "locate", "search mode: locate, explore, answer")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "m", 10, "maximum number of results")
	searchCmd.Flags().StringVar(&searchFolder, "folder", "", "restrict to one folder (name or path)")
	searchCmd.Flags().StringVar(&searchPrefix, "path", "", "restrict to files under a path prefix")
	searchCmd.Flags().BoolVarP(&searchContent, "content", "c", false, "show full chunk text in results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0.0, "minimum similarity score for results")
	searchCmd.Flags().StringSliceVar(&searchExclude, "exclude", nil, "exclude specific files from results (repeatable)")

	rootCmd.Flags().StringVar(&searchMode, "mode", "locate", "search mode: locate, explore, answer")
	rootCmd.Flags().IntVarP(&searchLimit, "limit", "m", 10, "maximum number of results")
}

func runSearchCmd(cmd *cobra.Command, args []string) error {
	query := args[0]

	mode, err := search.ParseMode(searchMode)
	if err != nil {
		return err
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

	ids, err := registerConfiguredFolders(coord, cfg)
	if err != nil {
		return err
	}

	// Search runs against whatever index state exists on disk; the
	// scheduled refresh proceeds in the background.
	targets := ids
	if searchFolder != "" {
		id, err := resolveFolder(coord, cfg, searchFolder)
		if err != nil {
			return err
		}
		targets = []string{id}
	}

	folders, err := coord.SearchFolders(targets...)
	if err != nil {
		return err
	}

	engine := search.NewEngine(folders)
	hits, err := engine.Search(ctx, query, search.Options{
		Mode:         mode,
		Limit:        searchLimit,
		PathPrefix:   searchPrefix,
		ExcludePaths: searchExclude,
		MinScore:     searchMinScore,
		AnswerBudget: cfg.Search.AnswerBudget,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		switch err {
		case search.ErrEmptyResult:
			fmt.Println("No results found.")
			return nil
		case search.ErrFolderNotSearchable:
			return fmt.Errorf("no searchable index yet. Run 'docdex index' and wait for it to finish")
		}
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputJSON(hits)
	}
	if mode == search.ModeAnswer {
		return displayAnswer(query, hits)
	}
	displayHits(hits, searchContent || mode == search.ModeExplore)
	return nil
}

// registerConfiguredFolders adds every configured folder to the
// coordinator, then picks up folder indexes left on disk by earlier
// 'docdex index' runs that never got a config entry.
func registerConfiguredFolders(coord *coordinator.Coordinator, cfg *config.Config) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, fc := range cfg.Folders {
		id, err := coord.AddFolder(fc)
		if err != nil {
			log.Warn("Skipping folder", "path", fc.Path, "error", err)
			continue
		}
		add(id)
	}
	for _, id := range coord.DiscoverFolders() {
		add(id)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("no folders indexed. Run 'docdex index <path>' first")
	}
	return ids, nil
}

// resolveFolder matches a --folder argument against configured folder
// names and paths.
func resolveFolder(coord *coordinator.Coordinator, cfg *config.Config, ref string) (string, error) {
	for _, fc := range cfg.Folders {
		name := fc.Name
		if name == "" {
			name = filepath.Base(fc.Path)
		}
		if name == ref {
			abs, err := filepath.Abs(fc.Path)
			if err != nil {
				return "", err
			}
			return coordinator.FolderID(abs), nil
		}
	}
	for id, root := range coord.Folders() {
		if filepath.Base(root) == ref {
			return id, nil
		}
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", err
	}
	if _, ok := coord.Folder(coordinator.FolderID(abs)); ok {
		return coordinator.FolderID(abs), nil
	}
	return "", fmt.Errorf("unknown folder: %s", ref)
}

// displayHits formats and displays search results.
func displayHits(hits []search.Hit, showContent bool) {
	fmt.Printf("Found %d results:\n\n", len(hits))

	for i, h := range hits {
		fmt.Printf("%s %s %s\n",
			ui.Highlight.Render(fmt.Sprintf("[%d]", i+1)),
			ui.FormatFilePath(h.Path, h.StartOffset, h.EndOffset),
			ui.FormatScore(h.Score),
		)
		if h.Folder != "" {
			fmt.Printf("    %s\n", ui.Dim.Render("folder: "+h.Folder))
		}

		if showContent && h.Text != "" {
			fmt.Println()
			fmt.Println(ui.ResultContent.Render(preview(h.Text, 400)))
		}
		fmt.Println()
	}
}

// displayAnswer renders the assembled context as markdown.
func displayAnswer(query string, hits []search.Hit) error {
	var b strings.Builder
	b.WriteString("# " + query + "\n\n")
	for _, h := range hits {
		if h.Context == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("## %s\n\n", h.Path))
		b.WriteString(h.Context)
		b.WriteString("\n\n")
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(b.String())
		return nil
	}
	out, err := renderer.Render(b.String())
	if err != nil {
		fmt.Println(b.String())
		return nil
	}
	fmt.Println(out)
	return nil
}

// preview truncates text for terminal display.
func preview(text string, maxRunes int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= maxRunes {
		return string(runes)
	}
	return string(runes[:maxRunes]) + "…"
}

// outputJSON writes results as indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
