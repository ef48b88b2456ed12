// Package search answers queries against indexed folders in three
// modes: locate finds the best matching chunks, explore samples across
// semantic clusters for breadth, and answer assembles contiguous
// context around the best hits.
package search

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"docdex/internal/cluster"
	"docdex/internal/store"
)

var (
	ErrInvalidQuery        = errors.New("query is empty")
	ErrFolderNotSearchable = errors.New("folder has no searchable index yet")
	ErrEmptyResult         = errors.New("no results found")
)

// Mode selects the search strategy.
type Mode string

const (
	ModeLocate  Mode = "locate"
	ModeExplore Mode = "explore"
	ModeAnswer  Mode = "answer"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLocate, ModeExplore, ModeAnswer:
		return Mode(s), nil
	case "":
		return ModeLocate, nil
	}
	return "", errors.New("unknown search mode: " + s)
}

// exploreClusters is how many top-ranked semantic clusters explore
// mode samples from.
const exploreClusters = 3

// Folder is the search engine's view of one indexed folder. The
// query is embedded per folder because folders may use different
// backends.
type Folder interface {
	Label() string
	Searchable() bool
	Store() *store.SQLiteStore
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Options controls a search request.
type Options struct {
	Mode       Mode
	Limit      int
	PathPrefix string
	// ExcludePaths drops chunks of specific files from the results.
	ExcludePaths []string
	// MinScore drops results below this similarity score.
	MinScore float64
	// AnswerBudget caps the context size (in runes) assembled around
	// each hit.
	AnswerBudget int
}

// Hit is one search result.
type Hit struct {
	Folder          string  `json:"folder"`
	Path            string  `json:"path"`
	StartOffset     int     `json:"start_offset"`
	EndOffset       int     `json:"end_offset"`
	Score           float64 `json:"score"`
	Text            string  `json:"text"`
	SemanticCluster int     `json:"semantic_cluster,omitempty"`
	// Context is the expanded surrounding text in answer mode.
	Context string `json:"context,omitempty"`
}

// Engine searches across a set of folders.
type Engine struct {
	folders []Folder
}

// NewEngine creates a search engine over the given folders.
func NewEngine(folders []Folder) *Engine {
	return &Engine{folders: folders}
}

// Search runs a query in the requested mode across all searchable
// folders and merges the results.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidQuery
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	searchable := make([]Folder, 0, len(e.folders))
	for _, f := range e.folders {
		if f.Searchable() {
			searchable = append(searchable, f)
		} else {
			log.Debug("Skipping folder without a searchable index", "folder", f.Label())
		}
	}
	if len(searchable) == 0 {
		return nil, ErrFolderNotSearchable
	}

	var all []Hit
	for _, f := range searchable {
		hits, err := e.searchFolder(ctx, f, query, opts)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if h.Score >= opts.MinScore {
				all = append(all, h)
			}
		}
	}
	if len(all) == 0 {
		return nil, ErrEmptyResult
	}

	sortHits(all)
	if len(all) > opts.Limit {
		all = all[:opts.Limit]
	}

	if opts.Mode == ModeAnswer {
		if err := e.expandContext(all, searchable, opts.AnswerBudget); err != nil {
			return nil, err
		}
	}
	return all, nil
}

func (e *Engine) searchFolder(ctx context.Context, f Folder, query string, opts Options) ([]Hit, error) {
	qvec, err := f.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	switch opts.Mode {
	case ModeExplore:
		return e.explore(f, qvec, opts)
	default:
		results, err := f.Store().Search(qvec, opts.Limit, store.Filter{
			PathPrefix:   opts.PathPrefix,
			ExcludePaths: opts.ExcludePaths,
		})
		if err != nil {
			return nil, err
		}
		return toHits(f.Label(), results), nil
	}
}

// explore ranks the folder's cluster centroids against the query and
// samples results from the closest clusters, so a broad question
// surfaces distinct regions of the corpus instead of near-duplicates
// from one spot.
func (e *Engine) explore(f Folder, qvec []float32, opts Options) ([]Hit, error) {
	centroids, err := f.Store().Centroids()
	if err != nil {
		return nil, err
	}
	if len(centroids) == 0 {
		results, err := f.Store().Search(qvec, opts.Limit, store.Filter{
			PathPrefix:   opts.PathPrefix,
			ExcludePaths: opts.ExcludePaths,
		})
		if err != nil {
			return nil, err
		}
		return toHits(f.Label(), results), nil
	}

	type ranked struct {
		id  int
		sim float64
	}
	order := make([]ranked, 0, len(centroids))
	for id, c := range centroids {
		order = append(order, ranked{id: id, sim: cluster.Cosine(qvec, c)})
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].sim != order[j].sim {
			return order[i].sim > order[j].sim
		}
		return order[i].id < order[j].id
	})
	if len(order) > exploreClusters {
		order = order[:exploreClusters]
	}

	perCluster := int(math.Ceil(float64(opts.Limit) / float64(len(order))))
	buckets := make([][]Hit, len(order))
	for i, r := range order {
		id := r.id
		results, err := f.Store().Search(qvec, perCluster, store.Filter{
			SemanticCluster: &id,
			PathPrefix:      opts.PathPrefix,
			ExcludePaths:    opts.ExcludePaths,
		})
		if err != nil {
			return nil, err
		}
		hits := toHits(f.Label(), results)
		for j := range hits {
			hits[j].SemanticCluster = id
		}
		buckets[i] = hits
	}

	// Round-robin across clusters preserves breadth even when one
	// cluster dominates the similarity ranking.
	var out []Hit
	for depth := 0; len(out) < opts.Limit; depth++ {
		advanced := false
		for _, bucket := range buckets {
			if depth < len(bucket) {
				out = append(out, bucket[depth])
				advanced = true
				if len(out) == opts.Limit {
					break
				}
			}
		}
		if !advanced {
			break
		}
	}
	return out, nil
}

// expandContext fills each hit's Context with the hit chunk plus
// adjacent chunks from the same file. Each hit walks outward from its
// own chunk until its rune budget is spent.
func (e *Engine) expandContext(hits []Hit, folders []Folder, budget int) error {
	if budget <= 0 {
		budget = 2000
	}
	stores := make(map[string]*store.SQLiteStore, len(folders))
	for _, f := range folders {
		stores[f.Label()] = f.Store()
	}

	for i := range hits {
		st, ok := stores[hits[i].Folder]
		if !ok {
			continue
		}
		chunks, err := st.FileChunks(hits[i].Path)
		if err != nil {
			return err
		}
		hits[i].Context = stitchAround(chunks, hits[i].StartOffset, budget)
	}
	return nil
}

// stitchAround walks outward from the chunk containing start, adding
// neighbors on either side while the covered span fits in maxRunes,
// then joins them deduplicating overlap via rune offsets.
func stitchAround(chunks []store.ChunkRecord, start, maxRunes int) string {
	if len(chunks) == 0 {
		return ""
	}
	center := 0
	for i, c := range chunks {
		if c.StartOffset <= start && start < c.EndOffset {
			center = i
			break
		}
	}

	lo, hi := center, center
	for {
		grew := false
		if hi+1 < len(chunks) && chunks[hi+1].EndOffset-chunks[lo].StartOffset <= maxRunes {
			hi++
			grew = true
		}
		if lo > 0 && chunks[hi].EndOffset-chunks[lo-1].StartOffset <= maxRunes {
			lo--
			grew = true
		}
		if !grew {
			break
		}
	}

	var b strings.Builder
	prevEnd := -1
	for i := lo; i <= hi; i++ {
		text := []rune(chunks[i].Text)
		if prevEnd > chunks[i].StartOffset {
			skip := prevEnd - chunks[i].StartOffset
			if skip >= len(text) {
				continue
			}
			text = text[skip:]
		} else if prevEnd >= 0 && chunks[i].StartOffset > prevEnd {
			b.WriteString("\n\n")
		}
		b.WriteString(string(text))
		prevEnd = chunks[i].EndOffset
	}

	out := []rune(b.String())
	if len(out) > maxRunes {
		out = out[:maxRunes]
	}
	return string(out)
}

func toHits(folder string, results []store.SearchResult) []Hit {
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			Folder:      folder,
			Path:        r.Chunk.FilePath,
			StartOffset: r.Chunk.StartOffset,
			EndOffset:   r.Chunk.EndOffset,
			Score:       r.Score,
			Text:        r.Chunk.Text,
		}
	}
	return hits
}

// sortHits orders by score descending, then start offset, then path,
// so equal-score results come back in a stable order.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].StartOffset != hits[j].StartOffset {
			return hits[i].StartOffset < hits[j].StartOffset
		}
		if hits[i].Path != hits[j].Path {
			return hits[i].Path < hits[j].Path
		}
		return hits[i].Folder < hits[j].Folder
	})
}
