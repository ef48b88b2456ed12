package search

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdex/internal/chunker"
	"docdex/internal/embed"
	"docdex/internal/store"
)

// testFolder is a search source backed by a real store and the
// in-process embedding backend.
type testFolder struct {
	label      string
	searchable bool
	store      *store.SQLiteStore
	backend    embed.Backend
}

func (f *testFolder) Label() string            { return f.label }
func (f *testFolder) Searchable() bool         { return f.searchable }
func (f *testFolder) Store() *store.SQLiteStore { return f.store }
func (f *testFolder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.backend.EmbedQuery(ctx, text)
}

// doc is one file's content for test corpus setup.
type doc struct {
	path string
	text string
}

func newTestFolder(t *testing.T, label string, docs []doc) *testFolder {
	t.Helper()
	backend := embed.NewLocal(64)
	dbPath := filepath.Join(t.TempDir(), "folder.db")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureMeta("/"+label, "local", backend.ModelName(), backend.Dimensions()))

	ck := chunker.New(chunker.Options{ChunkSize: 200, OverlapFraction: 0, MinChunkSize: 10})
	var allIDs []string
	var allPaths []string
	var allVectors [][]float32

	for _, d := range docs {
		chunks := ck.Chunk(d.text, d.path, "hash-"+d.path)
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := backend.EmbedBatch(context.Background(), texts)
		require.NoError(t, err)
		require.NoError(t, st.ReplaceFileChunks(d.path, "hash-"+d.path, chunks, vectors))

		for i, c := range chunks {
			allIDs = append(allIDs, c.ID)
			allPaths = append(allPaths, d.path)
			allVectors = append(allVectors, vectors[i])
		}
	}

	// One semantic cluster per document keeps explore-mode sampling
	// predictable.
	var assignments []store.ClusterAssignment
	centroidSums := make(map[int][]float32)
	pathCluster := make(map[string]int)
	for _, d := range docs {
		pathCluster[d.path] = len(pathCluster)
	}
	for i, id := range allIDs {
		c := pathCluster[allPaths[i]]
		assignments = append(assignments, store.ClusterAssignment{
			ChunkID:         id,
			SemanticCluster: c,
			FolderCluster:   "docs",
		})
		if centroidSums[c] == nil {
			centroidSums[c] = append([]float32(nil), allVectors[i]...)
		}
	}
	centroids := make([][]float32, len(pathCluster))
	for c, v := range centroidSums {
		centroids[c] = v
	}
	require.NoError(t, st.ReplaceClusters(assignments, centroids))

	return &testFolder{label: label, searchable: true, store: st, backend: backend}
}

func defaultDocs() []doc {
	return []doc{
		{path: "cooking/bread.md", text: "Sourdough bread baking requires patient fermentation.\n\nKnead the dough and let the starter rise overnight."},
		{path: "infra/tls.md", text: "Rotate the TLS certificates every ninety days.\n\nThe signing keys live in the secrets vault."},
		{path: "notes/meeting.md", text: "Quarterly planning meeting covered the hiring roadmap.\n\nBudget approval moved to next month."},
	}
}

func TestParseModeValues(t *testing.T) {
	for _, s := range []string{"locate", "explore", "answer"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}

	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeLocate, m)

	_, err = ParseMode("fuzzy")
	assert.Error(t, err)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	engine := NewEngine(nil)

	_, err := engine.Search(context.Background(), "   ", Options{})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSearchNoSearchableFolders(t *testing.T) {
	f := newTestFolder(t, "docs", defaultDocs())
	f.searchable = false
	engine := NewEngine([]Folder{f})

	_, err := engine.Search(context.Background(), "bread", Options{})
	assert.ErrorIs(t, err, ErrFolderNotSearchable)
}

func TestSearchMinScoreFiltersEverything(t *testing.T) {
	engine := NewEngine([]Folder{newTestFolder(t, "docs", defaultDocs())})

	_, err := engine.Search(context.Background(), "bread", Options{
		Mode:     ModeLocate,
		MinScore: 1.1,
	})
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestLocateFindsRelevantChunk(t *testing.T) {
	engine := NewEngine([]Folder{newTestFolder(t, "docs", defaultDocs())})

	hits, err := engine.Search(context.Background(), "rotate tls certificates signing keys", Options{
		Mode:  ModeLocate,
		Limit: 3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "infra/tls.md", hits[0].Path)
	assert.Equal(t, "docs", hits[0].Folder)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestLocateOrdersByScore(t *testing.T) {
	engine := NewEngine([]Folder{newTestFolder(t, "docs", defaultDocs())})

	hits, err := engine.Search(context.Background(), "sourdough fermentation", Options{
		Mode:  ModeLocate,
		Limit: 10,
	})
	require.NoError(t, err)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestLocatePathPrefixFilter(t *testing.T) {
	engine := NewEngine([]Folder{newTestFolder(t, "docs", defaultDocs())})

	hits, err := engine.Search(context.Background(), "bread dough baking", Options{
		Mode:       ModeLocate,
		Limit:      10,
		PathPrefix: "notes/",
	})
	if err != nil {
		assert.ErrorIs(t, err, ErrEmptyResult)
		return
	}
	for _, h := range hits {
		assert.True(t, strings.HasPrefix(h.Path, "notes/"))
	}
}

func TestExploreSamplesAcrossClusters(t *testing.T) {
	engine := NewEngine([]Folder{newTestFolder(t, "docs", defaultDocs())})

	hits, err := engine.Search(context.Background(), "what is documented here", Options{
		Mode:  ModeExplore,
		Limit: 6,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	// Results come from more than one document.
	seen := make(map[string]bool)
	for _, h := range hits {
		seen[h.Path] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestAnswerExpandsContext(t *testing.T) {
	engine := NewEngine([]Folder{newTestFolder(t, "docs", defaultDocs())})

	hits, err := engine.Search(context.Background(), "rotate tls certificates", Options{
		Mode:         ModeAnswer,
		Limit:        2,
		AnswerBudget: 2000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.NotEmpty(t, hits[0].Context)
	assert.Contains(t, hits[0].Context, hits[0].Text)
}

func TestAnswerBudgetCapsEachHit(t *testing.T) {
	engine := NewEngine([]Folder{newTestFolder(t, "docs", defaultDocs())})

	budget := 40
	hits, err := engine.Search(context.Background(), "quarterly planning meeting", Options{
		Mode:         ModeAnswer,
		Limit:        5,
		AnswerBudget: budget,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	// Every hit gets its own context, each within the budget.
	for _, h := range hits {
		assert.NotEmpty(t, h.Context)
		assert.LessOrEqual(t, len([]rune(h.Context)), budget)
	}
}

func TestLocateExcludesPaths(t *testing.T) {
	engine := NewEngine([]Folder{newTestFolder(t, "docs", defaultDocs())})

	hits, err := engine.Search(context.Background(), "rotate tls certificates signing keys", Options{
		Mode:         ModeLocate,
		Limit:        10,
		ExcludePaths: []string{"infra/tls.md"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.NotEqual(t, "infra/tls.md", h.Path)
	}
}

func TestSearchMergesMultipleFolders(t *testing.T) {
	cooking := newTestFolder(t, "cooking", []doc{
		{path: "bread.md", text: "Sourdough bread and patient fermentation of the starter."},
	})
	infra := newTestFolder(t, "infra", []doc{
		{path: "tls.md", text: "Rotate certificates and guard the signing keys."},
	})
	engine := NewEngine([]Folder{cooking, infra})

	hits, err := engine.Search(context.Background(), "sourdough starter fermentation", Options{
		Mode:  ModeLocate,
		Limit: 10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "cooking", hits[0].Folder)

	folders := make(map[string]bool)
	for _, h := range hits {
		folders[h.Folder] = true
	}
	assert.True(t, folders["cooking"])
}
