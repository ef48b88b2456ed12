package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdex/internal/config"
	"docdex/internal/indexer"
	"docdex/internal/search"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Embeddings.Backend = "local"
	cfg.Indexing.Concurrency = 2
	return cfg
}

func writeDoc(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
}

func waitReady(t *testing.T, c *Coordinator, id string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		ix, ok := c.Folder(id)
		require.True(t, ok)
		status := ix.Status()
		if status.Searchable && status.Phase.Terminal() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("folder never became ready")
}

func TestFolderIDStable(t *testing.T) {
	assert.Equal(t, FolderID("/docs/notes"), FolderID("/docs/notes"))
	assert.NotEqual(t, FolderID("/docs/notes"), FolderID("/docs/other"))
	assert.Len(t, FolderID("/docs/notes"), 16)
}

func TestAddFolderRejectsMissingPath(t *testing.T) {
	c := New(testConfig(t))
	c.Start(context.Background())
	defer c.Stop()

	_, err := c.AddFolder(config.FolderConfig{Path: "/does/not/exist"})
	assert.Error(t, err)
}

func TestAddFolderIndexesAndSearches(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "guide.md", "Rotate the TLS certificates every ninety days.")

	c := New(testConfig(t))
	c.Start(context.Background())
	defer c.Stop()

	id, err := c.AddFolder(config.FolderConfig{Path: root, Name: "guides"})
	require.NoError(t, err)
	waitReady(t, c, id)

	folders, err := c.SearchFolders(id)
	require.NoError(t, err)
	engine := search.NewEngine(folders)

	hits, err := engine.Search(context.Background(), "rotate tls certificates", search.Options{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "guides", hits[0].Folder)
	assert.Equal(t, "guide.md", hits[0].Path)
}

func TestAddFolderIdempotent(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "doc.md", "Some content to index once.")

	c := New(testConfig(t))
	c.Start(context.Background())
	defer c.Stop()

	id1, err := c.AddFolder(config.FolderConfig{Path: root})
	require.NoError(t, err)
	waitReady(t, c, id1)

	// Registering again re-schedules instead of duplicating.
	id2, err := c.AddFolder(config.FolderConfig{Path: root})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, c.Status(), 1)
}

func TestNotifyTriggersReindex(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "doc.md", "Version one of the document.")

	c := New(testConfig(t))
	c.Start(context.Background())
	defer c.Stop()

	id, err := c.AddFolder(config.FolderConfig{Path: root})
	require.NoError(t, err)
	waitReady(t, c, id)

	writeDoc(t, root, "doc.md", "Version two, fully rewritten text.")
	c.NotifyChange(id, filepath.Join(root, "doc.md"))

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		ix, _ := c.Folder(id)
		if ix.Status().Phase == indexer.PhaseReady {
			chunks, err := ix.Store().FileChunks("doc.md")
			require.NoError(t, err)
			if len(chunks) > 0 && chunks[0].Text == "Version two, fully rewritten text." {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("re-index never picked up the change")
}

func TestRemoveFolderStopsInFlightRun(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 40; i++ {
		writeDoc(t, root, fmt.Sprintf("doc%02d.md", i),
			"Enough distinct content to keep the first run busy for a moment.")
	}

	cfg := testConfig(t)
	c := New(cfg)
	c.Start(context.Background())
	defer c.Stop()

	id, err := c.AddFolder(config.FolderConfig{Path: root})
	require.NoError(t, err)

	// Remove immediately, while the first run may still be writing.
	// Removal must wait for the run before deleting the database.
	require.NoError(t, c.RemoveFolder(id))

	_, ok := c.Folder(id)
	assert.False(t, ok)
	_, err = os.Stat(cfg.FolderDBPath(id))
	assert.True(t, os.IsNotExist(err))
}

func TestRunIDReportedInStatus(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "doc.md", "Content for run tracking.")

	c := New(testConfig(t))
	c.Start(context.Background())
	defer c.Stop()

	id, err := c.AddFolder(config.FolderConfig{Path: root})
	require.NoError(t, err)
	waitReady(t, c, id)

	statuses := c.Status()
	require.Len(t, statuses, 1)
	assert.NotEmpty(t, statuses[0].LastRunID)
}

func TestDiscoverFoldersFindsExistingIndexes(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "guide.md", "Restart the ingest service after deploys.")

	cfg := testConfig(t)
	c := New(cfg)
	c.Start(context.Background())

	id, err := c.AddFolder(config.FolderConfig{Path: root})
	require.NoError(t, err)
	waitReady(t, c, id)
	c.Stop()

	// A fresh coordinator over the same data dir finds the folder from
	// its store's recorded root path, with no registration call.
	c2 := New(cfg)
	c2.Start(context.Background())
	defer c2.Stop()

	ids := c2.DiscoverFolders()
	require.Contains(t, ids, id)

	ix, ok := c2.Folder(id)
	require.True(t, ok)
	assert.True(t, ix.Status().Searchable)
}

func TestRemoveFolderDeletesIndex(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "doc.md", "Content before removal.")

	cfg := testConfig(t)
	c := New(cfg)
	c.Start(context.Background())
	defer c.Stop()

	id, err := c.AddFolder(config.FolderConfig{Path: root})
	require.NoError(t, err)
	waitReady(t, c, id)

	dbPath := cfg.FolderDBPath(id)
	_, err = os.Stat(dbPath)
	require.NoError(t, err)

	require.NoError(t, c.RemoveFolder(id))
	_, err = os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err))

	_, ok := c.Folder(id)
	assert.False(t, ok)
}
