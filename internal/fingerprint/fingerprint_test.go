package fingerprint_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdex/internal/fingerprint"
	"docdex/internal/fs"
	"docdex/internal/store"
)

func setupFingerprints(t *testing.T) *fingerprint.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "folder.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return fingerprint.New(st.Handle())
}

func fileInfo(relPath, hash string, mtime time.Time) fs.FileInfo {
	return fs.FileInfo{
		Path:    "/docs/" + relPath,
		RelPath: relPath,
		Size:    int64(len(relPath)) * 10,
		ModTime: mtime,
		Hash:    hash,
	}
}

func TestDiffFirstRunAllAdded(t *testing.T) {
	fp := setupFingerprints(t)
	now := time.Now()

	diff, err := fp.Diff([]fs.FileInfo{
		fileInfo("a.md", "h-a", now),
		fileInfo("b.md", "h-b", now),
	})
	require.NoError(t, err)

	assert.Len(t, diff.Added, 2)
	assert.Empty(t, diff.Modified)
	assert.Empty(t, diff.Deleted)
	assert.False(t, diff.Empty())
}

func TestDiffDetectsEachChangeKind(t *testing.T) {
	fp := setupFingerprints(t)
	now := time.Now()

	// Commit three known files.
	require.NoError(t, fp.Commit("a.md", "h-a", 10, now.Unix()))
	require.NoError(t, fp.Commit("b.md", "h-b", 20, now.Unix()))
	require.NoError(t, fp.Commit("c.md", "h-c", 30, now.Unix()))

	// a unchanged, b modified, c deleted, d new.
	diff, err := fp.Diff([]fs.FileInfo{
		fileInfo("a.md", "h-a", now),
		fileInfo("b.md", "h-b2", now),
		fileInfo("d.md", "h-d", now),
	})
	require.NoError(t, err)

	require.Len(t, diff.Added, 1)
	assert.Equal(t, "d.md", diff.Added[0].RelPath)
	require.Len(t, diff.Modified, 1)
	assert.Equal(t, "b.md", diff.Modified[0].RelPath)
	assert.Equal(t, []string{"c.md"}, diff.Deleted)
}

func TestDiffTouchedFileNotModified(t *testing.T) {
	fp := setupFingerprints(t)
	old := time.Now().Add(-time.Hour)

	require.NoError(t, fp.Commit("a.md", "h-a", 10, old.Unix()))

	// Same content hash, newer mtime: not a modification.
	newer := time.Now()
	diff, err := fp.Diff([]fs.FileInfo{fileInfo("a.md", "h-a", newer)})
	require.NoError(t, err)
	assert.True(t, diff.Empty())

	// The stored mtime was refreshed in place.
	got, err := fp.Get("a.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.Unix(), got.MTime)
}

func TestDiffEmptyWhenNothingChanged(t *testing.T) {
	fp := setupFingerprints(t)
	now := time.Now()

	require.NoError(t, fp.Commit("a.md", "h-a", 10, now.Unix()))

	diff, err := fp.Diff([]fs.FileInfo{fileInfo("a.md", "h-a", now)})
	require.NoError(t, err)
	assert.True(t, diff.Empty())
}

func TestCommitUpsertsAndRecordsIndexedHash(t *testing.T) {
	fp := setupFingerprints(t)

	require.NoError(t, fp.Commit("a.md", "h1", 10, 100))
	require.NoError(t, fp.Commit("a.md", "h2", 12, 200))

	got, err := fp.Get("a.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h2", got.Hash)
	assert.Equal(t, "h2", got.LastIndexedHash)
	assert.Equal(t, int64(200), got.MTime)

	n, err := fp.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemove(t *testing.T) {
	fp := setupFingerprints(t)

	require.NoError(t, fp.Commit("a.md", "h1", 10, 100))
	require.NoError(t, fp.Remove("a.md"))

	got, err := fp.Get("a.md")
	require.NoError(t, err)
	assert.Nil(t, got)
}
