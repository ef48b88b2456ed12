package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdex/internal/config"
	"docdex/internal/embed"
	"docdex/internal/store"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Indexing.ChunkSize = 200
	cfg.Indexing.MinChunkSize = 10
	cfg.Indexing.BatchSize = 4
	cfg.Indexing.BatchFloor = 1
	cfg.Indexing.BatchCeiling = 8
	return cfg
}

func setupIndexer(t *testing.T, root string, backend embed.Backend) *Indexer {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "folder.db")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	err = st.EnsureMeta(root, string(backend.Kind()), backend.ModelName(), backend.Dimensions())
	require.NoError(t, err)

	return New(root, st, backend, testConfig())
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunIndexesFolder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes.md", "Meeting notes from Monday.\n\nWe discussed the roadmap.")
	writeFile(t, root, "sub/todo.txt", "Buy milk.\n\nCall the dentist about the appointment.")

	ix := setupIndexer(t, root, embed.NewLocal(32))
	require.NoError(t, ix.Run(context.Background()))

	status := ix.Status()
	assert.Equal(t, PhaseReady, status.Phase)
	assert.True(t, status.Searchable)
	assert.Equal(t, 2, status.Progress.FilesProcessed)
	assert.Zero(t, status.Progress.FilesFailed)
	assert.Greater(t, status.Progress.ChunksEmbedded, 0)

	stats, err := ix.Store().Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FileCount)
	assert.Equal(t, stats.ChunkCount, stats.VectorCount)
	assert.Greater(t, stats.ClusterCount, 0)
}

func TestRunNoChangesIsCheap(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.md", "Stable content that does not change.")

	ix := setupIndexer(t, root, embed.NewLocal(32))
	require.NoError(t, ix.Run(context.Background()))

	idsBefore, err := ix.Store().ChunkIDs()
	require.NoError(t, err)

	// Second run diffs to empty and leaves the store untouched.
	require.NoError(t, ix.Run(context.Background()))
	assert.Equal(t, PhaseReady, ix.Status().Phase)

	idsAfter, err := ix.Store().ChunkIDs()
	require.NoError(t, err)
	assert.Equal(t, idsBefore, idsAfter)
}

func TestRunPicksUpModification(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.md", "The original content of the document.")

	ix := setupIndexer(t, root, embed.NewLocal(32))
	require.NoError(t, ix.Run(context.Background()))

	writeFile(t, root, "doc.md", "Completely rewritten content, nothing like before.")
	require.NoError(t, ix.Run(context.Background()))

	chunks, err := ix.Store().FileChunks("doc.md")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Text, "rewritten")
}

func TestRunRemovesDeletedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.md", "This file stays around.")
	writeFile(t, root, "gone.md", "This file will be removed.")

	ix := setupIndexer(t, root, embed.NewLocal(32))
	require.NoError(t, ix.Run(context.Background()))

	require.NoError(t, os.Remove(filepath.Join(root, "gone.md")))
	require.NoError(t, ix.Run(context.Background()))

	paths, err := ix.Store().FilePaths()
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.md"}, paths)
	assert.Equal(t, 1, ix.Status().Progress.FilesDeleted)
}

func TestRunEmptyFolderReady(t *testing.T) {
	root := t.TempDir()

	ix := setupIndexer(t, root, embed.NewLocal(32))
	require.NoError(t, ix.Run(context.Background()))

	status := ix.Status()
	assert.Equal(t, PhaseReady, status.Phase)
	assert.True(t, status.Searchable)
}

func TestRunCorruptFileExcluded(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "good.md", "Perfectly fine markdown content.")
	writeFile(t, root, "bad.txt", "binary\x00garbage\x00here")

	ix := setupIndexer(t, root, embed.NewLocal(32))
	require.NoError(t, ix.Run(context.Background()))

	status := ix.Status()
	assert.Equal(t, PhaseReadyWithErrors, status.Phase)
	assert.True(t, status.Searchable)
	assert.Equal(t, 1, status.Progress.FilesProcessed)
	assert.Equal(t, 1, status.Progress.FilesFailed)

	paths, err := ix.Store().FilePaths()
	require.NoError(t, err)
	assert.Equal(t, []string{"good.md"}, paths)
}

// poisonBackend fails permanently for texts containing a marker.
type poisonBackend struct {
	*embed.Local
	marker string
}

func (p *poisonBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if p.marker != "" && strings.Contains(text, p.marker) {
			return nil, fmt.Errorf("%w: rejected input", embed.ErrBackendUnavailable)
		}
	}
	return p.Local.EmbedBatch(ctx, texts)
}

func TestRunPartialEmbeddingFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "good.md", "A document the backend accepts.")
	writeFile(t, root, "flaky.md", "POISON this one never embeds.")

	backend := &poisonBackend{Local: embed.NewLocal(32), marker: "POISON"}
	ix := setupIndexer(t, root, backend)
	require.NoError(t, ix.Run(context.Background()))

	status := ix.Status()
	assert.Equal(t, PhaseReadyWithErrors, status.Phase)
	assert.True(t, status.Searchable)
	assert.Equal(t, 1, status.Progress.ChunksFailed)

	// The good file's chunks are fully stored and searchable.
	chunks, err := ix.Store().FileChunks("good.md")
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestRunCancelledRestoresPhase(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.md", "Some content to index.")

	ix := setupIndexer(t, root, embed.NewLocal(32))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ix.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	status := ix.Status()
	assert.Equal(t, PhasePending, status.Phase)
	assert.False(t, status.Searchable)
}

func TestPhaseTransitions(t *testing.T) {
	s := newState()
	require.Equal(t, PhasePending, s.Snapshot().Phase)

	require.NoError(t, s.transition(PhaseScanning))
	require.NoError(t, s.transition(PhaseParsing))
	require.NoError(t, s.transition(PhaseEmbedding))
	require.NoError(t, s.transition(PhaseClustering))
	require.NoError(t, s.transition(PhaseReady))

	// Ready only goes back to scanning.
	assert.Error(t, s.transition(PhaseEmbedding))
	require.NoError(t, s.transition(PhaseScanning))

	// Error is reachable from anywhere.
	require.NoError(t, s.transition(PhaseError))
	require.NoError(t, s.transition(PhaseScanning))
}

func TestPhaseTerminal(t *testing.T) {
	assert.True(t, PhasePending.Terminal())
	assert.True(t, PhaseReady.Terminal())
	assert.True(t, PhaseReadyWithErrors.Terminal())
	assert.True(t, PhaseError.Terminal())
	assert.False(t, PhaseScanning.Terminal())
	assert.False(t, PhaseEmbedding.Terminal())
}
