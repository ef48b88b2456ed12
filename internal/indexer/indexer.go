// Package indexer runs the per-folder indexing pipeline: scan,
// fingerprint diff, extract, chunk, embed, persist, cluster.
package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"docdex/internal/chunker"
	"docdex/internal/cluster"
	"docdex/internal/config"
	"docdex/internal/embed"
	"docdex/internal/extract"
	"docdex/internal/fingerprint"
	"docdex/internal/fs"
	"docdex/internal/store"
)

// Indexer owns one folder's indexing pipeline. It is not safe for
// concurrent Run calls; the coordinator serializes runs per folder.
type Indexer struct {
	root      string
	store     *store.SQLiteStore
	prints    *fingerprint.Store
	backend   embed.Backend
	scheduler *embed.Scheduler
	chunker   *chunker.Chunker
	registry  *extract.Registry
	walkOpts  fs.WalkOptions
	state     *state
}

// New creates an indexer for a folder rooted at root, persisting into
// st. The store's meta must already be pinned to the backend's model.
func New(root string, st *store.SQLiteStore, backend embed.Backend, cfg *config.Config) *Indexer {
	registry := extract.NewRegistry(extract.NewPlainText())

	walkOpts := fs.WalkOptions{
		Root:           root,
		MaxFileSize:    int64(cfg.Indexing.MaxFileSize),
		MaxFileCount:   cfg.Indexing.MaxFileCount,
		IgnorePatterns: append(config.DefaultIgnorePatterns(), cfg.Ignore...),
		UseGitignore:   true,
		Extensions:     registry.Extensions(),
	}

	scheduler := embed.NewScheduler(backend, embed.NewCache(0), embed.SchedulerOptions{
		BatchSize:    cfg.Indexing.BatchSize,
		BatchFloor:   cfg.Indexing.BatchFloor,
		BatchCeiling: cfg.Indexing.BatchCeiling,
		Retry:        embed.DefaultRetryConfig(),
	})

	ix := &Indexer{
		root:      root,
		store:     st,
		prints:    fingerprint.New(st.Handle()),
		backend:   backend,
		scheduler: scheduler,
		chunker: chunker.New(chunker.Options{
			ChunkSize:       cfg.Indexing.ChunkSize,
			OverlapFraction: cfg.Indexing.OverlapFraction,
			MinChunkSize:    cfg.Indexing.MinChunkSize,
		}),
		registry: registry,
		walkOpts: walkOpts,
		state:    newState(),
	}

	// A store populated by a previous process is immediately
	// searchable; the next run diffs against it instead of starting
	// over.
	if stats, err := st.Stats(); err == nil && stats.ChunkCount > 0 {
		ix.state.restore(PhaseReady)
		ix.state.setSearchable(true)
	}

	return ix
}

// Status returns a snapshot of the folder's index state.
func (ix *Indexer) Status() Status {
	return ix.state.Snapshot()
}

// Store exposes the folder's vector store for searching.
func (ix *Indexer) Store() *store.SQLiteStore {
	return ix.store
}

// fileWork is a changed file with its extracted chunks.
type fileWork struct {
	info   fs.FileInfo
	chunks []chunker.Chunk
}

// Run executes one full incremental indexing pass. Cancellation leaves
// committed files in place and restores the prior resting phase; a
// fatal error moves the folder to the error phase. The searchable flag
// only flips once the first run completes, so queries during a rebuild
// see the previous index.
func (ix *Indexer) Run(ctx context.Context) error {
	prior := ix.state.Snapshot()
	restorePhase := prior.Phase
	if !restorePhase.Terminal() {
		restorePhase = PhasePending
	}

	fail := func(err error) error {
		ix.state.setError(err)
		ix.state.finishRun()
		return err
	}
	cancelled := func() error {
		ix.state.restore(restorePhase)
		ix.state.finishRun()
		return ctx.Err()
	}

	if err := ix.state.transition(PhaseScanning); err != nil {
		return err
	}
	ix.state.resetProgress()

	log.Debug("Scanning folder", "root", ix.root)
	files, err := ix.scan()
	if err != nil {
		return fail(err)
	}
	if ctx.Err() != nil {
		return cancelled()
	}

	diff, err := ix.prints.Diff(files)
	if err != nil {
		return fail(err)
	}
	if diff.Empty() {
		log.Debug("No changes detected", "root", ix.root)
		if err := ix.state.transition(PhaseReady); err != nil {
			return err
		}
		ix.state.setSearchable(true)
		ix.state.finishRun()
		return nil
	}
	log.Info("Folder changed",
		"root", ix.root,
		"added", len(diff.Added),
		"modified", len(diff.Modified),
		"deleted", len(diff.Deleted))

	changed := append(append([]fs.FileInfo{}, diff.Added...), diff.Modified...)
	ix.state.update(func(p *Progress) {
		p.FilesTotal = len(changed)
		p.FilesDeleted = len(diff.Deleted)
	})

	if err := ix.state.transition(PhaseParsing); err != nil {
		return err
	}
	work := make([]fileWork, 0, len(changed))
	for _, fi := range changed {
		if ctx.Err() != nil {
			return cancelled()
		}
		text, err := ix.registry.Extract(ctx, fi.Path)
		if err != nil {
			log.Warn("Skipping unreadable file", "path", fi.RelPath, "error", err)
			ix.state.update(func(p *Progress) { p.FilesFailed++ })
			continue
		}
		chunks := ix.chunker.Chunk(text, fi.RelPath, fi.Hash)
		ix.state.update(func(p *Progress) { p.ChunksTotal += len(chunks) })
		work = append(work, fileWork{info: fi, chunks: chunks})
	}

	if err := ix.state.transition(PhaseEmbedding); err != nil {
		return err
	}
	for _, fw := range work {
		if ctx.Err() != nil {
			return cancelled()
		}
		if err := ix.embedAndPersist(ctx, fw); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return cancelled()
			}
			return fail(err)
		}
	}

	for _, path := range diff.Deleted {
		if err := ix.store.DeleteFile(path); err != nil {
			return fail(fmt.Errorf("failed to delete %s: %w", path, err))
		}
		if err := ix.prints.Remove(path); err != nil {
			return fail(err)
		}
	}

	if err := ix.state.transition(PhaseClustering); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return cancelled()
	}
	if err := ix.recluster(); err != nil {
		return fail(err)
	}

	final := PhaseReady
	snap := ix.state.Snapshot()
	if snap.Progress.FilesFailed > 0 || snap.Progress.ChunksFailed > 0 {
		final = PhaseReadyWithErrors
	}
	if err := ix.state.transition(final); err != nil {
		return err
	}
	ix.state.setSearchable(true)
	ix.state.finishRun()
	log.Info("Indexing complete", "root", ix.root, "phase", final)
	return nil
}

// scan walks the folder and returns the current file set.
func (ix *Indexer) scan() ([]fs.FileInfo, error) {
	walker, err := fs.NewFolderWalker(ix.walkOpts)
	if err != nil {
		return nil, err
	}
	var files []fs.FileInfo
	err = walker.Walk(func(fi fs.FileInfo) error {
		files = append(files, fi)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan folder: %w", err)
	}
	return files, nil
}

// embedAndPersist embeds one file's chunks and atomically replaces the
// file's stored chunks with the successful ones. The fingerprint is
// only committed when every chunk embedded, so a file with failures is
// retried on the next run.
func (ix *Indexer) embedAndPersist(ctx context.Context, fw fileWork) error {
	texts := make([]string, len(fw.chunks))
	keys := make([]string, len(fw.chunks))
	for i, c := range fw.chunks {
		texts[i] = c.Text
		keys[i] = fs.HashContent([]byte(c.Text))
	}

	res, err := ix.scheduler.EmbedAll(ctx, texts, keys)
	if err != nil {
		return err
	}

	kept := make([]chunker.Chunk, 0, len(fw.chunks))
	vectors := make([][]float32, 0, len(fw.chunks))
	for i, c := range fw.chunks {
		if _, failed := res.Failed[i]; failed {
			continue
		}
		kept = append(kept, c)
		vectors = append(vectors, res.Vectors[i])
	}

	if err := ix.store.ReplaceFileChunks(fw.info.RelPath, fw.info.Hash, kept, vectors); err != nil {
		return err
	}

	ix.state.update(func(p *Progress) {
		p.ChunksEmbedded += len(kept)
		p.ChunksFailed += len(res.Failed)
	})

	if len(res.Failed) > 0 {
		log.Warn("File indexed with failures",
			"path", fw.info.RelPath,
			"embedded", len(kept),
			"failed", len(res.Failed))
		ix.state.update(func(p *Progress) { p.FilesFailed++ })
		return nil
	}

	if err := ix.prints.Commit(fw.info.RelPath, fw.info.Hash, fw.info.Size, fw.info.ModTime.Unix()); err != nil {
		return err
	}
	ix.state.update(func(p *Progress) { p.FilesProcessed++ })
	return nil
}

// recluster recomputes semantic and folder clusters over the whole
// corpus and swaps them in.
func (ix *Indexer) recluster() error {
	recs, err := ix.store.Embeddings()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return ix.store.ReplaceClusters(nil, nil)
	}

	chunkIDs := make([]string, len(recs))
	relPaths := make([]string, len(recs))
	vectors := make([][]float32, len(recs))
	for i, r := range recs {
		chunkIDs[i] = r.ChunkID
		relPaths[i] = r.FilePath
		vectors[i] = r.Vector
	}

	result := cluster.Assign(chunkIDs, relPaths, vectors)

	assignments := make([]store.ClusterAssignment, len(result.Assignments))
	for i, a := range result.Assignments {
		assignments[i] = store.ClusterAssignment{
			ChunkID:         a.ChunkID,
			SemanticCluster: a.SemanticCluster,
			FolderCluster:   a.FolderCluster,
		}
	}

	centroids := make([][]float32, len(result.Centroids))
	for id, c := range result.Centroids {
		centroids[id] = c
	}

	return ix.store.ReplaceClusters(assignments, centroids)
}
