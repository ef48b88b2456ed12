// Package coordinator manages the set of indexed folders: registration,
// bounded-concurrency indexing runs, and change-driven re-indexing.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docdex/internal/config"
	"docdex/internal/embed"
	"docdex/internal/indexer"
	"docdex/internal/search"
	"docdex/internal/store"
)

// ChangeNotification reports that a folder's content changed on disk.
// Path is informational; re-indexing always runs the full incremental
// diff for the folder.
type ChangeNotification struct {
	FolderID string
	Path     string
}

// FolderStatus combines a folder's identity with its index state.
type FolderStatus struct {
	ID        string         `json:"id"`
	Root      string         `json:"root"`
	Name      string         `json:"name"`
	LastRunID string         `json:"last_run_id,omitempty"`
	Status    indexer.Status `json:"status"`
	Stats     *store.Stats   `json:"stats,omitempty"`
}

// managedFolder is one registered folder and its scheduling flags.
type managedFolder struct {
	id      string
	root    string
	name    string
	ix      *indexer.Indexer
	store   *store.SQLiteStore
	backend embed.Backend
	running bool
	// dirty records a change that arrived while a run was in flight.
	dirty bool
	// runCancel stops the in-flight run; runDone closes when it
	// returns. Both are replaced at the start of every run.
	runCancel context.CancelFunc
	runDone   chan struct{}
	lastRunID string
}

// folderView adapts a managed folder to the search engine.
type folderView struct {
	mf *managedFolder
}

func (v folderView) Label() string            { return v.mf.name }
func (v folderView) Searchable() bool         { return v.mf.ix.Status().Searchable }
func (v folderView) Store() *store.SQLiteStore { return v.mf.store }
func (v folderView) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return v.mf.backend.EmbedQuery(ctx, text)
}

// Coordinator owns all registered folders. Indexing runs are bounded by
// the configured concurrency; each folder runs at most one pass at a
// time.
type Coordinator struct {
	cfg     *config.Config
	mu      sync.RWMutex
	folders map[string]*managedFolder
	notify  chan ChangeNotification
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a coordinator. Call Start before registering folders.
func New(cfg *config.Config) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		folders: make(map[string]*managedFolder),
		notify:  make(chan ChangeNotification, 256),
	}
}

// FolderID derives the stable identifier for a folder root. The same
// absolute path always maps to the same id, so registration is
// idempotent.
func FolderID(root string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(root))
}

// Start begins consuming change notifications. The context bounds the
// lifetime of all indexing runs.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.group = &errgroup.Group{}
	c.group.SetLimit(c.cfg.Indexing.Concurrency)
	c.started = true

	go c.consume()
}

// Stop cancels in-flight runs, waits for them, and closes every folder
// store.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.started = false
	group := c.group
	c.mu.Unlock()

	group.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, mf := range c.folders {
		mf.store.Close()
	}
	c.folders = make(map[string]*managedFolder)
}

// AddFolder registers a folder and schedules its first indexing run.
// Registering an already-known folder schedules a re-index instead of
// creating a duplicate.
func (c *Coordinator) AddFolder(fc config.FolderConfig) (string, error) {
	root, err := filepath.Abs(fc.Path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve folder path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("folder does not exist: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", root)
	}

	id := FolderID(root)

	c.mu.Lock()
	if _, exists := c.folders[id]; exists {
		c.mu.Unlock()
		log.Debug("Folder already registered, scheduling re-index", "root", root)
		c.Notify(ChangeNotification{FolderID: id})
		return id, nil
	}
	c.mu.Unlock()

	backend, err := embed.Resolve(&c.cfg.Embeddings, fc.Backend)
	if err != nil {
		return "", err
	}

	st, err := c.openFolderStore(id, root, backend)
	if err != nil {
		return "", err
	}

	name := fc.Name
	if name == "" {
		name = filepath.Base(root)
	}

	mf := &managedFolder{
		id:      id,
		root:    root,
		name:    name,
		ix:      indexer.New(root, st, backend, c.cfg),
		store:   st,
		backend: backend,
	}

	c.mu.Lock()
	c.folders[id] = mf
	c.mu.Unlock()

	log.Info("Registered folder", "root", root, "id", id, "backend", backend.Kind(), "model", backend.ModelName())
	c.Notify(ChangeNotification{FolderID: id})
	return id, nil
}

// openFolderStore opens the folder's database, rebuilding it when the
// file is corrupt or pinned to a different embedding model.
func (c *Coordinator) openFolderStore(id, root string, backend embed.Backend) (*store.SQLiteStore, error) {
	dbPath := c.cfg.FolderDBPath(id)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, rebuilt, err := store.OpenValidated(dbPath)
	if err != nil {
		return nil, err
	}
	if rebuilt {
		log.Warn("Folder index was corrupt, rebuilding from scratch", "root", root)
	}

	err = st.EnsureMeta(root, string(backend.Kind()), backend.ModelName(), backend.Dimensions())
	if err == nil {
		return st, nil
	}
	if !store.IsMetaConflict(err) {
		st.Close()
		return nil, err
	}

	// A different model or dimension produced the existing vectors.
	// They cannot be compared with new ones, so start over.
	log.Warn("Embedding model changed, rebuilding folder index", "root", root, "error", err)
	st.Close()
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(dbPath + suffix)
	}
	st, _, err = store.OpenValidated(dbPath)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureMeta(root, string(backend.Kind()), backend.ModelName(), backend.Dimensions()); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// DiscoverFolders registers every folder database already present under
// the data dir. Each store's meta records the root path it was built
// from, so folders indexed by a previous process are found again
// without a config entry. Returns the ids of all discovered folders,
// including ones that were already registered.
func (c *Coordinator) DiscoverFolders() []string {
	pattern := filepath.Join(c.cfg.DataDir, "folders", "*.db")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}

	var ids []string
	for _, dbPath := range matches {
		id := strings.TrimSuffix(filepath.Base(dbPath), ".db")
		c.mu.RLock()
		_, known := c.folders[id]
		c.mu.RUnlock()
		if known {
			ids = append(ids, id)
			continue
		}

		st, err := store.Open(dbPath)
		if err != nil {
			log.Warn("Skipping unreadable folder index", "path", dbPath, "error", err)
			continue
		}
		meta := st.Meta()
		st.Close()
		if meta == nil || meta.RootPath == "" {
			continue
		}

		registered, err := c.AddFolder(config.FolderConfig{
			Path:    meta.RootPath,
			Backend: meta.Provider,
		})
		if err != nil {
			log.Warn("Skipping stale folder index", "root", meta.RootPath, "error", err)
			continue
		}
		ids = append(ids, registered)
	}
	return ids
}

// RemoveFolder unregisters a folder and deletes its index database.
// The documents on disk are untouched.
func (c *Coordinator) RemoveFolder(id string) error {
	c.mu.Lock()
	mf, ok := c.folders[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown folder: %s", id)
	}
	delete(c.folders, id)
	cancelRun := mf.runCancel
	done := mf.runDone
	c.mu.Unlock()

	// An in-flight run stops at its next batch checkpoint; wait for it
	// to return before closing the store underneath it.
	if cancelRun != nil {
		cancelRun()
		<-done
	}

	mf.store.Close()
	dbPath := c.cfg.FolderDBPath(id)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(dbPath + suffix)
	}
	log.Info("Removed folder", "root", mf.root, "id", id)
	return nil
}

// Notify queues a change notification. Dropping is preferable to
// blocking a filesystem watcher; the next notification for the folder
// will pick up all accumulated changes anyway.
func (c *Coordinator) Notify(n ChangeNotification) {
	select {
	case c.notify <- n:
	default:
		log.Debug("Change queue full, dropping notification", "folder", n.FolderID)
	}
}

// NotifyChange implements the watcher's Notifier interface.
func (c *Coordinator) NotifyChange(folderID, path string) {
	c.Notify(ChangeNotification{FolderID: folderID, Path: path})
}

// consume drains the notification queue and schedules runs.
func (c *Coordinator) consume() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case n := <-c.notify:
			c.schedule(n.FolderID)
		}
	}
}

// schedule starts a run for the folder unless one is already in
// flight, in which case the folder is marked dirty and re-queued when
// the run finishes.
func (c *Coordinator) schedule(id string) {
	c.mu.Lock()
	mf, ok := c.folders[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	if mf.running {
		mf.dirty = true
		c.mu.Unlock()
		return
	}
	mf.running = true
	mf.dirty = false
	runID := uuid.NewString()
	runCtx, cancelRun := context.WithCancel(c.ctx)
	done := make(chan struct{})
	mf.runCancel = cancelRun
	mf.runDone = done
	mf.lastRunID = runID
	c.mu.Unlock()

	c.group.Go(func() error {
		defer close(done)
		defer cancelRun()
		log.Debug("Starting indexing run", "folder", mf.root, "run", runID)
		if err := mf.ix.Run(runCtx); err != nil {
			log.Error("Indexing run failed", "folder", mf.root, "run", runID, "error", err)
		}

		c.mu.Lock()
		mf.running = false
		requeue := mf.dirty
		c.mu.Unlock()

		if requeue {
			c.Notify(ChangeNotification{FolderID: id})
		}
		return nil
	})
}

// Wait blocks until all scheduled runs finish. Used by one-shot
// commands that index and exit.
func (c *Coordinator) Wait() {
	c.group.Wait()
}

// Status reports every registered folder's state, sorted by the
// caller.
func (c *Coordinator) Status() []FolderStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]FolderStatus, 0, len(c.folders))
	for _, mf := range c.folders {
		fs := FolderStatus{
			ID:        mf.id,
			Root:      mf.root,
			Name:      mf.name,
			LastRunID: mf.lastRunID,
			Status:    mf.ix.Status(),
		}
		if stats, err := mf.store.Stats(); err == nil {
			fs.Stats = stats
		}
		out = append(out, fs)
	}
	return out
}

// Folder returns a registered folder's indexer and store by id.
func (c *Coordinator) Folder(id string) (*indexer.Indexer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mf, ok := c.folders[id]
	if !ok {
		return nil, false
	}
	return mf.ix, true
}

// SearchFolders returns search engine sources for the given folder
// ids, or for every registered folder when ids is empty.
func (c *Coordinator) SearchFolders(ids ...string) ([]search.Folder, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(ids) == 0 {
		out := make([]search.Folder, 0, len(c.folders))
		for _, mf := range c.folders {
			out = append(out, folderView{mf: mf})
		}
		return out, nil
	}

	out := make([]search.Folder, 0, len(ids))
	for _, id := range ids {
		mf, ok := c.folders[id]
		if !ok {
			return nil, fmt.Errorf("unknown folder: %s", id)
		}
		out = append(out, folderView{mf: mf})
	}
	return out, nil
}

// Folders lists registered folder ids with their roots.
func (c *Coordinator) Folders() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.folders))
	for id, mf := range c.folders {
		out[id] = mf.root
	}
	return out
}
