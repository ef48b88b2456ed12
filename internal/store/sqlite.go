package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"docdex/internal/chunker"
)

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

// SQLiteStore is one folder's vector store. Reads are served while an
// atomic per-file replacement for a different file is in flight (WAL
// mode); the per-file replacement transaction is the only exclusive
// section.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
	meta *Meta
}

// Open opens (or creates) a folder store at the given path and runs
// schema migration. It does not validate; see OpenValidated.
func Open(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.loadMeta(); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("Opened folder store", "path", dbPath)
	return s, nil
}

// OpenValidated opens a folder store and self-validates it. A store that
// fails validation is discarded and recreated empty; the caller must then
// trigger a full rebuild. Serving partial or corrupt data is never an
// option. The rebuilt return reports whether that happened.
func OpenValidated(dbPath string) (s *SQLiteStore, rebuilt bool, err error) {
	s, err = Open(dbPath)
	if err == nil {
		if verr := s.Validate(); verr == nil {
			return s, false, nil
		} else {
			log.Warn("Folder store failed validation, rebuilding", "path", dbPath, "error", verr)
			s.Close()
		}
	} else {
		log.Warn("Folder store unreadable, rebuilding", "path", dbPath, "error", err)
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(dbPath + suffix)
	}

	s, err = Open(dbPath)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Handle exposes the underlying database so the fingerprint store can
// share the folder's durability domain.
func (s *SQLiteStore) Handle() *sql.DB {
	return s.db
}

// Meta returns the store header, or nil if the model is not yet pinned.
func (s *SQLiteStore) Meta() *Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// metaChecksum covers the immutable header fields.
func metaChecksum(schemaVersion int, provider, model string, dimensions int) string {
	key := fmt.Sprintf("%d|%s|%s|%d", schemaVersion, provider, model, dimensions)
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

// loadMeta reads the header row if present.
func (s *SQLiteStore) loadMeta() error {
	var m Meta
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT schema_version, root_path, embedding_provider, embedding_model, embedding_dimensions, created_at, updated_at
		FROM meta WHERE id = 1
	`).Scan(&m.SchemaVersion, &m.RootPath, &m.Provider, &m.Model, &m.Dimensions, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		s.meta = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load store meta: %w", err)
	}

	m.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	m.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	s.meta = &m
	return nil
}

// EnsureMeta pins the store's model on first use and verifies it on every
// subsequent one. A different model or dimension is a contract violation:
// mixing models in one store is rejected, never coerced.
func (s *SQLiteStore) EnsureMeta(rootPath, provider, model string, dimensions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta != nil {
		if s.meta.Model != model || s.meta.Provider != provider {
			return fmt.Errorf("%w: store has %s/%s, got %s/%s",
				ErrModelMismatch, s.meta.Provider, s.meta.Model, provider, model)
		}
		if s.meta.Dimensions != dimensions {
			return fmt.Errorf("%w: store has %d, got %d",
				ErrDimensionMismatch, s.meta.Dimensions, dimensions)
		}
		return nil
	}

	if err := createVectorTable(s.db, dimensions); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	checksum := metaChecksum(currentSchemaVersion, provider, model, dimensions)
	_, err := s.db.Exec(`
		INSERT INTO meta (id, schema_version, root_path, embedding_provider, embedding_model, embedding_dimensions, checksum)
		VALUES (1, ?, ?, ?, ?, ?, ?)
	`, currentSchemaVersion, rootPath, provider, model, dimensions, checksum)
	if err != nil {
		return fmt.Errorf("failed to write store meta: %w", err)
	}

	now := time.Now().UTC()
	s.meta = &Meta{
		SchemaVersion: currentSchemaVersion,
		RootPath:      rootPath,
		Provider:      provider,
		Model:         model,
		Dimensions:    dimensions,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return nil
}

// ReplaceFileChunks atomically replaces all chunks for one file: old chunk
// ids are deleted and new ones inserted in a single transaction, so a
// crash mid-replacement leaves either the old or the new chunk set, never
// a mix.
func (s *SQLiteStore) ReplaceFileChunks(filePath, fileHash string, chunks []chunker.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors count mismatch: %d != %d", len(chunks), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta == nil {
		return fmt.Errorf("store model not pinned before write")
	}
	for i, v := range vectors {
		if len(v) != s.meta.Dimensions {
			return fmt.Errorf("%w: chunk %d has %d, store has %d",
				ErrDimensionMismatch, i, len(v), s.meta.Dimensions)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteFileTx(tx, filePath); err != nil {
		return err
	}

	for i, c := range chunks {
		result, err := tx.Exec(`
			INSERT INTO chunks (chunk_id, file_path, file_hash, ordinal, start_offset, end_offset, content, overlapped)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, filePath, fileHash, c.Ordinal, c.StartOffset, c.EndOffset, c.Text, boolToInt(c.Overlapped))
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}

		rowID, _ := result.LastInsertId()
		_, err = tx.Exec(`
			INSERT INTO chunk_vectors (chunk_id, embedding) VALUES (?, ?)
		`, rowID, serializeVector(vectors[i]))
		if err != nil {
			return fmt.Errorf("failed to insert vector for chunk %d: %w", i, err)
		}
	}

	if _, err := tx.Exec("UPDATE meta SET updated_at = datetime('now') WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to touch store meta: %w", err)
	}

	return tx.Commit()
}

// DeleteFile removes all chunks for one file atomically.
func (s *SQLiteStore) DeleteFile(filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteFileTx(tx, filePath); err != nil {
		return err
	}

	return tx.Commit()
}

// deleteFileTx removes a file's chunks, vectors, and cluster rows inside
// an open transaction.
func deleteFileTx(tx *sql.Tx, filePath string) error {
	if _, err := tx.Exec(`
		DELETE FROM chunk_vectors WHERE chunk_id IN (SELECT id FROM chunks WHERE file_path = ?)
	`, filePath); err != nil {
		// The vector table may not exist before the first embed.
		if !strings.Contains(err.Error(), "no such table") {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
	}
	if _, err := tx.Exec(`
		DELETE FROM clusters WHERE chunk_id IN (SELECT chunk_id FROM chunks WHERE file_path = ?)
	`, filePath); err != nil {
		return fmt.Errorf("failed to delete cluster rows: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM chunks WHERE file_path = ?", filePath); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Search performs a nearest-neighbor query. Results are ordered by
// distance, then chunk start offset, then file path, so equal-score ties
// break deterministically.
func (s *SQLiteStore) Search(query []float32, k int, filter Filter) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.meta == nil {
		return nil, nil
	}
	if len(query) != s.meta.Dimensions {
		return nil, fmt.Errorf("%w: query has %d, store has %d",
			ErrDimensionMismatch, len(query), s.meta.Dimensions)
	}

	// sqlite-vec applies filters after k results are selected from the
	// vector index, so request more and let LIMIT enforce the final count.
	kForVec := k * 10
	if kForVec > 1000 {
		kForVec = 1000
	}

	q := `
		SELECT c.id, c.chunk_id, c.file_path, c.file_hash, c.ordinal, c.start_offset, c.end_offset, c.content, c.overlapped,
			cv.distance
		FROM chunk_vectors cv
		JOIN chunks c ON c.id = cv.chunk_id
	`
	args := []any{}
	var where []string

	if filter.SemanticCluster != nil {
		q += " JOIN clusters cl ON cl.chunk_id = c.chunk_id"
		where = append(where, "cl.semantic_cluster = ?")
		args = append(args, *filter.SemanticCluster)
	}

	where = append(where, "cv.embedding MATCH ?", "k = ?")
	args = append(args, serializeVector(query), kForVec)

	if filter.PathPrefix != "" {
		where = append(where, "c.file_path LIKE ?")
		args = append(args, filter.PathPrefix+"%")
	}
	for _, p := range filter.ExcludePaths {
		where = append(where, "c.file_path != ?")
		args = append(args, p)
	}

	q += " WHERE " + strings.Join(where, " AND ")
	q += " ORDER BY cv.distance ASC, c.start_offset ASC, c.file_path ASC LIMIT ?"
	args = append(args, k)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var overlapped int
		if err := rows.Scan(
			&r.Chunk.RowID, &r.Chunk.ChunkID, &r.Chunk.FilePath, &r.Chunk.FileHash,
			&r.Chunk.Ordinal, &r.Chunk.StartOffset, &r.Chunk.EndOffset, &r.Chunk.Text,
			&overlapped, &r.Distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		r.Chunk.Overlapped = overlapped != 0
		r.Score = 1 - r.Distance
		results = append(results, r)
	}

	return results, rows.Err()
}

// FileChunks returns a file's chunks ordered by ordinal.
func (s *SQLiteStore) FileChunks(filePath string) ([]ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, chunk_id, file_path, file_hash, ordinal, start_offset, end_offset, content, overlapped
		FROM chunks WHERE file_path = ? ORDER BY ordinal
	`, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list file chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// FilePaths returns the distinct file paths present in the chunk set,
// used to reconcile against the fingerprint table.
func (s *SQLiteStore) FilePaths() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT DISTINCT file_path FROM chunks ORDER BY file_path")
	if err != nil {
		return nil, fmt.Errorf("failed to list file paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ChunkIDs returns all chunk ids in the store.
func (s *SQLiteStore) ChunkIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT chunk_id FROM chunks ORDER BY chunk_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Embeddings returns every stored vector, for the cluster pass over the
// complete folder population.
func (s *SQLiteStore) Embeddings() ([]EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.meta == nil {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT c.chunk_id, c.file_path, c.embedded_at, cv.embedding
		FROM chunk_vectors cv
		JOIN chunks c ON c.id = cv.chunk_id
		ORDER BY c.chunk_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read embeddings: %w", err)
	}
	defer rows.Close()

	var recs []EmbeddingRecord
	for rows.Next() {
		var rec EmbeddingRecord
		var embeddedAt string
		var blob []byte
		if err := rows.Scan(&rec.ChunkID, &rec.FilePath, &embeddedAt, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		rec.Vector = deserializeVector(blob)
		rec.Model = s.meta.Model
		rec.GeneratedAt, _ = time.Parse("2006-01-02 15:04:05", embeddedAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ReplaceClusters swaps in a freshly computed cluster assignment for the
// whole folder. Assignments are only ever replaced as a complete set.
func (s *SQLiteStore) ReplaceClusters(assignments []ClusterAssignment, centroids [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM clusters"); err != nil {
		return fmt.Errorf("failed to clear clusters: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM centroids"); err != nil {
		return fmt.Errorf("failed to clear centroids: %w", err)
	}

	for _, a := range assignments {
		if _, err := tx.Exec(`
			INSERT INTO clusters (chunk_id, semantic_cluster, folder_cluster) VALUES (?, ?, ?)
		`, a.ChunkID, a.SemanticCluster, a.FolderCluster); err != nil {
			return fmt.Errorf("failed to insert cluster assignment: %w", err)
		}
	}

	for i, c := range centroids {
		if _, err := tx.Exec(`
			INSERT INTO centroids (cluster_id, centroid) VALUES (?, ?)
		`, i, serializeVector(c)); err != nil {
			return fmt.Errorf("failed to insert centroid: %w", err)
		}
	}

	return tx.Commit()
}

// Centroids returns the semantic cluster centroids by cluster id.
func (s *SQLiteStore) Centroids() (map[int][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT cluster_id, centroid FROM centroids ORDER BY cluster_id")
	if err != nil {
		return nil, fmt.Errorf("failed to read centroids: %w", err)
	}
	defer rows.Close()

	out := make(map[int][]float32)
	for rows.Next() {
		var id int
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		out[id] = deserializeVector(blob)
	}
	return out, rows.Err()
}

// ClusterMembers returns the chunk ids assigned to a semantic cluster.
func (s *SQLiteStore) ClusterMembers(semanticCluster int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT chunk_id FROM clusters WHERE semantic_cluster = ? ORDER BY chunk_id
	`, semanticCluster)
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns the store's current contents.
func (s *SQLiteStore) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	if err := s.db.QueryRow("SELECT COUNT(DISTINCT file_path), COUNT(*) FROM chunks").
		Scan(&st.FileCount, &st.ChunkCount); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM chunk_vectors").Scan(&st.VectorCount); err != nil {
		if !strings.Contains(err.Error(), "no such table") {
			return nil, fmt.Errorf("failed to count vectors: %w", err)
		}
	}

	if err := s.db.QueryRow("SELECT COUNT(DISTINCT semantic_cluster) FROM clusters").Scan(&st.ClusterCount); err != nil {
		return nil, fmt.Errorf("failed to count clusters: %w", err)
	}

	return &st, nil
}

// Validate checks that the store is internally consistent: header checksum,
// chunk/vector counts, and stored vector width all agree. Any inconsistency
// is reported as ErrCorruptStore; the caller falls back to an empty store
// and a full rebuild rather than serving partial data.
func (s *SQLiteStore) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunkCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&chunkCount); err != nil {
		return fmt.Errorf("%w: chunks unreadable: %v", ErrCorruptStore, err)
	}

	if s.meta == nil {
		if chunkCount != 0 {
			return fmt.Errorf("%w: %d chunks but no meta header", ErrCorruptStore, chunkCount)
		}
		return nil
	}

	var checksum string
	if err := s.db.QueryRow("SELECT checksum FROM meta WHERE id = 1").Scan(&checksum); err != nil {
		return fmt.Errorf("%w: meta unreadable: %v", ErrCorruptStore, err)
	}
	want := metaChecksum(s.meta.SchemaVersion, s.meta.Provider, s.meta.Model, s.meta.Dimensions)
	if checksum != want {
		return fmt.Errorf("%w: meta checksum mismatch", ErrCorruptStore)
	}

	var vectorCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chunk_vectors").Scan(&vectorCount); err != nil {
		return fmt.Errorf("%w: vectors unreadable: %v", ErrCorruptStore, err)
	}
	if vectorCount != chunkCount {
		return fmt.Errorf("%w: %d chunks but %d vectors", ErrCorruptStore, chunkCount, vectorCount)
	}

	if vectorCount > 0 {
		var blob []byte
		if err := s.db.QueryRow("SELECT embedding FROM chunk_vectors LIMIT 1").Scan(&blob); err != nil {
			return fmt.Errorf("%w: vector probe failed: %v", ErrCorruptStore, err)
		}
		if len(blob) != s.meta.Dimensions*4 {
			return fmt.Errorf("%w: stored vector width %d does not match dimensions %d",
				ErrCorruptStore, len(blob)/4, s.meta.Dimensions)
		}
	}

	var orphans int
	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM clusters WHERE chunk_id NOT IN (SELECT chunk_id FROM chunks)
	`).Scan(&orphans); err != nil {
		return fmt.Errorf("%w: clusters unreadable: %v", ErrCorruptStore, err)
	}
	if orphans > 0 {
		return fmt.Errorf("%w: %d orphaned cluster assignments", ErrCorruptStore, orphans)
	}

	return nil
}

// serializeVector converts a float32 slice to bytes for sqlite-vec.
func serializeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeVector converts a sqlite-vec blob back to float32s.
func deserializeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanChunks(rows *sql.Rows) ([]ChunkRecord, error) {
	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		var overlapped int
		if err := rows.Scan(
			&c.RowID, &c.ChunkID, &c.FilePath, &c.FileHash,
			&c.Ordinal, &c.StartOffset, &c.EndOffset, &c.Text, &overlapped,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Overlapped = overlapped != 0
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
