package store

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
)

const currentSchemaVersion = 1

// Schema definitions. One database per folder: the meta header plus the
// fingerprint, chunk/vector, and cluster tables. Each table is
// independently re-buildable from the source files alone.
const metaTable = `
CREATE TABLE IF NOT EXISTS meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	schema_version INTEGER NOT NULL,
	root_path TEXT NOT NULL,
	embedding_provider TEXT NOT NULL,
	embedding_model TEXT NOT NULL,
	embedding_dimensions INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	created_at TEXT DEFAULT (datetime('now')),
	updated_at TEXT DEFAULT (datetime('now'))
);
`

const fingerprintsTable = `
CREATE TABLE IF NOT EXISTS fingerprints (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	last_indexed_hash TEXT NOT NULL DEFAULT ''
);
`

const chunksTable = `
CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_id TEXT UNIQUE NOT NULL,
	file_path TEXT NOT NULL,
	file_hash TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset INTEGER NOT NULL,
	content TEXT NOT NULL,
	overlapped INTEGER NOT NULL DEFAULT 0,
	embedded_at TEXT DEFAULT (datetime('now')),
	UNIQUE(file_path, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);
`

const clustersTable = `
CREATE TABLE IF NOT EXISTS clusters (
	chunk_id TEXT PRIMARY KEY,
	semantic_cluster INTEGER NOT NULL,
	folder_cluster TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clusters_semantic ON clusters(semantic_cluster);
CREATE INDEX IF NOT EXISTS idx_clusters_folder ON clusters(folder_cluster);
`

const centroidsTable = `
CREATE TABLE IF NOT EXISTS centroids (
	cluster_id INTEGER PRIMARY KEY,
	centroid BLOB NOT NULL
);
`

// createVectorTable creates the sqlite-vec virtual table for the given
// dimensions. It is created lazily, when the store's model is pinned.
func createVectorTable(db *sql.DB, dimensions int) error {
	query := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vectors USING vec0(
			chunk_id INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, dimensions)

	_, err := db.Exec(query)
	return err
}

// initSchema initializes the database schema.
func initSchema(db *sql.DB) error {
	var version int
	err := db.QueryRow("SELECT schema_version FROM meta WHERE id = 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		// meta table may not exist yet; treat as version 0
		version = 0
	}

	if version >= currentSchemaVersion {
		log.Debug("Schema is up to date", "version", version)
		return nil
	}

	log.Debug("Migrating schema", "from", version, "to", currentSchemaVersion)

	tables := []string{metaTable, fingerprintsTable, chunksTable, clustersTable, centroidsTable}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// The vector table is created when the store's dimensions are pinned.
	return nil
}
