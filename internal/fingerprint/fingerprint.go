// Package fingerprint persists one content fingerprint per known file and
// diffs the on-disk state against it to detect additions, modifications,
// and deletions without re-embedding anything that has not changed.
package fingerprint

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"

	"docdex/internal/fs"
)

// Fingerprint is the persisted change-detection record for one file.
type Fingerprint struct {
	Path            string `json:"path"` // relative, stable across folder moves
	Hash            string `json:"hash"`
	Size            int64  `json:"size"`
	MTime           int64  `json:"mtime"` // unix seconds
	LastIndexedHash string `json:"last_indexed_hash"`
}

// Diff is the result of comparing current on-disk files against the
// persisted fingerprints.
type Diff struct {
	Added    []fs.FileInfo
	Modified []fs.FileInfo
	Deleted  []string // relative paths no longer on disk
}

// Empty reports whether the diff contains no changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Store persists fingerprints in the folder's database. It shares the
// database with the vector store so a fingerprint commit and the chunk
// replacement it records share one durability domain.
type Store struct {
	db *sql.DB
}

// New creates a fingerprint store over the folder database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Diff compares the current file list against persisted fingerprints.
// A changed mtime with an unchanged hash is treated as unmodified (the
// stored mtime is refreshed so the next scan short-circuits). If the
// fingerprint table is unreadable it is treated as "no prior state":
// every file is reported added, which is the safe, if costly, recovery
// path for corruption.
func (s *Store) Diff(current []fs.FileInfo) (Diff, error) {
	known, err := s.all()
	if err != nil {
		log.Warn("Fingerprint table unreadable, treating all files as added", "error", err)
		known = map[string]Fingerprint{}
	}

	var d Diff
	seen := make(map[string]bool, len(current))

	for _, fi := range current {
		seen[fi.RelPath] = true
		prev, ok := known[fi.RelPath]
		if !ok {
			d.Added = append(d.Added, fi)
			continue
		}
		if prev.Hash == fi.Hash {
			if prev.MTime != fi.ModTime.Unix() {
				s.touch(fi.RelPath, fi.ModTime.Unix())
			}
			continue
		}
		d.Modified = append(d.Modified, fi)
	}

	for path := range known {
		if !seen[path] {
			d.Deleted = append(d.Deleted, path)
		}
	}

	return d, nil
}

// Commit persists a fingerprint after the file's chunks are durably
// stored. last_indexed_hash records the hash that produced the stored
// chunks.
func (s *Store) Commit(path, hash string, size, mtime int64) error {
	_, err := s.db.Exec(`
		INSERT INTO fingerprints (path, hash, size, mtime, last_indexed_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			size = excluded.size,
			mtime = excluded.mtime,
			last_indexed_hash = excluded.last_indexed_hash
	`, path, hash, size, mtime, hash)
	if err != nil {
		return fmt.Errorf("failed to commit fingerprint: %w", err)
	}
	return nil
}

// Remove deletes a fingerprint. The caller is responsible for deleting the
// file's chunks from the vector store.
func (s *Store) Remove(path string) error {
	if _, err := s.db.Exec("DELETE FROM fingerprints WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to remove fingerprint: %w", err)
	}
	return nil
}

// Get returns one fingerprint, or nil if unknown.
func (s *Store) Get(path string) (*Fingerprint, error) {
	var fp Fingerprint
	err := s.db.QueryRow(`
		SELECT path, hash, size, mtime, last_indexed_hash FROM fingerprints WHERE path = ?
	`, path).Scan(&fp.Path, &fp.Hash, &fp.Size, &fp.MTime, &fp.LastIndexedHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	return &fp, nil
}

// Count returns the number of persisted fingerprints.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM fingerprints").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fingerprints: %w", err)
	}
	return n, nil
}

// all loads every fingerprint keyed by path.
func (s *Store) all() (map[string]Fingerprint, error) {
	rows, err := s.db.Query("SELECT path, hash, size, mtime, last_indexed_hash FROM fingerprints")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Fingerprint)
	for rows.Next() {
		var fp Fingerprint
		if err := rows.Scan(&fp.Path, &fp.Hash, &fp.Size, &fp.MTime, &fp.LastIndexedHash); err != nil {
			return nil, err
		}
		out[fp.Path] = fp
	}
	return out, rows.Err()
}

// touch refreshes a stored mtime without changing the hash.
func (s *Store) touch(path string, mtime int64) {
	if _, err := s.db.Exec("UPDATE fingerprints SET mtime = ? WHERE path = ?", mtime, path); err != nil {
		log.Debug("Failed to refresh fingerprint mtime", "path", path, "error", err)
	}
}
