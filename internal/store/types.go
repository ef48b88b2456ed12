// Package store provides the durable per-folder vector store backed by
// SQLite and sqlite-vec.
package store

import (
	"errors"
	"time"
)

// Structural and contract failures. Structural failures transition the
// owning folder to its error phase; the recovery path is a full rebuild
// from source files, which is always safe because every table is
// regenerable from them.
var (
	ErrCorruptStore      = errors.New("store failed self-validation")
	ErrDimensionMismatch = errors.New("vector dimension does not match store")
	ErrModelMismatch     = errors.New("embedding model does not match store")
)

// IsMetaConflict reports whether err means the store's pinned model or
// dimensions disagree with the requested backend. The stored vectors
// are unusable with the new backend and the index must be rebuilt.
func IsMetaConflict(err error) bool {
	return errors.Is(err, ErrModelMismatch) || errors.Is(err, ErrDimensionMismatch)
}

// Meta is the checksum-validated header of a folder store. Model and
// dimensions are pinned on first write; mixing models in one store is
// invalid and is rejected, never coerced.
type Meta struct {
	SchemaVersion int       `json:"schema_version"`
	RootPath      string    `json:"root_path"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Dimensions    int       `json:"dimensions"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChunkRecord is a stored chunk row.
type ChunkRecord struct {
	RowID       int64  `json:"row_id"`
	ChunkID     string `json:"chunk_id"`
	FilePath    string `json:"file_path"`
	FileHash    string `json:"file_hash"`
	Ordinal     int    `json:"ordinal"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Text        string `json:"text"`
	Overlapped  bool   `json:"overlapped"`
}

// EmbeddingRecord pairs a chunk id with its stored vector.
type EmbeddingRecord struct {
	ChunkID     string    `json:"chunk_id"`
	FilePath    string    `json:"file_path"`
	Vector      []float32 `json:"vector"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ClusterAssignment maps a chunk to its semantic and folder clusters.
// Recomputed for the whole folder after each indexing run.
type ClusterAssignment struct {
	ChunkID         string `json:"chunk_id"`
	SemanticCluster int    `json:"semantic_cluster"`
	FolderCluster   string `json:"folder_cluster"`
}

// Filter restricts a nearest-neighbor search.
type Filter struct {
	// SemanticCluster limits results to one semantic cluster.
	SemanticCluster *int

	// PathPrefix limits results to files under a directory prefix.
	PathPrefix string

	// ExcludePaths drops chunks of specific files.
	ExcludePaths []string
}

// SearchResult is one nearest-neighbor hit.
type SearchResult struct {
	Chunk    ChunkRecord `json:"chunk"`
	Distance float64     `json:"distance"` // cosine distance from sqlite-vec
	Score    float64     `json:"score"`    // 1 - distance
}

// Stats describes the current contents of a folder store.
type Stats struct {
	FileCount    int `json:"file_count"`
	ChunkCount   int `json:"chunk_count"`
	VectorCount  int `json:"vector_count"`
	ClusterCount int `json:"cluster_count"`
}
