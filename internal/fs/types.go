// Package fs provides document folder traversal and content hashing.
package fs

import "time"

// FileInfo represents metadata about a document on disk.
type FileInfo struct {
	Path    string    // Absolute path to the file
	RelPath string    // Path relative to the folder root, stable across folder moves
	Size    int64     // File size in bytes
	ModTime time.Time // Last modification time
	Hash    string    // xxhash of file contents
}

// WalkOptions configures the folder walker.
type WalkOptions struct {
	// Root is the directory to start walking from.
	Root string

	// MaxFileSize is the maximum file size to process (in bytes).
	MaxFileSize int64

	// MaxFileCount is the maximum number of files to process.
	MaxFileCount int

	// IgnorePatterns are additional patterns to ignore (gitignore syntax).
	IgnorePatterns []string

	// IncludeHidden includes hidden files and directories.
	IncludeHidden bool

	// UseGitignore respects a .gitignore file at the root.
	UseGitignore bool

	// Extensions limits the walk to specific file extensions (e.g. ".md").
	// Empty means all non-binary files.
	Extensions []string
}

// DefaultWalkOptions returns sensible defaults for walking.
func DefaultWalkOptions() WalkOptions {
	return WalkOptions{
		MaxFileSize:  8 << 20,
		MaxFileCount: 50000,
		UseGitignore: true,
	}
}

// WalkStats contains statistics from a folder walk.
type WalkStats struct {
	FilesFound   int   // Total files found
	FilesSkipped int   // Files skipped due to size/pattern/binary content
	DirsSkipped  int   // Directories skipped
	TotalBytes   int64 // Total bytes of files found
	SkippedBytes int64 // Total bytes of skipped files
}
