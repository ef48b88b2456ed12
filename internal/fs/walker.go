package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Ignorer defines the interface for ignore-pattern matching.
type Ignorer interface {
	MatchesPath(path string) bool
}

// combinedIgnorer wraps the root .gitignore and the configured patterns.
type combinedIgnorer struct {
	file     *gitignore.GitIgnore
	patterns *gitignore.GitIgnore
}

func (c *combinedIgnorer) MatchesPath(path string) bool {
	return c.file.MatchesPath(path) || c.patterns.MatchesPath(path)
}

// FolderWalker traverses a document folder and yields candidate files.
type FolderWalker struct {
	opts    WalkOptions
	ignorer Ignorer
	stats   WalkStats
	extSet  map[string]bool
}

// NewFolderWalker creates a new walker for a folder root.
func NewFolderWalker(opts WalkOptions) (*FolderWalker, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	opts.Root = root

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}

	w := &FolderWalker{opts: opts}

	if len(opts.Extensions) > 0 {
		w.extSet = make(map[string]bool)
		for _, ext := range opts.Extensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			w.extSet[strings.ToLower(ext)] = true
		}
	}

	if err := w.initIgnorer(); err != nil {
		return nil, err
	}

	return w, nil
}

// initIgnorer initializes the gitignore matcher.
func (w *FolderWalker) initIgnorer() error {
	patterns := append([]string{}, w.opts.IgnorePatterns...)

	if w.opts.UseGitignore {
		gitignorePath := filepath.Join(w.opts.Root, ".gitignore")
		if _, err := os.Stat(gitignorePath); err == nil {
			gi, err := gitignore.CompileIgnoreFile(gitignorePath)
			if err != nil {
				log.Warn("Failed to parse .gitignore", "path", gitignorePath, "error", err)
			} else {
				combined := gitignore.CompileIgnoreLines(patterns...)
				w.ignorer = &combinedIgnorer{file: gi, patterns: combined}
				return nil
			}
		}
	}

	w.ignorer = gitignore.CompileIgnoreLines(patterns...)
	return nil
}

// Walk traverses the folder and calls fn for each indexable file.
func (w *FolderWalker) Walk(fn func(FileInfo) error) error {
	w.stats = WalkStats{}

	return filepath.WalkDir(w.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Debug("Error accessing path", "path", path, "error", err)
			return nil // Skip errors, continue walking
		}

		relPath, err := filepath.Rel(w.opts.Root, path)
		if err != nil {
			relPath = path
		}

		if d.IsDir() {
			if w.shouldSkipDir(d.Name(), relPath) {
				w.stats.DirsSkipped++
				return filepath.SkipDir
			}
			return nil
		}

		if w.opts.MaxFileCount > 0 && w.stats.FilesFound >= w.opts.MaxFileCount {
			return filepath.SkipAll
		}

		if w.shouldSkipFile(d.Name(), relPath) {
			w.stats.FilesSkipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Debug("Failed to get file info", "path", path, "error", err)
			return nil
		}

		if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
			w.stats.FilesSkipped++
			w.stats.SkippedBytes += info.Size()
			return nil
		}

		if w.extSet != nil {
			ext := strings.ToLower(filepath.Ext(path))
			if !w.extSet[ext] {
				w.stats.FilesSkipped++
				return nil
			}
		}

		hash, err := HashFile(path)
		if err != nil {
			log.Debug("Failed to hash file", "path", path, "error", err)
			return nil
		}

		fileInfo := FileInfo{
			Path:    path,
			RelPath: filepath.ToSlash(relPath),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Hash:    hash,
		}

		w.stats.FilesFound++
		w.stats.TotalBytes += info.Size()

		return fn(fileInfo)
	})
}

// Stats returns the walk statistics.
func (w *FolderWalker) Stats() WalkStats {
	return w.stats
}

// shouldSkipDir checks if a directory should be skipped.
func (w *FolderWalker) shouldSkipDir(name, relPath string) bool {
	if name == ".git" {
		return true
	}

	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}

	if w.ignorer != nil && w.ignorer.MatchesPath(relPath+"/") {
		return true
	}

	return false
}

// shouldSkipFile checks if a file should be skipped.
func (w *FolderWalker) shouldSkipFile(name, relPath string) bool {
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}

	if w.ignorer != nil && w.ignorer.MatchesPath(relPath) {
		return true
	}

	return false
}

// HashFile computes the xxhash of a file's contents. This is the content
// fingerprint used for change detection, not a semantic comparison.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// HashContent computes the xxhash of content bytes.
func HashContent(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// IsBinaryContent checks if content appears to be binary.
func IsBinaryContent(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	// Null bytes are a strong indicator of binary content.
	for _, b := range content {
		if b == 0 {
			return true
		}
	}

	nonPrintable := 0
	for _, b := range content {
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
	}

	return float64(nonPrintable)/float64(len(content)) > 0.3
}
