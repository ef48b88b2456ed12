// Package extract defines the text-extraction seam between the indexing
// engine and format-specific document parsers. The engine treats any
// extraction failure as "exclude this file from this run" and keeps the
// file's last good chunks.
package extract

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// Typed extraction failures. The Folder Indexer records these per file;
// they never abort a folder run.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrCorruptFile       = errors.New("corrupt document")
	ErrTimeout           = errors.New("extraction timed out")
)

// Extractor converts one document file into plain text.
type Extractor interface {
	// Extract returns the plain text of the document at path.
	Extract(ctx context.Context, path string) (string, error)

	// Extensions returns the lowercase file extensions (with leading dot)
	// this extractor handles.
	Extensions() []string
}

// Registry dispatches extraction by file extension. Format parsers for
// PDF/DOCX/XLSX/PPTX plug in here as external collaborators.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry creates a registry with the given extractors. Later
// extractors win extension conflicts.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	for _, e := range extractors {
		for _, ext := range e.Extensions() {
			r.byExt[strings.ToLower(ext)] = e
		}
	}
	return r
}

// Extract extracts text from the file at path, dispatching on extension.
func (r *Registry) Extract(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return "", ErrUnsupportedFormat
	}
	return e.Extract(ctx, path)
}

// Extensions returns all registered extensions, for walker filtering.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}
