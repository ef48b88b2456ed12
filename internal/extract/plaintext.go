package extract

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"docdex/internal/fs"
)

// PlainText extracts text from documents that are already plain text:
// txt, markdown, CSV, and friends.
type PlainText struct{}

// NewPlainText creates the plain-text extractor.
func NewPlainText() *PlainText {
	return &PlainText{}
}

// Extensions returns the extensions handled as plain text.
func (p *PlainText) Extensions() []string {
	return []string{".txt", ".text", ".md", ".markdown", ".csv", ".tsv", ".rst", ".adoc"}
}

// Extract reads the file and returns its contents verbatim. Binary or
// non-UTF-8 content is reported as corrupt rather than silently embedded.
func (p *PlainText) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrTimeout
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	if fs.IsBinaryContent(content) {
		return "", fmt.Errorf("%w: binary content in %s", ErrCorruptFile, path)
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%w: invalid UTF-8 in %s", ErrCorruptFile, path)
	}

	return string(content), nil
}
