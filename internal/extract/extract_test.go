package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestPlainTextExtract(t *testing.T) {
	path := writeTemp(t, "doc.md", []byte("# Title\n\nSome body text."))

	text, err := NewPlainText().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nSome body text.", text)
}

func TestPlainTextRejectsBinary(t *testing.T) {
	path := writeTemp(t, "fake.txt", []byte("looks\x00like\x00binary"))

	_, err := NewPlainText().Extract(context.Background(), path)
	assert.ErrorIs(t, err, ErrCorruptFile)
}

func TestPlainTextRejectsInvalidUTF8(t *testing.T) {
	path := writeTemp(t, "bad.txt", []byte{'o', 'k', 0xc3, 0x28})

	_, err := NewPlainText().Extract(context.Background(), path)
	assert.ErrorIs(t, err, ErrCorruptFile)
}

func TestPlainTextCancelledContext(t *testing.T) {
	path := writeTemp(t, "doc.txt", []byte("content"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPlainText().Extract(ctx, path)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(NewPlainText())
	path := writeTemp(t, "doc.markdown", []byte("markdown body"))

	text, err := r.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "markdown body", text)
}

func TestRegistryUnsupportedFormat(t *testing.T) {
	r := NewRegistry(NewPlainText())
	path := writeTemp(t, "doc.pdf", []byte("%PDF-1.4"))

	_, err := r.Extract(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRegistryExtensions(t *testing.T) {
	r := NewRegistry(NewPlainText())
	assert.ElementsMatch(t, NewPlainText().Extensions(), r.Extensions())
}
