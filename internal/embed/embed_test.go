package embed

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{"ollama", KindOllama, false},
		{"openai", KindOpenAI, false},
		{"local", KindLocal, false},
		{"auto", KindAuto, false},
		{"", KindAuto, false},
		{"cohere", "", true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrBackendUnavailable))
	assert.True(t, IsTransient(ErrBackendTimeout))
	assert.False(t, IsTransient(ErrInvalidInput))
	assert.False(t, IsTransient(ErrDimensionContract))
	assert.False(t, IsTransient(errors.New("something else")))
}

func TestLocalDeterministic(t *testing.T) {
	l := NewLocal(64)

	a, err := l.EmbedQuery(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := l.EmbedQuery(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := l.EmbedQuery(context.Background(), "an entirely different sentence")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestLocalNormalized(t *testing.T) {
	l := NewLocal(64)

	v, err := l.EmbedQuery(context.Background(), "some document text to embed")
	require.NoError(t, err)
	require.Len(t, v, 64)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestLocalBatchOrder(t *testing.T) {
	l := NewLocal(32)

	texts := []string{"first text", "second text", "third text"}
	vecs, err := l.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for i, text := range texts {
		single, err := l.EmbedQuery(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, vecs[i], "batch order mismatch at %d", i)
	}
}

func TestLocalSimilarTextsCloser(t *testing.T) {
	l := NewLocal(128)

	base, err := l.EmbedQuery(context.Background(), "database connection pooling settings")
	require.NoError(t, err)
	near, err := l.EmbedQuery(context.Background(), "database connection pool configuration")
	require.NoError(t, err)
	far, err := l.EmbedQuery(context.Background(), "recipe for lemon pound cake")
	require.NoError(t, err)

	assert.Greater(t, dot(base, near), dot(base, far))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestCacheCopies(t *testing.T) {
	c := NewCache(10)
	c.Set("key", []float32{1, 2, 3})

	v, ok := c.Get("key")
	require.True(t, ok)
	v[0] = 99

	again, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, float32(1), again[0])
}

func TestCacheEvicts(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Set("c", []float32{3})

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}
