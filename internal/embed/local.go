package embed

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Local is the in-process CPU backend: a deterministic hashed
// bag-of-words projection. It needs no external model server, produces
// identical vectors for identical text on every run, and is the fallback
// when no model server is reachable. Retrieval quality is term-overlap
// based rather than semantic.
type Local struct {
	dimensions int
}

// NewLocal creates the local backend.
func NewLocal(dimensions int) *Local {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &Local{dimensions: dimensions}
}

// EmbedBatch embeds document texts.
func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		out[i] = l.embed(t)
	}
	return out, nil
}

// EmbedQuery embeds a query; identical to document embedding.
func (l *Local) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	return l.embed(text), nil
}

// Dimensions returns the embedding dimensions.
func (l *Local) Dimensions() int {
	return l.dimensions
}

// ModelName returns the model name.
func (l *Local) ModelName() string {
	return fmt.Sprintf("hashed-bow-%d", l.dimensions)
}

// Kind returns the backend variant.
func (l *Local) Kind() Kind {
	return KindLocal
}

// embed hashes each token into a dimension bucket, accumulates term
// counts with sublinear damping, and L2-normalizes so cosine distance
// behaves.
func (l *Local) embed(text string) []float32 {
	counts := make(map[uint64]float64)
	for _, tok := range tokenize(text) {
		bucket := xxhash.Sum64String(tok) % uint64(l.dimensions)
		counts[bucket]++
	}

	vec := make([]float32, l.dimensions)
	var norm float64
	for bucket, n := range counts {
		w := 1 + math.Log(n)
		vec[bucket] = float32(w)
		norm += w * w
	}

	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// tokenize lowercases and splits on non-letter/digit runs.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
