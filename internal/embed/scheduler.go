package embed

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// growStreak is the number of consecutive successful batches required
// before the scheduler attempts to grow the batch size again.
const growStreak = 3

// Result is the outcome of embedding a set of texts. Vectors is aligned
// with the input slice; any index present in Failed has a nil vector.
type Result struct {
	Vectors [][]float32
	Failed  map[int]error
}

// SchedulerOptions controls the adaptive batching behavior.
type SchedulerOptions struct {
	BatchSize    int
	BatchFloor   int
	BatchCeiling int
	Retry        RetryConfig
}

// Scheduler drives a Backend with adaptive batch sizing. Transient
// failures halve the batch size down to the floor; sustained success
// grows it back toward the ceiling. At floor size, a failing item is
// recorded as permanently failed rather than aborting the run.
type Scheduler struct {
	backend Backend
	cache   *Cache
	opts    SchedulerOptions
	size    int
	streak  int
}

// NewScheduler creates a scheduler around a backend. The cache is
// optional; pass nil to disable caching.
func NewScheduler(backend Backend, cache *Cache, opts SchedulerOptions) *Scheduler {
	if opts.BatchFloor < 1 {
		opts.BatchFloor = 1
	}
	if opts.BatchSize < opts.BatchFloor {
		opts.BatchSize = opts.BatchFloor
	}
	if opts.BatchCeiling < opts.BatchSize {
		opts.BatchCeiling = opts.BatchSize
	}
	return &Scheduler{
		backend: backend,
		cache:   cache,
		opts:    opts,
		size:    opts.BatchSize,
	}
}

// BatchSize reports the current adaptive batch size.
func (s *Scheduler) BatchSize() int {
	return s.size
}

// EmbedAll embeds texts, returning per-index vectors and per-index
// permanent failures. keys are the content hashes used for cache
// lookups; pass nil to bypass the cache. A non-nil error means the run
// as a whole could not proceed (context cancellation, dimension
// contract violation, or the backend staying unavailable through all
// retries at floor size).
func (s *Scheduler) EmbedAll(ctx context.Context, texts []string, keys []string) (*Result, error) {
	res := &Result{
		Vectors: make([][]float32, len(texts)),
		Failed:  make(map[int]error),
	}
	if len(texts) == 0 {
		return res, nil
	}

	// Resolve cache hits up front so batches only contain misses.
	pending := make([]int, 0, len(texts))
	for i := range texts {
		if s.cache != nil && keys != nil {
			if v, ok := s.cache.Get(keys[i]); ok {
				res.Vectors[i] = v
				continue
			}
		}
		pending = append(pending, i)
	}

	for pos := 0; pos < len(pending); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := pos + s.size
		if end > len(pending) {
			end = len(pending)
		}
		window := pending[pos:end]

		batch := make([]string, len(window))
		for j, idx := range window {
			batch[j] = texts[idx]
		}

		vectors, err := retryWithBackoff(ctx, s.opts.Retry, func() ([][]float32, error) {
			return s.backend.EmbedBatch(ctx, batch)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !IsTransient(err) {
				return nil, err
			}
			if s.size > s.opts.BatchFloor {
				s.streak = 0
				next := s.size / 2
				if next < s.opts.BatchFloor {
					next = s.opts.BatchFloor
				}
				log.Debug("Reducing embedding batch size", "from", s.size, "to", next)
				s.size = next
				continue
			}
			// Already at floor: the failing item is skipped, not fatal.
			log.Warn("Embedding failed permanently", "index", window[0], "error", err)
			res.Failed[window[0]] = err
			s.streak = 0
			pos++
			continue
		}

		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: backend returned %d vectors for %d inputs", ErrDimensionContract, len(vectors), len(batch))
		}
		want := s.backend.Dimensions()
		for j, v := range vectors {
			if len(v) != want {
				return nil, fmt.Errorf("%w: got %d dimensions, expected %d", ErrDimensionContract, len(v), want)
			}
			idx := window[j]
			res.Vectors[idx] = v
			if s.cache != nil && keys != nil {
				s.cache.Set(keys[idx], v)
			}
		}

		pos = end
		s.streak++
		if s.streak >= growStreak && s.size < s.opts.BatchCeiling {
			next := s.size * 2
			if next > s.opts.BatchCeiling {
				next = s.opts.BatchCeiling
			}
			log.Debug("Growing embedding batch size", "from", s.size, "to", next)
			s.size = next
			s.streak = 0
		}
	}

	return res, nil
}
