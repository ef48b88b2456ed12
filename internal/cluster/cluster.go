// Package cluster pre-computes semantic and folder groupings of a
// folder's chunk vectors so search can narrow to related regions of the
// corpus without scanning everything.
package cluster

import (
	"math"
	"math/rand"
	"strings"
)

const (
	maxIterations = 25
	randomSeed    = 1
	minClusters   = 2
	maxClusters   = 64
	// Corpora smaller than this are not worth partitioning.
	minCorpusSize = 4
)

// Assignment places a single chunk into a semantic cluster and a folder
// cluster.
type Assignment struct {
	ChunkID         string
	SemanticCluster int
	FolderCluster   string
}

// Result holds the assignments and the centroid of each semantic
// cluster.
type Result struct {
	Assignments []Assignment
	Centroids   map[int][]float32
}

// ClusterCount picks k for a corpus of n chunks: sqrt(n/2) clamped to
// [2, 64].
func ClusterCount(n int) int {
	k := int(math.Round(math.Sqrt(float64(n) / 2)))
	if k < minClusters {
		k = minClusters
	}
	if k > maxClusters {
		k = maxClusters
	}
	return k
}

// FolderCluster derives the folder cluster label from a slash-separated
// relative path: the first path segment, or "." for files at the root.
func FolderCluster(relPath string) string {
	idx := strings.IndexByte(relPath, '/')
	if idx < 0 {
		return "."
	}
	return relPath[:idx]
}

// Assign clusters the given vectors. chunkIDs, relPaths, and vectors are
// parallel slices. The run is deterministic: same inputs, same
// assignments.
func Assign(chunkIDs []string, relPaths []string, vectors [][]float32) *Result {
	n := len(vectors)
	res := &Result{Centroids: make(map[int][]float32)}
	if n == 0 {
		return res
	}

	if n < minCorpusSize {
		for i, id := range chunkIDs {
			res.Assignments = append(res.Assignments, Assignment{
				ChunkID:         id,
				SemanticCluster: 0,
				FolderCluster:   FolderCluster(relPaths[i]),
			})
		}
		res.Centroids[0] = meanVector(vectors)
		return res
	}

	k := ClusterCount(n)
	labels, centroids := kmeans(vectors, k)

	for i, id := range chunkIDs {
		res.Assignments = append(res.Assignments, Assignment{
			ChunkID:         id,
			SemanticCluster: labels[i],
			FolderCluster:   FolderCluster(relPaths[i]),
		})
	}
	for c, centroid := range centroids {
		res.Centroids[c] = centroid
	}
	return res
}

// kmeans runs Lloyd's algorithm with a fixed seed. Empty clusters are
// reseeded from the point farthest from its centroid so every cluster
// id stays populated.
func kmeans(vectors [][]float32, k int) ([]int, [][]float32) {
	n := len(vectors)
	dims := len(vectors[0])
	rng := rand.New(rand.NewSource(randomSeed))

	// Initialize centroids from a deterministic sample of the points.
	perm := rng.Perm(n)
	centroids := make([][]float32, k)
	for c := 0; c < k; c++ {
		centroids[c] = append([]float32(nil), vectors[perm[c]]...)
	}

	labels := make([]int, n)
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best := 0
			bestDist := squaredDistance(v, centroids[0])
			for c := 1; c < k; c++ {
				if d := squaredDistance(v, centroids[c]); d < bestDist {
					best = c
					bestDist = d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, v := range vectors {
			c := labels[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += float64(x)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				far := farthestPoint(vectors, labels, centroids)
				centroids[c] = append([]float32(nil), vectors[far]...)
				labels[far] = c
				changed = true
				continue
			}
			for d := 0; d < dims; d++ {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}

		if !changed && iter > 0 {
			break
		}
	}
	return labels, centroids
}

func farthestPoint(vectors [][]float32, labels []int, centroids [][]float32) int {
	worst := 0
	worstDist := float32(-1)
	for i, v := range vectors {
		d := squaredDistance(v, centroids[labels[i]])
		if d > worstDist {
			worst = i
			worstDist = d
		}
	}
	return worst
}

func squaredDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dims := len(vectors[0])
	sums := make([]float64, dims)
	for _, v := range vectors {
		for d, x := range v {
			sums[d] += float64(x)
		}
	}
	out := make([]float32, dims)
	for d := range out {
		out[d] = float32(sums[d] / float64(len(vectors)))
	}
	return out
}

// Cosine computes cosine similarity between two vectors. Zero vectors
// yield 0.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
