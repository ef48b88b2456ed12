package cluster

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dims int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dims)
		for d := range v {
			v[d] = rng.Float32()
		}
		out[i] = v
	}
	return out
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("chunk-%04d", i)
	}
	return out
}

func paths(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("dir%d/file%d.md", i%3, i)
	}
	return out
}

func TestClusterCount(t *testing.T) {
	assert.Equal(t, 2, ClusterCount(4))
	assert.Equal(t, 2, ClusterCount(10))
	assert.Equal(t, 7, ClusterCount(100))
	assert.Equal(t, 22, ClusterCount(1000))
	assert.Equal(t, 64, ClusterCount(100000))
}

func TestFolderCluster(t *testing.T) {
	assert.Equal(t, "notes", FolderCluster("notes/daily/monday.md"))
	assert.Equal(t, "drafts", FolderCluster("drafts/a.md"))
	assert.Equal(t, ".", FolderCluster("readme.md"))
}

func TestAssignEmpty(t *testing.T) {
	res := Assign(nil, nil, nil)
	assert.Empty(t, res.Assignments)
	assert.Empty(t, res.Centroids)
}

func TestAssignTinyCorpusSingleCluster(t *testing.T) {
	n := 3
	res := Assign(ids(n), paths(n), randomVectors(n, 8, 7))

	require.Len(t, res.Assignments, n)
	for _, a := range res.Assignments {
		assert.Equal(t, 0, a.SemanticCluster)
	}
	require.Len(t, res.Centroids, 1)
	assert.Len(t, res.Centroids[0], 8)
}

func TestAssignDeterministic(t *testing.T) {
	n := 50
	vectors := randomVectors(n, 16, 21)

	first := Assign(ids(n), paths(n), vectors)
	second := Assign(ids(n), paths(n), vectors)

	require.Equal(t, len(first.Assignments), len(second.Assignments))
	for i := range first.Assignments {
		assert.Equal(t, first.Assignments[i], second.Assignments[i])
	}
	assert.Equal(t, first.Centroids, second.Centroids)
}

func TestAssignEveryClusterPopulated(t *testing.T) {
	n := 100
	res := Assign(ids(n), paths(n), randomVectors(n, 16, 3))

	k := ClusterCount(n)
	require.Len(t, res.Centroids, k)

	members := make(map[int]int)
	for _, a := range res.Assignments {
		require.GreaterOrEqual(t, a.SemanticCluster, 0)
		require.Less(t, a.SemanticCluster, k)
		members[a.SemanticCluster]++
	}
	for c := 0; c < k; c++ {
		assert.Greater(t, members[c], 0, "cluster %d has no members", c)
	}
}

func TestAssignFolderClusters(t *testing.T) {
	n := 9
	res := Assign(ids(n), paths(n), randomVectors(n, 8, 5))

	for i, a := range res.Assignments {
		assert.Equal(t, FolderCluster(paths(n)[i]), a.FolderCluster)
	}
}

func TestAssignPreservesInputOrder(t *testing.T) {
	n := 30
	res := Assign(ids(n), paths(n), randomVectors(n, 8, 11))

	require.Len(t, res.Assignments, n)
	for i, a := range res.Assignments {
		assert.Equal(t, fmt.Sprintf("chunk-%04d", i), a.ChunkID)
	}

	// Centroids have the input dimensionality and contiguous ids.
	for c := 0; c < len(res.Centroids); c++ {
		require.Contains(t, res.Centroids, c)
		assert.Len(t, res.Centroids[c], 8)
	}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
}
