package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/somgo/grid"
)

// twoBlockGrid builds a 4x2 grid whose left half sits at the origin and whose
// right half sits far away: two obvious clusters.
func twoBlockGrid(t *testing.T) *grid.Grid {
	t.Helper()

	g := grid.New(4, 2, 2, grid.TopologyRectangular)
	for i := 0; i < g.NodeCount(); i++ {
		x, _ := g.Coords(i)
		if x < 2 {
			copy(g.Weight(i), []float32{0, 0})
		} else {
			copy(g.Weight(i), []float32{100, 100})
		}
	}
	return g
}

func assertPartition(t *testing.T, g *grid.Grid, result *Result) {
	t.Helper()

	// every node in exactly one cluster or explicitly unclustered
	seen := make(map[int]int)
	for _, c := range result.Clusters {
		for _, node := range c.Members {
			seen[node]++
		}
	}
	for _, node := range result.Unclustered {
		seen[node]++
	}
	for node := 0; node < g.NodeCount(); node++ {
		assert.Equal(t, 1, seen[node], "node %d", node)
	}
}

func TestRunUMatrix(t *testing.T) {
	g := twoBlockGrid(t)

	result, err := Run(g, AlgorithmUMatrix, Options{})
	require.NoError(t, err)

	// the block boundary has high dissimilarity, splitting the map in two
	require.Len(t, result.Clusters, 2)
	assertPartition(t, g, result)

	for _, c := range result.Clusters {
		assert.InDelta(t, 0.0, c.Cohesion, 1e-5)
		assert.Greater(t, c.Separation, 0.0)
		assert.InDelta(t, 1.0, c.Quality, 1e-5)
	}
}

func TestRunUMatrixMinClusterSize(t *testing.T) {
	g := twoBlockGrid(t)

	result, err := Run(g, AlgorithmUMatrix, Options{MinClusterSize: 5})
	require.NoError(t, err)

	// both low-dissimilarity regions fall below the minimum and are discarded
	assert.Empty(t, result.Clusters)
	assert.Len(t, result.Unclustered, g.NodeCount())
	assertPartition(t, g, result)
}

func TestRunKMeans(t *testing.T) {
	g := twoBlockGrid(t)

	result, err := Run(g, AlgorithmKMeans, Options{K: 2, Seed: 1})
	require.NoError(t, err)

	require.Len(t, result.Clusters, 2)
	assert.Empty(t, result.Unclustered)
	assertPartition(t, g, result)

	// identical seeds give identical partitions
	again, err := Run(g, AlgorithmKMeans, Options{K: 2, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, result.Clusters, again.Clusters)
}

func TestRunKMeansDefaultK(t *testing.T) {
	g := twoBlockGrid(t)

	result, err := Run(g, AlgorithmKMeans, Options{Seed: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Clusters)
	assertPartition(t, g, result)
}

func TestRunHierarchical(t *testing.T) {
	g := twoBlockGrid(t)

	// any threshold between intra-block (0) and inter-block (~141)
	// distance yields the two blocks
	result, err := Run(g, AlgorithmHierarchical, Options{Threshold: 10})
	require.NoError(t, err)

	require.Len(t, result.Clusters, 2)
	assertPartition(t, g, result)
}

func TestRunUnknownAlgorithm(t *testing.T) {
	g := twoBlockGrid(t)
	_, err := Run(g, Algorithm(99), Options{})
	assert.Error(t, err)
}

func TestClusterStatistics(t *testing.T) {
	g := twoBlockGrid(t)

	result, err := Run(g, AlgorithmKMeans, Options{K: 2, Seed: 1})
	require.NoError(t, err)

	for _, c := range result.Clusters {
		// center coordinates within grid bounds
		assert.GreaterOrEqual(t, c.CenterX, 0.0)
		assert.Less(t, c.CenterX, float64(g.Width()))
		assert.GreaterOrEqual(t, c.CenterY, 0.0)
		assert.Less(t, c.CenterY, float64(g.Height()))

		// quality bounded [-1, 1]
		assert.GreaterOrEqual(t, c.Quality, -1.0)
		assert.LessOrEqual(t, c.Quality, 1.0)
	}
}

func TestSilhouette(t *testing.T) {
	assert.Equal(t, 0.0, silhouette(1, 2, 1))  // lone cluster
	assert.Equal(t, 0.0, silhouette(0, 0, 2))  // degenerate
	assert.InDelta(t, 1.0, silhouette(0, 5, 2), 1e-9)
	assert.InDelta(t, -1.0, silhouette(5, 0, 2), 1e-9)
	assert.InDelta(t, 0.5, silhouette(2, 4, 2), 1e-9)
}

func TestParseAlgorithm(t *testing.T) {
	for _, algo := range []Algorithm{AlgorithmUMatrix, AlgorithmKMeans, AlgorithmHierarchical} {
		parsed, ok := ParseAlgorithm(algo.String())
		require.True(t, ok)
		assert.Equal(t, algo, parsed)
	}

	_, ok := ParseAlgorithm("dbscan")
	assert.False(t, ok)
}
