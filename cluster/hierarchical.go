package cluster

import (
	"math"

	"github.com/hupe1980/somgo/distance"
	"github.com/hupe1980/somgo/grid"
)

// hierarchicalAssign agglomeratively merges node clusters by centroid
// distance until the closest pair is farther apart than the threshold,
// yielding a flat cut of the dendrogram.
//
// The scan is quadratic per merge, which is fine for the bounded grid sizes
// this engine accepts.
func hierarchicalAssign(g *grid.Grid, opts Options) []int {
	n := g.NodeCount()
	dim := g.Dimension()

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = meanUMatrix(g.UMatrix())
	}

	// Each node starts as its own cluster.
	centroids := make([][]float32, n)
	sizes := make([]int, n)
	parents := make([]int, n) // cluster id per node, updated on merge
	active := make([]bool, n)
	for i := 0; i < n; i++ {
		centroid := make([]float32, dim)
		copy(centroid, g.Weight(i))
		centroids[i] = centroid
		sizes[i] = 1
		parents[i] = i
		active[i] = true
	}

	for {
		bestA, bestB := -1, -1
		bestDist := math.Inf(1)

		for a := 0; a < n; a++ {
			if !active[a] {
				continue
			}
			for b := a + 1; b < n; b++ {
				if !active[b] {
					continue
				}
				if d := float64(distance.L2(centroids[a], centroids[b])); d < bestDist {
					bestDist = d
					bestA, bestB = a, b
				}
			}
		}

		if bestA < 0 || bestDist > threshold {
			break
		}

		// Merge b into a: size-weighted centroid, relabel members.
		total := float32(sizes[bestA] + sizes[bestB])
		wa := float32(sizes[bestA]) / total
		wb := float32(sizes[bestB]) / total
		for d := 0; d < dim; d++ {
			centroids[bestA][d] = centroids[bestA][d]*wa + centroids[bestB][d]*wb
		}
		sizes[bestA] += sizes[bestB]
		active[bestB] = false

		for i := range parents {
			if parents[i] == bestB {
				parents[i] = bestA
			}
		}
	}

	return parents
}
