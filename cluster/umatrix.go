package cluster

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/somgo/grid"
)

// umatrixAssign flood-fills contiguous regions of nodes whose u-matrix value
// lies below the threshold. Nodes at or above the threshold form cluster
// boundaries and stay unassigned.
func umatrixAssign(g *grid.Grid, opts Options) []int {
	u := g.UMatrix()

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = meanUMatrix(u)
	}

	assignments := make([]int, g.NodeCount())
	for i := range assignments {
		assignments[i] = -1
	}

	visited := roaring.New()
	nextID := 0

	for start := 0; start < g.NodeCount(); start++ {
		if visited.Contains(uint32(start)) || float64(u[start]) >= threshold {
			continue
		}

		// breadth-first fill of the region below the threshold
		frontier := []int{start}
		visited.Add(uint32(start))
		for len(frontier) > 0 {
			node := frontier[0]
			frontier = frontier[1:]
			assignments[node] = nextID

			for _, n := range g.Neighbors(node) {
				if visited.Contains(uint32(n)) || float64(u[n]) >= threshold {
					continue
				}
				visited.Add(uint32(n))
				frontier = append(frontier, n)
			}
		}
		nextID++
	}

	return assignments
}
