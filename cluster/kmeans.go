package cluster

import (
	"math"
	"math/rand"

	"github.com/hupe1980/somgo/distance"
	"github.com/hupe1980/somgo/grid"
)

const defaultKMeansIterations = 100

// kmeansAssign clusters node weight vectors with Lloyd's algorithm. All
// randomness comes from the seeded source in Options, so runs are
// reproducible.
func kmeansAssign(g *grid.Grid, opts Options) ([]int, error) {
	n := g.NodeCount()
	dim := g.Dimension()
	vectors := g.Weights()

	k := opts.K
	if k <= 0 {
		// rule-of-thumb cluster count for an n-node map
		k = int(math.Round(math.Sqrt(float64(n) / 2)))
	}
	if k < 2 {
		k = 2
	}
	if k > n {
		k = n
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultKMeansIterations
	}

	rnd := rand.New(rand.NewSource(opts.Seed))

	// Initialize centroids from data points, preferring pairwise-distinct
	// weight vectors so degenerate maps still seed separated clusters.
	centroids := make([]float32, k*dim)
	perm := rnd.Perm(n)
	chosen := 0
	for _, idx := range perm {
		if chosen == k {
			break
		}
		vec := vectors[idx*dim : (idx+1)*dim]
		duplicate := false
		for j := 0; j < chosen; j++ {
			if distance.SquaredL2(vec, centroids[j*dim:(j+1)*dim]) == 0 {
				duplicate = true
				break
			}
		}
		if !duplicate {
			copy(centroids[chosen*dim:(chosen+1)*dim], vec)
			chosen++
		}
	}
	for i := 0; chosen < k; i, chosen = i+1, chosen+1 {
		copy(centroids[chosen*dim:(chosen+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		// Assignment step
		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			bestCluster := -1
			minDist := float32(math.MaxFloat32)

			for j := 0; j < k; j++ {
				center := centroids[j*dim : (j+1)*dim]
				if d := distance.SquaredL2(vec, center); d < minDist {
					minDist = d
					bestCluster = j
				}
			}

			if assignments[i] != bestCluster {
				assignments[i] = bestCluster
				changed = true
			}
		}

		if !changed && iter > 0 {
			break
		}

		// Update step
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}

		for i := 0; i < n; i++ {
			c := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[c*dim+d] += vec[d]
			}
			counts[c]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-seed an empty cluster with a random point.
				idx := rnd.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return assignments, nil
}
