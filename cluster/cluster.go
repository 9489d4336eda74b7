// Package cluster groups trained grid nodes into clusters using one of
// several interchangeable algorithms operating on the weight field.
//
// Quality convention: for each cluster, cohesion is the mean Euclidean
// distance of member weights to the cluster centroid and separation is the
// Euclidean distance from the centroid to the nearest other cluster centroid.
// Quality is the silhouette-style ratio (separation - cohesion) /
// max(separation, cohesion), bounded [-1, 1], and 0 when only one cluster
// exists.
package cluster

import (
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/somgo/distance"
	"github.com/hupe1980/somgo/grid"
)

// Algorithm selects the clustering algorithm.
type Algorithm int

const (
	// AlgorithmUMatrix flood-fills contiguous low-dissimilarity regions of
	// the u-matrix.
	AlgorithmUMatrix Algorithm = iota
	// AlgorithmKMeans runs Lloyd's algorithm over node weight vectors.
	AlgorithmKMeans
	// AlgorithmHierarchical agglomeratively merges nodes by weight
	// distance up to a threshold.
	AlgorithmHierarchical
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmUMatrix:
		return "umatrix"
	case AlgorithmKMeans:
		return "kmeans"
	case AlgorithmHierarchical:
		return "hierarchical"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// ParseAlgorithm returns the algorithm named by s.
func ParseAlgorithm(s string) (Algorithm, bool) {
	switch s {
	case "umatrix":
		return AlgorithmUMatrix, true
	case "kmeans":
		return AlgorithmKMeans, true
	case "hierarchical":
		return AlgorithmHierarchical, true
	default:
		return 0, false
	}
}

// Options tunes a clustering run. Zero values select documented defaults.
type Options struct {
	// Threshold is the u-matrix cut (UMatrix) or the merge stop distance
	// (Hierarchical). 0 selects the mean u-matrix value.
	Threshold float64
	// MinClusterSize discards smaller clusters, marking their nodes
	// unclustered. Values below 1 are treated as 1.
	MinClusterSize int
	// K fixes the number of kmeans clusters; 0 selects
	// round(sqrt(nodeCount/2)) clamped to [2, nodeCount].
	K int
	// Seed drives kmeans initialization for reproducible clustering.
	Seed int64
	// MaxIterations caps kmeans refinement; 0 selects 100.
	MaxIterations int
}

// Cluster is a group of grid nodes with per-cluster quality statistics.
// Clusters are derived from a trained grid and entirely replaced on each
// clustering request.
type Cluster struct {
	ID         int     `json:"id"`
	CenterX    float64 `json:"centerX"`
	CenterY    float64 `json:"centerY"`
	Members    []int   `json:"memberNodeIndices"`
	Quality    float64 `json:"quality"`
	Cohesion   float64 `json:"cohesion"`
	Separation float64 `json:"separation"`
}

// Result is the outcome of one clustering run. Every node appears either in
// exactly one cluster or in Unclustered.
type Result struct {
	Algorithm   Algorithm `json:"algorithm"`
	Clusters    []Cluster `json:"clusters"`
	Unclustered []int     `json:"unclustered"`
}

// Run clusters the grid's nodes with the selected algorithm.
func Run(g *grid.Grid, algo Algorithm, opts Options) (*Result, error) {
	if opts.MinClusterSize < 1 {
		opts.MinClusterSize = 1
	}

	var (
		assignments []int // cluster id per node, -1 = unclustered
		err         error
	)
	switch algo {
	case AlgorithmUMatrix:
		assignments = umatrixAssign(g, opts)
	case AlgorithmKMeans:
		assignments, err = kmeansAssign(g, opts)
	case AlgorithmHierarchical:
		assignments = hierarchicalAssign(g, opts)
	default:
		return nil, fmt.Errorf("unsupported clustering algorithm: %v", algo)
	}
	if err != nil {
		return nil, err
	}

	return finalize(g, algo, assignments, opts.MinClusterSize), nil
}

// finalize turns raw per-node assignments into the result: drops undersized
// clusters, renumbers ids deterministically by smallest member index, and
// computes per-cluster statistics.
func finalize(g *grid.Grid, algo Algorithm, assignments []int, minSize int) *Result {
	members := make(map[int]*roaring.Bitmap)
	for node, id := range assignments {
		if id < 0 {
			continue
		}
		bm, ok := members[id]
		if !ok {
			bm = roaring.New()
			members[id] = bm
		}
		bm.Add(uint32(node))
	}

	kept := make([]*roaring.Bitmap, 0, len(members))
	for _, bm := range members {
		if bm.GetCardinality() >= uint64(minSize) {
			kept = append(kept, bm)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		return kept[i].Minimum() < kept[j].Minimum()
	})

	clustered := roaring.New()
	result := &Result{Algorithm: algo}
	dim := g.Dimension()

	centroids := make([][]float32, len(kept))
	for id, bm := range kept {
		clustered.Or(bm)

		centroid := make([]float32, dim)
		var cx, cy float64
		bm.Iterate(func(node uint32) bool {
			w := g.Weight(int(node))
			for d := range centroid {
				centroid[d] += w[d]
			}
			x, y := g.Coords(int(node))
			cx += float64(x)
			cy += float64(y)
			return true
		})

		count := float32(bm.GetCardinality())
		for d := range centroid {
			centroid[d] /= count
		}
		centroids[id] = centroid

		result.Clusters = append(result.Clusters, Cluster{
			ID:      id,
			CenterX: cx / float64(count),
			CenterY: cy / float64(count),
			Members: toInts(bm),
		})
	}

	for id := range result.Clusters {
		c := &result.Clusters[id]

		var cohesion float64
		for _, node := range c.Members {
			cohesion += float64(distance.L2(g.Weight(node), centroids[id]))
		}
		c.Cohesion = cohesion / float64(len(c.Members))

		c.Separation = nearestCentroid(centroids, id)
		c.Quality = silhouette(c.Cohesion, c.Separation, len(centroids))
	}

	for node := 0; node < g.NodeCount(); node++ {
		if !clustered.Contains(uint32(node)) {
			result.Unclustered = append(result.Unclustered, node)
		}
	}

	return result
}

// nearestCentroid returns the distance from centroid id to the closest other
// centroid, or 0 when it is the only one.
func nearestCentroid(centroids [][]float32, id int) float64 {
	nearest := math.Inf(1)
	for other, c := range centroids {
		if other == id {
			continue
		}
		if d := float64(distance.L2(centroids[id], c)); d < nearest {
			nearest = d
		}
	}
	if math.IsInf(nearest, 1) {
		return 0
	}
	return nearest
}

// silhouette computes (separation - cohesion) / max(separation, cohesion),
// defined as 0 for a lone cluster or when both terms vanish.
func silhouette(cohesion, separation float64, clusterCount int) float64 {
	if clusterCount < 2 {
		return 0
	}
	denom := math.Max(cohesion, separation)
	if denom == 0 {
		return 0
	}
	return (separation - cohesion) / denom
}

func toInts(bm *roaring.Bitmap) []int {
	out := make([]int, 0, bm.GetCardinality())
	bm.Iterate(func(v uint32) bool {
		out = append(out, int(v))
		return true
	})
	return out
}

// meanUMatrix is the shared default threshold: the mean u-matrix value.
func meanUMatrix(u []float32) float64 {
	var sum float64
	for _, v := range u {
		sum += float64(v)
	}
	return sum / float64(len(u))
}
