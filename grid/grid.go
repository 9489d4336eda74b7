// Package grid implements the fixed-topology 2D lattice of a self-organizing
// map. The node set is fixed in shape for the lifetime of a grid; only node
// weights mutate during training.
package grid

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/hupe1980/somgo/distance"
)

// Topology represents the lattice topology of a grid.
type Topology int

const (
	// TopologyRectangular lays nodes out on a square lattice. Neighborhood
	// distance is Euclidean in grid coordinates; u-matrix adjacency is the
	// 4-neighborhood.
	TopologyRectangular Topology = iota
	// TopologyHexagonal lays nodes out on an odd-r offset hex lattice.
	// Neighborhood distance is hex (cube) distance; u-matrix adjacency is
	// the 6-neighborhood.
	TopologyHexagonal
)

func (t Topology) String() string {
	switch t {
	case TopologyRectangular:
		return "rectangular"
	case TopologyHexagonal:
		return "hexagonal"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// ParseTopology returns the topology named by s.
func ParseTopology(s string) (Topology, bool) {
	switch s {
	case "rectangular":
		return TopologyRectangular, true
	case "hexagonal":
		return TopologyHexagonal, true
	default:
		return 0, false
	}
}

// Node is a read-only view of a single grid node.
//
// Weight aliases grid storage unless obtained from a copying accessor;
// callers must not mutate it.
type Node struct {
	Index  int       `json:"index"`
	X      int       `json:"x"`
	Y      int       `json:"y"`
	Weight []float32 `json:"weight,omitempty"`
}

// Grid is the lattice of width*height nodes, each owning a weight vector of
// the configured dimension. Weights are stored flattened (node i occupies
// [i*dim, (i+1)*dim)) for cache-friendly scans.
//
// A Grid is not safe for concurrent mutation; the training engine is its
// single writer and readers are admitted only via the instance state machine.
type Grid struct {
	width    int
	height   int
	dim      int
	topology Topology
	weights  []float32
}

// New creates a grid of width*height nodes with zeroed weight vectors.
func New(width, height, dim int, topology Topology) *Grid {
	return &Grid{
		width:    width,
		height:   height,
		dim:      dim,
		topology: topology,
		weights:  make([]float32, width*height*dim),
	}
}

// FromWeights reconstructs a grid around an existing flattened weight slice.
// Used when loading persisted snapshots; the slice is adopted, not copied.
func FromWeights(width, height, dim int, topology Topology, weights []float32) (*Grid, error) {
	if len(weights) != width*height*dim {
		return nil, fmt.Errorf("grid: weight length %d does not match %dx%dx%d", len(weights), width, height, dim)
	}
	return &Grid{width: width, height: height, dim: dim, topology: topology, weights: weights}, nil
}

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// Dimension returns the weight vector length of every node.
func (g *Grid) Dimension() int { return g.dim }

// Topology returns the lattice topology.
func (g *Grid) Topology() Topology { return g.topology }

// NodeCount returns width*height.
func (g *Grid) NodeCount() int { return g.width * g.height }

// Index returns the node index for grid coordinates (x, y).
func (g *Grid) Index(x, y int) int { return y*g.width + x }

// Coords returns the grid coordinates of node i.
func (g *Grid) Coords(i int) (x, y int) { return i % g.width, i / g.width }

// Weight returns the weight vector of node i as a view into grid storage.
func (g *Grid) Weight(i int) []float32 {
	return g.weights[i*g.dim : (i+1)*g.dim]
}

// Weights returns the flattened weight storage as a view.
func (g *Grid) Weights() []float32 { return g.weights }

// Node returns node i with its weight view.
func (g *Grid) Node(i int) Node {
	x, y := g.Coords(i)
	return Node{Index: i, X: x, Y: y, Weight: g.Weight(i)}
}

// Nodes returns all nodes. When copyWeights is true, each node carries an
// independent copy of its weight vector; otherwise weights are nil (shape
// only).
func (g *Grid) Nodes(copyWeights bool) []Node {
	nodes := make([]Node, g.NodeCount())
	for i := range nodes {
		x, y := g.Coords(i)
		nodes[i] = Node{Index: i, X: x, Y: y}
		if copyWeights {
			w := make([]float32, g.dim)
			copy(w, g.Weight(i))
			nodes[i].Weight = w
		}
	}
	return nodes
}

// CenterIndex returns the index of the grid center node (width/2, height/2),
// the fixed reference node for distance feature maps.
func (g *Grid) CenterIndex() int {
	return g.Index(g.width/2, g.height/2)
}

// InitRandom fills every weight with a uniform random value in [lo, hi).
func (g *Grid) InitRandom(rnd *rand.Rand, lo, hi float32) {
	span := hi - lo
	for i := range g.weights {
		g.weights[i] = lo + rnd.Float32()*span
	}
}

// Distance returns the lattice distance between nodes a and b, used by the
// neighborhood kernel: Euclidean in grid coordinates for rectangular grids,
// hex cube distance for hexagonal grids.
func (g *Grid) Distance(a, b int) float64 {
	ax, ay := g.Coords(a)
	bx, by := g.Coords(b)

	if g.topology == TopologyHexagonal {
		return float64(hexDistance(ax, ay, bx, by))
	}

	dx := float64(ax - bx)
	dy := float64(ay - by)
	return math.Sqrt(dx*dx + dy*dy)
}

// hexDistance computes the cube distance between two odd-r offset coordinates.
func hexDistance(ax, ay, bx, by int) int {
	aq := ax - (ay-(ay&1))/2
	ar := ay
	bq := bx - (by-(by&1))/2
	br := by

	dq := aq - bq
	dr := ar - br
	ds := -dq - dr

	return (abs(dq) + abs(dr) + abs(ds)) / 2
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ForEachWithin calls fn for every node whose lattice distance to center is
// at most radius, passing the node index and its distance. The center node
// itself is included (distance 0).
func (g *Grid) ForEachWithin(center int, radius float64, fn func(i int, d float64)) {
	for i := 0; i < g.NodeCount(); i++ {
		if d := g.Distance(center, i); d <= radius {
			fn(i, d)
		}
	}
}

// Neighbors returns the indices of nodes directly adjacent to node i:
// the 4-neighborhood on rectangular grids, the 6-neighborhood on hexagonal
// (odd-r offset) grids.
func (g *Grid) Neighbors(i int) []int {
	x, y := g.Coords(i)

	var offsets [][2]int
	switch {
	case g.topology == TopologyHexagonal && y&1 == 1:
		offsets = [][2]int{{1, 0}, {-1, 0}, {0, -1}, {1, -1}, {0, 1}, {1, 1}}
	case g.topology == TopologyHexagonal:
		offsets = [][2]int{{1, 0}, {-1, 0}, {-1, -1}, {0, -1}, {-1, 1}, {0, 1}}
	default:
		offsets = [][2]int{{1, 0}, {-1, 0}, {0, -1}, {0, 1}}
	}

	neighbors := make([]int, 0, len(offsets))
	for _, off := range offsets {
		nx, ny := x+off[0], y+off[1]
		if nx < 0 || nx >= g.width || ny < 0 || ny >= g.height {
			continue
		}
		neighbors = append(neighbors, g.Index(nx, ny))
	}
	return neighbors
}

// UMatrix returns the per-node average Euclidean distance to the weight
// vectors of grid-adjacent neighbors. High values mark cluster boundaries.
func (g *Grid) UMatrix() []float32 {
	values := make([]float32, g.NodeCount())
	for i := range values {
		neighbors := g.Neighbors(i)
		if len(neighbors) == 0 {
			continue
		}

		var sum float32
		for _, n := range neighbors {
			sum += distance.L2(g.Weight(i), g.Weight(n))
		}
		values[i] = sum / float32(len(neighbors))
	}
	return values
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	weights := make([]float32, len(g.weights))
	copy(weights, g.weights)
	return &Grid{width: g.width, height: g.height, dim: g.dim, topology: g.topology, weights: weights}
}
