// Package featuremap derives scalar fields over a trained grid for
// inspection: u-matrix, per-dimension component planes, and distance maps.
package featuremap

import (
	"fmt"

	"github.com/hupe1980/somgo/distance"
	"github.com/hupe1980/somgo/grid"
)

// Type selects the kind of feature map to generate.
type Type int

const (
	// TypeUMatrix maps each node to its average weight distance to
	// grid-adjacent neighbors.
	TypeUMatrix Type = iota
	// TypeComponent maps each node to its raw weight value at one
	// embedding dimension.
	TypeComponent
	// TypeDistance maps each node to its weight distance to the fixed
	// reference node, the grid center (width/2, height/2).
	TypeDistance
)

func (t Type) String() string {
	switch t {
	case TypeUMatrix:
		return "umatrix"
	case TypeComponent:
		return "component"
	case TypeDistance:
		return "distance"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// ParseType returns the feature map type named by s.
func ParseType(s string) (Type, bool) {
	switch s {
	case "umatrix":
		return TypeUMatrix, true
	case "component":
		return TypeComponent, true
	case "distance":
		return TypeDistance, true
	default:
		return 0, false
	}
}

// Value is the scalar value of one node.
type Value struct {
	Node  int     `json:"node"`
	Value float32 `json:"value"`
}

// Stats summarizes a feature map.
type Stats struct {
	Min  float32 `json:"min"`
	Max  float32 `json:"max"`
	Mean float32 `json:"mean"`
}

// Map is a scalar field over all grid nodes.
type Map struct {
	Type      Type    `json:"type"`
	Dimension int     `json:"dimension,omitempty"`
	Values    []Value `json:"values"`
	Stats     Stats   `json:"stats"`
}

// Generate derives the requested feature map from the grid. dimension is only
// consulted for TypeComponent and must lie in [0, embeddingDimension).
func Generate(g *grid.Grid, typ Type, dimension int) (*Map, error) {
	var raw []float32

	switch typ {
	case TypeUMatrix:
		raw = g.UMatrix()
	case TypeComponent:
		if dimension < 0 || dimension >= g.Dimension() {
			return nil, fmt.Errorf("component dimension %d out of range [0,%d)", dimension, g.Dimension())
		}
		raw = make([]float32, g.NodeCount())
		for i := range raw {
			raw[i] = g.Weight(i)[dimension]
		}
	case TypeDistance:
		ref := g.Weight(g.CenterIndex())
		raw = make([]float32, g.NodeCount())
		for i := range raw {
			raw[i] = distance.L2(g.Weight(i), ref)
		}
	default:
		return nil, fmt.Errorf("unsupported feature map type: %v", typ)
	}

	m := &Map{Type: typ, Values: make([]Value, len(raw))}
	if typ == TypeComponent {
		m.Dimension = dimension
	}

	var sum float64
	m.Stats.Min = raw[0]
	m.Stats.Max = raw[0]
	for i, v := range raw {
		m.Values[i] = Value{Node: i, Value: v}
		if v < m.Stats.Min {
			m.Stats.Min = v
		}
		if v > m.Stats.Max {
			m.Stats.Max = v
		}
		sum += float64(v)
	}
	m.Stats.Mean = float32(sum / float64(len(raw)))

	return m, nil
}
