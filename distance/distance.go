// Package distance provides the vector distance calculations used by BMU
// search, mapping resolution and clustering.
package distance

import (
	"fmt"

	"github.com/hupe1980/somgo/internal/math32"
)

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
//
// Squared L2 has the same minimizer as L2 and skips the square root, so it is
// the preferred metric for BMU argmin scans.
func SquaredL2(a, b []float32) float32 {
	return math32.SquaredL2(a, b)
}

// L2 calculates the Euclidean distance between two vectors.
// Use this wherever a distance is reported to callers.
func L2(a, b []float32) float32 {
	return math32.L2(a, b)
}

// Dot calculates the dot product of two vectors.
func Dot(a, b []float32) float32 {
	return math32.Dot(a, b)
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricSquaredL2 Metric = iota
	MetricL2
)

func (m Metric) String() string {
	switch m {
	case MetricSquaredL2:
		return "SquaredL2"
	case MetricL2:
		return "L2"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Func is a function type for distance calculation.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricSquaredL2:
		return SquaredL2, nil
	case MetricL2:
		return L2, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}
