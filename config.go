package somgo

import (
	"fmt"

	"github.com/hupe1980/somgo/grid"
)

// Configuration bounds. The embedding dimension upper bound tracks the
// largest embedding models in common use; the lower bound admits small
// synthetic vectors.
const (
	MinGridEdge  = 3
	MaxGridEdge  = 100
	MinDimension = 1
	MaxDimension = 2000
)

// Default learning rates applied when a config leaves them zero.
const (
	DefaultInitialLearningRate = 0.5
	DefaultFinalLearningRate   = 0.05
)

// Config is the immutable configuration of a SOM instance.
type Config struct {
	// GridWidth and GridHeight set the lattice shape; each must lie in
	// [MinGridEdge, MaxGridEdge].
	GridWidth  int `json:"gridWidth"`
	GridHeight int `json:"gridHeight"`

	// Topology selects the lattice topology.
	Topology grid.Topology `json:"topology"`

	// EmbeddingDimension is the required length of every entity embedding
	// and node weight vector.
	EmbeddingDimension int `json:"embeddingDimension"`

	// MaxIterations caps a training run's total iterations when > 0.
	MaxIterations int `json:"maxIterations,omitempty"`

	// InitialLearningRate and FinalLearningRate bound the exponential
	// decay; initial must be >= final. Zero values select the defaults.
	InitialLearningRate float64 `json:"initialLearningRate,omitempty"`
	FinalLearningRate   float64 `json:"finalLearningRate,omitempty"`

	// ClusterThreshold is the default threshold for u-matrix and
	// hierarchical clustering; 0 selects the mean u-matrix value.
	ClusterThreshold float64 `json:"clusterThreshold,omitempty"`

	// MinClusterSize discards smaller clusters; values below 1 act as 1.
	MinClusterSize int `json:"minClusterSize,omitempty"`
}

// withDefaults returns a copy with zero learning rates replaced by defaults.
func (c Config) withDefaults() Config {
	if c.InitialLearningRate == 0 {
		c.InitialLearningRate = DefaultInitialLearningRate
	}
	if c.FinalLearningRate == 0 {
		c.FinalLearningRate = DefaultFinalLearningRate
	}
	if c.MinClusterSize < 1 {
		c.MinClusterSize = 1
	}
	return c
}

// Validate checks the configuration bounds. Violations are reported as
// *ErrInvalidConfig and are fatal to instance creation.
func (c Config) Validate() error {
	if c.GridWidth < MinGridEdge || c.GridWidth > MaxGridEdge {
		return &ErrInvalidConfig{Field: "gridWidth", Reason: fmt.Sprintf("%d outside [%d,%d]", c.GridWidth, MinGridEdge, MaxGridEdge)}
	}
	if c.GridHeight < MinGridEdge || c.GridHeight > MaxGridEdge {
		return &ErrInvalidConfig{Field: "gridHeight", Reason: fmt.Sprintf("%d outside [%d,%d]", c.GridHeight, MinGridEdge, MaxGridEdge)}
	}
	if c.Topology != grid.TopologyRectangular && c.Topology != grid.TopologyHexagonal {
		return &ErrInvalidConfig{Field: "topology", Reason: fmt.Sprintf("unknown topology %d", c.Topology)}
	}
	if c.EmbeddingDimension < MinDimension || c.EmbeddingDimension > MaxDimension {
		return &ErrInvalidConfig{Field: "embeddingDimension", Reason: fmt.Sprintf("%d outside [%d,%d]", c.EmbeddingDimension, MinDimension, MaxDimension)}
	}
	if c.MaxIterations < 0 {
		return &ErrInvalidConfig{Field: "maxIterations", Reason: "must not be negative"}
	}
	if c.InitialLearningRate < 0 || c.FinalLearningRate < 0 {
		return &ErrInvalidConfig{Field: "learningRate", Reason: "must not be negative"}
	}
	if c.InitialLearningRate < c.FinalLearningRate {
		return &ErrInvalidConfig{Field: "learningRate", Reason: fmt.Sprintf("initial %g below final %g", c.InitialLearningRate, c.FinalLearningRate)}
	}
	if c.ClusterThreshold < 0 {
		return &ErrInvalidConfig{Field: "clusterThreshold", Reason: "must not be negative"}
	}
	return nil
}
