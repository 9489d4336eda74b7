// Package mapping assigns entities to their best matching units on a trained
// grid and tracks winner statistics across repeated resolutions.
package mapping

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/somgo/entity"
	"github.com/hupe1980/somgo/grid"
	"github.com/hupe1980/somgo/training"
)

// NodeMapping assigns one entity to its best matching node. A node may host
// zero or many entities.
type NodeMapping struct {
	EntityURI   string  `json:"entityUri"`
	NodeIndex   int     `json:"nodeIndex"`
	Distance    float32 `json:"distance"`
	WinnerCount int     `json:"winnerCount"`
}

type winnerKey struct {
	uri  string
	node int
}

// Resolver recomputes entity-to-node mappings against final grid weights.
// Winner counters accumulate across repeated Resolve calls and are reset when
// a new training run starts.
type Resolver struct {
	mu      sync.Mutex
	winners map[winnerKey]int
}

// NewResolver creates a resolver with zeroed winner counters.
func NewResolver() *Resolver {
	return &Resolver{winners: make(map[winnerKey]int)}
}

// Reset clears all winner counters. Called at the start of each training run.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.winners = make(map[winnerKey]int)
}

// Resolve computes the BMU for every entity in the store against the grid.
// The computation is read-only with respect to the grid and parallelized
// across entities; the returned slice is ordered by store position.
func (r *Resolver) Resolve(ctx context.Context, g *grid.Grid, store *entity.Store) ([]NodeMapping, error) {
	n := store.Len()
	mappings := make([]NodeMapping, n)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))

	const chunkSize = 64
	for lo := 0; lo < n; lo += chunkSize {
		lo := lo
		hi := min(lo+chunkSize, n)
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				rec := store.Record(i)
				node, dist := training.BestMatch(g, rec.Embedding)
				mappings[i] = NodeMapping{EntityURI: rec.URI, NodeIndex: node, Distance: dist}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	for i := range mappings {
		key := winnerKey{uri: mappings[i].EntityURI, node: mappings[i].NodeIndex}
		r.winners[key]++
		mappings[i].WinnerCount = r.winners[key]
	}
	r.mu.Unlock()

	return mappings, nil
}
