// Package somgo implements a self-organizing map (SOM) engine for mapping
// high-dimensional entity embeddings onto low-dimensional discrete grids.
//
// A SOM service hosts independent map instances. Each instance owns a 2D grid
// of weight vectors (rectangular or hexagonal), an immutable entity store, and
// at most one background training run. Training uses classic competitive
// learning: per iteration the best matching unit (BMU) for an input vector is
// located and the BMU's neighborhood is pulled toward the input, with learning
// rate and neighborhood radius decaying exponentially over the run.
//
// Trained instances answer analysis queries: grid state with entity-to-node
// mappings, scalar feature maps (u-matrix, component planes, distance map),
// and node clustering (u-matrix flood fill, k-means,
// hierarchical). Trained instances can be saved to and restored from a binary
// snapshot, optionally via a blob store.
//
// Basic usage:
//
//	som := somgo.New(somgo.WithSeed(42))
//
//	info, err := som.CreateInstance(somgo.Config{
//		GridWidth:          10,
//		GridHeight:         10,
//		Topology:           grid.TopologyHexagonal,
//		EmbeddingDimension: 128,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if _, err := som.LoadEntities(info.ID, records); err != nil {
//		log.Fatal(err)
//	}
//	if err := som.Train(info.ID, 100, 10); err != nil {
//		log.Fatal(err)
//	}
package somgo
