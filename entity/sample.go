package entity

import (
	"fmt"
	"math/rand"
)

// sampleClusters is the number of Gaussian clusters synthetic sample data is
// drawn from, capped by the requested count.
const sampleClusters = 5

// GenerateSample produces count synthetic records with embeddings drawn from
// well-separated Gaussian clusters, using the given source for reproducible
// sampling. Useful for smoke-testing a freshly created instance without an
// upstream corpus.
func GenerateSample(rnd *rand.Rand, count, dim int) []Record {
	clusters := sampleClusters
	if count < clusters {
		clusters = count
	}

	// cluster centers uniform in [0,1)^dim
	centers := make([][]float32, clusters)
	for c := range centers {
		centers[c] = make([]float32, dim)
		for d := range centers[c] {
			centers[c][d] = rnd.Float32()
		}
	}

	records := make([]Record, count)
	for i := range records {
		c := i % clusters
		embedding := make([]float32, dim)
		for d := range embedding {
			embedding[d] = centers[c][d] + float32(rnd.NormFloat64())*0.05
		}

		records[i] = Record{
			URI:       fmt.Sprintf("urn:somgo:sample:%d", i),
			Name:      fmt.Sprintf("sample-%d", i),
			Type:      "sample",
			Embedding: embedding,
			Metadata:  map[string]any{"cluster": c},
		}
	}

	return records
}
