package entity

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecords(n, dim int) []Record {
	records := make([]Record, n)
	for i := range records {
		embedding := make([]float32, dim)
		for d := range embedding {
			embedding[d] = float32(i*dim + d)
		}
		records[i] = Record{
			URI:       "urn:test:" + string(rune('a'+i)),
			Name:      "entity",
			Embedding: embedding,
		}
	}
	return records
}

func TestNewStore(t *testing.T) {
	t.Run("all valid", func(t *testing.T) {
		s, result := NewStore(3, validRecords(5, 3))

		assert.Equal(t, 5, result.Loaded)
		assert.Empty(t, result.Rejected)
		assert.Equal(t, 5, s.Len())
	})

	t.Run("dimension mismatch rejected individually", func(t *testing.T) {
		records := validRecords(3, 3)
		records[1].Embedding = []float32{1, 2}

		s, result := NewStore(3, records)

		assert.Equal(t, 2, result.Loaded)
		require.Len(t, result.Rejected, 1)
		assert.Equal(t, 1, result.Rejected[0].Index)
		assert.Contains(t, result.Rejected[0].Reason, "dimension mismatch")
		assert.Equal(t, 2, s.Len())
	})

	t.Run("missing embedding rejected", func(t *testing.T) {
		records := validRecords(2, 3)
		records[0].Embedding = nil

		_, result := NewStore(3, records)

		assert.Equal(t, 1, result.Loaded)
		require.Len(t, result.Rejected, 1)
		assert.Equal(t, "missing embedding", result.Rejected[0].Reason)
	})

	t.Run("duplicate uri rejected", func(t *testing.T) {
		records := validRecords(2, 3)
		records[1].URI = records[0].URI

		_, result := NewStore(3, records)

		assert.Equal(t, 1, result.Loaded)
		require.Len(t, result.Rejected, 1)
		assert.Contains(t, result.Rejected[0].Reason, "duplicate uri")
	})

	t.Run("missing uri rejected", func(t *testing.T) {
		records := validRecords(1, 3)
		records[0].URI = ""

		_, result := NewStore(3, records)

		assert.Equal(t, 0, result.Loaded)
		require.Len(t, result.Rejected, 1)
		assert.Equal(t, "missing uri", result.Rejected[0].Reason)
	})
}

func TestStoreGet(t *testing.T) {
	s, _ := NewStore(3, validRecords(3, 3))

	rec, ok := s.Get("urn:test:b")
	require.True(t, ok)
	assert.Equal(t, "urn:test:b", rec.URI)

	_, ok = s.Get("urn:test:missing")
	assert.False(t, ok)
}

func TestGenerateSample(t *testing.T) {
	records := GenerateSample(rand.New(rand.NewSource(1)), 20, 16)

	require.Len(t, records, 20)
	for _, rec := range records {
		assert.NotEmpty(t, rec.URI)
		assert.Len(t, rec.Embedding, 16)
	}

	// seeded generation is reproducible
	again := GenerateSample(rand.New(rand.NewSource(1)), 20, 16)
	assert.Equal(t, records, again)

	// sampled records pass store validation wholesale
	_, result := NewStore(16, records)
	assert.Equal(t, 20, result.Loaded)
	assert.Empty(t, result.Rejected)
}
