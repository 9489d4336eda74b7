// Package entity holds the working set of entity records loaded into a SOM
// instance and validates embedding dimensionality on load.
package entity

import (
	"fmt"
)

// Record is an entity delivered by an upstream collaborator (a knowledge-graph
// decomposition service plus an embedding generator). The engine never
// generates embeddings itself; records without one are rejected.
type Record struct {
	URI       string         `json:"uri"`
	Name      string         `json:"name"`
	Type      string         `json:"type,omitempty"`
	Content   string         `json:"content,omitempty"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Rejected describes a single record that failed validation. Rejections are
// reported per record and never abort a batch.
type Rejected struct {
	Index  int    `json:"index"`
	URI    string `json:"uri"`
	Reason string `json:"reason"`
}

// LoadResult reports the outcome of building a store from a batch of records.
type LoadResult struct {
	Loaded   int        `json:"loaded"`
	Rejected []Rejected `json:"rejected"`
}

// Store is an immutable working set of validated entity records. Reloading
// data builds a new Store which the instance swaps in atomically, so readers
// never observe a torn state.
type Store struct {
	dim     int
	records []Record
	byURI   map[string]int
}

// NewStore validates records against the configured embedding dimension and
// builds a store from the valid ones. Invalid records (missing embedding,
// dimension mismatch, empty or duplicate URI) are reported in the result and
// skipped.
func NewStore(dim int, records []Record) (*Store, LoadResult) {
	s := &Store{
		dim:     dim,
		records: make([]Record, 0, len(records)),
		byURI:   make(map[string]int, len(records)),
	}

	var result LoadResult
	for i, rec := range records {
		if reason := s.validate(rec); reason != "" {
			result.Rejected = append(result.Rejected, Rejected{Index: i, URI: rec.URI, Reason: reason})
			continue
		}
		s.byURI[rec.URI] = len(s.records)
		s.records = append(s.records, rec)
	}

	result.Loaded = len(s.records)
	return s, result
}

func (s *Store) validate(rec Record) string {
	if rec.URI == "" {
		return "missing uri"
	}
	if _, ok := s.byURI[rec.URI]; ok {
		return fmt.Sprintf("duplicate uri %q", rec.URI)
	}
	if len(rec.Embedding) == 0 {
		return "missing embedding"
	}
	if len(rec.Embedding) != s.dim {
		return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", s.dim, len(rec.Embedding))
	}
	return ""
}

// Len returns the number of loaded records.
func (s *Store) Len() int { return len(s.records) }

// Dimension returns the embedding dimension the store validates against.
func (s *Store) Dimension() int { return s.dim }

// Record returns the record at position i.
func (s *Store) Record(i int) Record { return s.records[i] }

// Records returns the loaded records as a view; callers must not mutate.
func (s *Store) Records() []Record { return s.records }

// Get returns the record with the given URI.
func (s *Store) Get(uri string) (Record, bool) {
	i, ok := s.byURI[uri]
	if !ok {
		return Record{}, false
	}
	return s.records[i], true
}

// Embedding returns the embedding of the record at position i as a view.
func (s *Store) Embedding(i int) []float32 { return s.records[i].Embedding }
