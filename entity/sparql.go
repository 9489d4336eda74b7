package entity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	gojson "github.com/goccy/go-json"
)

// SPARQLSource fetches entity records from a SPARQL endpoint supporting the
// SPARQL 1.1 Protocol with JSON result serialization.
//
// The query is expected to project the variables ?uri, ?name and ?embedding,
// optionally ?type and ?content. The ?embedding binding must be a JSON array
// literal (e.g. "[0.1, 0.2, ...]"); bindings that are absent or unparseable
// yield a record without an embedding, which the store rejects on load.
type SPARQLSource struct {
	Endpoint string
	Client   *http.Client
}

// NewSPARQLSource creates a source for the given endpoint URL using
// http.DefaultClient unless overridden.
func NewSPARQLSource(endpoint string) *SPARQLSource {
	return &SPARQLSource{Endpoint: endpoint, Client: http.DefaultClient}
}

type sparqlBinding struct {
	Value string `json:"value"`
}

type sparqlResponse struct {
	Results struct {
		Bindings []map[string]sparqlBinding `json:"bindings"`
	} `json:"results"`
}

// Query executes a SELECT query and converts each result row to a Record.
func (s *SPARQLSource) Query(ctx context.Context, query string) ([]Record, error) {
	form := url.Values{"query": {query}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("sparql: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sparql: query %s: %w", s.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("sparql: endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var parsed sparqlResponse
	if err := gojson.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("sparql: decode results: %w", err)
	}

	records := make([]Record, 0, len(parsed.Results.Bindings))
	for _, row := range parsed.Results.Bindings {
		rec := Record{
			URI:     row["uri"].Value,
			Name:    row["name"].Value,
			Type:    row["type"].Value,
			Content: row["content"].Value,
		}

		if raw := row["embedding"].Value; raw != "" {
			var embedding []float32
			if err := gojson.Unmarshal([]byte(raw), &embedding); err == nil {
				rec.Embedding = embedding
			}
		}

		records = append(records, rec)
	}

	return records, nil
}
