package entity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPARQLSource(t *testing.T) {
	t.Run("query decodes bindings", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, r.ParseForm())
			assert.Contains(t, r.Form.Get("query"), "SELECT")
			assert.Equal(t, "application/sparql-results+json", r.Header.Get("Accept"))

			w.Header().Set("Content-Type", "application/sparql-results+json")
			_, _ = w.Write([]byte(`{
				"results": {"bindings": [
					{
						"uri": {"value": "urn:a"},
						"name": {"value": "alpha"},
						"embedding": {"value": "[0.1, 0.2, 0.3]"}
					},
					{
						"uri": {"value": "urn:b"},
						"name": {"value": "beta"}
					}
				]}
			}`))
		}))
		defer srv.Close()

		source := NewSPARQLSource(srv.URL)
		records, err := source.Query(context.Background(), "SELECT ?uri ?name ?embedding WHERE { }")
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, "urn:a", records[0].URI)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, records[0].Embedding)

		// missing embedding passes through so the store can reject it
		assert.Equal(t, "urn:b", records[1].URI)
		assert.Nil(t, records[1].Embedding)
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "malformed query", http.StatusBadRequest)
		}))
		defer srv.Close()

		source := NewSPARQLSource(srv.URL)
		_, err := source.Query(context.Background(), "bogus")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed query")
	})
}
