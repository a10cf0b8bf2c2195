package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *ESBackend {
	t.Helper()
	// The v8 client rejects successful responses that lack the product
	// header a real Elasticsearch server sends.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewESBackend(client)
}

func TestESBackend_Bulk_ReportsPerItemErrors(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": true,
			"items": []map[string]any{
				{"index": map[string]any{"_id": "1", "status": 201}},
				{"index": map[string]any{"_id": "2", "status": 400, "error": map[string]any{
					"type": "mapper_parsing_exception", "reason": "bad field",
				}}},
			},
		})
	})

	result, err := backend.Bulk(context.Background(), "products_current", []BulkItem{
		{ID: "1", Body: []byte(`{"name":"a"}`)},
		{ID: "2", Body: []byte(`{"name":"b"}`)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.IndexedCount)
	require.Len(t, result.ItemErrors, 1)
	require.Equal(t, "2", result.ItemErrors[0].ID)
}

func TestESBackend_Bulk_EmptyIsNoop(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no HTTP call expected for an empty bulk")
	})
	result, err := backend.Bulk(context.Background(), "products_current", nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.IndexedCount)
}

func TestESBackend_ClusterHealth_ParsesStatus(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "yellow"})
	})

	health, err := backend.ClusterHealth(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusYellow, health.Status)
}

func TestESBackend_IndexExists(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	exists, err := backend.IndexExists(context.Background(), "products_2026_01_01_00_00_00")
	require.NoError(t, err)
	require.True(t, exists)
}
