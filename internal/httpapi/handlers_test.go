package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/catalogsearch/search/internal/appconfig"
	"github.com/catalogsearch/search/internal/dynamicdata"
	"github.com/catalogsearch/search/internal/health"
	"github.com/catalogsearch/search/internal/indexer"
	"github.com/catalogsearch/search/internal/jsonutil"
	"github.com/catalogsearch/search/internal/queryservice"
	"github.com/catalogsearch/search/internal/search"
)

type fakeBackend struct {
	search.Backend
	searchResult  *search.SearchResult
	clusterHealth *search.ClusterHealth
	clusterErr    error
}

func (f *fakeBackend) Search(ctx context.Context, indexOrAlias string, body []byte) (*search.SearchResult, error) {
	return f.searchResult, nil
}

func (f *fakeBackend) ClusterHealth(ctx context.Context, timeout time.Duration) (*search.ClusterHealth, error) {
	return f.clusterHealth, f.clusterErr
}

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		QLengthCap:            200,
		MaxProductIDsPerBatch: 1000,
		SearchTimeout:         2 * time.Second,
		SortWhitelist:         []string{"relevance", "name", "external_id", "price_asc", "price_desc", "availability", "popularity"},
	}
}

func testServer(t *testing.T) *Server {
	hitSource, err := jsonutil.Marshal(map[string]any{"product_id": 1, "name": "Cordless Drill"})
	require.NoError(t, err)

	backend := &fakeBackend{
		clusterHealth: &search.ClusterHealth{Status: search.StatusGreen, ElapsedMs: 1},
		searchResult: &search.SearchResult{
			Hits:  []search.Hit{{ID: "1", Source: hitSource, Score: 5}},
			Total: 1,
		},
	}
	gate := health.New(backend)
	svc := queryservice.New(backend, nil, gate, dynamicdata.NoopProvider{}, zap.NewNop(), testConfig())
	return NewServer(svc, zap.NewNop(), nil)
}

func TestHandleSearch_ReturnsEnvelope(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/search?q=drill&page=1&limit=10", nil)
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":true`)
}

func TestHandleSearch_RejectsNonGet(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/search", nil)
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleAutocomplete_EmptyQueryReturnsEmptySuggestions(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/autocomplete", nil)
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"suggestions":[]`)
}

func TestHandleAvailability_DefaultsMissingToOutOfStock(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/availability?city_id=1&product_ids=1,2", nil)
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"in_stock":false`)
}

func TestHandleTest_ReportsAvailability(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"opensearch_available":true`)
}

func TestHandleReindexStatus_ReflectsInjectedCallback(t *testing.T) {
	backend := &fakeBackend{clusterHealth: &search.ClusterHealth{Status: search.StatusGreen, ElapsedMs: 1}}
	gate := health.New(backend)
	svc := queryservice.New(backend, nil, gate, dynamicdata.NoopProvider{}, zap.NewNop(), testConfig())

	result := &indexer.Result{IndexName: "products_2026_01_01_00_00_00", Processed: 5}
	srv := NewServer(svc, zap.NewNop(), func() ReindexStatus {
		return StatusFromResult(result, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/reindex/status", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "products_2026_01_01_00_00_00")
}
