package queryservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/catalogsearch/search/internal/appconfig"
	"github.com/catalogsearch/search/internal/dynamicdata"
	"github.com/catalogsearch/search/internal/health"
	"github.com/catalogsearch/search/internal/jsonutil"
	"github.com/catalogsearch/search/internal/search"
)

type fakeBackend struct {
	search.Backend
	searchResult  *search.SearchResult
	searchErr     error
	clusterHealth *search.ClusterHealth
	clusterErr    error
}

func (f *fakeBackend) Search(ctx context.Context, indexOrAlias string, body []byte) (*search.SearchResult, error) {
	return f.searchResult, f.searchErr
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

func TestService_Search_UsesBackendWhenHealthy(t *testing.T) {
	hitSource, err := jsonutil.Marshal(map[string]any{"product_id": 1, "name": "Cordless Drill"})
	require.NoError(t, err)

	backend := &fakeBackend{
		clusterHealth: &search.ClusterHealth{Status: search.StatusGreen, ElapsedMs: 5},
		searchResult: &search.SearchResult{
			Hits:  []search.Hit{{ID: "1", Source: hitSource, Score: 12.5}},
			Total: 1,
		},
	}
	gate := health.New(backend)
	svc := New(backend, nil, gate, dynamicdata.NoopProvider{}, zap.NewNop(), testConfig())

	env := svc.Search(context.Background(), SearchParams{Q: "drill", Page: 1, Limit: 10})
	require.True(t, env.Success)
	data := env.Data.(SearchData)
	require.Equal(t, 1, data.Total)
	require.Len(t, data.Products, 1)
	require.Equal(t, "Cordless Drill", data.Products[0]["name"])
}

func TestService_Search_DegradesWhenBackendDown(t *testing.T) {
	backend := &fakeBackend{clusterErr: context.DeadlineExceeded}
	gate := health.New(backend)
	svc := New(backend, nil, gate, dynamicdata.NoopProvider{}, zap.NewNop(), testConfig())

	env := svc.Search(context.Background(), SearchParams{Q: "drill", Page: 1, Limit: 10})
	require.False(t, env.Success)
	require.Equal(t, ErrCodeServiceUnavailable, env.ErrorCode)
	require.Equal(t, 503, env.HTTPStatus)
}

func TestService_Search_DegradesOnBackendExceptionWhileGateUp(t *testing.T) {
	backend := &fakeBackend{
		clusterHealth: &search.ClusterHealth{Status: search.StatusGreen, ElapsedMs: 1},
		searchErr:     context.DeadlineExceeded,
	}
	gate := health.New(backend)
	svc := New(backend, nil, gate, dynamicdata.NoopProvider{}, zap.NewNop(), testConfig())

	env := svc.Search(context.Background(), SearchParams{Q: "drill", Page: 1, Limit: 10})
	require.False(t, env.Success)
	require.Equal(t, ErrCodeServiceUnavailable, env.ErrorCode)
	require.Equal(t, 503, env.HTTPStatus)
}

func TestService_Autocomplete_EmptyQueryReturnsEmptySuggestions(t *testing.T) {
	backend := &fakeBackend{clusterHealth: &search.ClusterHealth{Status: search.StatusGreen, ElapsedMs: 1}}
	gate := health.New(backend)
	svc := New(backend, nil, gate, dynamicdata.NoopProvider{}, zap.NewNop(), testConfig())

	env := svc.Autocomplete(context.Background(), "  ", 10)
	require.True(t, env.Success)
	data := env.Data.(AutocompleteData)
	require.Empty(t, data.Suggestions)
}

func TestService_Autocomplete_StripsPunctuationBeforeQuerying(t *testing.T) {
	backend := &fakeBackend{clusterHealth: &search.ClusterHealth{Status: search.StatusGreen, ElapsedMs: 1}}
	gate := health.New(backend)
	svc := New(backend, nil, gate, dynamicdata.NoopProvider{}, zap.NewNop(), testConfig())

	env := svc.Autocomplete(context.Background(), "!!!", 10)
	require.True(t, env.Success)
	data := env.Data.(AutocompleteData)
	require.Empty(t, data.Suggestions)
}

func TestService_Availability_RejectsInvalidCityID(t *testing.T) {
	backend := &fakeBackend{}
	gate := health.New(backend)
	svc := New(backend, nil, gate, dynamicdata.NoopProvider{}, zap.NewNop(), testConfig())

	env := svc.Availability(context.Background(), 0, "1,2,3")
	require.False(t, env.Success)
	require.Equal(t, ErrCodeValidation, env.ErrorCode)
}

func TestService_Availability_DefaultsMissingProductsToOutOfStock(t *testing.T) {
	backend := &fakeBackend{}
	gate := health.New(backend)
	svc := New(backend, nil, gate, dynamicdata.NoopProvider{}, zap.NewNop(), testConfig())

	env := svc.Availability(context.Background(), 1, "1,2")
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	require.Contains(t, data, "1")
	require.Contains(t, data, "2")
	require.Equal(t, dynamicdata.Attributes{"in_stock": false}, data["1"])
	require.Equal(t, dynamicdata.Attributes{"in_stock": false}, data["2"])
}

func TestService_Test_ReportsGateStatus(t *testing.T) {
	backend := &fakeBackend{clusterHealth: &search.ClusterHealth{Status: search.StatusGreen, ElapsedMs: 1}}
	gate := health.New(backend)
	svc := New(backend, nil, gate, dynamicdata.NoopProvider{}, zap.NewNop(), testConfig())

	env := svc.Test(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, env.Success)
	data := env.Data.(TestData)
	require.True(t, data.OpenSearchAvailable)
}
