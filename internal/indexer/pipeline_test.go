package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/catalogsearch/search/internal/document"
	"github.com/catalogsearch/search/internal/search"
)

// fakeBackend is a minimal in-memory search.Backend double covering every
// method the pipeline calls.
type fakeBackend struct {
	healthStatus search.ClusterStatus
	existing     map[string]bool
	docCounts    map[string]int64
	aliasTarget  []string
	listed       []string

	bulkCalls   int
	deleteCalls []string
	swapActions []search.AliasAction

	failBulk bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		healthStatus: search.StatusGreen,
		existing:     map[string]bool{},
		docCounts:    map[string]int64{},
	}
}

func (f *fakeBackend) Bulk(ctx context.Context, index string, docs []search.BulkItem) (*search.BulkResult, error) {
	f.bulkCalls++
	if f.failBulk {
		return nil, context.DeadlineExceeded
	}
	f.docCounts[index] += int64(len(docs))
	return &search.BulkResult{IndexedCount: len(docs)}, nil
}

func (f *fakeBackend) Search(ctx context.Context, indexOrAlias string, body []byte) (*search.SearchResult, error) {
	return &search.SearchResult{Total: 1}, nil
}

func (f *fakeBackend) CreateIndex(ctx context.Context, name string, schema []byte) error {
	f.existing[name] = true
	return nil
}

func (f *fakeBackend) DeleteIndex(ctx context.Context, name string) error {
	f.deleteCalls = append(f.deleteCalls, name)
	delete(f.existing, name)
	return nil
}

func (f *fakeBackend) IndexExists(ctx context.Context, name string) (bool, error) {
	return f.existing[name], nil
}

func (f *fakeBackend) Refresh(ctx context.Context, name string) error { return nil }

func (f *fakeBackend) Stats(ctx context.Context, name string) (*search.IndexStats, error) {
	return &search.IndexStats{DocCount: f.docCounts[name]}, nil
}

func (f *fakeBackend) UpdateAliases(ctx context.Context, actions []search.AliasAction) error {
	f.swapActions = actions
	for _, a := range actions {
		if a.Action == search.AliasAdd {
			f.aliasTarget = []string{a.Index}
		}
	}
	return nil
}

func (f *fakeBackend) GetAlias(ctx context.Context, name string) ([]string, error) {
	return f.aliasTarget, nil
}

func (f *fakeBackend) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	return f.listed, nil
}

func (f *fakeBackend) ClusterHealth(ctx context.Context, timeout time.Duration) (*search.ClusterHealth, error) {
	return &search.ClusterHealth{Status: f.healthStatus, ElapsedMs: 1}, nil
}

func (f *fakeBackend) IndexHealth(ctx context.Context, name string, timeout time.Duration) (*search.ClusterHealth, error) {
	return &search.ClusterHealth{Status: f.healthStatus, ElapsedMs: 1}, nil
}

func (f *fakeBackend) PluginsInstalled(ctx context.Context) ([]string, error) { return nil, nil }

// fakeStream yields fixed batches then terminates.
type fakeStream struct {
	batches [][]document.Row
	idx     int
}

func (s *fakeStream) Next(ctx context.Context) ([]document.Row, error) {
	if s.idx >= len(s.batches) {
		return nil, nil
	}
	batch := s.batches[s.idx]
	s.idx++
	return batch, nil
}

type fakeSource struct {
	total   int64
	batches [][]document.Row
}

func (s *fakeSource) TotalProducts(ctx context.Context) (int64, error) { return s.total, nil }

func (s *fakeSource) StreamProducts(batchSize int) ProductStream {
	return &fakeStream{batches: s.batches}
}

func testSchemaPath(t *testing.T) string {
	return writeSchema(t, validSchemaJSON)
}

func newTestPipeline(t *testing.T, backend *fakeBackend, source *fakeSource) *Pipeline {
	p := New(backend, source, Config{BatchSize: 10, MaxOldIndices: 2, SchemaPath: testSchemaPath(t)}, zap.NewNop())
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	return p
}

func TestPipeline_Run_HappyPath(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{total: 2, batches: [][]document.Row{
		{{ProductID: 1, Name: "Drill"}, {ProductID: 2, Name: "Saw"}},
	}}
	p := newTestPipeline(t, backend, source)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "products_2026_01_01_12_00_00", result.IndexName)
	require.Equal(t, 2, result.Processed)
	require.Equal(t, []string{result.IndexName}, backend.aliasTarget)
}

func TestPipeline_Run_AbortsOnZeroSourceRows(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{total: 0}
	p := newTestPipeline(t, backend, source)

	_, err := p.Run(context.Background())
	require.Error(t, err)
}

func TestPipeline_Run_AbortsOnRedCluster(t *testing.T) {
	backend := newFakeBackend()
	backend.healthStatus = search.StatusRed
	source := &fakeSource{total: 5}
	p := newTestPipeline(t, backend, source)

	_, err := p.Run(context.Background())
	require.Error(t, err)
}

func TestPipeline_Run_CleansUpPartialIndexOnBulkFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.failBulk = true
	source := &fakeSource{total: 2, batches: [][]document.Row{
		{{ProductID: 1, Name: "Drill"}},
	}}
	p := newTestPipeline(t, backend, source)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, backend.deleteCalls, "products_2026_01_01_12_00_00")
	require.Empty(t, backend.aliasTarget)
}

func TestPipeline_Run_SwapRemovesPreviousAliasTarget(t *testing.T) {
	backend := newFakeBackend()
	backend.aliasTarget = []string{"products_2025_12_31_00_00_00"}
	source := &fakeSource{total: 1, batches: [][]document.Row{
		{{ProductID: 1, Name: "Drill"}},
	}}
	p := newTestPipeline(t, backend, source)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	var hasRemove bool
	for _, a := range backend.swapActions {
		if a.Action == search.AliasRemove && a.Index == "products_2025_12_31_00_00_00" {
			hasRemove = true
		}
	}
	require.True(t, hasRemove)
}
