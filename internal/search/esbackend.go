package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ESBackend is the Backend implementation wrapping an OpenSearch/
// Elasticsearch client. It holds no mutable state beyond the
// thread-safe connection pool the client manages internally.
type ESBackend struct {
	client *elasticsearch.Client
}

// NewESBackend wraps an already-configured client. Construction (address
// list, auth, TLS) is the caller's concern; this type only knows how to
// speak the operations §4.1 names.
func NewESBackend(client *elasticsearch.Client) *ESBackend {
	return &ESBackend{client: client}
}

type bulkResponseBody struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error,omitempty"`
		} `json:"index"`
	} `json:"items"`
}

// Bulk uploads docs via the NDJSON bulk API and reports per-item errors
// instead of raising on partial failure (§4.1).
func (b *ESBackend) Bulk(ctx context.Context, index string, docs []BulkItem) (*BulkResult, error) {
	if len(docs) == 0 {
		return &BulkResult{}, nil
	}

	var buf bytes.Buffer
	for _, d := range docs {
		action, err := sonic.Marshal(map[string]any{
			"index": map[string]any{"_index": index, "_id": d.ID},
		})
		if err != nil {
			return nil, fmt.Errorf("encoding bulk action for %s: %w", d.ID, err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(d.Body)
		buf.WriteByte('\n')
	}

	req := esapi.BulkRequest{
		Index:   index,
		Body:    bytes.NewReader(buf.Bytes()),
		Refresh: "false",
	}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return nil, fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading bulk response: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("bulk request failed: status %s: %s", res.Status(), string(respBody))
	}

	var parsed bulkResponseBody
	if err := sonic.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}

	result := &BulkResult{}
	for _, item := range parsed.Items {
		if item.Index.Error != nil {
			result.ItemErrors = append(result.ItemErrors, ItemError{
				ID:     item.Index.ID,
				Reason: fmt.Sprintf("%s: %s", item.Index.Error.Type, item.Index.Error.Reason),
			})
			continue
		}
		result.IndexedCount++
	}
	return result, nil
}

type searchResponseBody struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		MaxScore float64 `json:"max_score"`
		Hits     []struct {
			ID        string              `json:"_id"`
			Score     float64             `json:"_score"`
			Source    json.RawMessage     `json:"_source"`
			Highlight map[string][]string `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
	Suggest map[string][]struct {
		Options []struct {
			Text  string  `json:"text"`
			Score float64 `json:"score"`
		} `json:"options"`
	} `json:"suggest"`
}

// Search executes a pre-built request body against an index or alias.
func (b *ESBackend) Search(ctx context.Context, indexOrAlias string, body []byte) (*SearchResult, error) {
	req := esapi.SearchRequest{
		Index:          []string{indexOrAlias},
		Body:           bytes.NewReader(body),
		TrackTotalHits: true,
	}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("search request failed: status %s: %s", res.Status(), string(respBody))
	}

	var parsed searchResponseBody
	if err := sonic.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	result := &SearchResult{
		Total:    parsed.Hits.Total.Value,
		MaxScore: parsed.Hits.MaxScore,
	}
	for _, h := range parsed.Hits.Hits {
		result.Hits = append(result.Hits, Hit{
			ID:        h.ID,
			Source:    []byte(h.Source),
			Score:     h.Score,
			Highlight: h.Highlight,
		})
	}
	for _, suggestions := range parsed.Suggest {
		for _, s := range suggestions {
			for _, opt := range s.Options {
				result.Suggest = append(result.Suggest, SuggestOption{Text: opt.Text, Score: opt.Score})
			}
		}
	}
	return result, nil
}

// CreateIndex creates a physical index from a raw {settings, mappings} schema body.
func (b *ESBackend) CreateIndex(ctx context.Context, name string, schema []byte) error {
	req := esapi.IndicesCreateRequest{Index: name, Body: bytes.NewReader(schema)}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", name, errBody(res.Body))
	}
	return nil
}

func (b *ESBackend) DeleteIndex(ctx context.Context, name string) error {
	req := esapi.IndicesDeleteRequest{Index: []string{name}}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete index %s: %s", name, errBody(res.Body))
	}
	return nil
}

func (b *ESBackend) IndexExists(ctx context.Context, name string) (bool, error) {
	req := esapi.IndicesExistsRequest{Index: []string{name}}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return false, fmt.Errorf("check index exists %s: %w", name, err)
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

func (b *ESBackend) Refresh(ctx context.Context, name string) error {
	req := esapi.IndicesRefreshRequest{Index: []string{name}}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return fmt.Errorf("refresh index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh index %s: %s", name, errBody(res.Body))
	}
	return nil
}

type statsResponseBody struct {
	Indices map[string]struct {
		Primaries struct {
			Docs struct {
				Count int64 `json:"count"`
			} `json:"docs"`
		} `json:"primaries"`
	} `json:"indices"`
}

func (b *ESBackend) Stats(ctx context.Context, name string) (*IndexStats, error) {
	req := esapi.IndicesStatsRequest{Index: []string{name}}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return nil, fmt.Errorf("stats for %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("stats for %s: %s", name, errBody(res.Body))
	}

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading stats response: %w", err)
	}
	var parsed statsResponseBody
	if err := sonic.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding stats response: %w", err)
	}
	idx, ok := parsed.Indices[name]
	if !ok {
		return &IndexStats{}, nil
	}
	return &IndexStats{DocCount: idx.Primaries.Docs.Count}, nil
}

// UpdateAliases submits a single atomic action list (§4.4 SWAP).
func (b *ESBackend) UpdateAliases(ctx context.Context, actions []AliasAction) error {
	type action struct {
		Index string `json:"index"`
		Alias string `json:"alias"`
	}
	rendered := make([]map[string]action, 0, len(actions))
	for _, a := range actions {
		rendered = append(rendered, map[string]action{
			string(a.Action): {Index: a.Index, Alias: a.Alias},
		})
	}
	body, err := sonic.Marshal(map[string]any{"actions": rendered})
	if err != nil {
		return fmt.Errorf("encoding alias actions: %w", err)
	}

	req := esapi.IndicesUpdateAliasesRequest{Body: bytes.NewReader(body)}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return fmt.Errorf("update aliases: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("update aliases: %s", errBody(res.Body))
	}
	return nil
}

func (b *ESBackend) GetAlias(ctx context.Context, name string) ([]string, error) {
	req := esapi.IndicesGetAliasRequest{Name: []string{name}}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return nil, fmt.Errorf("get alias %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("get alias %s: %s", name, errBody(res.Body))
	}

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading alias response: %w", err)
	}
	var parsed map[string]struct {
		Aliases map[string]any `json:"aliases"`
	}
	if err := sonic.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding alias response: %w", err)
	}

	indices := make([]string, 0, len(parsed))
	for idx := range parsed {
		indices = append(indices, idx)
	}
	return indices, nil
}

func (b *ESBackend) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	req := esapi.CatIndicesRequest{Index: []string{pattern}, Format: "json"}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return nil, fmt.Errorf("list indices %s: %w", pattern, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("list indices %s: %s", pattern, errBody(res.Body))
	}

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading cat indices response: %w", err)
	}
	var parsed []struct {
		Index string `json:"index"`
	}
	if err := sonic.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding cat indices response: %w", err)
	}

	names := make([]string, 0, len(parsed))
	for _, p := range parsed {
		names = append(names, p.Index)
	}
	return names, nil
}

type clusterHealthResponseBody struct {
	Status string `json:"status"`
}

// ClusterHealth probes cluster health with the given timeout, reporting
// elapsed wall-clock time alongside the reported status (§4.6 uses both).
func (b *ESBackend) ClusterHealth(ctx context.Context, timeout time.Duration) (*ClusterHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req := esapi.ClusterHealthRequest{Timeout: timeout}
	res, err := req.Do(ctx, b.client)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("cluster health: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("cluster health: %s", errBody(res.Body))
	}

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading cluster health response: %w", err)
	}
	var parsed clusterHealthResponseBody
	if err := sonic.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding cluster health response: %w", err)
	}

	return &ClusterHealth{
		Status:    ClusterStatus(parsed.Status),
		ElapsedMs: elapsed.Milliseconds(),
	}, nil
}

// IndexHealth scopes the health probe to a single index (CREATE's
// post-creation poll): a red or unassigned index elsewhere in the cluster
// must not block or falsely pass this index's own readiness check.
func (b *ESBackend) IndexHealth(ctx context.Context, name string, timeout time.Duration) (*ClusterHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req := esapi.ClusterHealthRequest{Index: []string{name}, Timeout: timeout}
	res, err := req.Do(ctx, b.client)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("index health: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("index health: %s", errBody(res.Body))
	}

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading index health response: %w", err)
	}
	var parsed clusterHealthResponseBody
	if err := sonic.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding index health response: %w", err)
	}

	return &ClusterHealth{
		Status:    ClusterStatus(parsed.Status),
		ElapsedMs: elapsed.Milliseconds(),
	}, nil
}

func (b *ESBackend) PluginsInstalled(ctx context.Context) ([]string, error) {
	req := esapi.CatPluginsRequest{Format: "json"}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("list plugins: %s", errBody(res.Body))
	}

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading plugins response: %w", err)
	}
	var parsed []struct {
		Component string `json:"component"`
	}
	if err := sonic.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding plugins response: %w", err)
	}

	names := make([]string, 0, len(parsed))
	for _, p := range parsed {
		names = append(names, p.Component)
	}
	return names, nil
}

func errBody(r io.Reader) string {
	b, err := io.ReadAll(r)
	if err != nil {
		return "<unreadable error body>"
	}
	return strings.TrimSpace(string(b))
}
