// Package search abstracts the full-text search engine behind the
// capability surface the rest of the system consumes (§4.1). The only
// concrete implementation wraps OpenSearch/Elasticsearch; everything above
// this package talks to the Backend interface, never to the wire client
// directly (Design Note: no hidden singletons, explicit injection).
package search

import (
	"context"
	"time"
)

// BulkItem is one document to upsert in a bulk call.
type BulkItem struct {
	ID   string
	Body []byte
}

// ItemError is a single failed document from a bulk call.
type ItemError struct {
	ID     string
	Reason string
}

// BulkResult is the outcome of a bulk call: idempotent per ID, partial
// failures reported per-item rather than raised (§4.1).
type BulkResult struct {
	IndexedCount int
	ItemErrors   []ItemError
}

// Hit is a single search result.
type Hit struct {
	ID        string
	Source    []byte
	Score     float64
	Highlight map[string][]string
}

// SuggestOption is a single completion-suggester hit.
type SuggestOption struct {
	Text  string
	Score float64
}

// SearchResult is the outcome of a search call.
type SearchResult struct {
	Hits     []Hit
	Total    int
	MaxScore float64
	Suggest  []SuggestOption
}

// ClusterStatus mirrors the engine's three-level health status.
type ClusterStatus string

const (
	StatusGreen  ClusterStatus = "green"
	StatusYellow ClusterStatus = "yellow"
	StatusRed    ClusterStatus = "red"
)

// ClusterHealth is the result of a health probe.
type ClusterHealth struct {
	Status    ClusterStatus
	ElapsedMs int64
}

// IndexStats is the subset of index statistics the pipeline validates against.
type IndexStats struct {
	DocCount int64
}

// AliasActionType is add or remove, combined atomically in UpdateAliases.
type AliasActionType string

const (
	AliasAdd    AliasActionType = "add"
	AliasRemove AliasActionType = "remove"
)

// AliasAction is one step of an atomic alias-update request (§4.4 SWAP).
type AliasAction struct {
	Action AliasActionType
	Index  string
	Alias  string
}

// Backend is the capability surface §4.1 requires of the search engine.
// Every method takes a context.Context carrying its own deadline; the
// caller (IndexerPipeline, QueryBuilder via QueryService, HealthGate) is
// responsible for the timeout values specified in §6 Configuration.
type Backend interface {
	Bulk(ctx context.Context, index string, docs []BulkItem) (*BulkResult, error)
	Search(ctx context.Context, indexOrAlias string, body []byte) (*SearchResult, error)

	CreateIndex(ctx context.Context, name string, schema []byte) error
	DeleteIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	Refresh(ctx context.Context, name string) error
	Stats(ctx context.Context, name string) (*IndexStats, error)

	UpdateAliases(ctx context.Context, actions []AliasAction) error
	GetAlias(ctx context.Context, name string) ([]string, error)
	ListIndices(ctx context.Context, pattern string) ([]string, error)

	ClusterHealth(ctx context.Context, timeout time.Duration) (*ClusterHealth, error)
	IndexHealth(ctx context.Context, name string, timeout time.Duration) (*ClusterHealth, error)
	PluginsInstalled(ctx context.Context) ([]string, error)
}
