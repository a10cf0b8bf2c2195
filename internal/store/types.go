// Package store implements the relational source of truth: streaming
// extraction for the indexer, and the degraded fallback search path used
// when the search engine is unavailable (§4.2).
package store

import "github.com/catalogsearch/search/internal/document"

// FallbackSearchSpec is the subset of a validated SearchSpec the MySQL
// fallback path needs (§4.7).
type FallbackSearchSpec struct {
	Query string
	Page  int
	Limit int
	Sort  string

	BrandName  string
	SeriesName string
}

// FallbackSearchResult mirrors §4.2 fallbackSearch's return shape.
type FallbackSearchResult struct {
	Rows  []document.Row
	Total int
	Page  int
	Limit int
}

// AutocompleteHit is one fallback autocomplete suggestion (§4.2).
type AutocompleteHit struct {
	Text       string
	Type       string
	ExternalID string
	Score      int
}
