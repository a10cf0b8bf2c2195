// Package dynamicdata supplies the per-request attributes a search result
// cannot carry in the index itself: stock level, delivery estimate, and
// anything else that varies by city or user (§4.7 Result enrichment).
package dynamicdata

import "context"

// Attributes is the per-product overlay merged into a result document.
type Attributes map[string]any

// Provider fetches live attributes for a batch of product ids. Failure is
// logged by the caller and never blocks the response (§7 "Dynamic
// enrichment failure").
type Provider interface {
	Fetch(ctx context.Context, productIDs []int64, cityID, userID int64) (map[int64]Attributes, error)
}

// NoopProvider returns no enrichment for any product; it is the default
// wiring until a real pricing/inventory source is configured.
type NoopProvider struct{}

func (NoopProvider) Fetch(ctx context.Context, productIDs []int64, cityID, userID int64) (map[int64]Attributes, error) {
	return map[int64]Attributes{}, nil
}
