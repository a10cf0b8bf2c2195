// Package queryservice is the top-level entry point for every read-only
// HTTP endpoint (§4.7): it validates input, consults the HealthGate to pick
// a backend, and reshapes whatever comes back into a uniform Envelope.
package queryservice

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/catalogsearch/search/internal/appconfig"
	"github.com/catalogsearch/search/internal/document"
	"github.com/catalogsearch/search/internal/dynamicdata"
	"github.com/catalogsearch/search/internal/health"
	"github.com/catalogsearch/search/internal/jsonutil"
	"github.com/catalogsearch/search/internal/query"
	"github.com/catalogsearch/search/internal/search"
	"github.com/catalogsearch/search/internal/store"
)

const currentAlias = "products_current"

// Service wires the query path's collaborators. Instances are shared
// across concurrent requests; the only mutable shared state is the
// HealthGate (§5 Shared state).
type Service struct {
	backend     search.Backend
	store       *store.Store
	gate        *health.Gate
	dynamicData dynamicdata.Provider
	logger      *zap.Logger
	cfg         *appconfig.Config
}

func New(backend search.Backend, relStore *store.Store, gate *health.Gate, dynamicData dynamicdata.Provider, logger *zap.Logger, cfg *appconfig.Config) *Service {
	if dynamicData == nil {
		dynamicData = dynamicdata.NoopProvider{}
	}
	return &Service{backend: backend, store: relStore, gate: gate, dynamicData: dynamicData, logger: logger, cfg: cfg}
}

// SearchData is the success payload of /api/search.
type SearchData struct {
	Products []map[string]any `json:"products"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	MaxScore float64          `json:"max_score,omitempty"`
}

// Search implements §4.7 search(rawParams). The MySQL fallback path is only
// for the gate-DOWN route; a primary-path exception while the gate reports
// UP is a backend blip, not a reason to silently swap engines, so it
// returns the degraded 503/SERVICE_UNAVAILABLE envelope instead (§7).
func (s *Service) Search(ctx context.Context, raw SearchParams) Envelope {
	spec := ValidateSearch(raw, s.cfg)

	if !s.gate.IsAvailable(ctx) {
		return s.searchViaFallback(ctx, spec)
	}

	env, ok := s.searchViaBackend(ctx, spec)
	if !ok {
		return degraded(SearchData{Products: []map[string]any{}, Page: spec.Page, Limit: spec.Limit})
	}
	return env
}

func (s *Service) searchViaBackend(ctx context.Context, spec ValidatedSearch) (Envelope, bool) {
	searchCtx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
	defer cancel()

	body := query.BuildSearchBody(query.Spec{
		Q: spec.Q, Page: spec.Page, Limit: spec.Limit, Sort: spec.Sort,
		BrandName: spec.BrandName, SeriesName: spec.SeriesName, Category: spec.Category,
		RescoreWindow: s.cfg.RescoreWindow,
	})
	rendered, err := jsonutil.Marshal(body)
	if err != nil {
		s.logger.Error("marshaling search body", zap.Error(err))
		return Envelope{}, false
	}

	result, err := s.backend.Search(searchCtx, currentAlias, rendered)
	if err != nil {
		s.logger.Warn("search backend call failed", zap.Error(err))
		return Envelope{}, false
	}

	products := s.hitsToProducts(ctx, result.Hits, spec.CityID, 0)
	return ok(SearchData{
		Products: products, Total: result.Total, Page: spec.Page, Limit: spec.Limit, MaxScore: result.MaxScore,
	}), true
}

func (s *Service) searchViaFallback(ctx context.Context, spec ValidatedSearch) Envelope {
	if s.store == nil {
		return degraded(SearchData{Products: []map[string]any{}, Page: spec.Page, Limit: spec.Limit})
	}

	result, err := s.store.FallbackSearch(ctx, store.FallbackSearchSpec{
		Query: spec.Q, Page: spec.Page, Limit: spec.Limit, Sort: spec.Sort,
		BrandName: spec.BrandName, SeriesName: spec.SeriesName,
	})
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return degraded(SearchData{Products: []map[string]any{}, Page: spec.Page, Limit: spec.Limit})
	}

	now := time.Now()
	products := make([]map[string]any, 0, len(result.Rows))
	ids := make([]int64, 0, len(result.Rows))
	byID := make(map[int64]map[string]any, len(result.Rows))
	for _, row := range result.Rows {
		doc, skip := document.Build(row, now)
		if skip != nil {
			continue
		}
		m := documentToMap(doc)
		products = append(products, m)
		ids = append(ids, doc.ProductID)
		byID[doc.ProductID] = m
	}
	s.enrich(ctx, byID, ids, spec.CityID, 0)

	return ok(SearchData{Products: products, Total: result.Total, Page: result.Page, Limit: result.Limit})
}

// hitsToProducts converts engine hits into response maps, enriched with
// dynamic data.
func (s *Service) hitsToProducts(ctx context.Context, hits []search.Hit, cityID, userID int64) []map[string]any {
	products := make([]map[string]any, 0, len(hits))
	ids := make([]int64, 0, len(hits))
	byID := make(map[int64]map[string]any, len(hits))

	for _, h := range hits {
		var m map[string]any
		if err := jsonutil.Unmarshal(h.Source, &m); err != nil {
			s.logger.Warn("decoding hit source", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		m["_score"] = h.Score
		if len(h.Highlight) > 0 {
			m["_highlight"] = h.Highlight
		}
		products = append(products, m)
		if pid, ok := productID(m); ok {
			ids = append(ids, pid)
			byID[pid] = m
		}
	}

	s.enrich(ctx, byID, ids, cityID, userID)
	return products
}

func productID(m map[string]any) (int64, bool) {
	switch v := m["product_id"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// enrich merges DynamicDataProvider attributes into each product map
// (§4.7 Result enrichment). Failure is logged, never propagated.
func (s *Service) enrich(ctx context.Context, byID map[int64]map[string]any, ids []int64, cityID, userID int64) {
	if len(ids) == 0 {
		return
	}
	attrs, err := s.dynamicData.Fetch(ctx, ids, cityID, userID)
	if err != nil {
		s.logger.Warn("dynamic data enrichment failed", zap.Error(err))
		return
	}
	for id, a := range attrs {
		product, found := byID[id]
		if !found {
			continue
		}
		for k, v := range a {
			product[k] = v
		}
	}
}

// AutocompleteData is the success payload of /api/autocomplete.
type AutocompleteData struct {
	Suggestions []query.AutocompleteEntry `json:"suggestions"`
}

// Autocomplete implements §6's autocomplete endpoint; it degrades silently
// to an empty suggestion list on any internal error.
func (s *Service) Autocomplete(ctx context.Context, rawQ string, rawLimit int) Envelope {
	q, limit := ValidateAutocomplete(rawQ, rawLimit)
	if q == "" {
		return ok(AutocompleteData{Suggestions: []query.AutocompleteEntry{}})
	}

	if !s.gate.IsAvailable(ctx) {
		return s.autocompleteViaFallback(ctx, q, limit)
	}

	acCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	body := query.BuildAutocompleteBody(q, limit)
	rendered, err := jsonutil.Marshal(body)
	if err != nil {
		s.logger.Error("marshaling autocomplete body", zap.Error(err))
		return ok(AutocompleteData{Suggestions: []query.AutocompleteEntry{}})
	}

	result, err := s.backend.Search(acCtx, currentAlias, rendered)
	if err != nil {
		s.logger.Warn("autocomplete backend call failed", zap.Error(err))
		return ok(AutocompleteData{Suggestions: []query.AutocompleteEntry{}})
	}

	suggestHits := make([]query.AutocompleteEntry, 0, len(result.Suggest))
	for _, opt := range result.Suggest {
		suggestHits = append(suggestHits, query.AutocompleteEntry{Text: opt.Text, Type: "suggest", Score: opt.Score})
	}
	queryHits := make([]query.AutocompleteEntry, 0, len(result.Hits))
	for _, h := range result.Hits {
		var m map[string]any
		if err := jsonutil.Unmarshal(h.Source, &m); err != nil {
			continue
		}
		name, _ := m["name"].(string)
		externalID, _ := m["external_id"].(string)
		queryHits = append(queryHits, query.AutocompleteEntry{Text: name, Type: "product", Score: h.Score, ExternalID: externalID})
	}

	merged := query.MergeAutocomplete(suggestHits, queryHits, limit)
	return ok(AutocompleteData{Suggestions: merged})
}

func (s *Service) autocompleteViaFallback(ctx context.Context, q string, limit int) Envelope {
	if s.store == nil {
		return ok(AutocompleteData{Suggestions: []query.AutocompleteEntry{}})
	}
	hits, err := s.store.FallbackAutocomplete(ctx, q, limit)
	if err != nil {
		s.logger.Warn("fallback autocomplete failed", zap.Error(err))
		return ok(AutocompleteData{Suggestions: []query.AutocompleteEntry{}})
	}
	entries := make([]query.AutocompleteEntry, len(hits))
	for i, h := range hits {
		entries[i] = query.AutocompleteEntry{Text: h.Text, Type: h.Type, Score: float64(h.Score), ExternalID: h.ExternalID}
	}
	return ok(AutocompleteData{Suggestions: entries})
}

// Availability implements /api/availability: a map keyed by product id.
func (s *Service) Availability(ctx context.Context, cityID int64, rawIDs string) Envelope {
	city, ids, err := ValidateAvailability(cityID, rawIDs, s.cfg)
	if err != nil {
		return validationError(err.Error())
	}

	attrs, err := s.dynamicData.Fetch(ctx, ids, city, 0)
	if err != nil {
		s.logger.Warn("availability enrichment failed", zap.Error(err))
		attrs = map[int64]dynamicdata.Attributes{}
	}

	data := make(map[string]any, len(ids))
	for _, id := range ids {
		if a, found := attrs[id]; found {
			data[idKey(id)] = a
		} else {
			data[idKey(id)] = dynamicdata.Attributes{"in_stock": false}
		}
	}
	return ok(data)
}

// TestData is the success payload of /api/test.
type TestData struct {
	Message             string `json:"message"`
	Timestamp           string `json:"timestamp"`
	UserAuthenticated   bool   `json:"user_authenticated"`
	OpenSearchAvailable bool   `json:"opensearch_available"`
}

// Test implements /api/test, a liveness-style diagnostic endpoint.
func (s *Service) Test(ctx context.Context, now time.Time) Envelope {
	return ok(TestData{
		Message:             "catalog search service is reachable",
		Timestamp:           now.UTC().Format(time.RFC3339),
		UserAuthenticated:   false,
		OpenSearchAvailable: s.gate.IsAvailable(ctx),
	})
}

func documentToMap(doc *document.Document) map[string]any {
	data, err := jsonutil.Marshal(doc)
	if err != nil {
		return map[string]any{"product_id": doc.ProductID}
	}
	var m map[string]any
	if err := jsonutil.Unmarshal(data, &m); err != nil {
		return map[string]any{"product_id": doc.ProductID}
	}
	return m
}

func idKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
