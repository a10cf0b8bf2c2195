package query

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Spec is the validated search request the builder renders (§4.5).
type Spec struct {
	Q      string
	Page   int
	Limit  int
	Sort   string

	BrandName  string
	SeriesName string
	Category   string

	// RescoreWindow is the top-N window the rescore pass re-ranks
	// (search.rescore_window); 0 falls back to defaultRescoreWindow.
	RescoreWindow int
}

const defaultRescoreWindow = 50

// sourceFields is the _source restriction applied to every search (§4.5).
var sourceFields = []string{
	"product_id", "external_id", "sku", "name", "description",
	"brand_id", "brand_name", "series_id", "series_name",
	"unit", "dimensions", "min_sale", "weight",
	"popularity_score", "in_stock", "categories", "category_ids",
	"attributes", "images", "documents", "created_at", "updated_at",
}

var codePattern = regexp.MustCompile(`^[A-Za-z0-9\-./]+$`)

// isCode recognizes catalog-identifier-shaped query strings (§4.5).
func isCode(q string) bool {
	if len(q) == 0 || len(q) > 50 {
		return false
	}
	if !codePattern.MatchString(q) {
		return false
	}
	hasDigit := false
	for _, r := range q {
		if r >= '0' && r <= '9' {
			hasDigit = true
			break
		}
	}
	return hasDigit
}

func words(q string) []string {
	return strings.Fields(q)
}

// BuildSearchBody renders the engine request body for §4.5 search.
func BuildSearchBody(spec Spec) map[string]any {
	size := spec.Limit
	from := (spec.Page - 1) * spec.Limit

	body := map[string]any{
		"size":             size,
		"from":             from,
		"track_total_hits": true,
		"timeout":          "15s",
		"_source":          sourceFields,
	}

	filters := filterClauses(spec)

	if strings.TrimSpace(spec.Q) == "" {
		body["query"] = wrapFilters(map[string]any{"match_all": map[string]any{}}, filters)
		body["sort"] = sortClause(spec.Sort, false)
		return body
	}

	mainQuery := wrapFilters(mainQueryClause(spec.Q), filters)
	body["query"] = map[string]any{
		"function_score": map[string]any{
			"query":      mainQuery,
			"functions":  scoringFunctions(),
			"score_mode": "sum",
			"boost_mode": "multiply",
		},
	}
	window := spec.RescoreWindow
	if window <= 0 {
		window = defaultRescoreWindow
	}

	body["highlight"] = highlightClause()
	body["rescore"] = rescoreClause(spec.Q, window)
	body["sort"] = sortClause(spec.Sort, true)
	return body
}

func filterClauses(spec Spec) []map[string]any {
	var filters []map[string]any
	if spec.BrandName != "" {
		filters = append(filters, Term{Field: "brand_name.keyword", Value: spec.BrandName, Boost: 1}.render())
	}
	if spec.SeriesName != "" {
		filters = append(filters, Term{Field: "series_name.keyword", Value: spec.SeriesName, Boost: 1}.render())
	}
	if spec.Category != "" {
		filters = append(filters, Term{Field: "categories.keyword", Value: spec.Category, Boost: 1}.render())
	}
	return filters
}

func wrapFilters(query map[string]any, filters []map[string]any) map[string]any {
	if len(filters) == 0 {
		return query
	}
	return map[string]any{
		"bool": map[string]any{
			"must":   query,
			"filter": filters,
		},
	}
}

// mainQueryClause implements the §4.5 mainQuery(q) clause table.
func mainQueryClause(q string) map[string]any {
	code := isCode(q)
	ws := words(q)

	var should []clause
	if code {
		should = append(should,
			Term{Field: "external_id.keyword", Value: q, Boost: 1000},
			Term{Field: "sku.keyword", Value: q, Boost: 900},
		)
	}
	should = append(should,
		Prefix{Field: "external_id", Value: q, Boost: 100},
		Prefix{Field: "sku", Value: q, Boost: 90},
		Fuzzy{Field: "external_id", Value: q, Fuzziness: "AUTO", PrefixLen: 2, Boost: 80},
		MatchPhrase{Field: "name", Value: q, Boost: 70},
		Match{Field: "name", Value: q, Operator: "and", Boost: 60},
		Match{Field: "name", Value: q, Fuzziness: "AUTO", PrefixLen: 3, Boost: 40},
		MultiMatch{
			Query: q,
			Fields: []WeightedField{
				{Field: "name", Weight: 5}, {Field: "name.ngram", Weight: 2},
				{Field: "brand_name", Weight: 3}, {Field: "series_name", Weight: 2},
				{Field: "description", Weight: 1},
			},
			Type:      "best_fields",
			Fuzziness: "AUTO",
			Boost:     30,
		},
	)

	if len(ws) > 1 {
		minMatch := int(math.Ceil(0.7 * float64(len(ws))))
		var nested []clause
		for _, w := range ws {
			if len([]rune(w)) < 2 {
				continue
			}
			nested = append(nested, MultiMatch{
				Query: w,
				Fields: []WeightedField{
					{Field: "name", Weight: 3}, {Field: "brand_name", Weight: 2}, {Field: "description", Weight: 1},
				},
				Type:  "best_fields",
				Boost: 1,
			})
		}
		if len(nested) > 0 {
			should = append(should, boostWrap(BoolShould{Should: nested, MinShouldMatch: strconv.Itoa(minMatch)}, 20))
		}
	}

	should = append(should, Match{Field: "name.ngram", Value: q, Boost: 10})

	if len([]rune(q)) >= 3 && !code {
		should = append(should, Wildcard{Field: "name.keyword", Value: "*" + q + "*", Boost: 5})
	}

	rendered := make([]map[string]any, len(should))
	for i, c := range should {
		rendered[i] = c.render()
	}
	return map[string]any{
		"bool": map[string]any{
			"should":               rendered,
			"minimum_should_match": 1,
		},
	}
}

// boostWrap attaches a boost to a clause whose own render has no boost field
// (the nested bool.should of rule 10, §4.5).
func boostWrap(c clause, boost float64) clauseFunc {
	return func() map[string]any {
		r := c.render()
		if inner, ok := r["bool"].(map[string]any); ok {
			inner["boost"] = boost
		}
		return r
	}
}

// clauseFunc adapts a plain function to the clause interface.
type clauseFunc func() map[string]any

func (f clauseFunc) render() map[string]any { return f() }

// scoringFunctions implements §4.5 scoringFunctions(q).
func scoringFunctions() []map[string]any {
	return []map[string]any{
		{
			"field_value_factor": map[string]any{
				"field":    "popularity_score",
				"factor":   1.2,
				"modifier": "log1p",
				"missing":  0,
			},
			"weight": 10,
		},
		{
			"filter": map[string]any{"term": map[string]any{"in_stock": true}},
			"weight": 5,
		},
		{
			"script_score": map[string]any{
				"script": map[string]any{
					"source": "def len = params._source.name == null ? 0 : params._source.name.length(); return Math.max(1, 50 - len) / 50.0;",
				},
			},
			"weight": 3,
		},
		{
			"script_score": map[string]any{
				"script": map[string]any{
					"source": "def d = params._source.description; return d == null || d.length() == 0 ? 1 : Math.max(0.5, 1 - d.length() / 1000.0);",
				},
			},
			"weight": 2,
		},
	}
}

// rescoreClause implements the §4.5 rescore window.
func rescoreClause(q string, window int) map[string]any {
	return map[string]any{
		"window_size": window,
		"query": map[string]any{
			"rescore_query": map[string]any{
				"bool": map[string]any{
					"should": []map[string]any{
						MatchPhrase{Field: "name", Value: q, Boost: 10}.render(),
						Match{Field: "name", Value: q, Operator: "and", Boost: 5}.render(),
					},
				},
			},
			"query_weight":          0.7,
			"rescore_query_weight": 1.3,
		},
	}
}

// highlightClause implements §4.5 highlight.
func highlightClause() map[string]any {
	return map[string]any{
		"pre_tags":  []string{"<mark>"},
		"post_tags": []string{"</mark>"},
		"fields": map[string]any{
			"name":        map[string]any{"number_of_fragments": 0},
			"external_id": map[string]any{"number_of_fragments": 0},
			"sku":         map[string]any{"number_of_fragments": 0},
			"description": map[string]any{"fragment_size": 150, "number_of_fragments": 1},
		},
	}
}

// sortClause implements the §4.5-sort table. Unknown sort values fall back
// to relevance at validation time (§4.7), so this only ever sees whitelisted
// values.
func sortClause(sort string, hasQuery bool) []map[string]any {
	switch sort {
	case "name":
		return []map[string]any{{"name.keyword": "asc"}}
	case "external_id":
		return []map[string]any{{"external_id.keyword": "asc"}}
	case "availability":
		return []map[string]any{{"in_stock": "desc"}, {"_score": "desc"}}
	case "popularity":
		return []map[string]any{{"popularity_score": "desc"}, {"_score": "desc"}}
	case "price_asc":
		return []map[string]any{{"product_id": "asc"}}
	case "price_desc":
		return []map[string]any{{"product_id": "desc"}}
	default:
		if hasQuery {
			return []map[string]any{{"_score": "desc"}, {"popularity_score": "desc"}}
		}
		return []map[string]any{{"popularity_score": "desc"}, {"name.keyword": "asc"}}
	}
}

// BuildAutocompleteBody implements the §4.5 autocomplete primary request.
func BuildAutocompleteBody(q string, limit int) map[string]any {
	return map[string]any{
		"suggest": map[string]any{
			"product-suggest": map[string]any{
				"prefix": q,
				"completion": map[string]any{
					"field":         "suggest",
					"size":          limit,
					"fuzzy":         map[string]any{"fuzziness": "AUTO", "prefix_length": 1},
				},
			},
		},
		"query": map[string]any{
			"bool": map[string]any{
				"should": []map[string]any{
					Prefix{Field: "external_id", Value: q, Boost: 10}.render(),
					Prefix{Field: "name.autocomplete", Value: q, Boost: 5}.render(),
					{"match_phrase_prefix": map[string]any{"name": map[string]any{"query": q, "boost": 3}}},
					Fuzzy{Field: "name", Value: q, Fuzziness: "AUTO", Boost: 2}.render(),
					Prefix{Field: "brand_name.autocomplete", Value: q, Boost: 2}.render(),
				},
			},
		},
		"size": limit,
	}
}

// AutocompleteEntry is one merged suggestion (§4.5 autocomplete merge rule).
type AutocompleteEntry struct {
	Text       string
	Type       string
	Score      float64
	ExternalID string
}

// MergeAutocomplete merges completion-suggester hits and secondary-query
// hits: dedup by lowercase text, completion hits win ties, sort by score
// desc, truncate to limit.
func MergeAutocomplete(suggestHits, queryHits []AutocompleteEntry, limit int) []AutocompleteEntry {
	seen := make(map[string]bool, len(suggestHits)+len(queryHits))
	var merged []AutocompleteEntry

	for _, h := range suggestHits {
		key := strings.ToLower(h.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, h)
	}
	for _, h := range queryHits {
		key := strings.ToLower(h.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, h)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
