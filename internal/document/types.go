// Package document converts relational product rows into indexable search
// documents. It has no I/O: every function here is a pure transformation,
// which is what makes DocumentBuilder exhaustively unit-testable.
package document

import "time"

// Row is a single relational product row as streamed from the store,
// including the brand/series names joined in at the source.
type Row struct {
	ProductID   int64
	ExternalID  string
	SKU         string
	Name        string
	Description string
	BrandID     int64
	BrandName   string
	SeriesID    int64
	SeriesName  string
	Unit        string
	Dimensions  string
	MinSale     int64
	Weight      float64
	CreatedAt   *time.Time
	UpdatedAt   *time.Time
}

// SuggestEntry is one completion-suggester payload entry.
type SuggestEntry struct {
	Input  []string `json:"input"`
	Weight int      `json:"weight"`
}

// DocumentCounts is the {certificates, manuals, drawings} counter map.
type DocumentCounts struct {
	Certificates int `json:"certificates"`
	Manuals      int `json:"manuals"`
	Drawings     int `json:"drawings"`
}

// Document is the superset of Product plus derived search fields. The text
// fields, brand/series ids and suggest are tagged `omitempty` so empty
// values are elided at marshal time (§3 Invariants); product_id, min_sale,
// weight, popularity_score, in_stock, the collections, documents and the
// timestamps are always emitted.
type Document struct {
	ProductID   int64  `json:"product_id"`
	ExternalID  string `json:"external_id,omitempty"`
	SKU         string `json:"sku,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	BrandID     int64  `json:"brand_id,omitempty"`
	BrandName   string `json:"brand_name,omitempty"`
	SeriesID    int64  `json:"series_id,omitempty"`
	SeriesName  string `json:"series_name,omitempty"`
	Unit        string `json:"unit,omitempty"`
	Dimensions  string `json:"dimensions,omitempty"`
	MinSale     int64  `json:"min_sale"`
	Weight      float64 `json:"weight"`

	SearchAll string         `json:"search_all,omitempty"`
	Suggest   []SuggestEntry `json:"suggest,omitempty"`

	PopularityScore float64  `json:"popularity_score"`
	InStock         bool     `json:"in_stock"`
	Categories      []string `json:"categories"`
	CategoryIDs     []int64  `json:"category_ids"`
	Attributes      map[string]string `json:"attributes"`
	Images          []string `json:"images"`
	Documents       DocumentCounts `json:"documents"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// SkipReason explains why a row was rejected by the builder (§4.3 rule 1,
// §3 invariant "every product_id > 0").
type SkipReason string

const (
	SkipInvalidID     SkipReason = "invalid_product_id"
	SkipNoIdentifiers SkipReason = "no_name_external_id_or_sku"
)

// Skip reports a row the builder declined to index, and why. Skips are
// counted, never fatal (§7 "Per-document" error class).
type Skip struct {
	ProductID int64
	Reason    SkipReason
}

func (s Skip) Error() string {
	return string(s.Reason)
}

// Suggest field weights (§3, §9 "treat these as schema constants").
const (
	WeightName       = 100
	WeightExternalID = 95
	WeightSKU        = 90
	WeightBrandName  = 70
	WeightSeriesName = 60

	minSuggestInputLen = 2
)
