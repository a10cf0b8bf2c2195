package queryservice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/catalogsearch/search/internal/appconfig"
)

// SearchParams is the raw, unvalidated input to /api/search.
type SearchParams struct {
	Q          string
	Page       int
	Limit      int
	CityID     int64
	Sort       string
	BrandName  string
	SeriesName string
	Category   string
}

// ValidatedSearch is SearchParams after clamping (§4.7).
type ValidatedSearch struct {
	Q          string
	Page       int
	Limit      int
	CityID     int64
	Sort       string
	BrandName  string
	SeriesName string
	Category   string
}

// ValidateSearch applies §4.7's clamping rules: page≥1, limit∈[1,100],
// unknown sort falls back to relevance, and q is capped at Q_LENGTH_CAP.
func ValidateSearch(p SearchParams, cfg *appconfig.Config) ValidatedSearch {
	page := p.Page
	if page < 1 {
		page = 1
	}
	limit := clamp(p.Limit, 1, 100)

	q := strings.TrimSpace(p.Q)
	if len(q) > cfg.QLengthCap {
		q = q[:cfg.QLengthCap]
	}

	sort := p.Sort
	if !cfg.IsValidSort(sort) {
		sort = "relevance"
	}

	return ValidatedSearch{
		Q: q, Page: page, Limit: limit, CityID: p.CityID, Sort: sort,
		BrandName: p.BrandName, SeriesName: p.SeriesName, Category: p.Category,
	}
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// autocompleteStripPattern strips everything outside letters, digits,
// whitespace, hyphen, underscore, and dot before q reaches the backend.
var autocompleteStripPattern = regexp.MustCompile(`[^\p{L}\p{N}\s\-_.]+`)

// ValidateAutocomplete sanitizes q and clamps limit∈[1,20], default 10. A
// q that is empty, or becomes empty after sanitization, is not a validation
// error: callers should return an empty suggestion list for it.
func ValidateAutocomplete(q string, limit int) (string, int) {
	q = strings.TrimSpace(autocompleteStripPattern.ReplaceAllString(q, ""))
	if limit <= 0 {
		limit = 10
	}
	return q, clamp(limit, 1, 20)
}

// ValidateAvailability enforces cityId≥1 and a deduplicated list of ≤
// MAX_PRODUCT_IDS_PER_BATCH distinct positive product ids.
func ValidateAvailability(cityID int64, rawIDs string, cfg *appconfig.Config) (int64, []int64, error) {
	if cityID < 1 {
		return 0, nil, fmt.Errorf("city_id must be >= 1")
	}

	seen := make(map[int64]bool)
	var ids []int64
	for _, part := range strings.Split(rawIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return 0, nil, fmt.Errorf("invalid product id %q", part)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return 0, nil, fmt.Errorf("product_ids is required")
	}
	if len(ids) > cfg.MaxProductIDsPerBatch {
		return 0, nil, fmt.Errorf("product_ids exceeds the maximum of %d", cfg.MaxProductIDsPerBatch)
	}
	return cityID, ids, nil
}
