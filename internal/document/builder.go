package document

import (
	"strings"
	"time"
	"unicode"
)

// Build turns a raw row into an indexable Document, or reports why the row
// was skipped. Rules follow §4.3, in order.
func Build(row Row, now time.Time) (*Document, *Skip) {
	if row.ProductID < 1 {
		return nil, &Skip{ProductID: row.ProductID, Reason: SkipInvalidID}
	}

	name := normalizeText(row.Name)
	externalID := normalizeText(row.ExternalID)
	sku := normalizeText(row.SKU)
	if name == "" && externalID == "" && sku == "" {
		return nil, &Skip{ProductID: row.ProductID, Reason: SkipNoIdentifiers}
	}

	d := &Document{
		ProductID:   row.ProductID,
		ExternalID:  externalID,
		SKU:         sku,
		Name:        name,
		Description: normalizeText(row.Description),
		BrandID:     clampNonNegative(row.BrandID),
		BrandName:   normalizeText(row.BrandName),
		SeriesID:    clampNonNegative(row.SeriesID),
		SeriesName:  normalizeText(row.SeriesName),
		Unit:        normalizeText(row.Unit),
		Dimensions:  normalizeText(row.Dimensions),
		MinSale:     clampMin(row.MinSale, 1),
		Weight:      clampNonNegativeFloat(row.Weight),

		PopularityScore: 0,
		InStock:         false,
		Categories:      []string{},
		CategoryIDs:     []int64{},
		Attributes:      map[string]string{},
		Images:          []string{},
		Documents:       DocumentCounts{},

		CreatedAt: coerceTimestamp(row.CreatedAt, now),
		UpdatedAt: coerceTimestamp(row.UpdatedAt, now),
	}

	d.Suggest = buildSuggest(d)
	d.SearchAll = buildSearchAll(d)

	return d, nil
}

// buildSuggest constructs the completion-suggester payload (§3, §4.3 rule 4).
// Weights are the fixed schema constants; entries whose input is shorter
// than two characters are omitted.
func buildSuggest(d *Document) []SuggestEntry {
	candidates := []struct {
		text   string
		weight int
	}{
		{d.Name, WeightName},
		{d.ExternalID, WeightExternalID},
		{d.SKU, WeightSKU},
		{d.BrandName, WeightBrandName},
		{d.SeriesName, WeightSeriesName},
	}

	entries := make([]SuggestEntry, 0, len(candidates))
	for _, c := range candidates {
		if len([]rune(c.text)) < minSuggestInputLen {
			continue
		}
		entries = append(entries, SuggestEntry{Input: []string{c.text}, Weight: c.weight})
	}
	return entries
}

// buildSearchAll joins the identifying/text fields with single spaces and
// re-normalizes the result (§4.3 rule 5).
func buildSearchAll(d *Document) string {
	parts := []string{d.Name, d.ExternalID, d.SKU, d.BrandName, d.SeriesName, d.Description}
	return normalizeText(strings.Join(parts, " "))
}

// normalizeText strips disallowed control characters (keeping tab/newline/
// carriage-return), collapses internal whitespace runs to a single space,
// and trims leading/trailing whitespace (§3 Invariants, §4.3 rule 2).
func normalizeText(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	return collapseWhitespace(b.String())
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampNonNegativeFloat(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampMin(v, min int64) int64 {
	if v < min {
		return min
	}
	return v
}

// coerceTimestamp renders t as ISO-8601, falling back to now on a nil or
// zero-value source (§4.3 rule 6).
func coerceTimestamp(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return now.UTC().Format(time.RFC3339)
	}
	return t.UTC().Format(time.RFC3339)
}
