package indexer

import (
	"fmt"
	"os"

	"github.com/catalogsearch/search/internal/jsonutil"
)

// requiredAnalyzers and requiredFields are the index schema's load-bearing
// contents (§6 Index schema).
var (
	requiredAnalyzers = []string{"text_analyzer", "code_analyzer", "search_analyzer", "autocomplete_analyzer"}
	requiredFields    = []string{"product_id", "external_id", "name", "brand_name", "suggest"}
)

// Schema is a parsed, validated index schema document.
type Schema struct {
	raw []byte
}

// Bytes returns the raw schema body, ready to pass to CreateIndex.
func (s Schema) Bytes() []byte {
	return s.raw
}

// LoadSchema reads and validates the schema file at path (§4.4 PREFLIGHT,
// CREATE).
func LoadSchema(path string) (Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("reading schema file %s: %w", path, err)
	}
	if err := validateSchema(raw); err != nil {
		return Schema{}, fmt.Errorf("validating schema file %s: %w", path, err)
	}
	return Schema{raw: raw}, nil
}

func validateSchema(raw []byte) error {
	var parsed struct {
		Settings map[string]any `json:"settings"`
		Mappings struct {
			Properties map[string]any `json:"properties"`
		} `json:"mappings"`
	}
	if err := jsonutil.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parsing schema JSON: %w", err)
	}
	if parsed.Settings == nil {
		return fmt.Errorf("schema missing settings")
	}
	if parsed.Mappings.Properties == nil {
		return fmt.Errorf("schema missing mappings")
	}

	analysis, _ := parsed.Settings["analysis"].(map[string]any)
	analyzers, _ := analysis["analyzer"].(map[string]any)
	for _, name := range requiredAnalyzers {
		if _, ok := analyzers[name]; !ok {
			return fmt.Errorf("schema missing required analyzer %q", name)
		}
	}

	for _, name := range requiredFields {
		if _, ok := parsed.Mappings.Properties[name]; !ok {
			return fmt.Errorf("schema missing required field %q", name)
		}
	}
	return nil
}
