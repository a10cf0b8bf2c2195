// Package appconfig loads the service's runtime configuration from a YAML
// file and environment overrides, following the constants fixed by §6
// Configuration.
package appconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	OpenSearchAddresses []string
	MySQLDSN            string

	HTTPAddr  string
	AdminAddr string

	BatchSize              int
	MaxOldIndices          int
	HealthTimeout          time.Duration
	SearchTimeout          time.Duration
	BulkTimeout            time.Duration
	RescoreWindow          int
	MaxProductIDsPerBatch  int
	QLengthCap             int
	AutocompleteTimeout    time.Duration

	SortWhitelist []string
}

// sortWhitelist is the fixed set of sort values the API accepts; unknown
// values fall back to "relevance" (§4.5).
var sortWhitelist = []string{
	"relevance", "name", "external_id", "price_asc", "price_desc", "availability", "popularity",
}

// Load reads configPath (if non-empty) and overlays environment variables
// prefixed CATALOGSEARCH_, then applies the §6 defaults for anything unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOGSEARCH")
	v.AutomaticEnv()

	v.SetDefault("opensearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("admin.addr", ":8081")
	v.SetDefault("indexer.batch_size", 1000)
	v.SetDefault("indexer.max_old_indices", 2)
	v.SetDefault("health.timeout_seconds", 5)
	v.SetDefault("search.timeout_seconds", 20)
	v.SetDefault("search.bulk_timeout_seconds", 60)
	v.SetDefault("search.rescore_window", 50)
	v.SetDefault("search.max_product_ids_per_batch", 1000)
	v.SetDefault("search.q_length_cap", 200)
	v.SetDefault("search.autocomplete_timeout_seconds", 3)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		OpenSearchAddresses:   v.GetStringSlice("opensearch.addresses"),
		MySQLDSN:              v.GetString("mysql.dsn"),
		HTTPAddr:              v.GetString("http.addr"),
		AdminAddr:             v.GetString("admin.addr"),
		BatchSize:             v.GetInt("indexer.batch_size"),
		MaxOldIndices:         v.GetInt("indexer.max_old_indices"),
		HealthTimeout:         time.Duration(v.GetInt("health.timeout_seconds")) * time.Second,
		SearchTimeout:         time.Duration(v.GetInt("search.timeout_seconds")) * time.Second,
		BulkTimeout:           time.Duration(v.GetInt("search.bulk_timeout_seconds")) * time.Second,
		RescoreWindow:         v.GetInt("search.rescore_window"),
		MaxProductIDsPerBatch: v.GetInt("search.max_product_ids_per_batch"),
		QLengthCap:            v.GetInt("search.q_length_cap"),
		AutocompleteTimeout:   time.Duration(v.GetInt("search.autocomplete_timeout_seconds")) * time.Second,
		SortWhitelist:         sortWhitelist,
	}

	if cfg.MySQLDSN == "" {
		return nil, fmt.Errorf("mysql.dsn (or CATALOGSEARCH_MYSQL_DSN) is required")
	}
	return cfg, nil
}

// IsValidSort reports whether sort is in the whitelist.
func (c *Config) IsValidSort(sort string) bool {
	for _, s := range c.SortWhitelist {
		if s == sort {
			return true
		}
	}
	return false
}
