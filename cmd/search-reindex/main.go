// Command search-reindex runs one pass of the zero-downtime reindex
// workflow (§4.4) and exits; it is meant to be invoked by a scheduler
// (cron, Kubernetes CronJob) rather than run as a daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catalogsearch/search/internal/appconfig"
	"github.com/catalogsearch/search/internal/httpapi"
	"github.com/catalogsearch/search/internal/indexer"
	"github.com/catalogsearch/search/internal/obslog"
	"github.com/catalogsearch/search/internal/search"
	"github.com/catalogsearch/search/internal/store"
)

var (
	configPath        string
	schemaPath        string
	logStyle          string
	logLevel          string
	reindexStatusPath string
	batchSizeOverride int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "search-reindex",
	Short: "Run one zero-downtime reindex pass against the search engine",
	Long: `search-reindex streams every product out of the relational store,
builds a fresh search index under a generation-stamped name, validates it,
and atomically swaps the products_current alias onto it before retiring
old generations.`,
	RunE: runReindex,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	rootCmd.Flags().StringVar(&schemaPath, "schema", "schema.json", "Path to the index schema/mappings file")
	rootCmd.Flags().StringVar(&logStyle, "log-style", "json", "Log style: terminal, json, logfmt, noop")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	rootCmd.Flags().StringVar(&reindexStatusPath, "reindex-status-file", "reindex-status.json", "Path to write the run's status for search-server to serve")
	rootCmd.Flags().IntVar(&batchSizeOverride, "batch-size", 0, "Override the configured batch size (0 = use config)")
}

func runReindex(cmd *cobra.Command, args []string) error {
	logger := obslog.NewLogger(&obslog.Config{Style: obslog.Style(logStyle), Level: logLevel})
	defer logger.Sync()

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSizeOverride > 0 {
		batchSize = batchSizeOverride
	}

	esClient, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.OpenSearchAddresses})
	if err != nil {
		return fmt.Errorf("creating search client: %w", err)
	}
	backend := search.NewESBackend(esClient)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	relStore, err := store.Open(ctx, cfg.MySQLDSN)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to relational store: %w", err)
	}
	defer relStore.Close()

	pipeline := indexer.New(backend, indexer.NewProductSource(relStore), indexer.Config{
		BatchSize:     batchSize,
		MaxOldIndices: cfg.MaxOldIndices,
		SchemaPath:    schemaPath,
	}, logger)

	runCtx, runCancel := context.WithTimeout(context.Background(), cfg.BulkTimeout*10)
	defer runCancel()

	result, runErr := pipeline.Run(runCtx)

	status := httpapi.StatusFromResult(result, time.Now(), runErr)
	if writeErr := httpapi.WriteStatusFile(reindexStatusPath, status); writeErr != nil {
		logger.Warn("writing reindex status file", zap.Error(writeErr))
	}

	if runErr != nil {
		return fmt.Errorf("reindex run failed: %w", runErr)
	}

	logger.Info("reindex run finished",
		zap.String("run_id", result.RunID),
		zap.String("index", result.IndexName),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("item_errors", result.ItemErrs),
	)
	return nil
}
