// Command search-server serves the read-only catalog search API: §4.7's
// search/autocomplete/availability/test endpoints, backed by the search
// engine with a MySQL fallback path when the engine is unavailable.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catalogsearch/search/internal/adminserver"
	"github.com/catalogsearch/search/internal/appconfig"
	"github.com/catalogsearch/search/internal/dynamicdata"
	"github.com/catalogsearch/search/internal/health"
	"github.com/catalogsearch/search/internal/httpapi"
	"github.com/catalogsearch/search/internal/obslog"
	"github.com/catalogsearch/search/internal/queryservice"
	"github.com/catalogsearch/search/internal/search"
	"github.com/catalogsearch/search/internal/store"
)

var (
	configPath        string
	logStyle          string
	logLevel          string
	reindexStatusPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "search-server",
	Short: "Serve the catalog search query API",
	RunE:  serve,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	rootCmd.Flags().StringVar(&logStyle, "log-style", "json", "Log style: terminal, json, logfmt, noop")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	rootCmd.Flags().StringVar(&reindexStatusPath, "reindex-status-file", "reindex-status.json", "Path to the status file search-reindex writes after each run")
}

func serve(cmd *cobra.Command, args []string) error {
	logger := obslog.NewLogger(&obslog.Config{Style: obslog.Style(logStyle), Level: logLevel})
	defer logger.Sync()

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
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

	gate := health.New(backend)
	svc := queryservice.New(backend, relStore, gate, dynamicdata.NoopProvider{}, logger, cfg)

	reindexStatus := func() httpapi.ReindexStatus {
		status, err := httpapi.ReadStatusFile(reindexStatusPath)
		if err != nil {
			logger.Warn("reading reindex status file", zap.Error(err))
		}
		return status
	}

	api := httpapi.NewServer(svc, logger, reindexStatus)

	apiServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting api server", zap.String("addr", cfg.HTTPAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server error", zap.Error(err))
		}
	}()

	adminSrv := adminserver.Start(logger, cfg.AdminAddr, func() bool { return gate.IsAvailable(context.Background()) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", zap.Error(err))
	}
	if err := adminserver.Shutdown(shutdownCtx, adminSrv); err != nil {
		logger.Error("admin server shutdown error", zap.Error(err))
	}
	return nil
}
