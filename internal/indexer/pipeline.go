// Package indexer implements the zero-downtime reindex workflow (§4.4):
// preflight, schema-driven index creation, streamed bulk population,
// post-build validation, atomic alias cut-over, and generational retention.
package indexer

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catalogsearch/search/internal/document"
	"github.com/catalogsearch/search/internal/jsonutil"
	"github.com/catalogsearch/search/internal/search"
	"github.com/catalogsearch/search/internal/store"
)

const (
	currentAlias = "products_current"

	docCountTolerance   = 10
	createPollAttempts  = 15
	createPollInterval  = 2 * time.Second
	batchGCInterval     = 10
	batchPauseInterval  = 50
	batchPause          = 1 * time.Second
	bulkRetryMaxElapsed = 30 * time.Second
)

// indexNameLayout produces the fixed-width timestamp format RETENT's
// lexicographic sort depends on (§9 Open Question 2: standardized on UTC).
const indexNameLayout = "2006_01_02_15_04_05"

// ProductStream is the lazy, finite batch sequence the populate stage
// consumes; store.ProductStream satisfies this.
type ProductStream interface {
	Next(ctx context.Context) ([]document.Row, error)
}

// ProductSource is the subset of RelationalStore the pipeline needs.
type ProductSource interface {
	TotalProducts(ctx context.Context) (int64, error)
	StreamProducts(batchSize int) ProductStream
}

// storeAdapter adapts *store.Store's concrete *store.ProductStream return
// value to the indexer's narrower ProductStream interface.
type storeAdapter struct{ s *store.Store }

// NewProductSource wraps a relational store for use by the pipeline.
func NewProductSource(s *store.Store) ProductSource {
	return storeAdapter{s: s}
}

func (a storeAdapter) TotalProducts(ctx context.Context) (int64, error) {
	return a.s.TotalProducts(ctx)
}

func (a storeAdapter) StreamProducts(batchSize int) ProductStream {
	return a.s.StreamProducts(batchSize)
}

// Config bundles the tunables §6 fixes as constants.
type Config struct {
	BatchSize     int
	MaxOldIndices int
	SchemaPath    string
}

// Result summarizes a completed run. RunID identifies this pass in the
// pipeline's run-scoped log lines and in search-reindex's final log line;
// it is not part of the reindex status file.
type Result struct {
	RunID     string
	IndexName string
	Processed int
	Skipped   int
	ItemErrs  int
}

// newRunID generates a time-ordered identifier for one reindex pass,
// falling back to a random UUID on the rare NewV7 failure.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// Pipeline runs one reindex pass. It is not safe for concurrent Run calls:
// the indexer is a single-writer batch job.
type Pipeline struct {
	backend search.Backend
	source  ProductSource
	cfg     Config
	logger  *zap.Logger

	now func() time.Time
}

func New(backend search.Backend, source ProductSource, cfg Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{backend: backend, source: source, cfg: cfg, logger: logger, now: time.Now}
}

// Run executes PREFLIGHT → ... → RETENT, running CLEANUP_PARTIAL on any
// failure after CREATE and before a successful SWAP (§4.4 Failure
// semantics). A CREATE failure returns without deleting anything.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	runID := newRunID()
	logger := p.logger.With(zap.String("run_id", runID))

	schema, err := p.preflight()
	if err != nil {
		return nil, fmt.Errorf("PREFLIGHT: %w", err)
	}

	if err := p.connect(ctx); err != nil {
		return nil, fmt.Errorf("CONNECT: %w", err)
	}

	currentTargets, err := p.analyze(ctx)
	if err != nil {
		return nil, fmt.Errorf("ANALYZE: %w", err)
	}

	newIndexName := p.now().UTC().Format(indexNameLayout)
	newIndexName = "products_" + newIndexName

	if err := p.create(ctx, newIndexName, schema); err != nil {
		return nil, fmt.Errorf("CREATE: %w", err)
	}

	processed, skipped, itemErrs, err := p.populate(ctx, newIndexName)
	if err != nil {
		p.cleanupPartial(ctx, newIndexName)
		return nil, fmt.Errorf("POPULATE: %w", err)
	}

	if err := p.validate(ctx, newIndexName, processed); err != nil {
		p.cleanupPartial(ctx, newIndexName)
		return nil, fmt.Errorf("VALIDATE: %w", err)
	}

	if err := p.swap(ctx, newIndexName, currentTargets); err != nil {
		p.cleanupPartial(ctx, newIndexName)
		return nil, fmt.Errorf("SWAP: %w", err)
	}

	if err := p.retent(ctx); err != nil {
		logger.Warn("RETENT failed, non-fatal", zap.Error(err))
	}

	logger.Info("reindex complete", zap.String("index", newIndexName), zap.Int("processed", processed), zap.Int("skipped", skipped))
	return &Result{RunID: runID, IndexName: newIndexName, Processed: processed, Skipped: skipped, ItemErrs: itemErrs}, nil
}

func (p *Pipeline) preflight() (Schema, error) {
	return LoadSchema(p.cfg.SchemaPath)
}

func (p *Pipeline) connect(ctx context.Context) error {
	health, err := p.backend.ClusterHealth(ctx, 5*time.Second)
	if err != nil {
		return fmt.Errorf("checking cluster health: %w", err)
	}
	if health.Status == search.StatusRed {
		return fmt.Errorf("cluster status is red")
	}
	return nil
}

func (p *Pipeline) analyze(ctx context.Context) ([]string, error) {
	targets, err := p.backend.GetAlias(ctx, currentAlias)
	if err != nil {
		return nil, fmt.Errorf("reading current alias target: %w", err)
	}

	total, err := p.source.TotalProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting products: %w", err)
	}
	if total == 0 {
		return nil, fmt.Errorf("relational store has zero products")
	}
	return targets, nil
}

func (p *Pipeline) create(ctx context.Context, name string, schema Schema) error {
	exists, err := p.backend.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking index existence: %w", err)
	}
	if exists {
		if err := p.backend.DeleteIndex(ctx, name); err != nil {
			return fmt.Errorf("deleting pre-existing index %s: %w", name, err)
		}
		deleteBo := backoff.WithMaxRetries(backoff.NewConstantBackOff(createPollInterval), createPollAttempts-1)
		waitErr := backoff.Retry(func() error {
			stillExists, err := p.backend.IndexExists(ctx, name)
			if err != nil {
				return err
			}
			if stillExists {
				return fmt.Errorf("index %s still exists", name)
			}
			return nil
		}, backoff.WithContext(deleteBo, ctx))
		if waitErr != nil {
			return fmt.Errorf("waiting for pre-existing index %s to delete: %w", name, waitErr)
		}
	}

	if err := p.backend.CreateIndex(ctx, name, schema.Bytes()); err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(createPollInterval), createPollAttempts-1)
	pollErr := backoff.Retry(func() error {
		health, err := p.backend.IndexHealth(ctx, name, 10*time.Second)
		if err == nil && (health.Status == search.StatusGreen || health.Status == search.StatusYellow) {
			return nil
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("index status is %s", health.Status)
	}, backoff.WithContext(bo, ctx))
	if pollErr != nil {
		return fmt.Errorf("index %s never reached yellow/green health: %w", name, pollErr)
	}
	return nil
}

// bulkWithRetry retries a failed Bulk call on transient transport errors
// (connection resets, timeouts) with exponential backoff, the same
// tolerance the relational store's connection setup applies to MySQL.
func (p *Pipeline) bulkWithRetry(ctx context.Context, indexName string, items []search.BulkItem) (*search.BulkResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = bulkRetryMaxElapsed

	var result *search.BulkResult
	err := backoff.Retry(func() error {
		var bulkErr error
		result, bulkErr = p.backend.Bulk(ctx, indexName, items)
		if bulkErr != nil && isRetryableTransportError(bulkErr) {
			return bulkErr
		}
		if bulkErr != nil {
			return backoff.Permanent(bulkErr)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	return result, err
}

func isRetryableTransportError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, substr := range []string{"connection reset", "broken pipe", "timeout", "connection refused", "eof"} {
		if strings.Contains(errStr, substr) {
			return true
		}
	}
	return false
}

func (p *Pipeline) populate(ctx context.Context, indexName string) (processed, skipped, itemErrs int, err error) {
	stream := p.source.StreamProducts(p.cfg.BatchSize)
	now := p.now()
	batchNum := 0

	for {
		batch, streamErr := stream.Next(ctx)
		if streamErr != nil {
			return processed, skipped, itemErrs, fmt.Errorf("streaming products: %w", streamErr)
		}
		if len(batch) == 0 {
			break
		}
		batchNum++

		var items []search.BulkItem
		for _, row := range batch {
			doc, skip := document.Build(row, now)
			if skip != nil {
				skipped++
				if skipped <= 5 {
					p.logger.Info("skipping row", zap.Int64("product_id", skip.ProductID), zap.String("reason", string(skip.Reason)))
				}
				continue
			}
			body, marshalErr := jsonutil.Marshal(doc)
			if marshalErr != nil {
				skipped++
				continue
			}
			items = append(items, search.BulkItem{ID: idString(doc.ProductID), Body: body})
		}

		if len(items) > 0 {
			result, bulkErr := p.bulkWithRetry(ctx, indexName, items)
			if bulkErr != nil {
				return processed, skipped, itemErrs, fmt.Errorf("bulk upload: %w", bulkErr)
			}
			processed += result.IndexedCount
			itemErrs += len(result.ItemErrors)
			for i, itemErr := range result.ItemErrors {
				if i >= 5 {
					break
				}
				p.logger.Warn("bulk item error", zap.String("id", itemErr.ID), zap.String("reason", itemErr.Reason))
			}
		}

		if batchNum%batchGCInterval == 0 {
			runtime.GC()
		}

		if batchNum%batchPauseInterval == 0 {
			select {
			case <-ctx.Done():
				return processed, skipped, itemErrs, ctx.Err()
			case <-time.After(batchPause):
			}
		}
	}

	return processed, skipped, itemErrs, nil
}

func (p *Pipeline) validate(ctx context.Context, indexName string, processed int) error {
	if err := p.backend.Refresh(ctx, indexName); err != nil {
		return fmt.Errorf("refreshing index: %w", err)
	}

	stats, err := p.backend.Stats(ctx, indexName)
	if err != nil {
		return fmt.Errorf("reading index stats: %w", err)
	}
	diff := stats.DocCount - int64(processed)
	if diff < 0 {
		diff = -diff
	}
	if diff > docCountTolerance {
		return fmt.Errorf("doc count mismatch: index has %d, processed %d", stats.DocCount, processed)
	}

	probeBody, err := jsonutil.Marshal(map[string]any{"size": 5, "query": map[string]any{"match_all": map[string]any{}}})
	if err != nil {
		return fmt.Errorf("marshaling validation probe: %w", err)
	}
	result, err := p.backend.Search(ctx, indexName, probeBody)
	if err != nil {
		return fmt.Errorf("running validation probe: %w", err)
	}
	if result.Total < 1 {
		return fmt.Errorf("validation probe returned zero documents")
	}
	return nil
}

func (p *Pipeline) swap(ctx context.Context, newIndexName string, currentTargets []string) error {
	var actions []search.AliasAction
	for _, target := range currentTargets {
		if target != newIndexName {
			actions = append(actions, search.AliasAction{Action: search.AliasRemove, Index: target, Alias: currentAlias})
		}
	}
	actions = append(actions, search.AliasAction{Action: search.AliasAdd, Index: newIndexName, Alias: currentAlias})

	return p.backend.UpdateAliases(ctx, actions)
}

func (p *Pipeline) retent(ctx context.Context) error {
	indices, err := p.backend.ListIndices(ctx, "products_*")
	if err != nil {
		return fmt.Errorf("listing indices: %w", err)
	}

	_, drop := selectRetained(indices, p.cfg.MaxOldIndices)
	for _, name := range drop {
		if err := p.backend.DeleteIndex(ctx, name); err != nil {
			p.logger.Warn("failed to delete retired index", zap.String("index", name), zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) cleanupPartial(ctx context.Context, indexName string) {
	if err := p.backend.DeleteIndex(ctx, indexName); err != nil {
		p.logger.Warn("CLEANUP_PARTIAL: failed to delete partial index", zap.String("index", indexName), zap.Error(err))
	}
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
