package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	// Registers the "mysql" driver with database/sql.
	_ "github.com/go-sql-driver/mysql"

	"github.com/catalogsearch/search/internal/document"
)

// Store is the MySQL-backed RelationalStore (§4.2). It owns a pooled
// *sql.DB; each query draws its own connection from the pool, so no
// connection is held across a whole request or streaming pass.
type Store struct {
	db *sql.DB
}

const pingMaxElapsed = 10 * time.Second

// isRetryablePingError reports whether a connection error is transient
// enough to retry: a server mid-restart or pool churn, not a bad DSN.
func isRetryablePingError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, substr := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"lost connection",
	} {
		if strings.Contains(errStr, substr) {
			return true
		}
	}
	return false
}

// Open connects to MySQL using dsn (a standard go-sql-driver/mysql DSN)
// and verifies connectivity, retrying transient failures with exponential
// backoff since the engine this service fronts may still be starting up.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = pingMaxElapsed
	pingErr := backoff.Retry(func() error {
		err := db.PingContext(ctx)
		if err != nil && isRetryablePingError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to mysql: %w", pingErr)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already-open *sql.DB, for tests and callers that
// manage their own pool configuration.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// TotalProducts counts rows with product_id > 0 (§4.2).
func (s *Store) TotalProducts(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE product_id > 0`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("counting products: %w", err)
	}
	return total, nil
}

const productSelectColumns = `
	p.product_id, p.external_id, p.sku, p.name, p.description,
	p.brand_id, COALESCE(b.name, '') AS brand_name,
	p.series_id, COALESCE(sr.name, '') AS series_name,
	p.unit, p.dimensions, p.min_sale, p.weight,
	p.created_at, p.updated_at
`

const productFromJoins = `
	FROM products p
	LEFT JOIN brands b ON b.brand_id = p.brand_id
	LEFT JOIN series sr ON sr.series_id = p.series_id
`

func scanProductRow(scanner interface{ Scan(...any) error }) (document.Row, error) {
	var row document.Row
	var createdAt, updatedAt sql.NullTime
	err := scanner.Scan(
		&row.ProductID, &row.ExternalID, &row.SKU, &row.Name, &row.Description,
		&row.BrandID, &row.BrandName,
		&row.SeriesID, &row.SeriesName,
		&row.Unit, &row.Dimensions, &row.MinSale, &row.Weight,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return row, err
	}
	if createdAt.Valid {
		row.CreatedAt = &createdAt.Time
	}
	if updatedAt.Valid {
		row.UpdatedAt = &updatedAt.Time
	}
	return row, nil
}

// ProductStream is the lazy, finite sequence of batches §4.2 requires:
// Next returns successive pages ordered by product_id ascending, and an
// empty batch signals termination (§4.4 POPULATE).
type ProductStream struct {
	db        *sql.DB
	batchSize int
	lastID    int64
}

// StreamProducts begins a new streaming pass over the products table.
func (s *Store) StreamProducts(batchSize int) *ProductStream {
	return &ProductStream{db: s.db, batchSize: batchSize}
}

// Next fetches the next batch. An empty, non-error return means the stream
// is exhausted.
func (p *ProductStream) Next(ctx context.Context) ([]document.Row, error) {
	query := `SELECT ` + productSelectColumns + productFromJoins + `
		WHERE p.product_id > ?
		ORDER BY p.product_id ASC
		LIMIT ?`

	rows, err := p.db.QueryContext(ctx, query, p.lastID, p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("streaming products: %w", err)
	}
	defer rows.Close()

	batch := make([]document.Row, 0, p.batchSize)
	for rows.Next() {
		row, err := scanProductRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product row: %w", err)
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating product rows: %w", err)
	}
	if len(batch) > 0 {
		p.lastID = batch[len(batch)-1].ProductID
	}
	return batch, nil
}

// rankingCase is the §4.7 CASE expression. FallbackSearch selects it as
// relevance_score and orders by it; it does not filter rows, so a row that
// matches none of the conditions scores 1 and is still returned.
const rankingCase = `
	CASE
		WHEN p.external_id = ? THEN 1000
		WHEN p.sku = ? THEN 900
		WHEN p.external_id LIKE ? THEN 100
		WHEN p.sku LIKE ? THEN 90
		WHEN p.name = ? THEN 80
		WHEN p.name LIKE ? THEN 50
		WHEN p.name LIKE ? THEN 30
		WHEN COALESCE(b.name, '') LIKE ? THEN 20
		WHEN COALESCE(p.description, '') LIKE ? THEN 10
		ELSE 1
	END
`

func rankingArgs(q string) []any {
	prefix := q + "%"
	contains := "%" + q + "%"
	return []any{q, q, prefix, prefix, q, prefix, contains, contains, contains}
}

// FallbackSearch implements the MySQL path of §4.7: a CASE-based relevance
// score, ordered by score desc then name asc, with LIMIT/OFFSET pagination
// and a companion COUNT query for the total.
func (s *Store) FallbackSearch(ctx context.Context, spec FallbackSearchSpec) (*FallbackSearchResult, error) {
	page := spec.Page
	if page < 1 {
		page = 1
	}
	limit := spec.Limit
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	var whereClauses []string
	var whereArgs []any
	if spec.BrandName != "" {
		whereClauses = append(whereClauses, "COALESCE(b.name, '') = ?")
		whereArgs = append(whereArgs, spec.BrandName)
	}
	if spec.SeriesName != "" {
		whereClauses = append(whereClauses, "COALESCE(sr.name, '') = ?")
		whereArgs = append(whereArgs, spec.SeriesName)
	}
	where := ""
	if len(whereClauses) > 0 {
		where = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	if spec.Query == "" {
		return s.fallbackBrowse(ctx, where, whereArgs, page, limit, offset)
	}

	countQuery := `SELECT COUNT(*) ` + productFromJoins + where
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, whereArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting fallback search results: %w", err)
	}

	selectQuery := `SELECT ` + productSelectColumns + `, (` + rankingCase + `) AS relevance_score ` +
		productFromJoins + where + `
		ORDER BY relevance_score DESC, p.name ASC
		LIMIT ? OFFSET ?`

	finalArgs := make([]any, 0, len(whereArgs)+len(rankingArgs(spec.Query))+2)
	finalArgs = append(finalArgs, rankingArgs(spec.Query)...)
	finalArgs = append(finalArgs, whereArgs...)
	finalArgs = append(finalArgs, limit, offset)

	rows, err := s.db.QueryContext(ctx, selectQuery, finalArgs...)
	if err != nil {
		return nil, fmt.Errorf("fallback search query: %w", err)
	}
	defer rows.Close()

	var results []document.Row
	for rows.Next() {
		var row document.Row
		var createdAt, updatedAt sql.NullTime
		var score int
		if err := rows.Scan(
			&row.ProductID, &row.ExternalID, &row.SKU, &row.Name, &row.Description,
			&row.BrandID, &row.BrandName,
			&row.SeriesID, &row.SeriesName,
			&row.Unit, &row.Dimensions, &row.MinSale, &row.Weight,
			&createdAt, &updatedAt, &score,
		); err != nil {
			return nil, fmt.Errorf("scanning fallback search row: %w", err)
		}
		if createdAt.Valid {
			row.CreatedAt = &createdAt.Time
		}
		if updatedAt.Valid {
			row.UpdatedAt = &updatedAt.Time
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fallback search rows: %w", err)
	}

	return &FallbackSearchResult{Rows: results, Total: total, Page: page, Limit: limit}, nil
}

// fallbackBrowse handles the empty-query branch: the whole (optionally
// filtered) catalogue, ordered by name, no ranking expression needed.
func (s *Store) fallbackBrowse(ctx context.Context, where string, whereArgs []any, page, limit, offset int) (*FallbackSearchResult, error) {
	countQuery := `SELECT COUNT(*) ` + productFromJoins + where
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, whereArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting browse results: %w", err)
	}

	selectQuery := `SELECT ` + productSelectColumns + productFromJoins + where + `
		ORDER BY p.name ASC
		LIMIT ? OFFSET ?`
	args := append(append([]any{}, whereArgs...), limit, offset)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("browse query: %w", err)
	}
	defer rows.Close()

	var results []document.Row
	for rows.Next() {
		row, err := scanProductRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning browse row: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating browse rows: %w", err)
	}

	return &FallbackSearchResult{Rows: results, Total: total, Page: page, Limit: limit}, nil
}

// FallbackAutocomplete implements §4.2's prefix/contains/phonetic ranking:
// prefix matches outrank substring matches, which outrank SOUNDEX matches.
func (s *Store) FallbackAutocomplete(ctx context.Context, query string, limit int) ([]AutocompleteHit, error) {
	if limit < 1 {
		limit = 10
	}
	if limit > 20 {
		limit = 20
	}

	sqlQuery := `
		SELECT external_id, name, score FROM (
			SELECT external_id, name, 100 AS score FROM products WHERE external_id LIKE ? OR name LIKE ?
			UNION ALL
			SELECT external_id, name, 50 AS score FROM products WHERE (external_id LIKE ? OR name LIKE ?) AND NOT (external_id LIKE ? OR name LIKE ?)
			UNION ALL
			SELECT external_id, name, 10 AS score FROM products WHERE SOUNDEX(name) = SOUNDEX(?)
				AND NOT (external_id LIKE ? OR name LIKE ?) AND NOT (external_id LIKE ? OR name LIKE ?)
		) candidates
		ORDER BY score DESC
		LIMIT ?`

	prefix := query + "%"
	contains := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, sqlQuery,
		prefix, prefix,
		contains, contains, prefix, prefix,
		query,
		prefix, prefix, contains, contains,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fallback autocomplete query: %w", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	var hits []AutocompleteHit
	for rows.Next() {
		var externalID, name string
		var score int
		if err := rows.Scan(&externalID, &name, &score); err != nil {
			return nil, fmt.Errorf("scanning autocomplete row: %w", err)
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		hits = append(hits, AutocompleteHit{Text: name, Type: "product", ExternalID: externalID, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating autocomplete rows: %w", err)
	}
	return hits, nil
}
