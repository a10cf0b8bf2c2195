package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testTimeout bounds every test operation; the real MySQL roundtrip can be
// slow under load.
const testTimeout = 15 * time.Second

func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), testTimeout)
}

// setupTestStore connects to a real MySQL instance named by TEST_MYSQL_DSN.
// Skipped when that variable is unset: these tests exercise the driver and
// SQL against a live database, not a fake.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set, skipping MySQL-backed store test")
	}

	ctx, cancel := testContext(t)
	defer cancel()

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	seedTestSchema(t, s.db)
	return s
}

func seedTestSchema(t *testing.T, db *sql.DB) {
	t.Helper()
	statements := []string{
		`DROP TABLE IF EXISTS products`,
		`DROP TABLE IF EXISTS brands`,
		`DROP TABLE IF EXISTS series`,
		`CREATE TABLE brands (brand_id BIGINT PRIMARY KEY, name VARCHAR(255))`,
		`CREATE TABLE series (series_id BIGINT PRIMARY KEY, name VARCHAR(255))`,
		`CREATE TABLE products (
			product_id BIGINT PRIMARY KEY,
			external_id VARCHAR(255),
			sku VARCHAR(255),
			name VARCHAR(255),
			description TEXT,
			brand_id BIGINT,
			series_id BIGINT,
			unit VARCHAR(64),
			dimensions VARCHAR(255),
			min_sale BIGINT,
			weight DOUBLE,
			created_at DATETIME NULL,
			updated_at DATETIME NULL
		)`,
		`INSERT INTO brands (brand_id, name) VALUES (1, 'Acme')`,
		`INSERT INTO series (series_id, name) VALUES (1, 'Pro Line')`,
		`INSERT INTO products (product_id, external_id, sku, name, description, brand_id, series_id, unit, dimensions, min_sale, weight)
			VALUES
			(1, 'EXT-001', 'SKU-001', 'Cordless Drill', 'A powerful cordless drill', 1, 1, 'ea', '10x10x5', 1, 1.2),
			(2, 'EXT-002', 'SKU-002', 'Hand Saw', 'Fine-tooth hand saw', 1, NULL, 'ea', '40x5x2', 1, 0.4),
			(3, 'EXT-003', 'SKU-003', 'Drill Bit Set', 'Assorted bits for drills', NULL, NULL, 'set', '20x10x3', 1, 0.6)`,
	}
	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

func TestRankingArgs_OrdersByField(t *testing.T) {
	args := rankingArgs("drill")
	require.Equal(t, []any{"drill", "drill", "drill%", "drill%", "drill", "drill%", "%drill%", "%drill%", "%drill%"}, args)
}

func TestStore_TotalProducts(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := testContext(t)
	defer cancel()

	total, err := s.TotalProducts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
}

func TestStore_StreamProducts_TerminatesOnEmptyBatch(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := testContext(t)
	defer cancel()

	stream := s.StreamProducts(2)

	first, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, int64(1), first[0].ProductID)
	require.Equal(t, "Acme", first[0].BrandName)

	second, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)

	third, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Empty(t, third)
}

func TestStore_FallbackSearch_RanksExactIDAboveSubstring(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := testContext(t)
	defer cancel()

	result, err := s.FallbackSearch(ctx, FallbackSearchSpec{Query: "EXT-001", Page: 1, Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, result.Rows)
	require.Equal(t, int64(1), result.Rows[0].ProductID)
}

func TestStore_FallbackSearch_MatchesDescriptionSubstring(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := testContext(t)
	defer cancel()

	result, err := s.FallbackSearch(ctx, FallbackSearchSpec{Query: "drill", Page: 1, Limit: 10})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(result.Rows), 2)
}

func TestStore_FallbackSearch_EmptyQueryBrowsesAll(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := testContext(t)
	defer cancel()

	result, err := s.FallbackSearch(ctx, FallbackSearchSpec{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 3, result.Total)
}

func TestStore_FallbackAutocomplete_PrefersPrefixMatch(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := testContext(t)
	defer cancel()

	hits, err := s.FallbackAutocomplete(ctx, "Drill", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "Drill Bit Set", hits[0].Text)
}
