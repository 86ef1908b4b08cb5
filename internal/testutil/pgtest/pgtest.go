// Package pgtest hands tests a migrated, empty PostgreSQL schema on the
// database named by LENDING_TEST_DATABASE_URL.
package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/library-lending/internal/database"
)

// EnvURL names the variable holding the disposable test database URL.
const EnvURL = "LENDING_TEST_DATABASE_URL"

// NewPool returns a pool whose search_path is schema, with the lending tables
// created and emptied. Test packages pass distinct schemas so they can run in
// parallel against one database. The test is skipped when EnvURL is unset.
func NewPool(t *testing.T, schema string) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skip(EnvURL + " not set")
	}
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize())
	require.NoError(t, err)
	require.NoError(t, conn.Close(ctx))

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE books, borrow_records`)
	require.NoError(t, err)
	return pool
}
