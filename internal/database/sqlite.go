package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteSchemaVersion = 1

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id                TEXT PRIMARY KEY,
		title             TEXT NOT NULL,
		author            TEXT NOT NULL DEFAULT '',
		category          TEXT NOT NULL DEFAULT '',
		image             TEXT NOT NULL DEFAULT '',
		short_description TEXT NOT NULL DEFAULT '',
		content           TEXT NOT NULL DEFAULT '',
		quantity          INTEGER NOT NULL CHECK (quantity >= 0),
		rating            REAL NOT NULL DEFAULT 0,
		created_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS books_category_idx ON books (category)`,
	`CREATE TABLE IF NOT EXISTS borrow_records (
		id             TEXT PRIMARY KEY,
		book_id        TEXT NOT NULL,
		borrower_email TEXT NOT NULL,
		borrowed_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS borrow_records_book_email_idx ON borrow_records (book_id, borrower_email)`,
	`CREATE INDEX IF NOT EXISTS borrow_records_email_idx ON borrow_records (borrower_email)`,
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
//
// The handle is limited to one connection and write transactions start
// IMMEDIATE, so concurrent read-modify-write cycles on a book serialize inside
// SQLite rather than failing late with SQLITE_BUSY.
func OpenSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_txlock", "immediate")
	q.Add("_time_format", "sqlite")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateSQLite(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return fmt.Errorf("create meta: %w", err)
	}

	var current int
	_ = db.GetContext(ctx, &current, `SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'schema_version'`)
	if current >= sqliteSchemaVersion {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range sqliteSchema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprint(sqliteSchemaVersion),
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}
