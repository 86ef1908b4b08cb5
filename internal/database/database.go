// Package database provides connection management and schema setup for the
// PostgreSQL and SQLite backends.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/Shivanand-hulikatti/library-lending/internal/config"
)

const connectAttempts = 5

// NewPool creates and validates a pgxpool connection pool.
// It retries a few times to accommodate containers starting up.
func NewPool(ctx context.Context, cfg config.PostgresConfig, log logrus.FieldLogger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     connectAttempts,
		}).WithError(err).Warn("db connect failed, retrying in 2s")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect to postgres: %w", err)
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id                TEXT PRIMARY KEY,
		title             TEXT NOT NULL,
		author            TEXT NOT NULL DEFAULT '',
		category          TEXT NOT NULL DEFAULT '',
		image             TEXT NOT NULL DEFAULT '',
		short_description TEXT NOT NULL DEFAULT '',
		content           TEXT NOT NULL DEFAULT '',
		quantity          INTEGER NOT NULL CHECK (quantity >= 0),
		rating            DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS books_category_idx ON books (category)`,
	// No foreign key: a book may be deleted while loans are outstanding.
	`CREATE TABLE IF NOT EXISTS borrow_records (
		id             TEXT PRIMARY KEY,
		book_id        TEXT NOT NULL,
		borrower_email TEXT NOT NULL,
		borrowed_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS borrow_records_book_email_idx ON borrow_records (book_id, borrower_email)`,
	`CREATE INDEX IF NOT EXISTS borrow_records_email_idx ON borrow_records (borrower_email)`,
}

// Migrate creates the tables the service needs. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range postgresSchema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
