package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/library-lending/internal/model"
	"github.com/Shivanand-hulikatti/library-lending/internal/store"
)

// querier is the part of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const bookSelect = `SELECT id, title, author, category, image, short_description, content, quantity, rating, created_at FROM books`

const bookReturning = `RETURNING id, title, author, category, image, short_description, content, quantity, rating, created_at`

// PostgresStore persists books and borrow records in PostgreSQL using pgx
// directly (no ORM).
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresStore constructs a PostgresStore on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// InTx runs fn inside one transaction. The store handed to fn issues every
// statement on that transaction.
//
// Stock is protected by the conditional UPDATE in DecrementQuantity: it takes
// the row lock on the book, so a second transaction borrowing the same book
// blocks until the first commits or rolls back and then re-evaluates
// "quantity > 0" against the committed row. Two borrows of the last copy can
// never both succeed, no matter how many server processes share the database.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, st store.Store) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classifyPg(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, &PostgresStore{pool: s.pool, q: tx}); err != nil {
		return classifyPg(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", classifyPg(err))
	}
	return nil
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

// ListBooks returns books ordered by title, optionally filtered by category.
func (s *PostgresStore) ListBooks(ctx context.Context, category string) ([]model.Book, error) {
	query, args, err := listBooksQuery("postgres", category)
	if err != nil {
		return nil, err
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

// GetBook returns a single book or store.ErrNotFound.
func (s *PostgresStore) GetBook(ctx context.Context, id string) (*model.Book, error) {
	b, err := scanBook(s.q.QueryRow(ctx, bookSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

// CreateBook inserts b as given; the caller assigns the id.
func (s *PostgresStore) CreateBook(ctx context.Context, b model.Book) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO books (id, title, author, category, image, short_description, content, quantity, rating, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.Title, b.Author, b.Category, b.Image, b.ShortDescription, b.Content, b.Quantity, b.Rating, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// UpdateBookMetadata replaces everything but quantity and returns the result.
func (s *PostgresStore) UpdateBookMetadata(ctx context.Context, id string, req model.UpdateBookRequest) (*model.Book, error) {
	b, err := scanBook(s.q.QueryRow(ctx,
		`UPDATE books
		 SET title = $2, author = $3, category = $4, image = $5, short_description = $6, content = $7, rating = $8
		 WHERE id = $1 `+bookReturning,
		id, req.Title, req.Author, req.Category, req.Image, req.ShortDescription, req.Content, req.Rating,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("update book: %w", err)
	}
	return b, nil
}

// DeleteBook removes a book. Outstanding records for it are left in place.
func (s *PostgresStore) DeleteBook(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CountBooks returns the catalog size.
func (s *PostgresStore) CountBooks(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM books`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

// ListBorrowRecords returns outstanding loans, optionally for one borrower.
func (s *PostgresStore) ListBorrowRecords(ctx context.Context, email string) ([]model.BorrowRecord, error) {
	query, args, err := listRecordsQuery("postgres", email)
	if err != nil {
		return nil, err
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list borrow records: %w", err)
	}
	defer rows.Close()

	var recs []model.BorrowRecord
	for rows.Next() {
		var r model.BorrowRecord
		if err := rows.Scan(&r.ID, &r.BookID, &r.BorrowerEmail, &r.BorrowedAt); err != nil {
			return nil, fmt.Errorf("scan borrow record: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// ─── Ledger store ─────────────────────────────────────────────────────────────

// DecrementQuantity takes one copy off the shelf if there is one.
func (s *PostgresStore) DecrementQuantity(ctx context.Context, bookID string) (*model.Book, error) {
	b, err := scanBook(s.q.QueryRow(ctx,
		`UPDATE books SET quantity = quantity - 1
		 WHERE id = $1 AND quantity > 0 `+bookReturning,
		bookID,
	))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decrement quantity: %w", classifyPg(err))
	}
	// Nothing updated: either the book is missing or the shelf is empty.
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	return nil, store.ErrOutOfStock
}

// IncrementQuantity puts one copy back on the shelf.
func (s *PostgresStore) IncrementQuantity(ctx context.Context, bookID string) (*model.Book, error) {
	b, err := scanBook(s.q.QueryRow(ctx,
		`UPDATE books SET quantity = quantity + 1 WHERE id = $1 `+bookReturning,
		bookID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("increment quantity: %w", classifyPg(err))
	}
	return b, nil
}

// InsertBorrowRecord stores a new loan.
func (s *PostgresStore) InsertBorrowRecord(ctx context.Context, rec model.BorrowRecord) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO borrow_records (id, book_id, borrower_email, borrowed_at)
		 VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.BookID, rec.BorrowerEmail, rec.BorrowedAt,
	)
	if err != nil {
		return fmt.Errorf("insert borrow record: %w", classifyPg(err))
	}
	return nil
}

// DeleteBorrowRecord removes a loan and returns it.
func (s *PostgresStore) DeleteBorrowRecord(ctx context.Context, id string) (*model.BorrowRecord, error) {
	var r model.BorrowRecord
	err := s.q.QueryRow(ctx,
		`DELETE FROM borrow_records WHERE id = $1
		 RETURNING id, book_id, borrower_email, borrowed_at`,
		id,
	).Scan(&r.ID, &r.BookID, &r.BorrowerEmail, &r.BorrowedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("delete borrow record: %w", classifyPg(err))
	}
	return &r, nil
}

// HasActiveLoan reports whether email currently holds a copy of bookID.
func (s *PostgresStore) HasActiveLoan(ctx context.Context, bookID, email string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM borrow_records WHERE book_id = $1 AND borrower_email = $2)`,
		bookID, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active loan: %w", classifyPg(err))
	}
	return exists, nil
}

func scanBook(row pgx.Row) (*model.Book, error) {
	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Category, &b.Image,
		&b.ShortDescription, &b.Content, &b.Quantity, &b.Rating, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Postgres error codes worth retrying the whole transaction for.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// classifyPg marks serialization failures and deadlocks as store.ErrConflict while
// keeping the original error in the chain.
func classifyPg(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
	}
	return err
}
