package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Shivanand-hulikatti/library-lending/internal/model"
	"github.com/Shivanand-hulikatti/library-lending/internal/store"
)

const sqliteBookSelect = `SELECT id, title, author, category, image, short_description, content, quantity, rating, created_at FROM books`

// SQLiteStore persists books and borrow records in an embedded SQLite
// database through sqlx.
type SQLiteStore struct {
	db *sqlx.DB
	q  sqlx.ExtContext
}

// NewSQLiteStore constructs a SQLiteStore on db (see database.OpenSQLite).
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db, q: db}
}

// InTx runs fn inside one IMMEDIATE transaction, which holds SQLite's write
// lock from the first statement on. Concurrent borrows therefore run one
// after another and each sees the quantity the previous one committed.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(ctx context.Context, st store.Store) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classifySQLite(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &SQLiteStore{db: s.db, q: tx}); err != nil {
		return classifySQLite(err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classifySQLite(err))
	}
	return nil
}

// ListBooks returns books ordered by title, optionally filtered by category.
func (s *SQLiteStore) ListBooks(ctx context.Context, category string) ([]model.Book, error) {
	query, args, err := listBooksQuery("sqlite3", category)
	if err != nil {
		return nil, err
	}
	var books []model.Book
	if err := sqlx.SelectContext(ctx, s.q, &books, query, args...); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// GetBook returns a single book or store.ErrNotFound.
func (s *SQLiteStore) GetBook(ctx context.Context, id string) (*model.Book, error) {
	var b model.Book
	if err := sqlx.GetContext(ctx, s.q, &b, sqliteBookSelect+` WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get book: %w", classifySQLite(err))
	}
	return &b, nil
}

// CreateBook inserts b as given; the caller assigns the id.
func (s *SQLiteStore) CreateBook(ctx context.Context, b model.Book) error {
	_, err := sqlx.NamedExecContext(ctx, s.q,
		`INSERT INTO books (id, title, author, category, image, short_description, content, quantity, rating, created_at)
		 VALUES (:id, :title, :author, :category, :image, :short_description, :content, :quantity, :rating, :created_at)`,
		b,
	)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// UpdateBookMetadata replaces everything but quantity and returns the result.
func (s *SQLiteStore) UpdateBookMetadata(ctx context.Context, id string, req model.UpdateBookRequest) (*model.Book, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE books
		 SET title = ?, author = ?, category = ?, image = ?, short_description = ?, content = ?, rating = ?
		 WHERE id = ?`,
		req.Title, req.Author, req.Category, req.Image, req.ShortDescription, req.Content, req.Rating, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetBook(ctx, id)
}

// DeleteBook removes a book. Outstanding records for it are left in place.
func (s *SQLiteStore) DeleteBook(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CountBooks returns the catalog size.
func (s *SQLiteStore) CountBooks(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, s.q, &n, `SELECT COUNT(*) FROM books`); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

// ListBorrowRecords returns outstanding loans, optionally for one borrower.
func (s *SQLiteStore) ListBorrowRecords(ctx context.Context, email string) ([]model.BorrowRecord, error) {
	query, args, err := listRecordsQuery("sqlite3", email)
	if err != nil {
		return nil, err
	}
	var recs []model.BorrowRecord
	if err := sqlx.SelectContext(ctx, s.q, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("list borrow records: %w", err)
	}
	return recs, nil
}

// DecrementQuantity takes one copy off the shelf if there is one. The
// "quantity > 0" guard lives in the UPDATE itself.
func (s *SQLiteStore) DecrementQuantity(ctx context.Context, bookID string) (*model.Book, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE books SET quantity = quantity - 1 WHERE id = ? AND quantity > 0`, bookID)
	if err != nil {
		return nil, fmt.Errorf("decrement quantity: %w", classifySQLite(err))
	}
	b, err := s.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrOutOfStock
	}
	return b, nil
}

// IncrementQuantity puts one copy back on the shelf.
func (s *SQLiteStore) IncrementQuantity(ctx context.Context, bookID string) (*model.Book, error) {
	res, err := s.q.ExecContext(ctx, `UPDATE books SET quantity = quantity + 1 WHERE id = ?`, bookID)
	if err != nil {
		return nil, fmt.Errorf("increment quantity: %w", classifySQLite(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetBook(ctx, bookID)
}

// InsertBorrowRecord stores a new loan.
func (s *SQLiteStore) InsertBorrowRecord(ctx context.Context, rec model.BorrowRecord) error {
	_, err := sqlx.NamedExecContext(ctx, s.q,
		`INSERT INTO borrow_records (id, book_id, borrower_email, borrowed_at)
		 VALUES (:id, :book_id, :borrower_email, :borrowed_at)`,
		rec,
	)
	if err != nil {
		return fmt.Errorf("insert borrow record: %w", classifySQLite(err))
	}
	return nil
}

// DeleteBorrowRecord removes a loan and returns it. Only the caller whose
// DELETE actually removed the row gets the record back.
func (s *SQLiteStore) DeleteBorrowRecord(ctx context.Context, id string) (*model.BorrowRecord, error) {
	var r model.BorrowRecord
	err := sqlx.GetContext(ctx, s.q, &r,
		`SELECT id, book_id, borrower_email, borrowed_at FROM borrow_records WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get borrow record: %w", classifySQLite(err))
	}

	res, err := s.q.ExecContext(ctx, `DELETE FROM borrow_records WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("delete borrow record: %w", classifySQLite(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

// HasActiveLoan reports whether email currently holds a copy of bookID.
func (s *SQLiteStore) HasActiveLoan(ctx context.Context, bookID, email string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n,
		`SELECT COUNT(*) FROM borrow_records WHERE book_id = ? AND borrower_email = ?`, bookID, email)
	if err != nil {
		return false, fmt.Errorf("check active loan: %w", classifySQLite(err))
	}
	return n > 0, nil
}

// classifySQLite marks busy and locked databases as store.ErrConflict.
func classifySQLite(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
	}
	return err
}
