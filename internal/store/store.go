// Package store defines the persistence contract shared by the lending ledger
// and the storage backends in package repository.
package store

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/library-lending/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrOutOfStock is returned by a conditional decrement on a book with no
// copies left.
var ErrOutOfStock = errors.New("no copies available")

// ErrConflict marks a transient store failure (serialization failure,
// deadlock, busy database). The whole transaction may be retried.
var ErrConflict = errors.New("transaction conflict")

// ErrActiveLoan is returned by LoanGuard when the borrower already holds a
// copy of the book.
var ErrActiveLoan = errors.New("borrower has an active loan")

// Store is the persistence the ledger coordinates. Implementations report
// missing rows with ErrNotFound, an empty shelf with ErrOutOfStock and
// retryable aborts with ErrConflict.
type Store interface {
	// GetBook returns the book with the given id.
	GetBook(ctx context.Context, id string) (*model.Book, error)
	// DecrementQuantity lowers quantity by one only if it is positive and
	// returns the updated book.
	DecrementQuantity(ctx context.Context, bookID string) (*model.Book, error)
	// IncrementQuantity raises quantity by one and returns the updated book.
	IncrementQuantity(ctx context.Context, bookID string) (*model.Book, error)
	InsertBorrowRecord(ctx context.Context, rec model.BorrowRecord) error
	// DeleteBorrowRecord removes the record and returns it as it was.
	DeleteBorrowRecord(ctx context.Context, id string) (*model.BorrowRecord, error)
	HasActiveLoan(ctx context.Context, bookID, borrowerEmail string) (bool, error)
}

// Transactor is implemented by stores that can run several Store calls as one
// atomic transaction. fn receives a Store bound to the transaction; returning
// an error from fn rolls everything back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

// LoanGuard is implemented by non-transactional stores that can check for an
// outstanding loan and insert the new record as one atomic step.
type LoanGuard interface {
	InsertBorrowRecordIfNoActiveLoan(ctx context.Context, rec model.BorrowRecord) error
}
