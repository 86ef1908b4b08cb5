package ledger

import "errors"

var (
	// ErrNotFound is returned when the book or borrow record does not exist,
	// including ids that are not well-formed.
	ErrNotFound = errors.New("not found")

	// ErrOutOfStock is returned when a book has no copies left to lend.
	ErrOutOfStock = errors.New("book is out of stock")

	// ErrAlreadyBorrowed is returned when the borrower already holds a copy of
	// the book and duplicate loans are rejected.
	ErrAlreadyBorrowed = errors.New("borrower already has this book on loan")

	// ErrDanglingReference is returned by ReturnBook when the record was removed
	// but its book no longer exists. The return itself succeeded.
	ErrDanglingReference = errors.New("borrow record referenced a missing book")

	// ErrTransactionFailure is returned when the store kept aborting the
	// transaction and the retry budget ran out. No state was changed.
	ErrTransactionFailure = errors.New("transaction failed")

	// ErrInconsistent is returned when a compensating write could not be
	// applied. Stock and records disagree until repaired.
	ErrInconsistent = errors.New("ledger left inconsistent")
)
