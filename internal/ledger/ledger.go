// Package ledger keeps book stock and outstanding borrow records in step.
//
// Every copy of a book is either available (counted in Book.Quantity) or on
// loan (represented by exactly one BorrowRecord). Borrow moves a copy from the
// first state to the second, ReturnBook moves it back, and both moves are
// applied as one unit against the store:
//
//   - on a store that implements Transactor, the quantity change and the
//     record change run in one database transaction, retried as a whole when
//     the database reports a serialization conflict;
//   - on any other store, the quantity change is a conditional
//     decrement-if-positive and a failed record write is undone with a
//     compensating increment, retried with bounded backoff.
//
// Mutual exclusion between concurrent borrows of the same book is the store's
// job (row lock, write transaction, conditional update). The ledger keeps no
// in-process locks so several server instances can share one database.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Shivanand-hulikatti/library-lending/internal/logger"
	"github.com/Shivanand-hulikatti/library-lending/internal/metrics"
	"github.com/Shivanand-hulikatti/library-lending/internal/model"
	"github.com/Shivanand-hulikatti/library-lending/internal/store"
)

// Ledger is the invariant-owning lending service.
type Ledger struct {
	store            store.Store
	log              logrus.FieldLogger
	now              func() time.Time
	newID            func() string
	rejectDuplicates bool
	retry            retryPolicy
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. The default discards output.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithClock overrides time.Now for borrow timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides how borrow record ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithDuplicateLoanPolicy controls whether a borrower may hold more than one
// copy of the same book. Duplicates are rejected by default.
func WithDuplicateLoanPolicy(reject bool) Option {
	return func(l *Ledger) { l.rejectDuplicates = reject }
}

// WithRetry bounds conflict retries and compensation retries. Non-positive
// attempts and negative delays are ignored.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(l *Ledger) {
		if maxAttempts > 0 {
			l.retry.maxAttempts = maxAttempts
		}
		if baseDelay >= 0 {
			l.retry.baseDelay = baseDelay
		}
	}
}

// New constructs a Ledger over store.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:            s,
		log:              logger.Discard(),
		now:              time.Now,
		newID:            func() string { return uuid.New().String() },
		rejectDuplicates: true,
		retry: retryPolicy{
			maxAttempts:  defaultMaxAttempts,
			baseDelay:    defaultBaseDelay,
			jitterFactor: defaultJitterFactor,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Borrow lends one copy of the book to borrowerEmail.
//
// It fails with ErrNotFound when the book does not exist, ErrOutOfStock when
// no copy is available and ErrAlreadyBorrowed when the borrower already holds
// one and duplicates are rejected. On failure the stock is as it was.
func (l *Ledger) Borrow(ctx context.Context, bookID, borrowerEmail string) (*model.BorrowReceipt, error) {
	const op = "borrow"

	id, ok := canonicalID(bookID)
	if !ok {
		l.observe(op, ErrNotFound)
		return nil, ErrNotFound
	}

	var (
		receipt *model.BorrowReceipt
		err     error
	)
	if tx, ok := l.store.(store.Transactor); ok {
		receipt, err = l.borrowTx(ctx, tx, id, borrowerEmail)
	} else {
		receipt, err = l.borrowCompensated(ctx, id, borrowerEmail)
	}
	l.observe(op, err)
	if err != nil {
		return nil, err
	}

	logger.For(ctx, l.log).WithFields(logrus.Fields{
		"book_id":   receipt.Book.ID,
		"record_id": receipt.Record.ID,
		"quantity":  receipt.Book.Quantity,
	}).Info("book borrowed")
	return receipt, nil
}

func (l *Ledger) borrowTx(ctx context.Context, tx store.Transactor, bookID, email string) (*model.BorrowReceipt, error) {
	var receipt *model.BorrowReceipt
	err := l.runTx(ctx, "borrow", tx, func(ctx context.Context, s store.Store) error {
		// Decrement first: it takes the row lock that serializes this book.
		book, err := s.DecrementQuantity(ctx, bookID)
		if err != nil {
			return domainErr(err)
		}
		if l.rejectDuplicates {
			has, err := s.HasActiveLoan(ctx, bookID, email)
			if err != nil {
				return fmt.Errorf("check active loan: %w", err)
			}
			if has {
				return ErrAlreadyBorrowed
			}
		}

		rec := l.newRecord(bookID, email)
		if err := s.InsertBorrowRecord(ctx, rec); err != nil {
			return fmt.Errorf("insert borrow record: %w", err)
		}
		receipt = &model.BorrowReceipt{Record: rec, Book: *book}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (l *Ledger) borrowCompensated(ctx context.Context, bookID, email string) (*model.BorrowReceipt, error) {
	const op = "borrow"

	// Fail fast before touching stock. The check is only exact when the store
	// is a LoanGuard, which repeats it atomically with the insert below.
	if l.rejectDuplicates {
		has, err := l.store.HasActiveLoan(ctx, bookID, email)
		if err != nil {
			return nil, fmt.Errorf("%w: check active loan: %w", ErrTransactionFailure, err)
		}
		if has {
			return nil, ErrAlreadyBorrowed
		}
	}

	var book *model.Book
	err := l.withConflictRetry(ctx, op, func(ctx context.Context) error {
		var err error
		book, err = l.store.DecrementQuantity(ctx, bookID)
		return err
	})
	if err != nil {
		return nil, l.finalErr(op, domainErr(err))
	}

	insert := l.store.InsertBorrowRecord
	if guard, ok := l.store.(store.LoanGuard); ok && l.rejectDuplicates {
		insert = guard.InsertBorrowRecordIfNoActiveLoan
	}

	rec := l.newRecord(bookID, email)
	insertErr := l.withConflictRetry(ctx, op, func(ctx context.Context) error {
		return insert(ctx, rec)
	})
	if insertErr != nil {
		if _, err := l.restoreStock(ctx, op, bookID, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if errors.Is(insertErr, store.ErrActiveLoan) {
			return nil, ErrAlreadyBorrowed
		}
		return nil, fmt.Errorf("%w: insert borrow record: %w", ErrTransactionFailure, insertErr)
	}

	return &model.BorrowReceipt{Record: rec, Book: *book}, nil
}

// ReturnBook closes the loan recordID and puts the copy back on the shelf.
//
// It fails with ErrNotFound, without touching any stock, when the record does
// not exist. When the record pointed at a book that has since been deleted the
// record is still removed and ErrDanglingReference is returned with a nil
// book.
func (l *Ledger) ReturnBook(ctx context.Context, recordID string) (*model.Book, error) {
	const op = "return"

	id, ok := canonicalID(recordID)
	if !ok {
		l.observe(op, ErrNotFound)
		return nil, ErrNotFound
	}

	var (
		book *model.Book
		rec  *model.BorrowRecord
		err  error
	)
	if tx, ok := l.store.(store.Transactor); ok {
		book, rec, err = l.returnTx(ctx, tx, id)
	} else {
		book, rec, err = l.returnCompensated(ctx, id)
	}

	if err == nil && book == nil {
		err = fmt.Errorf("%w: book %s", ErrDanglingReference, rec.BookID)
		logger.For(ctx, l.log).WithFields(logrus.Fields{
			"book_id":   rec.BookID,
			"record_id": rec.ID,
		}).Warn("returned a copy of a book that no longer exists")
	}
	l.observe(op, err)
	if err != nil {
		return nil, err
	}

	logger.For(ctx, l.log).WithFields(logrus.Fields{
		"book_id":   book.ID,
		"record_id": rec.ID,
		"quantity":  book.Quantity,
	}).Info("book returned")
	return book, nil
}

func (l *Ledger) returnTx(ctx context.Context, tx store.Transactor, recordID string) (*model.Book, *model.BorrowRecord, error) {
	var (
		book *model.Book
		rec  *model.BorrowRecord
	)
	err := l.runTx(ctx, "return", tx, func(ctx context.Context, s store.Store) error {
		book, rec = nil, nil

		removed, err := s.DeleteBorrowRecord(ctx, recordID)
		if err != nil {
			return domainErr(err)
		}
		rec = removed

		updated, err := s.IncrementQuantity(ctx, removed.BookID)
		if errors.Is(err, store.ErrNotFound) {
			// Commit the delete anyway; the caller gets a dangling reference.
			return nil
		}
		if err != nil {
			return fmt.Errorf("increment quantity: %w", err)
		}
		book = updated
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return book, rec, nil
}

func (l *Ledger) returnCompensated(ctx context.Context, recordID string) (*model.Book, *model.BorrowRecord, error) {
	const op = "return"

	// The delete is the claim: only the caller that removed the record
	// increments, so one record never restores two copies.
	var rec *model.BorrowRecord
	err := l.withConflictRetry(ctx, op, func(ctx context.Context) error {
		var err error
		rec, err = l.store.DeleteBorrowRecord(ctx, recordID)
		return err
	})
	if err != nil {
		return nil, nil, l.finalErr(op, domainErr(err))
	}

	book, err := l.restoreStock(ctx, op, rec.BookID, rec.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, rec, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return book, rec, nil
}

// runTx runs fn in a store transaction, repeating the whole transaction on
// conflicts. Store failures other than domain errors come back wrapped in
// ErrTransactionFailure; the transaction was rolled back in that case.
func (l *Ledger) runTx(ctx context.Context, op string, tx store.Transactor, fn func(ctx context.Context, s store.Store) error) error {
	err := l.withConflictRetry(ctx, op, func(ctx context.Context) error {
		return tx.InTx(ctx, fn)
	})
	return l.finalErr(op, err)
}

func (l *Ledger) withConflictRetry(ctx context.Context, op string, fn attemptFunc) error {
	_, err := retryWithBackoff(ctx, l.retry, isConflict, l.onRetry(ctx, op), fn)
	return err
}

// restoreStock puts one copy of bookID back. It ignores the caller's
// cancellation because giving up half way is what leaves stock wrong.
// store.ErrNotFound is passed through; it means there is no stock left
// to restore. Any other failure after the retry budget is ErrInconsistent.
func (l *Ledger) restoreStock(ctx context.Context, op, bookID, recordID string) (*model.Book, error) {
	detached := context.WithoutCancel(ctx)

	var book *model.Book
	_, err := retryWithBackoff(detached, l.retry,
		func(err error) bool { return !errors.Is(err, store.ErrNotFound) },
		l.onRetry(ctx, op),
		func(ctx context.Context) error {
			var err error
			book, err = l.store.IncrementQuantity(ctx, bookID)
			return err
		},
	)
	switch {
	case err == nil:
		return book, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	metrics.LedgerInconsistencies.WithLabelValues(op).Inc()
	logger.For(ctx, l.log).WithFields(logrus.Fields{
		"op":        op,
		"book_id":   bookID,
		"record_id": recordID,
	}).WithError(err).Error("could not restore book quantity, manual repair needed")
	return nil, fmt.Errorf("%w: restore quantity of book %s: %w", ErrInconsistent, bookID, err)
}

func (l *Ledger) onRetry(ctx context.Context, op string) func(int, error) {
	return func(attempt int, err error) {
		metrics.LedgerRetries.WithLabelValues(op).Inc()
		logger.For(ctx, l.log).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
		}).WithError(err).Debug("retrying store operation")
	}
}

// finalErr passes domain errors through and turns anything else into a
// transaction failure.
func (l *Ledger) finalErr(op string, err error) error {
	if err == nil || isDomainErr(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransactionFailure, op, err)
}

func (l *Ledger) newRecord(bookID, email string) model.BorrowRecord {
	return model.BorrowRecord{
		ID:            l.newID(),
		BookID:        bookID,
		BorrowerEmail: email,
		BorrowedAt:    l.now().UTC().Truncate(time.Microsecond),
	}
}

func (l *Ledger) observe(op string, err error) {
	metrics.LedgerOperations.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrAlreadyBorrowed):
		return "already_borrowed"
	case errors.Is(err, ErrDanglingReference):
		return "dangling_reference"
	case errors.Is(err, ErrInconsistent):
		return "inconsistent"
	case errors.Is(err, ErrTransactionFailure):
		return "transaction_failure"
	default:
		return "error"
	}
}

func domainErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrOutOfStock):
		return ErrOutOfStock
	}
	return err
}

func isDomainErr(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrAlreadyBorrowed) ||
		errors.Is(err, ErrInconsistent) ||
		errors.Is(err, ErrTransactionFailure)
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict)
}

// canonicalID validates a UUID and returns its canonical form.
func canonicalID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}
