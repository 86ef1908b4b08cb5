package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/library-lending/internal/database"
	"github.com/Shivanand-hulikatti/library-lending/internal/ledger"
	"github.com/Shivanand-hulikatti/library-lending/internal/model"
	"github.com/Shivanand-hulikatti/library-lending/internal/repository"
	"github.com/Shivanand-hulikatti/library-lending/internal/store"
	"github.com/Shivanand-hulikatti/library-lending/internal/testutil/pgtest"
)

// backend is a ledger store that also lets tests arrange books.
type backend interface {
	store.Store
	CreateBook(ctx context.Context, b model.Book) error
	DeleteBook(ctx context.Context, id string) error
	ListBorrowRecords(ctx context.Context, email string) ([]model.BorrowRecord, error)
}

func newSQLite(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "lending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewSQLiteStore(db)
}

func newPostgres(t *testing.T) *repository.PostgresStore {
	t.Helper()
	return repository.NewPostgresStore(pgtest.NewPool(t, "lending_ledger_test"))
}

// backends covers both ledger strategies: the transactional one (SQLite,
// Postgres) and the compensating one (memory).
var backends = map[string]func(t *testing.T) backend{
	"sqlite":   func(t *testing.T) backend { return newSQLite(t) },
	"memory":   func(*testing.T) backend { return repository.NewMemoryStore() },
	"postgres": func(t *testing.T) backend { return newPostgres(t) },
}

func newLedger(s store.Store, opts ...ledger.Option) *ledger.Ledger {
	opts = append([]ledger.Option{ledger.WithRetry(3, time.Millisecond)}, opts...)
	return ledger.New(s, opts...)
}

func givenBook(t *testing.T, b backend, quantity int) string {
	t.Helper()
	id := uuid.New().String()
	require.NoError(t, b.CreateBook(context.Background(), model.Book{
		ID:        id,
		Title:     "Book " + id[:8],
		Quantity:  quantity,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}))
	return id
}

func quantityOf(t *testing.T, s store.Store, id string) int {
	t.Helper()
	b, err := s.GetBook(context.Background(), id)
	require.NoError(t, err)
	return b.Quantity
}

func recordCount(t *testing.T, b backend) int {
	t.Helper()
	recs, err := b.ListBorrowRecords(context.Background(), "")
	require.NoError(t, err)
	return len(recs)
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b backend)) {
	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, newBackend(t))
		})
	}
}

func Test_Ledger_LastCopyScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		l := newLedger(b)
		bookID := givenBook(t, b, 1)

		receipt, err := l.Borrow(ctx, bookID, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, 0, receipt.Book.Quantity)
		assert.Equal(t, bookID, receipt.Record.BookID)
		assert.Equal(t, "a@x.com", receipt.Record.BorrowerEmail)
		assert.False(t, receipt.Record.BorrowedAt.IsZero())
		assert.Equal(t, 0, quantityOf(t, b, bookID))
		assert.Equal(t, 1, recordCount(t, b))

		_, err = l.Borrow(ctx, bookID, "c@x.com")
		assert.ErrorIs(t, err, ledger.ErrOutOfStock)
		assert.Equal(t, 0, quantityOf(t, b, bookID))
		assert.Equal(t, 1, recordCount(t, b))

		book, err := l.ReturnBook(ctx, receipt.Record.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, book.Quantity)
		assert.Equal(t, 1, quantityOf(t, b, bookID))
		assert.Equal(t, 0, recordCount(t, b))
	})
}

func Test_Ledger_RoundTripRestoresQuantity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		l := newLedger(b)
		bookID := givenBook(t, b, 7)

		receipt, err := l.Borrow(ctx, bookID, "reader@example.com")
		require.NoError(t, err)
		assert.Equal(t, 6, receipt.Book.Quantity)

		book, err := l.ReturnBook(ctx, receipt.Record.ID)
		require.NoError(t, err)
		assert.Equal(t, 7, book.Quantity)
	})
}

func Test_Ledger_BorrowUnknownBook(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		l := newLedger(b)

		_, err := l.Borrow(context.Background(), uuid.New().String(), "a@x.com")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		assert.Equal(t, 0, recordCount(t, b))
	})
}

func Test_Ledger_MalformedIDsAreNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		l := newLedger(b)

		_, err := l.Borrow(context.Background(), "507f1f77bcf86cd799439011", "a@x.com")
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		_, err = l.ReturnBook(context.Background(), "not-an-id")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func Test_Ledger_ReturnTwiceIsNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		l := newLedger(b)
		bookID := givenBook(t, b, 2)

		receipt, err := l.Borrow(ctx, bookID, "a@x.com")
		require.NoError(t, err)
		_, err = l.ReturnBook(ctx, receipt.Record.ID)
		require.NoError(t, err)

		_, err = l.ReturnBook(ctx, receipt.Record.ID)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		assert.Equal(t, 2, quantityOf(t, b, bookID), "a failed return must not add stock")
	})
}

func Test_Ledger_DuplicateLoanPolicy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		bookID := givenBook(t, b, 3)

		strict := newLedger(b)
		_, err := strict.Borrow(ctx, bookID, "a@x.com")
		require.NoError(t, err)

		_, err = strict.Borrow(ctx, bookID, "a@x.com")
		assert.ErrorIs(t, err, ledger.ErrAlreadyBorrowed)
		assert.Equal(t, 2, quantityOf(t, b, bookID), "rejected duplicate must not take a copy")

		lenient := newLedger(b, ledger.WithDuplicateLoanPolicy(false))
		_, err = lenient.Borrow(ctx, bookID, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, 1, quantityOf(t, b, bookID))
	})
}

func Test_Ledger_ReturnAfterBookDeleted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		l := newLedger(b)
		bookID := givenBook(t, b, 1)

		receipt, err := l.Borrow(ctx, bookID, "a@x.com")
		require.NoError(t, err)
		require.NoError(t, b.DeleteBook(ctx, bookID))

		book, err := l.ReturnBook(ctx, receipt.Record.ID)
		assert.ErrorIs(t, err, ledger.ErrDanglingReference)
		assert.Nil(t, book)
		assert.Equal(t, 0, recordCount(t, b), "the record is removed anyway")
	})
}

func Test_Ledger_ConcurrentBorrowOfLastCopy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		l := newLedger(b)
		bookID := givenBook(t, b, 1)

		const readers = 8
		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			outOfStk  atomic.Int32
		)
		for i := 0; i < readers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := l.Borrow(ctx, bookID, uuid.New().String()+"@x.com")
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, ledger.ErrOutOfStock):
					outOfStk.Add(1)
				default:
					t.Errorf("reader %d: unexpected error %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), succeeded.Load())
		assert.Equal(t, int32(readers-1), outOfStk.Load())
		assert.Equal(t, 0, quantityOf(t, b, bookID))
		assert.Equal(t, 1, recordCount(t, b))
	})
}

func Test_Ledger_ConcurrentBorrowAndReturnKeepsStockExact(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		l := newLedger(b)
		const copies = 3
		bookID := givenBook(t, b, copies)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				receipt, err := l.Borrow(ctx, bookID, uuid.New().String()+"@x.com")
				if errors.Is(err, ledger.ErrOutOfStock) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				_, err = l.ReturnBook(ctx, receipt.Record.ID)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, copies, quantityOf(t, b, bookID))
		assert.Equal(t, 0, recordCount(t, b))
	})
}

func Test_Ledger_ConcurrentBorrowsBySameReaderLendOneCopy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		l := newLedger(b)
		bookID := givenBook(t, b, 5)

		const attempts = 16
		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			dup       atomic.Int32
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := l.Borrow(ctx, bookID, "same@x.com")
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, ledger.ErrAlreadyBorrowed):
					dup.Add(1)
				default:
					t.Errorf("attempt %d: unexpected error %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), succeeded.Load())
		assert.Equal(t, int32(attempts-1), dup.Load())
		assert.Equal(t, 4, quantityOf(t, b, bookID))
		assert.Equal(t, 1, recordCount(t, b))
	})
}

func Test_Ledger_RecordUsesClockAndIDGenerator(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		at := time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.FixedZone("CET", 3600))
		recordID := uuid.New().String()
		l := newLedger(b,
			ledger.WithClock(func() time.Time { return at }),
			ledger.WithIDGenerator(func() string { return recordID }),
		)
		bookID := givenBook(t, b, 2)

		receipt, err := l.Borrow(ctx, bookID, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, recordID, receipt.Record.ID)
		assert.True(t, receipt.Record.BorrowedAt.Equal(at.Truncate(time.Microsecond)))
		assert.Equal(t, time.UTC, receipt.Record.BorrowedAt.Location())

		recs, err := b.ListBorrowRecords(ctx, "a@x.com")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.True(t, recs[0].BorrowedAt.Equal(receipt.Record.BorrowedAt))

		// A second loan with the same record id cannot be stored, so the
		// copy taken for it goes back on the shelf.
		_, err = l.Borrow(ctx, bookID, "b@x.com")
		assert.ErrorIs(t, err, ledger.ErrTransactionFailure)
		assert.Equal(t, 1, quantityOf(t, b, bookID))
		assert.Equal(t, 1, recordCount(t, b))
	})
}

// ─── Failure handling ─────────────────────────────────────────────────────────

// faultyStore injects failures into selected calls.
type faultyStore struct {
	store.Store
	insertFailures    atomic.Int32
	incrementFailures atomic.Int32
	decrementConflict atomic.Int32
}

var errInjected = errors.New("injected failure")

func (f *faultyStore) InsertBorrowRecord(ctx context.Context, rec model.BorrowRecord) error {
	if f.insertFailures.Add(-1) >= 0 {
		return errInjected
	}
	return f.Store.InsertBorrowRecord(ctx, rec)
}

func (f *faultyStore) IncrementQuantity(ctx context.Context, bookID string) (*model.Book, error) {
	if f.incrementFailures.Add(-1) >= 0 {
		return nil, errInjected
	}
	return f.Store.IncrementQuantity(ctx, bookID)
}

func (f *faultyStore) DecrementQuantity(ctx context.Context, bookID string) (*model.Book, error) {
	if f.decrementConflict.Add(-1) >= 0 {
		return nil, store.ErrConflict
	}
	return f.Store.DecrementQuantity(ctx, bookID)
}

func Test_Ledger_Compensated_FailedInsertRestoresStock(t *testing.T) {
	mem := repository.NewMemoryStore()
	bookID := givenBook(t, mem, 2)
	fs := &faultyStore{Store: mem}
	fs.insertFailures.Store(3) // every insert attempt fails

	_, err := newLedger(fs).Borrow(context.Background(), bookID, "a@x.com")

	assert.ErrorIs(t, err, ledger.ErrTransactionFailure)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 2, quantityOf(t, mem, bookID))
	assert.Equal(t, 0, recordCount(t, mem))
}

func Test_Ledger_Compensated_RestoreRetriesTransientFailures(t *testing.T) {
	mem := repository.NewMemoryStore()
	bookID := givenBook(t, mem, 2)
	fs := &faultyStore{Store: mem}
	fs.insertFailures.Store(3)
	fs.incrementFailures.Store(2) // third restore attempt succeeds

	_, err := newLedger(fs).Borrow(context.Background(), bookID, "a@x.com")

	assert.ErrorIs(t, err, ledger.ErrTransactionFailure)
	assert.NotErrorIs(t, err, ledger.ErrInconsistent)
	assert.Equal(t, 2, quantityOf(t, mem, bookID))
}

func Test_Ledger_Compensated_GivingUpIsInconsistent(t *testing.T) {
	mem := repository.NewMemoryStore()
	bookID := givenBook(t, mem, 2)
	fs := &faultyStore{Store: mem}
	fs.insertFailures.Store(3)
	fs.incrementFailures.Store(100)

	_, err := newLedger(fs).Borrow(context.Background(), bookID, "a@x.com")

	assert.ErrorIs(t, err, ledger.ErrInconsistent)
	assert.Equal(t, 1, quantityOf(t, mem, bookID), "stock is left short and reported")
}

func Test_Ledger_Compensated_ReturnRetriesIncrement(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	bookID := givenBook(t, mem, 1)
	fs := &faultyStore{Store: mem}
	l := newLedger(fs)

	receipt, err := l.Borrow(ctx, bookID, "a@x.com")
	require.NoError(t, err)

	fs.incrementFailures.Store(2)
	book, err := l.ReturnBook(ctx, receipt.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, book.Quantity)
}

func Test_Ledger_Compensated_ReturnSurvivesCancelledCaller(t *testing.T) {
	mem := repository.NewMemoryStore()
	bookID := givenBook(t, mem, 1)
	fs := &faultyStore{Store: mem}
	l := newLedger(fs)

	receipt, err := l.Borrow(context.Background(), bookID, "a@x.com")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	fs.incrementFailures.Store(1)
	cancel()

	// The record is already gone when the first increment fails; the retry
	// must still happen although the request context is done.
	book, err := l.ReturnBook(ctx, receipt.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, book.Quantity)
}

func Test_Ledger_Compensated_DecrementConflictIsRetried(t *testing.T) {
	mem := repository.NewMemoryStore()
	bookID := givenBook(t, mem, 1)
	fs := &faultyStore{Store: mem}
	fs.decrementConflict.Store(2)

	receipt, err := newLedger(fs).Borrow(context.Background(), bookID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.Book.Quantity)
}

// faultyTx wraps the SQLite transaction so calls inside it can fail.
type faultyTx struct {
	*repository.SQLiteStore
	insertErr error
	conflicts atomic.Int32
	calls     atomic.Int32
}

func (f *faultyTx) InTx(ctx context.Context, fn func(ctx context.Context, s store.Store) error) error {
	f.calls.Add(1)
	if f.conflicts.Add(-1) >= 0 {
		return store.ErrConflict
	}
	return f.SQLiteStore.InTx(ctx, func(ctx context.Context, s store.Store) error {
		if f.insertErr == nil {
			return fn(ctx, s)
		}
		fs := &faultyStore{Store: s}
		fs.insertFailures.Store(1)
		return fn(ctx, fs)
	})
}

func Test_Ledger_Tx_FailedInsertRollsBack(t *testing.T) {
	db := newSQLite(t)
	bookID := givenBook(t, db, 1)
	tx := &faultyTx{SQLiteStore: db, insertErr: errInjected}

	_, err := newLedger(tx).Borrow(context.Background(), bookID, "a@x.com")

	assert.ErrorIs(t, err, ledger.ErrTransactionFailure)
	assert.Equal(t, 1, quantityOf(t, db, bookID), "decrement rolled back with the transaction")
	assert.Equal(t, 0, recordCount(t, db))
}

func Test_Ledger_Tx_ConflictsAreRetried(t *testing.T) {
	db := newSQLite(t)
	bookID := givenBook(t, db, 1)
	tx := &faultyTx{SQLiteStore: db}
	tx.conflicts.Store(2)

	receipt, err := newLedger(tx).Borrow(context.Background(), bookID, "a@x.com")

	require.NoError(t, err)
	assert.Equal(t, 0, receipt.Book.Quantity)
	assert.Equal(t, int32(3), tx.calls.Load())
}

func Test_Ledger_Tx_ExhaustedConflictsAreTransactionFailure(t *testing.T) {
	db := newSQLite(t)
	bookID := givenBook(t, db, 1)
	tx := &faultyTx{SQLiteStore: db}
	tx.conflicts.Store(10)

	_, err := newLedger(tx).Borrow(context.Background(), bookID, "a@x.com")

	assert.ErrorIs(t, err, ledger.ErrTransactionFailure)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, int32(3), tx.calls.Load())
	assert.Equal(t, 1, quantityOf(t, db, bookID))
}
