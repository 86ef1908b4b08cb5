package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Shivanand-hulikatti/library-lending/internal/model"
	"github.com/Shivanand-hulikatti/library-lending/internal/store"
)

// MemoryStore keeps books and borrow records in process memory. Each call is
// atomic on its own, but it offers no multi-call transactions, so the ledger
// falls back to conditional updates and compensation on top of it. Suitable
// for demos and a single server instance.
type MemoryStore struct {
	mu      sync.Mutex
	books   map[string]model.Book
	records map[string]model.BorrowRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:   make(map[string]model.Book),
		records: make(map[string]model.BorrowRecord),
	}
}

// ListBooks returns books ordered by title, optionally filtered by category.
func (s *MemoryStore) ListBooks(_ context.Context, category string) ([]model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var books []model.Book
	for _, b := range s.books {
		if category == "" || b.Category == category {
			books = append(books, b)
		}
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID < books[j].ID
	})
	return books, nil
}

// GetBook returns a copy of the stored book or store.ErrNotFound.
func (s *MemoryStore) GetBook(_ context.Context, id string) (*model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

// CreateBook stores b under its id.
func (s *MemoryStore) CreateBook(_ context.Context, b model.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.books[b.ID] = b
	return nil
}

// UpdateBookMetadata replaces everything but quantity and returns the result.
func (s *MemoryStore) UpdateBookMetadata(_ context.Context, id string, req model.UpdateBookRequest) (*model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	b.Title = req.Title
	b.Author = req.Author
	b.Category = req.Category
	b.Image = req.Image
	b.ShortDescription = req.ShortDescription
	b.Content = req.Content
	b.Rating = req.Rating
	s.books[id] = b
	return &b, nil
}

// DeleteBook removes a book. Outstanding records for it are left in place.
func (s *MemoryStore) DeleteBook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.books, id)
	return nil
}

// CountBooks returns the catalog size.
func (s *MemoryStore) CountBooks(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.books), nil
}

// ListBorrowRecords returns outstanding loans, optionally for one borrower.
func (s *MemoryStore) ListBorrowRecords(_ context.Context, email string) ([]model.BorrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []model.BorrowRecord
	for _, r := range s.records {
		if email == "" || r.BorrowerEmail == email {
			recs = append(recs, r)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].BorrowedAt.Equal(recs[j].BorrowedAt) {
			return recs[i].BorrowedAt.Before(recs[j].BorrowedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	return recs, nil
}

// DecrementQuantity takes one copy off the shelf if there is one.
func (s *MemoryStore) DecrementQuantity(_ context.Context, bookID string) (*model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[bookID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !b.Available() {
		return nil, store.ErrOutOfStock
	}
	b.Quantity--
	s.books[bookID] = b
	return &b, nil
}

// IncrementQuantity puts one copy back on the shelf.
func (s *MemoryStore) IncrementQuantity(_ context.Context, bookID string) (*model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[bookID]
	if !ok {
		return nil, store.ErrNotFound
	}
	b.Quantity++
	s.books[bookID] = b
	return &b, nil
}

// InsertBorrowRecord stores a new loan.
func (s *MemoryStore) InsertBorrowRecord(_ context.Context, rec model.BorrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("borrow record %s already exists", rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

// InsertBorrowRecordIfNoActiveLoan stores rec unless its borrower already
// holds a copy of the same book, in which case store.ErrActiveLoan is
// returned and nothing changes.
func (s *MemoryStore) InsertBorrowRecordIfNoActiveLoan(_ context.Context, rec model.BorrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasActiveLoanLocked(rec.BookID, rec.BorrowerEmail) {
		return store.ErrActiveLoan
	}
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("borrow record %s already exists", rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

// DeleteBorrowRecord removes a loan and returns it.
func (s *MemoryStore) DeleteBorrowRecord(_ context.Context, id string) (*model.BorrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.records, id)
	return &r, nil
}

// HasActiveLoan reports whether email currently holds a copy of bookID.
func (s *MemoryStore) HasActiveLoan(_ context.Context, bookID, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hasActiveLoanLocked(bookID, email), nil
}

func (s *MemoryStore) hasActiveLoanLocked(bookID, email string) bool {
	for _, r := range s.records {
		if r.BookID == bookID && r.BorrowerEmail == email {
			return true
		}
	}
	return false
}
