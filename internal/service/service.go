// Package service implements validation and orchestration between the HTTP
// handlers, the catalog store and the lending ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/Shivanand-hulikatti/library-lending/internal/model"
	"github.com/Shivanand-hulikatti/library-lending/internal/store"
)

// ErrValidation wraps every rejected input so handlers can answer 400.
var ErrValidation = errors.New("invalid input")

const (
	maxQuantity = 10_000
	maxRating   = 5.0
)

// Catalog is the plain book CRUD every storage backend provides.
type Catalog interface {
	ListBooks(ctx context.Context, category string) ([]model.Book, error)
	GetBook(ctx context.Context, id string) (*model.Book, error)
	CreateBook(ctx context.Context, b model.Book) error
	UpdateBookMetadata(ctx context.Context, id string, req model.UpdateBookRequest) (*model.Book, error)
	DeleteBook(ctx context.Context, id string) error
	CountBooks(ctx context.Context) (int, error)
	ListBorrowRecords(ctx context.Context, email string) ([]model.BorrowRecord, error)
}

// Lender moves copies between the shelf and borrowers. *ledger.Ledger
// implements it.
type Lender interface {
	Borrow(ctx context.Context, bookID, borrowerEmail string) (*model.BorrowReceipt, error)
	ReturnBook(ctx context.Context, recordID string) (*model.Book, error)
}

// LibraryService orchestrates catalog and lending operations.
type LibraryService struct {
	catalog Catalog
	lender  Lender
	policy  *bluemonday.Policy
	now     func() time.Time
}

// NewLibraryService constructs a LibraryService with its dependencies.
func NewLibraryService(catalog Catalog, lender Lender) *LibraryService {
	return &LibraryService{
		catalog: catalog,
		lender:  lender,
		policy:  bluemonday.StrictPolicy(),
		now:     time.Now,
	}
}

// ListBooks returns all books, or only those in category when it is set.
func (s *LibraryService) ListBooks(ctx context.Context, category string) ([]model.Book, error) {
	return s.catalog.ListBooks(ctx, strings.TrimSpace(category))
}

// GetBook returns a single book by id. Malformed ids are not found.
func (s *LibraryService) GetBook(ctx context.Context, id string) (*model.Book, error) {
	id, ok := canonicalID(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.catalog.GetBook(ctx, id)
}

// CreateBook validates and cleans the request, then stores a new book.
func (s *LibraryService) CreateBook(ctx context.Context, req model.CreateBookRequest) (*model.Book, error) {
	book := model.Book{
		ID:               uuid.New().String(),
		Title:            s.clean(req.Title),
		Author:           s.clean(req.Author),
		Category:         s.clean(req.Category),
		Image:            strings.TrimSpace(req.Image),
		ShortDescription: s.clean(req.ShortDescription),
		Content:          s.clean(req.Content),
		Quantity:         req.Quantity,
		Rating:           req.Rating,
		CreatedAt:        s.now().UTC().Truncate(time.Microsecond),
	}
	if book.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if book.Quantity < 0 || book.Quantity > maxQuantity {
		return nil, fmt.Errorf("%w: quantity must be between 0 and %d", ErrValidation, maxQuantity)
	}
	if err := validateRating(book.Rating); err != nil {
		return nil, err
	}

	if err := s.catalog.CreateBook(ctx, book); err != nil {
		return nil, err
	}
	return &book, nil
}

// UpdateBook replaces a book's metadata. Quantity is left alone.
func (s *LibraryService) UpdateBook(ctx context.Context, id string, req model.UpdateBookRequest) (*model.Book, error) {
	id, ok := canonicalID(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	req.Title = s.clean(req.Title)
	req.Author = s.clean(req.Author)
	req.Category = s.clean(req.Category)
	req.Image = strings.TrimSpace(req.Image)
	req.ShortDescription = s.clean(req.ShortDescription)
	req.Content = s.clean(req.Content)
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if err := validateRating(req.Rating); err != nil {
		return nil, err
	}
	return s.catalog.UpdateBookMetadata(ctx, id, req)
}

// DeleteBook removes a book from the catalog. Loans of it stay outstanding
// and are reported as dangling when returned.
func (s *LibraryService) DeleteBook(ctx context.Context, id string) error {
	id, ok := canonicalID(id)
	if !ok {
		return store.ErrNotFound
	}
	return s.catalog.DeleteBook(ctx, id)
}

// ListBorrowRecords returns outstanding loans, optionally for one borrower.
func (s *LibraryService) ListBorrowRecords(ctx context.Context, email string) ([]model.BorrowRecord, error) {
	return s.catalog.ListBorrowRecords(ctx, NormalizeEmail(email))
}

// Borrow validates the request and hands it to the ledger.
func (s *LibraryService) Borrow(ctx context.Context, req model.BorrowRequest) (*model.BorrowReceipt, error) {
	email := NormalizeEmail(req.BorrowerEmail)
	if email == "" {
		return nil, fmt.Errorf("%w: borrower_email is required", ErrValidation)
	}
	if !isValidEmail(email) {
		return nil, fmt.Errorf("%w: borrower_email is not a valid email address", ErrValidation)
	}
	if strings.TrimSpace(req.BookID) == "" {
		return nil, fmt.Errorf("%w: book_id is required", ErrValidation)
	}
	return s.lender.Borrow(ctx, strings.TrimSpace(req.BookID), email)
}

// ReturnBook closes a loan.
func (s *LibraryService) ReturnBook(ctx context.Context, recordID string) (*model.Book, error) {
	return s.lender.ReturnBook(ctx, strings.TrimSpace(recordID))
}

// clean strips markup from free text and trims it.
func (s *LibraryService) clean(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

func validateRating(r float64) error {
	if r < 0 || r > maxRating {
		return fmt.Errorf("%w: rating must be between 0 and %.0f", ErrValidation, maxRating)
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address so lookups match.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// isValidEmail does a basic structural check.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}

func canonicalID(id string) (string, bool) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	return u.String(), true
}
