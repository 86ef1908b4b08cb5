// Package model defines the core domain types for the library lending system.
package model

import "time"

// Book is a catalog entry. Quantity counts the copies currently available to
// borrow; copies out on loan are already excluded.
type Book struct {
	ID               string    `json:"id" db:"id"`
	Title            string    `json:"title" db:"title"`
	Author           string    `json:"author" db:"author"`
	Category         string    `json:"category" db:"category"`
	Image            string    `json:"image" db:"image"`
	ShortDescription string    `json:"short_description" db:"short_description"`
	Content          string    `json:"content" db:"content"`
	Quantity         int       `json:"quantity" db:"quantity"`
	Rating           float64   `json:"rating" db:"rating"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Available reports whether at least one copy can be borrowed.
func (b *Book) Available() bool {
	return b.Quantity > 0
}

// BorrowRecord is one outstanding loan of a single copy.
type BorrowRecord struct {
	ID            string    `json:"id" db:"id"`
	BookID        string    `json:"book_id" db:"book_id"`
	BorrowerEmail string    `json:"borrower_email" db:"borrower_email"`
	BorrowedAt    time.Time `json:"borrowed_at" db:"borrowed_at"`
}

// BorrowReceipt is the outcome of a successful borrow: the new record and the
// book as it stood right after the decrement.
type BorrowReceipt struct {
	Record BorrowRecord `json:"record"`
	Book   Book         `json:"book"`
}

// CreateBookRequest is the payload for adding a book to the catalog.
type CreateBookRequest struct {
	Title            string  `json:"title"`
	Author           string  `json:"author"`
	Category         string  `json:"category"`
	Image            string  `json:"image"`
	ShortDescription string  `json:"short_description"`
	Content          string  `json:"content"`
	Quantity         int     `json:"quantity"`
	Rating           float64 `json:"rating"`
}

// UpdateBookRequest replaces a book's metadata. Quantity is deliberately
// absent: stock only moves through borrow and return.
type UpdateBookRequest struct {
	Title            string  `json:"title"`
	Author           string  `json:"author"`
	Category         string  `json:"category"`
	Image            string  `json:"image"`
	ShortDescription string  `json:"short_description"`
	Content          string  `json:"content"`
	Rating           float64 `json:"rating"`
}

// BorrowRequest is the payload for borrowing a copy.
type BorrowRequest struct {
	BookID        string `json:"book_id"`
	BorrowerEmail string `json:"borrower_email"`
}

// ReturnResponse is the payload sent back after a return. Book is nil when the
// record pointed at a book that no longer exists.
type ReturnResponse struct {
	Book    *Book  `json:"book,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
