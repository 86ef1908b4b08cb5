// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/Shivanand-hulikatti/library-lending/internal/ledger"
	"github.com/Shivanand-hulikatti/library-lending/internal/logger"
	"github.com/Shivanand-hulikatti/library-lending/internal/model"
	"github.com/Shivanand-hulikatti/library-lending/internal/service"
	"github.com/Shivanand-hulikatti/library-lending/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LibraryHandler holds all HTTP handlers for the lending API.
type LibraryHandler struct {
	svc *service.LibraryService
	log logrus.FieldLogger
}

// NewLibraryHandler constructs a LibraryHandler.
func NewLibraryHandler(svc *service.LibraryService, log logrus.FieldLogger) *LibraryHandler {
	return &LibraryHandler{svc: svc, log: log}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps service, ledger and store errors onto statuses.
func (h *LibraryHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, ledger.ErrOutOfStock):
		writeError(w, http.StatusConflict, "book is out of stock")
	case errors.Is(err, ledger.ErrAlreadyBorrowed):
		writeError(w, http.StatusConflict, "you already have this book on loan")
	case errors.Is(err, ledger.ErrTransactionFailure):
		logger.For(r.Context(), h.log).WithError(err).Warn("lending transaction failed")
		writeError(w, http.StatusServiceUnavailable, "please retry, the library is busy")
	default:
		logger.For(r.Context(), h.log).WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Books ────────────────────────────────────────────────────────────────────

// ListBooks handles GET /books?category=
func (h *LibraryHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.svc.ListBooks(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.writeServiceError(w, r, err, "")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if books == nil {
		books = []model.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

// GetBook handles GET /books/{id}
func (h *LibraryHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.svc.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "book not found")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// CreateBook handles POST /books
func (h *LibraryHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	book, err := h.svc.CreateBook(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

// UpdateBook handles PUT /books/{id}
// Only metadata changes; stock moves through borrow and return.
func (h *LibraryHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	book, err := h.svc.UpdateBook(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, r, err, "book not found")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// DeleteBook handles DELETE /books/{id}
func (h *LibraryHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteBook(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err, "book not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Borrowing ────────────────────────────────────────────────────────────────

// ListBorrowRecords handles GET /borrow?email=
func (h *LibraryHandler) ListBorrowRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.ListBorrowRecords(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.writeServiceError(w, r, err, "")
		return
	}
	if recs == nil {
		recs = []model.BorrowRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// Borrow handles POST /borrow
// Lends one copy; the receipt carries the new record and the updated book.
func (h *LibraryHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req model.BorrowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	receipt, err := h.svc.Borrow(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "book not found")
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// ReturnBook handles DELETE /borrow/{id}
func (h *LibraryHandler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.svc.ReturnBook(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ledger.ErrDanglingReference) {
		writeJSON(w, http.StatusOK, model.ReturnResponse{
			Warning: "loan closed, but the book is no longer in the catalog",
		})
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err, "borrow record not found")
		return
	}
	writeJSON(w, http.StatusOK, model.ReturnResponse{Book: book})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
