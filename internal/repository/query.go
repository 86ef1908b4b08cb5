package repository

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
)

var bookColumns = []any{
	"id", "title", "author", "category", "image",
	"short_description", "content", "quantity", "rating", "created_at",
}

var recordColumns = []any{"id", "book_id", "borrower_email", "borrowed_at"}

// listBooksQuery builds the catalog listing, filtered by category when one is
// given, for the named goqu dialect.
func listBooksQuery(dialect, category string) (string, []any, error) {
	ds := goqu.Dialect(dialect).
		From("books").
		Select(bookColumns...).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc())
	if category != "" {
		ds = ds.Where(goqu.C("category").Eq(category))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build list books query: %w", err)
	}
	return query, args, nil
}

// listRecordsQuery builds the outstanding-loan listing, filtered by borrower
// when an email is given.
func listRecordsQuery(dialect, email string) (string, []any, error) {
	ds := goqu.Dialect(dialect).
		From("borrow_records").
		Select(recordColumns...).
		Order(goqu.C("borrowed_at").Asc(), goqu.C("id").Asc())
	if email != "" {
		ds = ds.Where(goqu.C("borrower_email").Eq(email))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build list records query: %w", err)
	}
	return query, args, nil
}
