// internal/catalog/repository.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"librarium/internal/store"
)

const latestLimit = 5

var (
	dialect     = goqu.Dialect("postgres")
	bookColumns = []any{
		"id", "title", "author", "genre", "isbn", "description",
		"copies", "available", "image_uri", "created_at", "updated_at",
	}
)

// Store persists books. Every method runs on the Querier it is given, so
// callers decide whether a call joins a unit of work.
type Store interface {
	InsertBook(ctx context.Context, q store.Querier, book *Book) error
	GetBook(ctx context.Context, q store.Querier, id uuid.UUID) (*Book, error)
	LockBook(ctx context.Context, q store.Querier, id uuid.UUID) (*Book, error)
	UpdateBook(ctx context.Context, q store.Querier, id uuid.UUID, patch BookPatch) (*Book, error)
	DeleteBook(ctx context.Context, q store.Querier, id uuid.UUID) error
	ListBooks(ctx context.Context, q store.Querier, filter Filter) (*Page, error)
	Authors(ctx context.Context, q store.Querier) ([]string, error)
	Latest(ctx context.Context, q store.Querier, limit int) ([]Book, error)
}

// Repository is the Postgres Store.
type Repository struct{}

// NewRepository creates the Postgres book store.
func NewRepository() *Repository {
	return &Repository{}
}

// InsertBook stores a new book. A taken ISBN yields store.ErrDuplicate.
func (r *Repository) InsertBook(ctx context.Context, q store.Querier, book *Book) error {
	query := `
		INSERT INTO books (id, title, author, genre, isbn, description, copies, available, image_uri, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := q.ExecContext(ctx, query,
		book.ID,
		book.Title,
		book.Author,
		string(book.Genre),
		book.ISBN,
		book.Description,
		book.Copies,
		DeriveAvailable(book.Copies),
		book.ImageURI,
		book.CreatedAt,
		book.UpdatedAt,
	)
	if err != nil {
		return store.Classify(fmt.Errorf("insert book: %w", err))
	}
	return nil
}

// GetBook reads a book without locking it.
func (r *Repository) GetBook(ctx context.Context, q store.Querier, id uuid.UUID) (*Book, error) {
	return r.selectOne(ctx, q, id, false)
}

// LockBook reads a book and holds its row lock until q ends. Concurrent
// lockers of the same book queue behind each other and observe the committed
// copy count once they proceed.
func (r *Repository) LockBook(ctx context.Context, q store.Querier, id uuid.UUID) (*Book, error) {
	return r.selectOne(ctx, q, id, true)
}

func (r *Repository) selectOne(ctx context.Context, q store.Querier, id uuid.UUID, forUpdate bool) (*Book, error) {
	ds := dialect.From("books").Select(bookColumns...).Where(goqu.C("id").Eq(id))
	if forUpdate {
		ds = ds.ForUpdate(goqu.Wait)
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}

	book := &Book{}
	if err := sqlx.GetContext(ctx, q, book, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFound(id)
		}
		return nil, store.Classify(fmt.Errorf("get book: %w", err))
	}
	return book, nil
}

// UpdateBook writes patch in a single statement and returns the new row.
func (r *Repository) UpdateBook(ctx context.Context, q store.Querier, id uuid.UUID, patch BookPatch) (*Book, error) {
	query, args, err := dialect.Update("books").
		Set(patch.record()).
		Where(goqu.C("id").Eq(id)).
		Returning(bookColumns...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book update: %w", err)
	}

	book := &Book{}
	if err := q.QueryRowxContext(ctx, query, args...).StructScan(book); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFound(id)
		}
		return nil, store.Classify(fmt.Errorf("update book: %w", err))
	}
	return book, nil
}

// DeleteBook removes a book. Books referenced by borrow records cannot be
// removed; the violation surfaces as store.ErrReferenced (at commit when q is
// a transaction).
func (r *Repository) DeleteBook(ctx context.Context, q store.Querier, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return store.Classify(fmt.Errorf("delete book: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete book rows affected: %w", err)
	}
	if n == 0 {
		return NotFound(id)
	}
	return nil
}

// ListBooks returns one page of books matching filter, newest first unless
// filter.SortBy is SortAsc.
func (r *Repository) ListBooks(ctx context.Context, q store.Querier, filter Filter) (*Page, error) {
	where := goqu.Ex{}
	if filter.Author != "" {
		where["author"] = filter.Author
	}
	if filter.Genre != "" {
		where["genre"] = string(filter.Genre)
	}
	if filter.Available != nil {
		where["available"] = *filter.Available
	}

	base := dialect.From("books").Where(where)

	countQuery, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, q, &total, countQuery, countArgs...); err != nil {
		return nil, store.Classify(fmt.Errorf("count books: %w", err))
	}

	order := goqu.I("created_at").Desc()
	if filter.SortBy == SortAsc {
		order = goqu.I("created_at").Asc()
	}

	perPage, page := filter.ResultsPerPage, filter.Page
	if perPage <= 0 {
		perPage = DefaultResultsPerPage
	}
	if page <= 0 {
		page = 1
	}

	listQuery, listArgs, err := base.Select(bookColumns...).
		Order(order, goqu.I("id").Asc()).
		Limit(uint(perPage)).
		Offset(uint((page - 1) * perPage)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	books := []Book{}
	if err := sqlx.SelectContext(ctx, q, &books, listQuery, listArgs...); err != nil {
		return nil, store.Classify(fmt.Errorf("list books: %w", err))
	}

	return &Page{Books: books, Total: total}, nil
}

// Authors returns the distinct author names in alphabetical order.
func (r *Repository) Authors(ctx context.Context, q store.Querier) ([]string, error) {
	authors := []string{}
	if err := sqlx.SelectContext(ctx, q, &authors, `SELECT DISTINCT author FROM books ORDER BY author`); err != nil {
		return nil, store.Classify(fmt.Errorf("list authors: %w", err))
	}
	return authors, nil
}

// Latest returns the most recently stocked books.
func (r *Repository) Latest(ctx context.Context, q store.Querier, limit int) ([]Book, error) {
	if limit <= 0 {
		limit = latestLimit
	}
	query, args, err := dialect.From("books").
		Select(bookColumns...).
		Order(goqu.I("created_at").Desc()).
		Limit(uint(limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build latest query: %w", err)
	}

	books := []Book{}
	if err := sqlx.SelectContext(ctx, q, &books, query, args...); err != nil {
		return nil, store.Classify(fmt.Errorf("latest books: %w", err))
	}
	return books, nil
}
