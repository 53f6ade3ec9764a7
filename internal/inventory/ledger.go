// internal/inventory/ledger.go
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"librarium/internal/catalog"
	"librarium/internal/liberr"
	"librarium/internal/store"
)

var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// InsufficientStockError reports a decrement larger than the copies on hand.
type InsufficientStockError struct {
	BookID    uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	noun := "copies"
	if e.Requested == 1 {
		noun = "copy"
	}
	return fmt.Sprintf("Book with bookId: %s doesn't have %d %s! Available: %d.", e.BookID, e.Requested, noun, e.Available)
}

func (e *InsufficientStockError) Kind() liberr.Kind { return liberr.KindInsufficientStock }

// Books is the slice of the book store the ledger needs.
type Books interface {
	LockBook(ctx context.Context, q store.Querier, id uuid.UUID) (*catalog.Book, error)
	UpdateBook(ctx context.Context, q store.Querier, id uuid.UUID, patch catalog.BookPatch) (*catalog.Book, error)
}

// Ledger owns copy counts. It never opens or commits a unit of work; every
// call joins the one it is handed.
type Ledger struct {
	books  Books
	tracer trace.Tracer
}

// NewLedger creates a ledger over books.
func NewLedger(books Books) *Ledger {
	return &Ledger{
		books:  books,
		tracer: otel.Tracer("librarium/inventory"),
	}
}

// DecrementCopies takes quantity copies of a book within q. The row stays
// locked until q ends, so concurrent decrements of one book are serialized
// and each sees the copies left by the one before it.
func (l *Ledger) DecrementCopies(ctx context.Context, q store.Querier, bookID uuid.UUID, quantity int) (*catalog.Book, error) {
	ctx, span := l.tracer.Start(ctx, "inventory.decrement_copies",
		trace.WithAttributes(
			attribute.String("book.id", bookID.String()),
			attribute.Int("quantity", quantity),
		),
	)
	defer span.End()

	if quantity < 1 {
		return nil, liberr.Wrap(liberr.KindValidation, ErrInvalidQuantity, "quantity must be at least 1")
	}

	book, err := l.books.LockBook(ctx, q, bookID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	remaining, err := Decrement(book.Copies, quantity)
	if err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			stockErr.BookID = bookID
		}
		span.SetStatus(codes.Error, "insufficient stock")
		return nil, err
	}

	updated, err := l.books.UpdateBook(ctx, q, bookID, catalog.BookPatch{Copies: &remaining})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decrement copies of %s: %w", bookID, err)
	}

	span.SetAttributes(
		attribute.Int("copies.remaining", updated.Copies),
		attribute.Bool("book.available", updated.Available),
	)
	return updated, nil
}

// Decrement returns copies minus quantity, or an InsufficientStockError when
// that would go negative.
func Decrement(copies, quantity int) (int, error) {
	if quantity < 1 {
		return copies, liberr.Wrap(liberr.KindValidation, ErrInvalidQuantity, "quantity must be at least 1")
	}
	if quantity > copies {
		return copies, &InsufficientStockError{Requested: quantity, Available: copies}
	}
	return copies - quantity, nil
}
